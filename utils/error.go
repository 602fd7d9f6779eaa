package utils

import "errors"

// ErrorRecordNotFound is what every lookup miss maps onto, so handlers can
// translate it to a 404 without knowing which layer missed.
var ErrorRecordNotFound = errors.New("record not found")
