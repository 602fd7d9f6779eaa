package models

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// Governance error taxonomy. Structural violations roll the transaction back
// and are never retried; governance blocks are recorded with BLOCK severity.
var (
	ErrSiloCardinality     = errors.New("silo cardinality violation: a site must have between 3 and 7 silos")
	ErrDuplicateSilo       = errors.New("duplicate silo slug or position")
	ErrDuplicatePath       = errors.New("duplicate path")
	ErrInvalidPathFormat   = errors.New("invalid path format")
	ErrKeywordReassignment = errors.New("keyword reassignment denied")

	ErrEmbeddingInvalid       = errors.New("embedding missing or wrong dimension")
	ErrCannibalizationBlocked = errors.New("cannibalization blocked")
	ErrAuthoritySourceMissing = errors.New("authority source missing")
	ErrIntentNotPreserved     = errors.New("intent not preserved")

	ErrCostLimitExceeded = errors.New("cost limit exceeded")
	ErrInvalidRedirect   = errors.New("invalid redirect target")
	ErrReservationHeld   = errors.New("reservation already held")
)

// IsDuplicateKeyErr reports a MySQL duplicate-entry error (errno 1062).
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
