package models

import (
	"log"

	"github.com/pagecraft/sitegov_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{}, &Site{}, &Silo{},
		&Page{}, &Keyword{},
		&GenerationJob{}, &CannibalizationCheck{},
		&SystemEvent{}, &ContentReservation{},
		&PubSubMessageRecord{}, &IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
