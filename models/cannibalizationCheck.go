package models

import (
	"time"

	"gorm.io/gorm"
)

// CannibalizationCheck is an immutable audit row: one per comparison
// performed, regardless of outcome.
type CannibalizationCheck struct {
	ID                int       `gorm:"primary_key" json:"id"`
	BusinessId        string    `gorm:"size:64;index;not null" json:"business_id"`
	PageId            int       `gorm:"not null;index" json:"page_id"`
	ComparedWithId    int       `gorm:"not null;index" json:"compared_with_id"`
	SimilarityScore   float64   `gorm:"not null" json:"similarity_score"`
	ThresholdExceeded bool      `gorm:"not null;index" json:"threshold_exceeded"`
	Advisory          bool      `gorm:"not null;default:false" json:"advisory"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RecordCannibalizationChecks bulk-inserts comparison rows within the
// caller's transaction.
func RecordCannibalizationChecks(tx *gorm.DB, rows []CannibalizationCheck) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}
