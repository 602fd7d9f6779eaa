package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/gorm"
)

// Keyword is a write-once one-to-one mapping: once a keyword points at a
// page, it can never be repointed. Deleting the page cascades the keyword.
type Keyword struct {
	Keyword    string    `gorm:"primary_key;size:255" json:"keyword"`
	BusinessId string    `gorm:"size:64;index;not null" json:"business_id"`
	PageId     int       `gorm:"not null;uniqueIndex" json:"page_id"`
	Page       *Page     `gorm:"constraint:OnDelete:CASCADE" json:"page,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func normalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

func assignKeywordTx(tx *gorm.DB, businessId string, keyword string, pageId int) error {
	normalized := normalizeKeyword(keyword)
	if normalized == "" {
		return errors.New("keyword is required")
	}

	var existing Keyword
	err := tx.Where("keyword = ?", normalized).First(&existing).Error
	if err == nil {
		if existing.PageId == pageId {
			return nil
		}
		return ErrKeywordReassignment
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	row := Keyword{
		Keyword:    normalized,
		BusinessId: businessId,
		PageId:     pageId,
	}
	if err := tx.Create(&row).Error; err != nil {
		// A concurrent insert of the same keyword loses the race here.
		if IsDuplicateKeyErr(err) {
			return ErrKeywordReassignment
		}
		return err
	}
	return nil
}

// AssignKeyword inserts the mapping if absent; an existing mapping to a
// different page fails with ErrKeywordReassignment.
func AssignKeyword(ctx context.Context, keyword string, pageId int) error {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Page](ctx, businessId, pageId); err != nil {
		return errors.New("page not found")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := assignKeywordTx(tx, businessId, keyword, pageId); err != nil {
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "keyword.assigned", "Page", pageId, EventSeverityInfo, map[string]interface{}{
			"keyword": normalizeKeyword(keyword),
		})
	})
}

// GetPageKeyword returns the keyword mapped to the page, or "" when none.
func GetPageKeyword(ctx context.Context, pageId int) (string, error) {
	db := config.GetDB()
	var row Keyword
	err := db.WithContext(ctx).Where("page_id = ?", pageId).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Keyword, nil
}
