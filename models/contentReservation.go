package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/gorm"
)

// ContentReservation is the planning-step mutual exclusion: two concurrent
// proposals for the same (site, intent, location) cannot both proceed.
type ContentReservation struct {
	ID          int        `gorm:"primary_key" json:"id"`
	BusinessId  string     `gorm:"size:64;index;not null" json:"business_id"`
	SiteId      int        `gorm:"not null;index:uniq_reservation,unique,priority:1" json:"site_id"`
	IntentHash  string     `gorm:"size:64;not null;index:uniq_reservation,unique,priority:2" json:"intent_hash"`
	Location    string     `gorm:"size:100;not null;index:uniq_reservation,unique,priority:3" json:"location"`
	PageId      *int       `gorm:"index" json:"page_id"`
	ExpiresAt   time.Time  `gorm:"not null;index" json:"expires_at"`
	FulfilledAt *time.Time `json:"fulfilled_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IntentHash normalizes and hashes an intent phrase for reservation keying.
func IntentHash(intent string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(intent))))
	return hex.EncodeToString(sum[:])
}

// AcquireReservation fails fast when an unexpired, unfulfilled reservation
// already covers the key. Redis lock is a best-effort fast path; the DB row
// is the source of truth.
func AcquireReservation(ctx context.Context, siteId int, intent string, location string) (*ContentReservation, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	intentHash := IntentHash(intent)
	location = strings.ToLower(strings.TrimSpace(location))
	ttl := time.Duration(config.ReservationTTLMinutes()) * time.Minute

	// Best-effort redis fast path; a held redis lock means a competing acquire
	// is in flight right now. Redis being down only removes the fast path.
	if locker := config.GetRedisLock(); locker != nil {
		lockKey := fmt.Sprintf("reservation:%d:%s:%s", siteId, intentHash, location)
		lock, err := locker.Obtain(ctx, lockKey, 10*time.Second, nil)
		if err == nil {
			defer lock.Release(context.Background())
		} else if err == redislock.ErrNotObtained {
			return nil, ErrReservationHeld
		}
	}

	reservation := ContentReservation{
		BusinessId: businessId,
		SiteId:     siteId,
		IntentHash: intentHash,
		Location:   location,
		ExpiresAt:  time.Now().UTC().Add(ttl),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&reservation).Error; err == nil {
			return nil
		} else if !IsDuplicateKeyErr(err) {
			return err
		}

		// Row exists; only an expired, unfulfilled reservation can be taken over.
		var existing ContentReservation
		if err := tx.Where("site_id = ? AND intent_hash = ? AND location = ?", siteId, intentHash, location).
			First(&existing).Error; err != nil {
			return err
		}
		if existing.FulfilledAt != nil || existing.ExpiresAt.After(time.Now().UTC()) {
			return ErrReservationHeld
		}
		if err := tx.Model(&ContentReservation{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"business_id":  businessId,
				"expires_at":   reservation.ExpiresAt,
				"page_id":      nil,
				"fulfilled_at": nil,
			}).Error; err != nil {
			return err
		}
		reservation.ID = existing.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &reservation, nil
}

// FulfillReservation ties the reservation to the page it produced.
func FulfillReservation(ctx context.Context, id int, pageId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	now := time.Now().UTC()
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&ContentReservation{}).
		Where("id = ? AND business_id = ? AND fulfilled_at IS NULL", id, businessId).
		Updates(map[string]interface{}{
			"page_id":      pageId,
			"fulfilled_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// ReleaseReservation expires the reservation immediately.
func ReleaseReservation(ctx context.Context, id int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Model(&ContentReservation{}).
		Where("id = ? AND business_id = ?", id, businessId).
		Update("expires_at", time.Now().UTC()).Error
}
