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

const (
	SiloCountMin = 3
	SiloCountMax = 7
)

type Silo struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	SiteId     int       `gorm:"not null;index:uniq_silo_slug,unique,priority:1;index:uniq_silo_pos,unique,priority:1" json:"site_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Slug       string    `gorm:"size:100;not null;index:uniq_silo_slug,unique,priority:2" json:"slug" binding:"required"`
	Position   int       `gorm:"not null;index:uniq_silo_pos,unique,priority:2" json:"position" binding:"required"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSilo struct {
	SiteId   int    `json:"site_id"`
	Name     string `json:"name" binding:"required"`
	Slug     string `json:"slug" binding:"required"`
	Position int    `json:"position" binding:"required"`
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// checkSiloCardinality recounts inside the mutating transaction. Running the
// count in the same transaction as the insert/delete is what makes the 3-7
// rule hold under concurrent silo edits.
func checkSiloCardinality(tx *gorm.DB, siteId int) error {
	var count int64
	if err := tx.Model(&Silo{}).Where("site_id = ?", siteId).Count(&count).Error; err != nil {
		return err
	}
	if count < SiloCountMin || count > SiloCountMax {
		return ErrSiloCardinality
	}
	return nil
}

func (input *NewSilo) validate(ctx context.Context, businessId string) error {
	if input.Position < 1 || input.Position > SiloCountMax {
		return errors.New("position must be between 1 and 7")
	}
	if err := utils.ValidateResourceId[Site](ctx, businessId, input.SiteId); err != nil {
		return errors.New("site not found")
	}
	return nil
}

func CreateSilo(ctx context.Context, input *NewSilo) (*Silo, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	silo := Silo{
		BusinessId: businessId,
		SiteId:     input.SiteId,
		Name:       input.Name,
		Slug:       normalizeSlug(input.Slug),
		Position:   input.Position,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&silo).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				// With all 7 positions taken, an insert can only ever die on
				// the position unique index; the taxonomy violation is the
				// real error there, not the collision.
				var count int64
				if countErr := tx.Model(&Silo{}).Where("site_id = ?", silo.SiteId).Count(&count).Error; countErr == nil && count >= SiloCountMax {
					return ErrSiloCardinality
				}
				return ErrDuplicateSilo
			}
			return err
		}
		if err := checkSiloCardinality(tx, silo.SiteId); err != nil {
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "silo.created", "Silo", silo.ID, EventSeverityInfo, map[string]interface{}{
			"site_id":  silo.SiteId,
			"slug":     silo.Slug,
			"position": silo.Position,
		})
	})
	if err != nil {
		return nil, err
	}

	return &silo, nil
}

func UpdateSilo(ctx context.Context, id int, input *NewSilo) (*Silo, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	silo, err := utils.FetchModel[Silo](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if input.Position < 1 || input.Position > SiloCountMax {
		return nil, errors.New("position must be between 1 and 7")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&silo).Updates(map[string]interface{}{
			"Name":     input.Name,
			"Slug":     normalizeSlug(input.Slug),
			"Position": input.Position,
		}).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return ErrDuplicateSilo
			}
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "silo.updated", "Silo", silo.ID, EventSeverityInfo, map[string]interface{}{
			"site_id":  silo.SiteId,
			"slug":     normalizeSlug(input.Slug),
			"position": input.Position,
		})
	})
	if err != nil {
		return nil, err
	}

	return silo, nil
}

// DeleteSilo removes the silo and re-checks cardinality in the same
// transaction: deleting below three silos rolls the delete back.
func DeleteSilo(ctx context.Context, id int) (*Silo, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	silo, err := utils.FetchModel[Silo](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Page{}).Where("silo_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.New("silo has pages")
		}
		if err := tx.Delete(&silo).Error; err != nil {
			return err
		}
		if err := checkSiloCardinality(tx, silo.SiteId); err != nil {
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "silo.deleted", "Silo", silo.ID, EventSeverityInfo, map[string]interface{}{
			"site_id": silo.SiteId,
			"slug":    silo.Slug,
		})
	})
	if err != nil {
		return nil, err
	}

	return silo, nil
}

func GetSilos(ctx context.Context, siteId int) ([]*Silo, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Silo
	err := db.WithContext(ctx).
		Where("business_id = ? AND site_id = ?", businessId, siteId).
		Order("position").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
