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

type Site struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Domain     string    `gorm:"size:255;not null;uniqueIndex" json:"domain" binding:"required"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Silos []Silo `json:"silos"`
	Pages []Page `json:"pages"`
}

type NewSite struct {
	Name   string `json:"name" binding:"required"`
	Domain string `json:"domain" binding:"required"`
	// Silos is optional; when omitted the three default silos are seeded so the
	// site is born satisfying the cardinality invariant.
	Silos []NewSilo `json:"silos"`
}

var defaultSilos = []NewSilo{
	{Name: "Services", Slug: "services", Position: 1},
	{Name: "Locations", Slug: "locations", Position: 2},
	{Name: "Resources", Slug: "resources", Position: 3},
}

func (input *NewSite) validate() error {
	if strings.TrimSpace(input.Domain) == "" {
		return errors.New("domain is required")
	}
	if len(input.Silos) > 0 && (len(input.Silos) < SiloCountMin || len(input.Silos) > SiloCountMax) {
		return ErrSiloCardinality
	}
	return nil
}

// CreateSite creates the site together with its initial silos in one
// transaction, so no observable state ever has fewer than three silos.
func CreateSite(ctx context.Context, input *NewSite) (*Site, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	silos := input.Silos
	if len(silos) == 0 {
		silos = defaultSilos
	}

	site := Site{
		BusinessId: businessId,
		Name:       input.Name,
		Domain:     strings.ToLower(strings.TrimSpace(input.Domain)),
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&site).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return errors.New("duplicate domain")
			}
			return err
		}
		for _, s := range silos {
			silo := Silo{
				BusinessId: businessId,
				SiteId:     site.ID,
				Name:       s.Name,
				Slug:       normalizeSlug(s.Slug),
				Position:   s.Position,
			}
			if err := tx.Create(&silo).Error; err != nil {
				if IsDuplicateKeyErr(err) {
					return errors.New("duplicate silo slug or position")
				}
				return err
			}
			site.Silos = append(site.Silos, silo)
		}
		if err := checkSiloCardinality(tx, site.ID); err != nil {
			return err
		}
		return LogSystemEvent(ctx, tx, businessId, "site.created", "Site", site.ID, EventSeverityInfo, map[string]interface{}{
			"domain":     site.Domain,
			"silo_count": len(silos),
		})
	})
	if err != nil {
		return nil, err
	}

	return &site, nil
}

func GetSite(ctx context.Context, id int) (*Site, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Site](ctx, businessId, id, "Silos")
}
