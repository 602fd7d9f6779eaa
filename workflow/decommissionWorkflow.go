package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/vecindex"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RedirectSpec is where a decommissioned page's traffic should go.
type RedirectSpec struct {
	Type   models.RedirectType `json:"type" binding:"required"`
	Target string              `json:"target"`
}

// validateRedirect resolves the redirect before any mutation. Internal
// targets must name a published page on the same site; external targets must
// be absolute http(s) URLs.
func validateRedirect(tx *gorm.DB, page *models.Page, redirect RedirectSpec) error {
	switch redirect.Type {
	case models.RedirectTypeNone:
		if redirect.Target != "" {
			return fmt.Errorf("%w: redirect type none cannot carry a target", models.ErrInvalidRedirect)
		}
		return nil
	case models.RedirectTypeInternal:
		normalized := models.NormalizePath(redirect.Target)
		if err := models.ValidatePath(normalized); err != nil {
			return fmt.Errorf("%w: %s is not a valid path", models.ErrInvalidRedirect, redirect.Target)
		}
		var count int64
		if err := tx.Model(&models.Page{}).
			Where("site_id = ? AND normalized_path = ? AND status = ? AND id <> ?",
				page.SiteId, normalized, models.PageStatusPublished, page.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: no published page at %s", models.ErrInvalidRedirect, normalized)
		}
		return nil
	case models.RedirectTypeExternal:
		parsed, err := url.Parse(redirect.Target)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: %s is not an absolute http(s) url", models.ErrInvalidRedirect, redirect.Target)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown redirect type %s", models.ErrInvalidRedirect, redirect.Type)
}

// DecommissionPage retires a page behind a validated redirect, preserving its
// authority standing in the governance record before anything is overwritten.
// An invalid redirect leaves the page untouched.
func DecommissionPage(ctx context.Context, pageId int, redirect RedirectSpec) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page models.Page
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND business_id = ?", pageId, businessId).First(&page).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if page.Status == models.PageStatusDecommissioned {
			return errors.New("page is already decommissioned")
		}

		if err := validateRedirect(tx, &page, redirect); err != nil {
			return err
		}

		normalizedTarget := redirect.Target
		if redirect.Type == models.RedirectTypeInternal {
			normalizedTarget = models.NormalizePath(redirect.Target)
		}

		now := time.Now().UTC()
		checks := page.GovernanceChecks.Data()
		checks.Decommission = &models.DecommissionRecord{
			OldStatus:        page.Status,
			AuthorityScore:   page.AuthorityScore,
			SourceUrls:       page.SourceUrls,
			RedirectTarget:   normalizedTarget,
			RedirectType:     redirect.Type,
			DecommissionedAt: now,
		}
		if err := tx.Model(&models.Page{}).Where("id = ?", page.ID).
			Updates(map[string]interface{}{
				"status":            models.PageStatusDecommissioned,
				"decommissioned_at": &now,
				"governance_checks": datatypes.NewJSONType(checks),
			}).Error; err != nil {
			return err
		}

		if err := models.PublishToGovernance(ctx, tx, businessId, now, page.ID, models.GovernanceReferenceTypeDecommission, &page, nil, models.PubSubMessageActionUpdate); err != nil {
			return err
		}
		return models.LogSystemEvent(ctx, tx, businessId, "page.decommissioned", "Page", page.ID, models.EventSeverityWarn, map[string]interface{}{
			"page_id":         page.ID,
			"path":            page.NormalizedPath,
			"old_status":      page.Status,
			"redirect_type":   redirect.Type,
			"redirect_target": normalizedTarget,
			"authority_score": page.AuthorityScore,
			"source_urls":     page.SourceUrls,
		})
	})
	if err != nil {
		return err
	}

	// Best-effort: a retired page should stop matching similarity queries.
	if err := vecindex.RemovePageVector(ctx, pageId); err != nil {
		config.LogError(config.GetLogger(), "decommissionWorkflow.go", "DecommissionPage", "removing page vector", pageId, err)
	}
	return nil
}
