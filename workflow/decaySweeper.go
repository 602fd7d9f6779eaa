package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/gorm"
)

// DecaySweepRequest is the payload of a scheduled sweep message.
type DecaySweepRequest struct {
	SiteId        int `json:"site_id"`
	ThresholdDays int `json:"threshold_days"`
}

// DecaySweepSummary reports one sweep run. Counts cover pages flipped by this
// run only, so a re-run over the same data reports zeros.
type DecaySweepSummary struct {
	SiteId         int       `json:"siteId"`
	ThresholdDays  int       `json:"thresholdDays"`
	StaleProposals int       `json:"staleProposals"`
	OrphanedDrafts int       `json:"orphanedDrafts"`
	SweptAt        time.Time `json:"sweptAt"`
}

// protectedPageTypes never decay regardless of age.
func protectedPageTypes() []models.PageType {
	return []models.PageType{
		models.PageTypeProduct,
		models.PageTypeServiceCore,
	}
}

// sweepSiteTx decommissions stale proposals and orphaned drafts older than
// the threshold on one site. Each rule runs as a single bulk update inside
// the caller's transaction, so the sweep is idempotent: decommissioned pages
// no longer match the predicates.
func sweepSiteTx(ctx context.Context, tx *gorm.DB, businessId string, siteId int, thresholdDays int) (*DecaySweepSummary, error) {
	if thresholdDays <= 0 {
		thresholdDays = config.DecayThresholdDays()
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -thresholdDays)

	summary := &DecaySweepSummary{
		SiteId:        siteId,
		ThresholdDays: thresholdDays,
		SweptAt:       now,
	}

	var site models.Site
	if err := tx.Where("id = ? AND business_id = ?", siteId, businessId).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	// Rule 1: proposals that never reached publication.
	staleProposals := tx.Model(&models.Page{}).
		Where("site_id = ? AND is_proposal = ? AND updated_at < ?", siteId, true, cutoff).
		Where("status NOT IN ?", []models.PageStatus{
			models.PageStatusPublished,
			models.PageStatusDecommissioned,
			models.PageStatusBlocked,
		}).
		Where("page_type NOT IN ?", protectedPageTypes()).
		Updates(map[string]interface{}{
			"status":            models.PageStatusDecommissioned,
			"decommissioned_at": &now,
		})
	if staleProposals.Error != nil {
		return nil, staleProposals.Error
	}
	summary.StaleProposals = int(staleProposals.RowsAffected)

	// Rule 2: drafts with no silo and no keyword, abandoned past the
	// threshold.
	orphanedDrafts := tx.Model(&models.Page{}).
		Where("site_id = ? AND status = ? AND silo_id IS NULL AND updated_at < ?",
			siteId, models.PageStatusDraft, cutoff).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).Model(&models.Keyword{}).Select("page_id")).
		Where("page_type NOT IN ?", protectedPageTypes()).
		Updates(map[string]interface{}{
			"status":            models.PageStatusDecommissioned,
			"decommissioned_at": &now,
		})
	if orphanedDrafts.Error != nil {
		return nil, orphanedDrafts.Error
	}
	summary.OrphanedDrafts = int(orphanedDrafts.RowsAffected)

	if err := models.LogSystemEvent(ctx, tx, businessId, "decay.stale_proposals_swept", "Site", siteId, models.EventSeverityWarn, map[string]interface{}{
		"site_id":        siteId,
		"threshold_days": thresholdDays,
		"cutoff":         cutoff,
		"count":          summary.StaleProposals,
	}); err != nil {
		return nil, err
	}
	if err := models.LogSystemEvent(ctx, tx, businessId, "decay.orphaned_drafts_swept", "Site", siteId, models.EventSeverityWarn, map[string]interface{}{
		"site_id":        siteId,
		"threshold_days": thresholdDays,
		"cutoff":         cutoff,
		"count":          summary.OrphanedDrafts,
	}); err != nil {
		return nil, err
	}
	return summary, nil
}

// RunDecaySweep runs one sweep synchronously in its own transaction.
func RunDecaySweep(ctx context.Context, siteId int, thresholdDays int) (*DecaySweepSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var summary *DecaySweepSummary
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		summary, txErr = sweepSiteTx(ctx, tx, businessId, siteId, thresholdDays)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// RunDecaySweepAllSites sweeps every site of the business, continuing past
// per-site failures.
func RunDecaySweepAllSites(ctx context.Context, thresholdDays int) ([]DecaySweepSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var siteIds []int
	if err := db.WithContext(ctx).Model(&models.Site{}).
		Where("business_id = ?", businessId).Pluck("id", &siteIds).Error; err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	summaries := make([]DecaySweepSummary, 0, len(siteIds))
	for _, siteId := range siteIds {
		summary, err := RunDecaySweep(ctx, siteId, thresholdDays)
		if err != nil {
			config.LogError(logger, "decaySweeper.go", "RunDecaySweepAllSites", "sweeping site", siteId, err)
			continue
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// ScheduleDecaySweep queues a sweep through the outbox instead of running it
// inline, so it inherits the worker's retry and idempotency guarantees.
func ScheduleDecaySweep(ctx context.Context, siteId int, thresholdDays int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	if thresholdDays <= 0 {
		thresholdDays = config.DecayThresholdDays()
	}

	request := DecaySweepRequest{SiteId: siteId, ThresholdDays: thresholdDays}
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Site{}).Where("id = ? AND business_id = ?", siteId, businessId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.ErrorRecordNotFound
		}
		return models.PublishToGovernance(ctx, tx, businessId, time.Now().UTC(), siteId, models.GovernanceReferenceTypeDecaySweep, &request, nil, models.PubSubMessageActionCreate)
	})
}
