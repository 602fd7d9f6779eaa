package workflow

import (
	"context"
	"errors"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/vecindex"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func workflowContext(tx *gorm.DB) context.Context {
	if tx.Statement != nil && tx.Statement.Context != nil {
		return tx.Statement.Context
	}
	return context.Background()
}

// ProcessPageSyncWorkflow reconciles the vector index with the stored page
// after a publish. The inline upsert at generation time is best-effort; this
// message path is the reliable one.
func ProcessPageSyncWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	ctx := workflowContext(tx)

	var page models.Page
	err := tx.Where("id = ? AND business_id = ?", msg.ReferenceId, msg.BusinessId).First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch page.Status {
	case models.PageStatusDecommissioned, models.PageStatusBlocked:
		return vecindex.RemovePageVector(ctx, page.ID)
	}
	if len(page.Embedding) != models.EmbeddingDimension {
		logger.WithFields(logrus.Fields{
			"field":       "ProcessPageSyncWorkflow",
			"business_id": msg.BusinessId,
			"record_id":   page.ID,
		}).Warn("page has no usable embedding; skipping index sync")
		return nil
	}
	return vecindex.UpsertPageVector(ctx, page.BusinessId, page.SiteId, page.ID, string(page.Status), page.Embedding)
}

// ProcessDecommissionWorkflow removes the retired page from the vector index
// and fulfils any reservation the page still held.
func ProcessDecommissionWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	ctx := workflowContext(tx)

	var page models.Page
	err := tx.Where("id = ? AND business_id = ?", msg.ReferenceId, msg.BusinessId).First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if page.Status != models.PageStatusDecommissioned {
		// The decommission was rolled back or superseded; nothing to sync.
		return nil
	}

	if err := tx.Where("page_id = ? AND business_id = ?", page.ID, msg.BusinessId).
		Delete(&models.ContentReservation{}).Error; err != nil {
		return err
	}
	return vecindex.RemovePageVector(ctx, page.ID)
}

// ProcessDecaySweepWorkflow executes a scheduled sweep inside the worker
// transaction.
func ProcessDecaySweepWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	ctx := workflowContext(tx)

	var request DecaySweepRequest
	if err := utils.UnmarshalFromJSON(msg.NewObj, &request); err != nil {
		return err
	}
	siteId := request.SiteId
	if siteId == 0 {
		siteId = msg.ReferenceId
	}

	summary, err := sweepSiteTx(ctx, tx, msg.BusinessId, siteId, request.ThresholdDays)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			// Site vanished since scheduling; drop the message.
			return nil
		}
		return err
	}
	logger.WithFields(logrus.Fields{
		"field":           "ProcessDecaySweepWorkflow",
		"business_id":     msg.BusinessId,
		"record_id":       siteId,
		"stale_proposals": summary.StaleProposals,
		"orphaned_drafts": summary.OrphanedDrafts,
	}).Info("decay sweep completed")
	return nil
}
