package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"gorm.io/gorm"
)

// gatedPageStatuses are page states in which no further workflow message may
// run against the page. Messages hitting the gate are dropped permanently,
// not retried.
var gatedPageStatuses = []models.PageStatus{
	models.PageStatusDecommissioned,
	models.PageStatusBlocked,
}

// PageIdForMessage resolves the page a workflow message ultimately mutates.
// Reference types that do not target a single page carry no gate here.
func PageIdForMessage(ctx context.Context, msg config.PubSubMessage) (int, bool, error) {
	db := config.GetDB()
	switch models.GovernanceReferenceType(msg.ReferenceType) {
	case models.GovernanceReferenceTypeGeneration:
		var job models.GenerationJob
		err := db.WithContext(ctx).Select("page_id").
			Where("id = ? AND business_id = ?", msg.ReferenceId, msg.BusinessId).
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return job.PageId, true, nil
	}
	// Page, decommission and sweep messages describe a state the page is
	// already in; they carry no gate.
	return 0, false, nil
}

// EnforceGovernanceGate validates that the target page is still eligible for
// workflow processing (worker-side).
func EnforceGovernanceGate(ctx context.Context, msg config.PubSubMessage) error {
	pageId, ok, err := PageIdForMessage(ctx, msg)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	db := config.GetDB()
	var page models.Page
	err = db.WithContext(ctx).Select("id", "status").
		Where("id = ? AND business_id = ?", pageId, msg.BusinessId).
		First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("page %d no longer exists", pageId)
	}
	if err != nil {
		return err
	}
	for _, s := range gatedPageStatuses {
		if page.Status == s {
			return fmt.Errorf("page %d is %s", pageId, page.Status)
		}
	}
	return nil
}
