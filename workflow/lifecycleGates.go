package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	GateGovernanceChecks = "governance_checks"
	GateSchemaSync       = "schema_sync"
	GateEmbedding        = "embedding"
	GateAuthority        = "authority"
	GateStructure        = "structure"
	GateStatus           = "status"
)

// gateOrder is the publish evaluation order. Every gate is evaluated even
// after one fails, so the caller sees the full picture in one pass.
var gateOrder = []string{
	GateGovernanceChecks,
	GateSchemaSync,
	GateEmbedding,
	GateAuthority,
	GateStructure,
	GateStatus,
}

type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

type GatesReport struct {
	AllPassed bool         `json:"allPassed"`
	Results   []GateResult `json:"results"`
}

func (r *GatesReport) FailedGates() []string {
	var failed []string
	for _, g := range r.Results {
		if !g.Passed {
			failed = append(failed, g.Name)
		}
	}
	return failed
}

// GateFailureError reports which gates blocked a publish.
type GateFailureError struct {
	PageId int
	Report *GatesReport
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("page %d blocked by gates: %s", e.PageId, strings.Join(e.Report.FailedGates(), ", "))
}

// GateSnapshot carries everything the gates need, collected under whatever
// locking discipline the caller chose.
type GateSnapshot struct {
	Page       *models.Page
	SiloValid  bool
	SiloCount  int
	HasKeyword bool
}

// EvaluateGates runs every gate against the snapshot. Pure; no database
// access.
func EvaluateGates(snap GateSnapshot) *GatesReport {
	page := snap.Page
	checks := page.GovernanceChecks.Data()
	schema := page.SchemaMarkup.Data()

	evaluate := func(name string) GateResult {
		switch name {
		case GateGovernanceChecks:
			if !checks.AllStagesPassed() {
				return GateResult{Name: name, Reason: "governance stages incomplete or failed"}
			}
		case GateSchemaSync:
			if schema.BuiltAt.IsZero() {
				return GateResult{Name: name, Reason: "schema markup never built"}
			}
			if schema.Title != page.Title || schema.Path != page.NormalizedPath {
				return GateResult{Name: name, Reason: "schema markup out of sync with page"}
			}
		case GateEmbedding:
			if len(page.Embedding) != models.EmbeddingDimension {
				return GateResult{Name: name, Reason: fmt.Sprintf("embedding dimension %d, expected %d", len(page.Embedding), models.EmbeddingDimension)}
			}
		case GateAuthority:
			if utils.DereferencePtr(page.HighAuthority) {
				if page.AuthorityScore <= 0 {
					return GateResult{Name: name, Reason: "high-authority page without authority score"}
				}
				if len(page.SourceUrls) == 0 {
					return GateResult{Name: name, Reason: "high-authority page without source urls"}
				}
			}
		case GateStructure:
			if strings.TrimSpace(page.Title) == "" {
				return GateResult{Name: name, Reason: "page has no title"}
			}
			if strings.TrimSpace(page.Body) == "" {
				return GateResult{Name: name, Reason: "page has no body"}
			}
			if err := models.ValidatePath(page.Path); err != nil {
				return GateResult{Name: name, Reason: "page path is malformed"}
			}
			if page.SiloId == nil || !snap.SiloValid {
				return GateResult{Name: name, Reason: "page is not attached to a valid silo"}
			}
			if snap.SiloCount < models.SiloCountMin || snap.SiloCount > models.SiloCountMax {
				return GateResult{Name: name, Reason: fmt.Sprintf("site has %d silos, expected %d-%d", snap.SiloCount, models.SiloCountMin, models.SiloCountMax)}
			}
			if !snap.HasKeyword {
				return GateResult{Name: name, Reason: "page has no keyword assigned"}
			}
		case GateStatus:
			if page.Status != models.PageStatusApproved && page.Status != models.PageStatusDraft {
				return GateResult{Name: name, Reason: fmt.Sprintf("page is %s, expected %s or %s", page.Status, models.PageStatusApproved, models.PageStatusDraft)}
			}
		}
		return GateResult{Name: name, Passed: true}
	}

	report := &GatesReport{AllPassed: true}
	for _, name := range gateOrder {
		result := evaluate(name)
		if !result.Passed {
			report.AllPassed = false
		}
		report.Results = append(report.Results, result)
	}
	return report
}

func collectGateSnapshot(tx *gorm.DB, page *models.Page) (GateSnapshot, error) {
	snap := GateSnapshot{Page: page}
	if page.SiloId != nil {
		var count int64
		if err := tx.Model(&models.Silo{}).Where("id = ? AND site_id = ?", *page.SiloId, page.SiteId).Count(&count).Error; err != nil {
			return snap, err
		}
		snap.SiloValid = count > 0
	}
	var siloCount int64
	if err := tx.Model(&models.Silo{}).Where("site_id = ?", page.SiteId).Count(&siloCount).Error; err != nil {
		return snap, err
	}
	snap.SiloCount = int(siloCount)
	var keywordCount int64
	if err := tx.Model(&models.Keyword{}).Where("page_id = ?", page.ID).Count(&keywordCount).Error; err != nil {
		return snap, err
	}
	snap.HasKeyword = keywordCount > 0
	return snap, nil
}

// CheckGates evaluates the publish gates without mutating anything, for
// dry-run and dashboard use.
func CheckGates(ctx context.Context, pageId int) (*GatesReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	page, err := utils.FetchModel[models.Page](ctx, businessId, pageId)
	if err != nil {
		return nil, err
	}

	var report *GatesReport
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, err := collectGateSnapshot(tx, page)
		if err != nil {
			return err
		}
		report = EvaluateGates(snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SyncSchema rebuilds the page's structured-data payload from its current
// fields. Called on its own or as the first step of a publish.
func SyncSchema(ctx context.Context, pageId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page models.Page
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND business_id = ?", pageId, businessId).First(&page).Error; err != nil {
			return err
		}
		return syncSchemaTx(tx, &page)
	})
}

func syncSchemaTx(tx *gorm.DB, page *models.Page) error {
	markup := models.PageSchemaMarkup{
		Body:    page.Body,
		Title:   page.Title,
		Path:    page.NormalizedPath,
		BuiltAt: time.Now().UTC(),
	}
	page.SchemaMarkup = datatypes.NewJSONType(markup)
	return tx.Model(&models.Page{}).Where("id = ?", page.ID).
		Update("schema_markup", page.SchemaMarkup).Error
}

// ApprovePage moves a reviewed page to approved.
func ApprovePage(ctx context.Context, pageId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page models.Page
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND business_id = ?", pageId, businessId).First(&page).Error; err != nil {
			return err
		}
		if page.Status != models.PageStatusPendingReview {
			return fmt.Errorf("page is %s, expected %s", page.Status, models.PageStatusPendingReview)
		}
		if err := tx.Model(&models.Page{}).Where("id = ?", page.ID).
			Update("status", models.PageStatusApproved).Error; err != nil {
			return err
		}
		// Approval changes the page's index eligibility; let the sync worker
		// re-upsert its vector with the new status.
		if err := models.PublishToGovernance(ctx, tx, businessId, time.Now().UTC(), page.ID, models.GovernanceReferenceTypePage, &page, nil, models.PubSubMessageActionUpdate); err != nil {
			return err
		}
		return models.LogSystemEvent(ctx, tx, businessId, "page.approved", "Page", page.ID, models.EventSeverityInfo, map[string]interface{}{
			"page_id": page.ID,
			"path":    page.NormalizedPath,
		})
	})
}

// Publish re-evaluates every gate under a row lock and flips the page to
// published in the same transaction, so a check that passed earlier cannot go
// stale between evaluation and the status change.
func Publish(ctx context.Context, pageId int) (*GatesReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var report *GatesReport
	var blocked *GateFailureError
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var page models.Page
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND business_id = ?", pageId, businessId).First(&page).Error; err != nil {
			return err
		}

		// The schema payload is rebuilt first so an edit since the last sync
		// cannot publish stale markup.
		if err := syncSchemaTx(tx, &page); err != nil {
			return err
		}

		snap, err := collectGateSnapshot(tx, &page)
		if err != nil {
			return err
		}
		report = EvaluateGates(snap)
		if !report.AllPassed {
			// Commit the refusal so the audit trail keeps it.
			blocked = &GateFailureError{PageId: page.ID, Report: report}
			return models.LogSystemEvent(ctx, tx, businessId, "page.publish_blocked", "Page", page.ID, models.EventSeverityBlock, map[string]interface{}{
				"page_id":      page.ID,
				"failed_gates": report.FailedGates(),
			})
		}

		now := time.Now().UTC()
		checks := page.GovernanceChecks.Data()
		checks.Publish = &models.PublishRecord{
			GatesPassed: gateOrder,
			PublishedAt: now,
		}
		if err := tx.Model(&models.Page{}).Where("id = ?", page.ID).
			Updates(map[string]interface{}{
				"status":            models.PageStatusPublished,
				"published_at":      &now,
				"governance_checks": datatypes.NewJSONType(checks),
			}).Error; err != nil {
			return err
		}
		if err := models.PublishToGovernance(ctx, tx, businessId, now, page.ID, models.GovernanceReferenceTypePage, &page, nil, models.PubSubMessageActionUpdate); err != nil {
			return err
		}
		return models.LogSystemEvent(ctx, tx, businessId, "page.published", "Page", page.ID, models.EventSeverityInfo, map[string]interface{}{
			"page_id": page.ID,
			"path":    page.NormalizedPath,
		})
	})
	if err != nil {
		return report, err
	}
	if blocked != nil {
		return report, blocked
	}
	return report, nil
}
