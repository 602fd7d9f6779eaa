package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/genprovider"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/vecindex"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPreflightFailed      = errors.New("pre-generation checks failed")
	ErrGenerationInProgress = errors.New("generation already in progress for page")
)

// StartGeneration creates the page's generation job and, when the
// pre-generation stage passes, queues it through the outbox. A failed pre
// stage leaves the job in draft with the error surfaced; it is never retried
// automatically.
//
// The returned job id is valid in both cases, so callers can poll status.
func StartGeneration(ctx context.Context, pageId int, params models.PromptParams) (string, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}

	page, err := utils.FetchModel[models.Page](ctx, businessId, pageId)
	if err != nil {
		return "", err
	}
	if page.Status == models.PageStatusDecommissioned || page.Status == models.PageStatusBlocked {
		return "", fmt.Errorf("page is %s", page.Status)
	}

	jobId := uuid.NewString()
	preflightBlocked := false

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One job per page: a non-terminal job blocks a new one; a terminal
		// job is superseded inside this transaction.
		var existing models.GenerationJob
		findErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("page_id = ?", page.ID).First(&existing).Error
		if findErr == nil {
			if !existing.Status.IsTerminal() {
				return ErrGenerationInProgress
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		} else if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return findErr
		}

		job := models.GenerationJob{
			BusinessId:   businessId,
			PageId:       page.ID,
			JobId:        jobId,
			Status:       models.JobStatusDraft,
			MaxRetries:   config.JobMaxRetries(),
			PromptParams: datatypes.NewJSONType(params),
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}

		// Pre-generation facts: silo structure + site cardinality.
		siloValid := true
		if page.SiloId != nil {
			var count int64
			if err := tx.Model(&models.Silo{}).Where("id = ? AND site_id = ?", *page.SiloId, page.SiteId).Count(&count).Error; err != nil {
				return err
			}
			siloValid = count > 0
		}
		var siloCount int64
		if err := tx.Model(&models.Silo{}).Where("site_id = ?", page.SiteId).Count(&siloCount).Error; err != nil {
			return err
		}

		// Early cannibalization pass on title/outline. Best-effort and
		// advisory: provider or index trouble never blocks the preflight.
		var earlySim *SimilarityResult
		earlyText := strings.TrimSpace(page.Title + "\n" + params.Outline)
		if emb, embErr := genprovider.Get().Embed(ctx, earlyText); embErr == nil {
			if err := job.AddCost(tx, emb.CostUsd); err != nil {
				return err
			}
			if len(emb.Vector) == models.EmbeddingDimension {
				if sim, simErr := CheckSimilarity(ctx, tx, page, emb.Vector, true); simErr == nil {
					earlySim = sim
				}
			}
		}

		pre := EvaluatePreGeneration(page, siloValid, int(siloCount), earlySim)
		checks := page.GovernanceChecks.Data()
		checks.Pre = pre
		if err := models.UpdateGovernanceChecks(tx, page.ID, checks); err != nil {
			return err
		}

		if !pre.Passed {
			preflightBlocked = true
			code := models.JobErrorPreflightFailed
			if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
				Update("error_code", &code).Error; err != nil {
				return err
			}
			return models.LogSystemEvent(ctx, tx, businessId, "generation.preflight_blocked", "GenerationJob", job.ID, models.EventSeverityBlock, map[string]interface{}{
				"job_id":       jobId,
				"page_id":      page.ID,
				"field_errors": pre.FieldErrors,
			})
		}

		if err := job.Transition(tx, models.JobStatusPreflightApproved, "pre-generation checks passed"); err != nil {
			return err
		}
		if err := models.PublishToGovernance(ctx, tx, businessId, time.Now().UTC(), job.ID, models.GovernanceReferenceTypeGeneration, &job, nil, models.PubSubMessageActionCreate); err != nil {
			return err
		}
		return models.LogSystemEvent(ctx, tx, businessId, "generation.started", "GenerationJob", job.ID, models.EventSeverityInfo, map[string]interface{}{
			"job_id":  jobId,
			"page_id": page.ID,
		})
	})
	if err != nil {
		return "", err
	}
	if preflightBlocked {
		return jobId, ErrPreflightFailed
	}
	return jobId, nil
}

// ProcessGenerationWorkflow drives one job from preflight_approved to a
// terminal state inside the worker transaction: freeze prompt, call the
// provider, gate the raw output, run post checks, and loop on the bounded
// retry budget. Returning an error rolls everything back, which leaves the
// job in its previous re-enterable state for the outbox retry machinery.
func ProcessGenerationWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var job models.GenerationJob
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND business_id = ?", msg.ReferenceId, msg.BusinessId).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	var page models.Page
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", job.PageId).First(&page).Error; err != nil {
		return err
	}

	params := job.PromptParams.Data()
	provider := genprovider.Get()
	costLimit := decimal.NewFromFloat(config.JobCostLimitUSD())
	checks := page.GovernanceChecks.Data()

	for {
		// Freeze the exact prompt used for this attempt.
		prompt := buildPrompt(&page, params)
		reason := "prompt frozen"
		if job.Status == models.JobStatusPostcheckFailed {
			reason = fmt.Sprintf("retry %d of %d", job.RetryCount, job.MaxRetries)
		}
		if err := job.Transition(tx, models.JobStatusPromptLocked, reason); err != nil {
			return err
		}
		if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
			Update("prompt", prompt).Error; err != nil {
			return err
		}
		job.Prompt = prompt

		if err := job.Transition(tx, models.JobStatusProcessing, "generation call issued"); err != nil {
			return err
		}

		gen, genErr := provider.Generate(ctx, prompt)
		if genErr != nil {
			// Infrastructure failure: roll back and let the outbox retry with
			// backoff. Exhausted outbox attempts go DEAD and revert the job.
			return fmt.Errorf("generation provider: %w", genErr)
		}
		if err := job.AddCost(tx, gen.CostUsd); err != nil {
			return err
		}
		if exceeded, err := enforceCostCeiling(ctx, tx, &job, &page, costLimit); exceeded || err != nil {
			return err
		}

		during := EvaluateDuringGeneration(gen.Text, params.IntentPhrase)
		checks.During = during

		var post *models.PostGenerationResult
		if during.Passed {
			emb, embErr := provider.Embed(ctx, gen.Text)
			if embErr != nil {
				return fmt.Errorf("embedding provider: %w", embErr)
			}
			if err := job.AddCost(tx, emb.CostUsd); err != nil {
				return err
			}
			if exceeded, err := enforceCostCeiling(ctx, tx, &job, &page, costLimit); exceeded || err != nil {
				return err
			}

			if len(emb.Vector) != models.EmbeddingDimension {
				post = &models.PostGenerationResult{
					Failures:  []string{fmt.Sprintf("embedding dimension %d, expected %d", len(emb.Vector), models.EmbeddingDimension)},
					CheckedAt: time.Now().UTC(),
				}
			} else {
				sim, simErr := CheckSimilarity(ctx, tx, &page, emb.Vector, false)
				if simErr != nil {
					return simErr
				}
				knownPaths, pathErr := sitePathSet(tx, page.SiteId)
				if pathErr != nil {
					return pathErr
				}
				post = EvaluatePostGeneration(PostCheckInput{
					Output:        gen.Text,
					Sim:           sim,
					HighAuthority: utils.DereferencePtr(page.HighAuthority),
					SourceUrls:    page.SourceUrls,
					FaqRequested:  params.FaqRequested,
					KnownPaths:    knownPaths,
				})
			}
			checks.Post = post

			if post.Passed {
				if err := job.Transition(tx, models.JobStatusPostcheckPassed, "post-generation checks passed"); err != nil {
					return err
				}
				if err := job.Transition(tx, models.JobStatusCompleted, "generation accepted"); err != nil {
					return err
				}
				if err := tx.Model(&models.Page{}).Where("id = ?", page.ID).
					Updates(map[string]interface{}{
						"body":              gen.Text,
						"embedding":         datatypes.NewJSONSlice(emb.Vector),
						"status":            models.PageStatusPendingReview,
						"governance_checks": datatypes.NewJSONType(checks),
					}).Error; err != nil {
					return err
				}
				if err := models.LogSystemEvent(ctx, tx, job.BusinessId, "generation.completed", "GenerationJob", job.ID, models.EventSeverityInfo, map[string]interface{}{
					"job_id":         job.JobId,
					"page_id":        page.ID,
					"retry_count":    job.RetryCount,
					"total_cost_usd": job.TotalCostUsd,
				}); err != nil {
					return err
				}

				// Index write and transcript archive are best-effort side
				// effects; their failure must not unwind an accepted job.
				if err := vecindex.UpsertPageVector(ctx, page.BusinessId, page.SiteId, page.ID, string(models.PageStatusPendingReview), emb.Vector); err != nil {
					config.LogError(logger, "generationWorkflow.go", "ProcessGenerationWorkflow", "upserting page vector", page.ID, err)
				}
				archiveTranscript(ctx, logger, &job, prompt, gen.Text, checks)
				return nil
			}
		}

		// During or post failure: transient generation defect.
		failReason := "during-generation checks failed"
		failures := during.Failures
		if during.Passed && post != nil {
			failReason = "post-generation checks failed"
			failures = post.Failures
		}
		if err := job.Transition(tx, models.JobStatusPostcheckFailed, failReason); err != nil {
			return err
		}
		now := time.Now().UTC()
		job.RetryCount++
		job.LastRetryAt = &now
		if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"retry_count":   job.RetryCount,
				"last_retry_at": &now,
			}).Error; err != nil {
			return err
		}
		if err := models.UpdateGovernanceChecks(tx, page.ID, checks); err != nil {
			return err
		}
		if err := models.LogSystemEvent(ctx, tx, job.BusinessId, "generation.postcheck_failed", "GenerationJob", job.ID, models.EventSeverityBlock, map[string]interface{}{
			"job_id":      job.JobId,
			"page_id":     page.ID,
			"retry_count": job.RetryCount,
			"failures":    failures,
		}); err != nil {
			return err
		}
		archiveTranscript(ctx, logger, &job, prompt, gen.Text, checks)

		if job.RetryCount >= job.MaxRetries {
			// Quality exhaustion, terminal and distinct from infrastructure
			// failure so operators can intervene on content.
			if err := job.Transition(tx, models.JobStatusMaxRetryExceeded, "retry budget exhausted"); err != nil {
				return err
			}
			code := models.JobErrorRetryExhausted
			if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
				Update("error_code", &code).Error; err != nil {
				return err
			}
			return models.LogSystemEvent(ctx, tx, job.BusinessId, "generation.retry_exhausted", "GenerationJob", job.ID, models.EventSeverityCritical, map[string]interface{}{
				"job_id":      job.JobId,
				"page_id":     page.ID,
				"retry_count": job.RetryCount,
			})
		}
	}
}

// enforceCostCeiling forces the job to failed with CostLimitExceeded once the
// accumulated spend crosses the per-job ceiling, independent of remaining
// retries. The returned bool reports whether the ceiling fired.
func enforceCostCeiling(ctx context.Context, tx *gorm.DB, job *models.GenerationJob, page *models.Page, limit decimal.Decimal) (bool, error) {
	if job.TotalCostUsd.LessThanOrEqual(limit) {
		return false, nil
	}
	if err := job.Transition(tx, models.JobStatusFailed, "cost limit exceeded"); err != nil {
		return true, err
	}
	code := models.JobErrorCostLimitExceeded
	if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
		Update("error_code", &code).Error; err != nil {
		return true, err
	}
	if err := models.LogSystemEvent(ctx, tx, job.BusinessId, "generation.cost_limit_exceeded", "GenerationJob", job.ID, models.EventSeverityCritical, map[string]interface{}{
		"job_id":         job.JobId,
		"page_id":        page.ID,
		"total_cost_usd": job.TotalCostUsd,
		"cost_limit_usd": limit,
	}); err != nil {
		return true, err
	}
	return true, nil
}

func buildPrompt(page *models.Page, params models.PromptParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a web page for %q at path %s.\n", page.Title, page.NormalizedPath)
	if params.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", params.Topic)
	}
	if params.IntentPhrase != "" {
		fmt.Fprintf(&b, "The phrase %q must appear verbatim in the text.\n", params.IntentPhrase)
	}
	if params.Outline != "" {
		fmt.Fprintf(&b, "Outline:\n%s\n", params.Outline)
	}
	if params.FaqRequested {
		fmt.Fprintf(&b, "Include at least %d FAQ entries, each starting with \"Q:\".\n", MinFaqCount)
	}
	if len(params.SourceUrls) > 0 {
		fmt.Fprintf(&b, "Only link to pages on this site or to these sources: %s\n", strings.Join(params.SourceUrls, ", "))
	}
	return b.String()
}

func sitePathSet(tx *gorm.DB, siteId int) (map[string]bool, error) {
	var paths []string
	if err := tx.Model(&models.Page{}).Where("site_id = ?", siteId).
		Pluck("normalized_path", &paths).Error; err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set, nil
}

// archiveTranscript snapshots one attempt (frozen prompt, raw output, stage
// verdicts) to the archive bucket. Best-effort: archival trouble is logged
// and swallowed.
func archiveTranscript(ctx context.Context, logger *logrus.Logger, job *models.GenerationJob, prompt string, output string, checks models.GovernanceChecks) {
	if !utils.TranscriptsEnabled() {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"job_id":      job.JobId,
		"attempt":     job.RetryCount,
		"prompt":      prompt,
		"output":      output,
		"during":      checks.During,
		"post":        checks.Post,
		"archived_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	objectName := utils.TranscriptObjectName(job.BusinessId, job.ID, job.RetryCount)
	if err := utils.UploadTranscriptToGCS(ctx, objectName, data); err != nil {
		config.LogError(logger, "generationWorkflow.go", "archiveTranscript", "uploading transcript", objectName, err)
	}
}

// RevertDeadGenerationMessage puts the job and page back into a safe,
// re-enterable state when the outbox message can never be delivered.
func RevertDeadGenerationMessage(ctx context.Context, db *gorm.DB, rec models.PubSubMessageRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.GenerationJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rec.ReferenceId).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}

		if err := job.Transition(tx, models.JobStatusFailed, "outbox message dead"); err != nil {
			return err
		}
		code := models.JobErrorOutboxDead
		if err := tx.Model(&models.GenerationJob{}).Where("id = ?", job.ID).
			Update("error_code", &code).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Page{}).
			Where("id = ? AND status NOT IN ?", job.PageId, []models.PageStatus{models.PageStatusPublished, models.PageStatusDecommissioned}).
			Update("status", models.PageStatusDraft).Error; err != nil {
			return err
		}
		return models.LogSystemEvent(ctx, tx, job.BusinessId, "generation.reverted_dead_outbox", "GenerationJob", job.ID, models.EventSeverityWarn, map[string]interface{}{
			"job_id":    job.JobId,
			"page_id":   job.PageId,
			"record_id": rec.ID,
		})
	})
}
