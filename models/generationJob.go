package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusDraft             JobStatus = "draft"
	JobStatusPreflightApproved JobStatus = "preflight_approved"
	JobStatusPromptLocked      JobStatus = "prompt_locked"
	JobStatusProcessing        JobStatus = "processing"
	JobStatusPostcheckPassed   JobStatus = "postcheck_passed"
	JobStatusPostcheckFailed   JobStatus = "postcheck_failed"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
	JobStatusMaxRetryExceeded  JobStatus = "ai_max_retry_exceeded"
)

// Job error codes surfaced through GetGenerationJobStatus.
const (
	JobErrorCostLimitExceeded = "cost_limit_exceeded"
	JobErrorPreflightFailed   = "preflight_failed"
	JobErrorProviderFailed    = "provider_failed"
	JobErrorRetryExhausted    = "retry_exhausted"
	JobErrorOutboxDead        = "outbox_dead"
)

// jobTransitions is the only legal move set. Forward-only; the sole backward
// edge is the retry loop postcheck_failed -> prompt_locked, and any state may
// fall into failed.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusDraft:             {JobStatusPreflightApproved, JobStatusFailed},
	JobStatusPreflightApproved: {JobStatusPromptLocked, JobStatusFailed},
	JobStatusPromptLocked:      {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing:        {JobStatusPostcheckPassed, JobStatusPostcheckFailed, JobStatusFailed},
	JobStatusPostcheckPassed:   {JobStatusCompleted, JobStatusFailed},
	JobStatusPostcheckFailed:   {JobStatusPromptLocked, JobStatusMaxRetryExceeded, JobStatusFailed},
}

func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusMaxRetryExceeded:
		return true
	}
	return false
}

// JobTransition is one entry of the replay log.
type JobTransition struct {
	From   JobStatus `json:"from"`
	To     JobStatus `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// PromptParams is frozen into the job at prompt_locked so retries are
// auditable and reproducible.
type PromptParams struct {
	Topic        string   `json:"topic"`
	IntentPhrase string   `json:"intent_phrase"`
	Outline      string   `json:"outline,omitempty"`
	FaqRequested bool     `json:"faq_requested"`
	SourceUrls   []string `json:"source_urls,omitempty"`
}

type GenerationJob struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	// One job per page: the unique index turns the "one active job" assumption
	// into a real constraint. A new job is allowed only once the existing one
	// is terminal, in which case the row is superseded in the same transaction.
	PageId       int             `gorm:"not null;uniqueIndex" json:"page_id"`
	JobId        string          `gorm:"size:36;not null;uniqueIndex" json:"job_id"`
	Status       JobStatus       `gorm:"type:enum('draft','preflight_approved','prompt_locked','processing','postcheck_passed','postcheck_failed','completed','failed','ai_max_retry_exceeded');not null;default:'draft';index" json:"status"`
	RetryCount   int             `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries   int             `gorm:"not null;default:3" json:"max_retries"`
	TotalCostUsd decimal.Decimal `gorm:"type:decimal(12,6);not null;default:0" json:"total_cost_usd"`
	ErrorCode    *string         `gorm:"size:50" json:"error_code"`

	Prompt       string                             `gorm:"type:longtext" json:"prompt"`
	PromptParams datatypes.JSONType[PromptParams]   `json:"prompt_params"`
	History      datatypes.JSONSlice[JobTransition] `json:"state_transition_history"`

	LastRetryAt *time.Time `json:"last_retry_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Transition validates the move against the table, appends to the replay log
// and persists status + history in the caller's transaction. Ad hoc status
// writes bypassing this are a bug.
func (job *GenerationJob) Transition(tx *gorm.DB, to JobStatus, reason string) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("invalid job transition %s -> %s", job.Status, to)
	}
	entry := JobTransition{
		From:   job.Status,
		To:     to,
		Reason: reason,
		At:     time.Now().UTC(),
	}
	job.History = append(job.History, entry)
	job.Status = to
	return tx.Model(&GenerationJob{}).Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":  to,
			"history": job.History,
		}).Error
}

// AddCost accrues a model-call cost and persists the running total.
func (job *GenerationJob) AddCost(tx *gorm.DB, cost decimal.Decimal) error {
	job.TotalCostUsd = job.TotalCostUsd.Add(cost)
	return tx.Model(&GenerationJob{}).Where("id = ?", job.ID).
		Update("total_cost_usd", job.TotalCostUsd).Error
}

type GenerationJobStatus struct {
	JobId        string          `json:"job_id"`
	Status       JobStatus       `json:"status"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	TotalCostUsd decimal.Decimal `json:"total_cost_usd"`
	ErrorCode    *string         `json:"error_code,omitempty"`
}

// GetGenerationJobStatus looks a job up by its external job id.
func GetGenerationJobStatus(ctx context.Context, jobId string) (*GenerationJobStatus, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var job GenerationJob
	err := db.WithContext(ctx).
		Where("business_id = ? AND job_id = ?", businessId, jobId).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	return &GenerationJobStatus{
		JobId:        job.JobId,
		Status:       job.Status,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		TotalCostUsd: job.TotalCostUsd,
		ErrorCode:    job.ErrorCode,
	}, nil
}

// GetGenerationJobByPage returns the page's job row, if any.
func GetGenerationJobByPage(ctx context.Context, pageId int) (*GenerationJob, error) {
	db := config.GetDB()
	var job GenerationJob
	err := db.WithContext(ctx).Where("page_id = ?", pageId).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
