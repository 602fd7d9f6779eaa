package models_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/genprovider"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NOTE: This test drives ProcessGenerationWorkflow end to end against a real
// MySQL with a scripted provider: a job whose output keeps failing the
// during-generation checks must exhaust its retry budget and land on
// ai_max_retry_exceeded, and a job whose model calls cost more than the
// per-job ceiling must be cut off with cost_limit_exceeded regardless of
// remaining retries.

type scriptedProvider struct {
	generate func(ctx context.Context, prompt string) (*genprovider.GenerationResult, error)
	embed    func(ctx context.Context, text string) (*genprovider.EmbeddingResult, error)
}

func (p scriptedProvider) Generate(ctx context.Context, prompt string) (*genprovider.GenerationResult, error) {
	return p.generate(ctx, prompt)
}

func (p scriptedProvider) Embed(ctx context.Context, text string) (*genprovider.EmbeddingResult, error) {
	return p.embed(ctx, text)
}

func TestGenerationRetryExhaustionAndCostCeiling(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "sitegov_test")
	t.Setenv("GENERATION_MAX_RETRIES", "3")
	t.Setenv("GENERATION_COST_LIMIT_USD", "0.10")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:     "Roofers Co",
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	site, err := models.CreateSite(ctx, &models.NewSite{
		Name:   "Roofers",
		Domain: "roofers.test",
	})
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	silos, err := models.GetSilos(ctx, site.ID)
	if err != nil {
		t.Fatalf("GetSilos: %v", err)
	}

	db := config.GetDB()
	cleanEmbed := func(ctx context.Context, text string) (*genprovider.EmbeddingResult, error) {
		vector := make([]float32, models.EmbeddingDimension)
		vector[0] = 1
		return &genprovider.EmbeddingResult{Vector: vector}, nil
	}

	runJob := func(jobDBId int) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return workflow.ProcessGenerationWorkflow(tx, config.GetLogger(), config.PubSubMessage{
				BusinessId:    biz.ID.String(),
				ReferenceId:   jobDBId,
				ReferenceType: string(models.GovernanceReferenceTypeGeneration),
			})
		})
	}

	fetchJob := func(jobId string) *models.GenerationJob {
		var job models.GenerationJob
		if err := db.WithContext(ctx).Where("job_id = ?", jobId).First(&job).Error; err != nil {
			t.Fatalf("fetch job %s: %v", jobId, err)
		}
		return &job
	}

	// Output that never carries the intent phrase burns one retry per loop
	// iteration until the budget is spent.
	genprovider.Set(scriptedProvider{
		generate: func(ctx context.Context, prompt string) (*genprovider.GenerationResult, error) {
			return &genprovider.GenerationResult{
				Text:    "Nothing relevant here.",
				CostUsd: decimal.NewFromFloat(0.001),
			}, nil
		},
		embed: cleanEmbed,
	})
	t.Cleanup(func() { genprovider.Set(nil) })

	pageA, err := models.CreatePage(ctx, &models.NewPage{
		SiteId: site.ID,
		SiloId: &silos[0].ID,
		Path:   "/services/roof-repair",
		Title:  "Roof Repair",
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	jobAId, err := workflow.StartGeneration(ctx, pageA.ID, models.PromptParams{
		Topic:        "roof repair",
		IntentPhrase: "roof repair",
	})
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	jobA := fetchJob(jobAId)
	if jobA.Status != models.JobStatusPreflightApproved {
		t.Fatalf("job should be queued after preflight, got %s", jobA.Status)
	}

	if err := runJob(jobA.ID); err != nil {
		t.Fatalf("ProcessGenerationWorkflow: %v", err)
	}
	jobA = fetchJob(jobAId)
	if jobA.Status != models.JobStatusMaxRetryExceeded {
		t.Fatalf("three failed postchecks must exhaust the budget, got %s", jobA.Status)
	}
	if jobA.RetryCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", jobA.RetryCount)
	}
	if jobA.ErrorCode == nil || *jobA.ErrorCode != models.JobErrorRetryExhausted {
		t.Fatalf("expected error code %s, got %v", models.JobErrorRetryExhausted, jobA.ErrorCode)
	}
	pageAfter, err := models.GetPage(ctx, pageA.ID)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if pageAfter.Status != models.PageStatusDraft {
		t.Fatalf("exhausted generation must leave the page re-enterable, got %s", pageAfter.Status)
	}

	// A single expensive call crosses the 0.10 ceiling on the first attempt;
	// the job dies on cost, not on retries.
	genprovider.Set(scriptedProvider{
		generate: func(ctx context.Context, prompt string) (*genprovider.GenerationResult, error) {
			return &genprovider.GenerationResult{
				Text:    strings.Repeat("We repair roofs across the metro area, roof repair included. ", 20),
				CostUsd: decimal.NewFromFloat(0.25),
			}, nil
		},
		embed: cleanEmbed,
	})

	pageB, err := models.CreatePage(ctx, &models.NewPage{
		SiteId: site.ID,
		SiloId: &silos[1].ID,
		Path:   "/services/roof-replacement",
		Title:  "Roof Replacement",
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	jobBId, err := workflow.StartGeneration(ctx, pageB.ID, models.PromptParams{
		Topic:        "roof replacement",
		IntentPhrase: "roof repair",
	})
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	jobB := fetchJob(jobBId)

	if err := runJob(jobB.ID); err != nil {
		t.Fatalf("ProcessGenerationWorkflow: %v", err)
	}
	jobB = fetchJob(jobBId)
	if jobB.Status != models.JobStatusFailed {
		t.Fatalf("cost ceiling must terminate the job, got %s", jobB.Status)
	}
	if jobB.ErrorCode == nil || *jobB.ErrorCode != models.JobErrorCostLimitExceeded {
		t.Fatalf("expected error code %s, got %v", models.JobErrorCostLimitExceeded, jobB.ErrorCode)
	}
	if !jobB.TotalCostUsd.GreaterThan(decimal.NewFromFloat(0.10)) {
		t.Fatalf("recorded cost must exceed the ceiling, got %s", jobB.TotalCostUsd)
	}
	if jobB.RetryCount != 0 {
		t.Fatalf("cost cutoff must not consume retries, got %d", jobB.RetryCount)
	}
}
