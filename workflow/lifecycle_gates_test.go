package workflow

import (
	"testing"
	"time"

	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"gorm.io/datatypes"
)

func publishablePage() *models.Page {
	siloId := 3
	embedding := make([]float32, models.EmbeddingDimension)
	embedding[0] = 1
	checks := models.GovernanceChecks{
		Pre:    &models.PreGenerationResult{Passed: true},
		During: &models.DuringGenerationResult{Passed: true},
		Post:   &models.PostGenerationResult{Passed: true},
	}
	page := &models.Page{
		ID:             10,
		SiteId:         1,
		SiloId:         &siloId,
		Path:           "/services/roof-repair",
		NormalizedPath: "/services/roof-repair",
		Title:          "Roof Repair",
		Body:           "We repair asphalt, metal and tile roofs across the metro area.",
		Status:         models.PageStatusApproved,
		HighAuthority:  utils.NewFalse(),
		Embedding:      datatypes.NewJSONSlice(embedding),
	}
	page.GovernanceChecks = datatypes.NewJSONType(checks)
	page.SchemaMarkup = datatypes.NewJSONType(models.PageSchemaMarkup{
		Body:    page.Body,
		Title:   page.Title,
		Path:    page.NormalizedPath,
		BuiltAt: time.Now().UTC(),
	})
	return page
}

func publishableSnapshot() GateSnapshot {
	return GateSnapshot{
		Page:       publishablePage(),
		SiloValid:  true,
		SiloCount:  4,
		HasKeyword: true,
	}
}

func failedGate(t *testing.T, report *GatesReport, name string) GateResult {
	t.Helper()
	for _, g := range report.Results {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("gate %s missing from report: %+v", name, report.Results)
	return GateResult{}
}

func TestEvaluateGates_AllPass(t *testing.T) {
	report := EvaluateGates(publishableSnapshot())
	if !report.AllPassed {
		t.Fatalf("expected all gates to pass, failed: %v", report.FailedGates())
	}
	if len(report.Results) != len(gateOrder) {
		t.Fatalf("expected %d gate results, got %d", len(gateOrder), len(report.Results))
	}
	for i, g := range report.Results {
		if g.Name != gateOrder[i] {
			t.Fatalf("gate order violated at %d: expected %s, got %s", i, gateOrder[i], g.Name)
		}
	}
}

func TestEvaluateGates_GovernanceChecksIncomplete(t *testing.T) {
	snap := publishableSnapshot()
	checks := snap.Page.GovernanceChecks.Data()
	checks.Post = nil
	snap.Page.GovernanceChecks = datatypes.NewJSONType(checks)

	report := EvaluateGates(snap)
	if report.AllPassed {
		t.Fatalf("incomplete governance stages must block")
	}
	if g := failedGate(t, report, GateGovernanceChecks); g.Passed {
		t.Fatalf("expected governance_checks gate to fail")
	}
}

func TestEvaluateGates_SchemaOutOfSync(t *testing.T) {
	snap := publishableSnapshot()
	snap.Page.Title = "Roof Repair and Replacement"

	report := EvaluateGates(snap)
	if g := failedGate(t, report, GateSchemaSync); g.Passed {
		t.Fatalf("edited title must fail the schema_sync gate")
	}

	snap = publishableSnapshot()
	snap.Page.SchemaMarkup = datatypes.NewJSONType(models.PageSchemaMarkup{})
	report = EvaluateGates(snap)
	if g := failedGate(t, report, GateSchemaSync); g.Passed {
		t.Fatalf("never-built schema must fail the schema_sync gate")
	}
}

func TestEvaluateGates_EmbeddingDimension(t *testing.T) {
	snap := publishableSnapshot()
	snap.Page.Embedding = datatypes.NewJSONSlice(make([]float32, 768))

	report := EvaluateGates(snap)
	if g := failedGate(t, report, GateEmbedding); g.Passed {
		t.Fatalf("wrong embedding dimension must fail the embedding gate")
	}
}

func TestEvaluateGates_AuthorityOnlyBindsHighAuthorityPages(t *testing.T) {
	snap := publishableSnapshot()
	snap.Page.HighAuthority = utils.NewTrue()
	report := EvaluateGates(snap)
	if g := failedGate(t, report, GateAuthority); g.Passed {
		t.Fatalf("high-authority page without score and sources must fail")
	}

	snap.Page.AuthorityScore = 0.8
	snap.Page.SourceUrls = datatypes.NewJSONSlice([]string{"https://www.nrca.net/standards"})
	report = EvaluateGates(snap)
	if g := failedGate(t, report, GateAuthority); !g.Passed {
		t.Fatalf("scored and sourced high-authority page must pass: %s", g.Reason)
	}
}

func TestEvaluateGates_Structure(t *testing.T) {
	snap := publishableSnapshot()
	snap.Page.Title = "   "
	if g := failedGate(t, EvaluateGates(snap), GateStructure); g.Passed {
		t.Fatalf("page without title must fail the structure gate")
	}

	snap = publishableSnapshot()
	snap.Page.Body = ""
	if g := failedGate(t, EvaluateGates(snap), GateStructure); g.Passed {
		t.Fatalf("page without body must fail the structure gate")
	}

	snap = publishableSnapshot()
	snap.Page.SiloId = nil
	if g := failedGate(t, EvaluateGates(snap), GateStructure); g.Passed {
		t.Fatalf("orphaned page must fail the structure gate")
	}

	snap = publishableSnapshot()
	snap.SiloCount = 2
	if g := failedGate(t, EvaluateGates(snap), GateStructure); g.Passed {
		t.Fatalf("silo cardinality below minimum must fail the structure gate")
	}

	snap = publishableSnapshot()
	snap.HasKeyword = false
	if g := failedGate(t, EvaluateGates(snap), GateStructure); g.Passed {
		t.Fatalf("page without keyword must fail the structure gate")
	}
}

func TestEvaluateGates_StatusAcceptsDraftAndApproved(t *testing.T) {
	for _, status := range []models.PageStatus{models.PageStatusApproved, models.PageStatusDraft} {
		snap := publishableSnapshot()
		snap.Page.Status = status
		if g := failedGate(t, EvaluateGates(snap), GateStatus); !g.Passed {
			t.Fatalf("status %s must pass the status gate: %s", status, g.Reason)
		}
	}
	for _, status := range []models.PageStatus{models.PageStatusBlocked, models.PageStatusDecommissioned} {
		snap := publishableSnapshot()
		snap.Page.Status = status
		if g := failedGate(t, EvaluateGates(snap), GateStatus); g.Passed {
			t.Fatalf("status %s must fail the status gate", status)
		}
	}
}

func TestEvaluateGates_StatusAndFullReport(t *testing.T) {
	snap := publishableSnapshot()
	snap.Page.Status = models.PageStatusBlocked
	snap.Page.Embedding = nil

	report := EvaluateGates(snap)
	if report.AllPassed {
		t.Fatalf("expected failures")
	}
	// Every gate is evaluated even after an earlier failure.
	if len(report.Results) != len(gateOrder) {
		t.Fatalf("expected %d gate results, got %d", len(gateOrder), len(report.Results))
	}
	failed := report.FailedGates()
	if len(failed) != 2 {
		t.Fatalf("expected embedding and status to fail, got %v", failed)
	}
}
