package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/models"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/workflow"
)

// NOTE: This test validates the structural invariants end to end against a
// real MySQL: silo cardinality stays within [3,7] under concurrent-looking
// edit sequences, path and keyword uniqueness are enforced by the database
// rather than application checks, reservations are mutually exclusive, and
// the decay sweep is idempotent.

func TestGovernanceInvariants(t *testing.T) {
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
	if len(silos) != 3 {
		t.Fatalf("a new site must be born with 3 silos, got %d", len(silos))
	}

	// Cardinality floor: deleting below 3 silos must fail.
	if _, err := models.DeleteSilo(ctx, silos[0].ID); !errors.Is(err, models.ErrSiloCardinality) {
		t.Fatalf("deleting the third silo must violate cardinality, got %v", err)
	}

	// Below the ceiling a position collision is just a duplicate.
	if _, err := models.CreateSilo(ctx, &models.NewSilo{
		SiteId:   site.ID,
		Name:     "Position Clash",
		Slug:     "position-clash",
		Position: silos[0].Position,
	}); !errors.Is(err, models.ErrDuplicateSilo) {
		t.Fatalf("colliding position below the ceiling must report a duplicate, got %v", err)
	}

	// Cardinality ceiling: the 8th silo must fail.
	for i := 4; i <= 7; i++ {
		if _, err := models.CreateSilo(ctx, &models.NewSilo{
			SiteId:   site.ID,
			Name:     fmt.Sprintf("Extra %d", i),
			Slug:     fmt.Sprintf("extra-%d", i),
			Position: i,
		}); err != nil {
			t.Fatalf("silo %d should fit within the ceiling: %v", i, err)
		}
	}
	// With all 7 positions taken, any 8th insert lands on the position unique
	// index; the surfaced error must still be the taxonomy violation.
	if _, err := models.CreateSilo(ctx, &models.NewSilo{
		SiteId:   site.ID,
		Name:     "One Too Many",
		Slug:     "extra-8",
		Position: 3,
	}); !errors.Is(err, models.ErrSiloCardinality) {
		t.Fatalf("the 8th silo must violate cardinality, got %v", err)
	}

	// Path uniqueness is case-insensitive on the normalized form.
	first, err := models.CreatePage(ctx, &models.NewPage{
		SiteId: site.ID,
		SiloId: &silos[0].ID,
		Path:   "/services/roof-repair",
		Title:  "Roof Repair",
	})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if _, err := models.CreatePage(ctx, &models.NewPage{
		SiteId: site.ID,
		SiloId: &silos[0].ID,
		Path:   "/Services/Roof-Repair",
		Title:  "Roof Repair Duplicate",
	}); !errors.Is(err, models.ErrDuplicatePath) {
		t.Fatalf("case-variant duplicate path must be rejected, got %v", err)
	}

	// Keyword exclusivity: a keyword maps to exactly one live page.
	second, err := models.CreatePage(ctx, &models.NewPage{
		SiteId: site.ID,
		SiloId: &silos[0].ID,
		Path:   "/services/roof-replacement",
		Title:  "Roof Replacement",
	})
	if err != nil {
		t.Fatalf("CreatePage second: %v", err)
	}
	if err := models.AssignKeyword(ctx, "roof repair austin", first.ID); err != nil {
		t.Fatalf("AssignKeyword: %v", err)
	}
	if err := models.AssignKeyword(ctx, "roof repair austin", second.ID); !errors.Is(err, models.ErrKeywordReassignment) {
		t.Fatalf("reassigning a held keyword must be rejected, got %v", err)
	}
	// Re-assigning to the same page is a no-op, not a violation.
	if err := models.AssignKeyword(ctx, "roof repair austin", first.ID); err != nil {
		t.Fatalf("idempotent keyword assignment failed: %v", err)
	}

	// Reservations are mutually exclusive per (site, intent, location).
	res, err := models.AcquireReservation(ctx, site.ID, "Roof Repair", "Austin")
	if err != nil {
		t.Fatalf("AcquireReservation: %v", err)
	}
	if _, err := models.AcquireReservation(ctx, site.ID, "roof repair", "austin"); !errors.Is(err, models.ErrReservationHeld) {
		t.Fatalf("normalized-equal reservation must be rejected, got %v", err)
	}
	if err := models.ReleaseReservation(ctx, res.ID); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if _, err := models.AcquireReservation(ctx, site.ID, "roof repair", "austin"); err != nil {
		t.Fatalf("released key must be acquirable again: %v", err)
	}

	// Decay sweep: age a proposal past the threshold, sweep twice, expect the
	// second pass to find nothing (idempotency).
	db := config.GetDB()
	stale, err := models.CreatePage(ctx, &models.NewPage{
		SiteId:     site.ID,
		SiloId:     &silos[0].ID,
		Path:       "/resources/old-proposal",
		Title:      "Old Proposal",
		IsProposal: true,
	})
	if err != nil {
		t.Fatalf("CreatePage proposal: %v", err)
	}
	protected, err := models.CreatePage(ctx, &models.NewPage{
		SiteId:     site.ID,
		SiloId:     &silos[0].ID,
		Path:       "/services/core-offering",
		Title:      "Core Offering",
		PageType:   models.PageTypeServiceCore,
		IsProposal: true,
	})
	if err != nil {
		t.Fatalf("CreatePage protected: %v", err)
	}
	old := time.Now().AddDate(0, 0, -120)
	if err := db.WithContext(ctx).Model(&models.Page{}).
		Where("id IN ?", []int{stale.ID, protected.ID}).
		UpdateColumn("updated_at", old).Error; err != nil {
		t.Fatalf("age pages: %v", err)
	}

	summary, err := workflow.RunDecaySweep(ctx, site.ID, 90)
	if err != nil {
		t.Fatalf("RunDecaySweep: %v", err)
	}
	if summary.StaleProposals != 1 {
		t.Fatalf("expected exactly 1 stale proposal swept, got %d", summary.StaleProposals)
	}
	swept, err := models.GetPage(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetPage swept: %v", err)
	}
	if swept.Status != models.PageStatusDecommissioned {
		t.Fatalf("stale proposal should be decommissioned, got %s", swept.Status)
	}
	if swept.DecommissionedAt == nil {
		t.Fatalf("swept proposal must carry a decommissioned_at stamp")
	}
	kept, err := models.GetPage(ctx, protected.ID)
	if err != nil {
		t.Fatalf("GetPage protected: %v", err)
	}
	if kept.Status == models.PageStatusDecommissioned {
		t.Fatalf("protected page type must survive the sweep")
	}

	again, err := workflow.RunDecaySweep(ctx, site.ID, 90)
	if err != nil {
		t.Fatalf("RunDecaySweep again: %v", err)
	}
	if again.StaleProposals != 0 || again.OrphanedDrafts != 0 {
		t.Fatalf("second sweep must be a no-op, got %+v", again)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("sitegov-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("sitegov-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=sitegov_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
