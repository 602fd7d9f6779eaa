// sweeper runs the content decay sweep from the command line, outside the
// outbox worker. Intended for cron / Cloud Scheduler jobs.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/sweeper -business <uuid> [-site <id>] [-days 90]
//
// With -site omitted, every site of the business is swept.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pagecraft/sitegov_backend/config"
	"github.com/pagecraft/sitegov_backend/utils"
	"github.com/pagecraft/sitegov_backend/workflow"
)

func main() {
	businessId := flag.String("business", "", "business id (required)")
	siteId := flag.Int("site", 0, "site id; 0 sweeps all sites of the business")
	days := flag.Int("days", 0, "staleness threshold in days; 0 uses DECAY_THRESHOLD_DAYS")
	flag.Parse()

	_ = godotenv.Load()

	if *businessId == "" {
		fmt.Fprintln(os.Stderr, "-business is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "System")

	if *siteId > 0 {
		summary, err := workflow.RunDecaySweep(ctx, *siteId, *days)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep failed for site %d: %v\n", *siteId, err)
			os.Exit(1)
		}
		fmt.Printf("site %d: %d stale proposals decommissioned, %d orphaned drafts decommissioned\n",
			summary.SiteId, summary.StaleProposals, summary.OrphanedDrafts)
		return
	}

	summaries, err := workflow.RunDecaySweepAllSites(ctx, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	for _, summary := range summaries {
		fmt.Printf("site %d: %d stale proposals decommissioned, %d orphaned drafts decommissioned\n",
			summary.SiteId, summary.StaleProposals, summary.OrphanedDrafts)
	}
}
