// reconcile-overdue sweeps stored-Sent invoices past their due date and
// persists the Overdue status. Safe to run repeatedly: runs are deduplicated
// per business and message id, and each invoice write is conditional on the
// status still being Sent.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/reconcile-overdue
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"bitbucket.org/mmdatafocus/invoicing_backend/workflow"
)

func main() {
	businessID := flag.String("business-id", "", "Optional: sweep only one business (uuid string). If empty, sweeps all businesses.")
	messageID := flag.String("message-id", "", "Optional: dedup key for this run. Defaults to today's UTC date.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	logger := config.GetLogger()
	now := time.Now().UTC()
	msgId := strings.TrimSpace(*messageID)
	if msgId == "" {
		msgId = now.Format("2006-01-02")
	}

	// History rows written by the sweep carry an actor.
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "ReconcileOverdue")

	if bid := strings.TrimSpace(*businessID); bid != "" {
		result, err := workflow.ProcessOverdueReconcile(ctx, db, logger, bid, msgId, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "business %s: sweep failed: %v\n", bid, err)
			os.Exit(1)
		}
		fmt.Printf("business %s: candidates=%d repaired=%d conflicts=%d skipped=%v\n",
			bid, result.Candidates, result.Repaired, result.Conflicts, result.Skipped)
		return
	}

	results, err := workflow.ProcessOverdueReconcileAll(ctx, db, logger, msgId, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	for _, result := range results {
		fmt.Printf("business %s: candidates=%d repaired=%d conflicts=%d skipped=%v\n",
			result.BusinessId, result.Candidates, result.Repaired, result.Conflicts, result.Skipped)
	}
}
