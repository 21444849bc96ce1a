package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"bitbucket.org/mmdatafocus/hospitality_backend/workflow"
)

func main() {
	establishmentID := flag.String("establishment-id", "", "Optional: backfill only one establishment (uuid string). If empty, backfills all active establishments.")
	by := flag.String("by", "payment", "Backfill criterion: payment (paid orders) or served (served orders)")
	flag.Parse()

	if *by != "payment" && *by != "served" {
		fmt.Fprintln(os.Stderr, "-by must be payment or served")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates daily_sales_records if missing).
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "SalesBackfill")

	var establishments []models.Establishment
	query := db.WithContext(ctx).Model(&models.Establishment{})
	if strings.TrimSpace(*establishmentID) != "" {
		query = query.Where("id = ?", strings.TrimSpace(*establishmentID))
	}
	if err := query.Find(&establishments).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list establishments: %v\n", err)
		os.Exit(1)
	}
	if len(establishments) == 0 {
		fmt.Fprintln(os.Stderr, "no establishments found to backfill")
		return
	}

	logger := config.GetLogger()
	for _, e := range establishments {
		eid := e.ID.String()
		runCtx := utils.SetEstablishmentIdInContext(ctx, eid)

		var (
			result workflow.BackfillResult
			err    error
		)
		if *by == "served" {
			result, err = workflow.BackfillByServedStatus(runCtx, db, logger, eid)
		} else {
			result, err = workflow.BackfillByPaymentStatus(runCtx, db, logger, eid)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "establishment %s backfill failed: %v\n", eid, err)
			continue
		}

		fmt.Printf("Backfilled establishment=%s by=%s scanned=%d newly_posted=%d\n",
			eid, *by, result.Scanned, result.NewlyPosted)
	}

	fmt.Println("Backfill complete")
}
