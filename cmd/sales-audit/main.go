package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"bitbucket.org/mmdatafocus/hospitality_backend/workflow"
)

func main() {
	establishmentID := flag.String("establishment-id", "", "Optional: audit only one establishment (uuid string). If empty, audits all establishments.")
	date := flag.String("date", "", "Optional: day to report on (YYYY-MM-DD). Defaults to today in the establishment timezone.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "SalesAudit")

	day := time.Now().UTC()
	if strings.TrimSpace(*date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*date))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date (want YYYY-MM-DD): %v\n", err)
			os.Exit(1)
		}
		day = parsed
	}

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
		fmt.Fprintln(os.Stderr, "no establishments found to audit")
		return
	}

	inconsistent := 0
	for _, e := range establishments {
		eid := e.ID.String()
		runCtx := utils.SetEstablishmentIdInContext(ctx, eid)

		audit, err := workflow.AuditSales(runCtx, db, eid, day)
		if err != nil {
			fmt.Fprintf(os.Stderr, "establishment %s audit failed: %v\n", eid, err)
			inconsistent++
			continue
		}

		fmt.Printf("establishment=%s date=%s day_records=%d day_total=%s ledger_records=%d ledger_total=%s qualifying=%d missing=%d agg_revenue=%s agg_orders=%d consistent=%t\n",
			eid,
			audit.Date.Format("2006-01-02"),
			audit.DayLedgerRecords,
			audit.DayLedgerTotal.String(),
			audit.LedgerRecords,
			audit.LedgerTotal.String(),
			audit.QualifyingOrders,
			audit.MissingFromLedger,
			audit.AggregateRevenue.String(),
			audit.AggregateOrders,
			audit.Consistent,
		)
		if !audit.Consistent {
			inconsistent++
		}
	}

	if inconsistent > 0 {
		fmt.Fprintf(os.Stderr, "%d establishment(s) inconsistent or failed\n", inconsistent)
		os.Exit(2)
	}
	fmt.Println("Audit complete; all consistent")
}
