package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesAudit is a read-only cross-check of the three places revenue state
// lives: the orders themselves, the sales ledger, and the establishment's
// aggregate counters. A failed reconcile that was logged and swallowed shows
// up here as MissingFromLedger > 0 or Consistent == false; the backfill tools
// are the repair mechanism.
type SalesAudit struct {
	EstablishmentId string    `json:"establishment_id"`
	Date            time.Time `json:"date"`

	// For the requested day.
	DayLedgerRecords int64           `json:"day_ledger_records"`
	DayLedgerTotal   decimal.Decimal `json:"day_ledger_total"`

	// All-time.
	LedgerRecords     int64           `json:"ledger_records"`
	LedgerTotal       decimal.Decimal `json:"ledger_total"`
	QualifyingOrders  int64           `json:"qualifying_orders"`
	MissingFromLedger int64           `json:"missing_from_ledger"`
	AggregateRevenue  decimal.Decimal `json:"aggregate_revenue"`
	AggregateOrders   int64           `json:"aggregate_orders"`

	Consistent bool `json:"consistent"`
}

// qualifyingOrderCond must mirror QualifiesForRecognition. current_status is
// never empty in storage (the column defaults to Pending), so the SQL form
// drops the empty-status branch.
const qualifyingOrderCond = "current_status <> 'Cancelled' AND (current_status NOT IN ('Pending','Cancelled') OR payment_status = 'Paid')"

// AuditSales mutates nothing.
func AuditSales(ctx context.Context, db *gorm.DB, establishmentId string, date time.Time) (*SalesAudit, error) {
	establishment, err := models.GetEstablishmentById2(db.WithContext(ctx), establishmentId)
	if err != nil {
		return nil, err
	}

	day, err := utils.ConvertToDate(date, establishment.Timezone)
	if err != nil {
		return nil, err
	}

	audit := SalesAudit{
		EstablishmentId:  establishmentId,
		Date:             day,
		AggregateRevenue: establishment.TotalRevenue,
		AggregateOrders:  establishment.TotalOrders,
	}

	dbCtx := db.WithContext(ctx)

	if err := dbCtx.Model(&models.DailySalesRecord{}).
		Where("establishment_id = ? AND record_date = ?", establishmentId, day).
		Count(&audit.DayLedgerRecords).Error; err != nil {
		return nil, err
	}
	if err := dbCtx.Model(&models.DailySalesRecord{}).
		Where("establishment_id = ? AND record_date = ?", establishmentId, day).
		Select("COALESCE(SUM(amount), 0)").Scan(&audit.DayLedgerTotal).Error; err != nil {
		return nil, err
	}

	if err := dbCtx.Model(&models.DailySalesRecord{}).
		Where("establishment_id = ?", establishmentId).
		Count(&audit.LedgerRecords).Error; err != nil {
		return nil, err
	}
	if err := dbCtx.Model(&models.DailySalesRecord{}).
		Where("establishment_id = ?", establishmentId).
		Select("COALESCE(SUM(amount), 0)").Scan(&audit.LedgerTotal).Error; err != nil {
		return nil, err
	}

	if err := dbCtx.Model(&models.Order{}).
		Where("establishment_id = ?", establishmentId).
		Where(qualifyingOrderCond).
		Count(&audit.QualifyingOrders).Error; err != nil {
		return nil, err
	}

	if err := dbCtx.Raw(`
		SELECT COUNT(*)
		FROM orders o
		LEFT JOIN daily_sales_records r
			ON r.establishment_id = o.establishment_id AND r.order_id = o.id
		WHERE
			o.establishment_id = ?
			AND o.current_status <> 'Cancelled'
			AND (o.current_status NOT IN ('Pending','Cancelled') OR o.payment_status = 'Paid')
			AND r.id IS NULL
	`, establishmentId).Scan(&audit.MissingFromLedger).Error; err != nil {
		return nil, err
	}

	audit.Consistent = audit.MissingFromLedger == 0 &&
		audit.LedgerTotal.Equal(audit.AggregateRevenue) &&
		audit.LedgerRecords == audit.AggregateOrders

	return &audit, nil
}
