package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"github.com/shopspring/decimal"
)

// DailySalesRecord is one row of recognized revenue per order.
//
// Invariant: at most one record per (establishment_id, order_id), ever. The
// composite unique index is the idempotency guard — a duplicate-key insert
// means "already posted" and is treated as success by the posting workflow,
// which closes the find-then-insert race between concurrent triggers.
//
// Rows are immutable once posted. RecordDate is midnight in the
// establishment's timezone.
type DailySalesRecord struct {
	ID              int               `gorm:"primary_key" json:"id"`
	EstablishmentId string            `gorm:"size:64;not null;index:uniq_sales_order,unique" json:"establishment_id"`
	OrderId         int               `gorm:"not null;index:uniq_sales_order,unique" json:"order_id"`
	Amount          decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMethod   PaymentMethod     `gorm:"size:20;not null" json:"payment_method"`
	RecordDate      time.Time         `gorm:"not null;index" json:"record_date"`
	CurrentStatus   SalesRecordStatus `gorm:"size:20;not null" json:"current_status"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// GetSalesRecords returns the ledger rows for reporting, optionally bounded by
// record date (inclusive).
func GetSalesRecords(ctx context.Context, establishmentId string, from *time.Time, to *time.Time) ([]*DailySalesRecord, error) {
	db := config.GetDB()

	var results []*DailySalesRecord
	dbCtx := db.WithContext(ctx).Where("establishment_id = ?", establishmentId)
	if from != nil {
		dbCtx = dbCtx.Where("record_date >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("record_date <= ?", *to)
	}
	if err := dbCtx.Order("record_date ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
