package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BackfillResult reports one batch re-scan: how many orders matched the
// criterion and how many ledger rows were newly posted for them.
type BackfillResult struct {
	Scanned     int `json:"scanned"`
	NewlyPosted int `json:"newly_posted"`
}

// BackfillByPaymentStatus re-scans every paid order of the establishment and
// posts any missing ledger rows. Recovery tool for triggers missed at update
// time (imported data, crash between mutation and reconcile).
func BackfillByPaymentStatus(ctx context.Context, db *gorm.DB, logger *logrus.Logger, establishmentId string) (BackfillResult, error) {
	return backfillOrders(ctx, db, logger, establishmentId, "payment_status = ?", models.PaymentStatusPaid)
}

// BackfillByServedStatus is the same sweep filtered on served orders.
func BackfillByServedStatus(ctx context.Context, db *gorm.DB, logger *logrus.Logger, establishmentId string) (BackfillResult, error) {
	return backfillOrders(ctx, db, logger, establishmentId, "current_status = ?", models.OrderStatusServed)
}

// backfillOrders funnels every candidate through PostSalesRecord, so the
// qualification predicate and the idempotency guard live in exactly one
// place. A second identical run is a no-op by construction.
func backfillOrders(ctx context.Context, db *gorm.DB, logger *logrus.Logger, establishmentId string, cond string, condValue interface{}) (BackfillResult, error) {
	var result BackfillResult

	if err := models.ValidateEstablishmentId(ctx, db, establishmentId); err != nil {
		return result, err
	}

	var orders []*models.Order
	if err := db.WithContext(ctx).
		Where("establishment_id = ?", establishmentId).
		Where(cond, condValue).
		Order("id ASC").
		Find(&orders).Error; err != nil {
		return result, err
	}

	for _, order := range orders {
		result.Scanned++
		posted, err := PostSalesRecord(ctx, db, logger, order)
		if err != nil {
			// Keep sweeping; one bad order must not block the rest.
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":            "backfillOrders",
					"establishment_id": establishmentId,
					"order_id":         order.ID,
				}).Error("backfill posting failed: " + err.Error())
			}
			continue
		}
		if posted {
			result.NewlyPosted++
		}
	}
	return result, nil
}
