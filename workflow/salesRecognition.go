package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// QualifiesForRecognition decides whether an order's CURRENT state counts as
// recognized revenue. It is re-derived from current fields on every trigger,
// never from a diff of what changed: the kitchen marking Served and a payment
// webhook marking Paid must each be able to trigger recognition on their own.
//
// Cancelled always loses, even against Paid.
func QualifiesForRecognition(order *models.Order) bool {
	if order == nil {
		return false
	}
	if order.CurrentStatus == models.OrderStatusCancelled {
		return false
	}
	if order.CurrentStatus != "" && order.CurrentStatus != models.OrderStatusPending {
		return true
	}
	return order.PaymentStatus == models.PaymentStatusPaid
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	// Drivers opened with TranslateError (sqlite in tests) report the
	// translated class instead of the MySQL error number.
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// PostSalesRecord posts the order to the sales ledger at most once and bumps
// the establishment's aggregate counters in the same transaction.
//
// Returns posted=false both for non-qualifying orders and for orders that
// already have a ledger row: a duplicate-key rejection from the unique
// (establishment_id, order_id) index means another trigger won the race, and
// that is success, not an error.
func PostSalesRecord(ctx context.Context, db *gorm.DB, logger *logrus.Logger, order *models.Order) (posted bool, err error) {
	if !QualifiesForRecognition(order) {
		return false, nil
	}

	establishment, err := models.GetEstablishmentById2(db.WithContext(ctx), order.EstablishmentId)
	if err != nil {
		return false, err
	}

	// Recognition date is the day the revenue is recognized, not the day the
	// order was created.
	recordDate, err := utils.ConvertToDate(time.Now().UTC(), establishment.Timezone)
	if err != nil {
		return false, err
	}

	paymentMethod := models.PaymentMethodCash
	if order.PaymentMethod != nil {
		paymentMethod = *order.PaymentMethod
	}

	record := models.DailySalesRecord{
		EstablishmentId: order.EstablishmentId,
		OrderId:         order.ID,
		Amount:          order.TotalAmount,
		PaymentMethod:   paymentMethod,
		RecordDate:      recordDate,
		CurrentStatus:   models.SalesRecordStatusCompleted,
	}

	alreadyPosted := false
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicateKeyErr(err) {
				alreadyPosted = true
				return nil
			}
			return err
		}
		// Ledger row and counter delta commit or roll back together.
		return models.IncrementSalesAggregates(tx, order.EstablishmentId, order.TotalAmount)
	})
	if err != nil {
		return false, err
	}
	if alreadyPosted {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":            "PostSalesRecord",
				"establishment_id": order.EstablishmentId,
				"order_id":         order.ID,
			}).Info("sales record already posted; skipping")
		}
		return false, nil
	}

	// Invalidate only after commit; the cached copy is stale once counters
	// move, and invalidation failure must not un-post committed revenue.
	if cacheErr := models.InvalidateEstablishmentCache(order.EstablishmentId); cacheErr != nil && logger != nil {
		logger.WithFields(logrus.Fields{
			"field":            "PostSalesRecord",
			"establishment_id": order.EstablishmentId,
			"order_id":         order.ID,
		}).Error("establishment cache invalidation failed: " + cacheErr.Error())
	}
	return true, nil
}
