package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateOrder validates and persists a new order in Pending/Pending state.
// Creation never qualifies for revenue recognition, so no reconcile trigger
// is enqueued here.
func CreateOrder(ctx context.Context, db *gorm.DB, logger *logrus.Logger, establishmentId string, input *models.NewOrder) (*models.Order, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateEstablishmentId(ctx, db, establishmentId); err != nil {
		return nil, err
	}

	order := models.Order{
		EstablishmentId: establishmentId,
		CustomerName:    input.CustomerName,
		CustomerPhone:   input.CustomerPhone,
		TableNumber:     input.TableNumber,
		RoomNumber:      input.RoomNumber,
		Notes:           input.Notes,
		TotalAmount:     models.ComputeOrderTotal(input.Items),
		CurrentStatus:   models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, models.OrderItem{
			Name:  item.Name,
			Price: item.Price,
			Qty:   item.Qty,
		})
	}

	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus applies a partial status/payment update and, in the same
// transaction, enqueues the reconcile trigger (transactional outbox). The
// trigger is then processed immediately but in isolation: a reconcile failure
// is logged and swallowed, never surfaced to the caller — the order mutation
// already committed and must not appear failed because a derived ledger post
// did. The outbox workers and the backfill tools pick up anything missed here.
//
// reconcileAttempted reports whether the post-update state qualified for
// revenue recognition (i.e. the engine got past its no-op gate).
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, logger *logrus.Logger, establishmentId string, orderId int, patch models.OrderStatusPatch) (*models.Order, bool, error) {
	if err := patch.Validate(); err != nil {
		return nil, false, err
	}

	var outboxRecord *models.SalesOutboxRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		if err := tx.Where("id = ? AND establishment_id = ?", orderId, establishmentId).First(&existing).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		updates := map[string]interface{}{
			"updated_at": time.Now().UTC(),
		}
		if patch.Status != nil {
			updates["current_status"] = *patch.Status
		}
		if patch.PaymentStatus != nil {
			updates["payment_status"] = *patch.PaymentStatus
		}
		if patch.PaymentMethod != nil {
			updates["payment_method"] = *patch.PaymentMethod
		}
		if err := tx.Model(&models.Order{}).
			Where("id = ? AND establishment_id = ?", orderId, establishmentId).
			Updates(updates).Error; err != nil {
			return err
		}

		rec, err := models.EnqueueSalesReconcile(ctx, tx, establishmentId, orderId, "UpdateOrderStatus")
		if err != nil {
			return err
		}
		outboxRecord = rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	var updated models.Order
	if err := db.WithContext(ctx).Preload("Items").
		Where("id = ? AND establishment_id = ?", orderId, establishmentId).
		First(&updated).Error; err != nil {
		return nil, false, err
	}

	reconcileAttempted := QualifiesForRecognition(&updated)

	if err := ProcessOutboxRecord(ctx, db, logger, outboxRecord); err != nil {
		config.LogError(logger, "orderWorkflow.go", "UpdateOrderStatus", "reconcile side effect", map[string]interface{}{
			"establishment_id": establishmentId,
			"order_id":         orderId,
			"outbox_record_id": outboxRecord.ID,
		}, err)
	}

	return &updated, reconcileAttempted, nil
}

// ProcessOutboxRecord re-reads the order's current state and runs the
// idempotent posting step, then marks the outbox row processed. Safe to call
// any number of times for the same row.
func ProcessOutboxRecord(ctx context.Context, db *gorm.DB, logger *logrus.Logger, rec *models.SalesOutboxRecord) error {
	var order models.Order
	if err := db.WithContext(ctx).
		Where("id = ? AND establishment_id = ?", rec.OrderId, rec.EstablishmentId).
		First(&order).Error; err != nil {
		return markOutboxFailed(ctx, db, rec.ID, err)
	}

	if _, err := PostSalesRecord(ctx, db, logger, &order); err != nil {
		return markOutboxFailed(ctx, db, rec.ID, err)
	}

	return db.WithContext(ctx).Model(&models.SalesOutboxRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"is_processed":       true,
			"process_attempts":   gorm.Expr("process_attempts + 1"),
			"last_process_error": nil,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func markOutboxFailed(ctx context.Context, db *gorm.DB, recordId int, cause error) error {
	msg := cause.Error()
	_ = db.WithContext(ctx).Model(&models.SalesOutboxRecord{}).
		Where("id = ?", recordId).
		Updates(map[string]interface{}{
			"process_attempts":   gorm.Expr("process_attempts + 1"),
			"last_process_error": &msg,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	return cause
}
