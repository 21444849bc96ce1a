package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SalesOutboxRecord is the transactional-outbox row behind order mutations:
// it is written inside the caller's DB transaction so a committed status
// change can never silently lose its reconcile trigger. Consumers (direct
// processor, Pub/Sub push) re-read the order and post through the same
// idempotent path, so at-least-once delivery is safe.
type SalesOutboxRecord struct {
	ID              int    `gorm:"primary_key" json:"id"`
	EstablishmentId string `gorm:"size:64;not null;index" json:"establishment_id"`
	OrderId         int    `gorm:"not null;index" json:"order_id"`
	TriggeredBy     string `gorm:"size:100;not null" json:"triggered_by"`
	CorrelationId   string `gorm:"size:64" json:"correlation_id"`

	IsProcessed      bool    `gorm:"not null;default:false;index" json:"is_processed"`
	ProcessAttempts  int     `gorm:"default:0" json:"process_attempts"`
	LastProcessError *string `gorm:"type:text" json:"last_process_error"`
	// IsDead is the direct-processing terminal state: the row exhausted its
	// process attempts and only the backfill tools can repair it now.
	IsDead bool `gorm:"not null;default:false;index" json:"is_dead"`

	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`

	LockedAt *time.Time `gorm:"index" json:"locked_at"`
	LockedBy *string    `gorm:"size:64" json:"locked_by"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueSalesReconcile writes the outbox row inside the caller's transaction.
// It does NOT publish; publishing/processing happens after commit.
func EnqueueSalesReconcile(ctx context.Context, tx *gorm.DB, establishmentId string, orderId int, triggeredBy string) (*SalesOutboxRecord, error) {
	record := SalesOutboxRecord{
		EstablishmentId: establishmentId,
		OrderId:         orderId,
		TriggeredBy:     triggeredBy,
		CorrelationId:   correlationIdFromContextOrNew(ctx),
		IsProcessed:     false,
		PublishStatus:   OutboxPublishStatusPending,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ConvertToReconcileMessage builds the wire payload for the dispatcher.
func ConvertToReconcileMessage(rec SalesOutboxRecord) config.SalesReconcileMessage {
	return config.SalesReconcileMessage{
		RecordId:        rec.ID,
		EstablishmentId: rec.EstablishmentId,
		OrderId:         rec.OrderId,
		TriggeredBy:     rec.TriggeredBy,
		OccurredAt:      rec.CreatedAt,
		CorrelationId:   rec.CorrelationId,
	}
}
