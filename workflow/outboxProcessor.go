package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SalesOutboxProcessor sweeps unprocessed outbox rows and runs them through
// the idempotent posting path without Pub/Sub. It runs as a safety net even
// when Pub/Sub is configured: delivery/permissions can be misconfigured,
// leaving rows stuck without ledger posts ever happening. Processing is
// protected by the ledger's unique index, so at-least-once is safe.
type SalesOutboxProcessor struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
}

func NewSalesOutboxProcessor(db *gorm.DB, logger *logrus.Logger) *SalesOutboxProcessor {
	return &SalesOutboxProcessor{
		DB:          db,
		Logger:      logger,
		WorkerID:    "direct-" + time.Now().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: 20,
	}
}

func (p *SalesOutboxProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

// ProcessOnce claims one batch (stale locks are reclaimed after LockTTL) and
// processes each row. Exported so tools and tests can drive a single sweep.
func (p *SalesOutboxProcessor) ProcessOnce(ctx context.Context) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)

	var claimed []models.SalesOutboxRecord
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("is_processed = ? AND is_dead = ?", false, false).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(p.BatchSize)
		// SKIP LOCKED keeps concurrent sweepers from stalling on each other;
		// sqlite (tests) has no row locks to skip.
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison rows go terminal after MaxAttempts, mirroring the
			// dispatcher's DEAD handling; backfill is the repair path.
			if p.MaxAttempts > 0 && claimed[i].ProcessAttempts >= p.MaxAttempts {
				msg := fmt.Sprintf("max process attempts exceeded (%d)", p.MaxAttempts)
				claimed[i].IsDead = true
				if err := tx.Model(&models.SalesOutboxRecord{}).
					Where("id = ?", claimed[i].ID).
					Updates(map[string]interface{}{
						"is_dead":            true,
						"last_process_error": &msg,
						"locked_at":          nil,
						"locked_by":          nil,
					}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &p.WorkerID
			if err := tx.Model(&models.SalesOutboxRecord{}).
				Where("id = ?", claimed[i].ID).
				Updates(map[string]interface{}{
					"locked_at": claimed[i].LockedAt,
					"locked_by": claimed[i].LockedBy,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return
	}

	for _, rec := range claimed {
		if rec.IsDead {
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":            "SalesOutboxProcessor",
					"establishment_id": rec.EstablishmentId,
					"order_id":         rec.OrderId,
					"record_id":        rec.ID,
					"attempts":         rec.ProcessAttempts,
				}).Error("outbox row moved to dead after max attempts")
			}
			continue
		}

		procCtx := utils.SetEstablishmentIdInContext(ctx, rec.EstablishmentId)
		procCtx = utils.SetUserIdInContext(procCtx, 0)
		procCtx = utils.SetUserNameInContext(procCtx, "System")
		procCtx = utils.SetCorrelationIdInContext(procCtx, rec.CorrelationId)

		if err := ProcessOutboxRecord(procCtx, p.DB, p.Logger, &rec); err != nil {
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{
					"field":            "SalesOutboxProcessor",
					"establishment_id": rec.EstablishmentId,
					"order_id":         rec.OrderId,
					"record_id":        rec.ID,
				}).Error("direct processing failed: " + err.Error())
			}
			continue
		}
	}
}
