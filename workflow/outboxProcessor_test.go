package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/models"
	"gorm.io/gorm"
)

func enqueueOutboxRow(t *testing.T, db *gorm.DB, establishmentId string, orderId int) *models.SalesOutboxRecord {
	t.Helper()
	var rec *models.SalesOutboxRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = models.EnqueueSalesReconcile(context.Background(), tx, establishmentId, orderId, "test")
		return err
	})
	if err != nil {
		t.Fatalf("enqueue outbox: %v", err)
	}
	return rec
}

func TestOutboxProcessor_SweepPostsAndMarksProcessed(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPaid, "6000")
	rec := enqueueOutboxRow(t, db, eid, order.ID)

	p := NewSalesOutboxProcessor(db, nil)
	p.ProcessOnce(context.Background())

	if n := countSalesRecords(t, db, eid); n != 1 {
		t.Fatalf("expected 1 ledger row, got %d", n)
	}

	var after models.SalesOutboxRecord
	if err := db.Where("id = ?", rec.ID).First(&after).Error; err != nil {
		t.Fatalf("reload outbox row: %v", err)
	}
	if !after.IsProcessed {
		t.Fatal("outbox row not marked processed")
	}
	if after.ProcessAttempts != 1 {
		t.Fatalf("process_attempts = %d, want 1", after.ProcessAttempts)
	}
	if after.LockedAt != nil || after.LockedBy != nil {
		t.Fatal("lock not released after processing")
	}
}

func TestOutboxProcessor_SweepIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPaid, "6000")

	// Duplicate triggers for the same order (e.g. two rapid status updates).
	enqueueOutboxRow(t, db, eid, order.ID)
	enqueueOutboxRow(t, db, eid, order.ID)

	p := NewSalesOutboxProcessor(db, nil)
	p.ProcessOnce(context.Background())
	p.ProcessOnce(context.Background())

	if n := countSalesRecords(t, db, eid); n != 1 {
		t.Fatalf("expected 1 ledger row from duplicate triggers, got %d", n)
	}
	got := reloadEstablishment(t, db, eid)
	if got.TotalOrders != 1 {
		t.Fatalf("total_orders = %d, want 1", got.TotalOrders)
	}

	var unprocessed int64
	if err := db.Model(&models.SalesOutboxRecord{}).
		Where("is_processed = ?", false).
		Count(&unprocessed).Error; err != nil {
		t.Fatalf("count unprocessed: %v", err)
	}
	if unprocessed != 0 {
		t.Fatalf("expected empty backlog, got %d unprocessed rows", unprocessed)
	}
}

func TestOutboxProcessor_SkipsFreshLocks(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPaid, "6000")
	rec := enqueueOutboxRow(t, db, eid, order.ID)

	// Another worker holds a fresh lock on the row.
	now := time.Now().UTC()
	other := "other-worker"
	if err := db.Model(&models.SalesOutboxRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{"locked_at": &now, "locked_by": &other}).Error; err != nil {
		t.Fatalf("lock row: %v", err)
	}

	p := NewSalesOutboxProcessor(db, nil)
	p.ProcessOnce(context.Background())

	if n := countSalesRecords(t, db, eid); n != 0 {
		t.Fatalf("locked row must not be processed, got %d ledger rows", n)
	}

	// Once the lock is stale it becomes claimable again.
	stale := now.Add(-2 * p.LockTTL)
	if err := db.Model(&models.SalesOutboxRecord{}).
		Where("id = ?", rec.ID).
		Update("locked_at", &stale).Error; err != nil {
		t.Fatalf("age lock: %v", err)
	}
	p.ProcessOnce(context.Background())
	if n := countSalesRecords(t, db, eid); n != 1 {
		t.Fatalf("stale-locked row must be reclaimed, got %d ledger rows", n)
	}
}

func TestOutboxProcessor_PoisonRowGoesDead(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()

	// References an order that will never exist; every attempt must fail.
	rec := enqueueOutboxRow(t, db, eid, 424242)

	p := NewSalesOutboxProcessor(db, nil)
	p.MaxAttempts = 2

	p.ProcessOnce(context.Background())
	p.ProcessOnce(context.Background())
	p.ProcessOnce(context.Background())

	var after models.SalesOutboxRecord
	if err := db.Where("id = ?", rec.ID).First(&after).Error; err != nil {
		t.Fatalf("reload outbox row: %v", err)
	}
	if !after.IsDead {
		t.Fatal("poison row must go dead after max attempts")
	}
	if after.ProcessAttempts != 2 {
		t.Fatalf("process_attempts = %d, want 2", after.ProcessAttempts)
	}
	if after.LastProcessError == nil {
		t.Fatal("last_process_error not recorded")
	}
	if after.LockedAt != nil || after.LockedBy != nil {
		t.Fatal("dead row must not stay locked")
	}

	// Dead rows are never claimed again.
	p.ProcessOnce(context.Background())
	var again models.SalesOutboxRecord
	if err := db.Where("id = ?", rec.ID).First(&again).Error; err != nil {
		t.Fatalf("reload outbox row: %v", err)
	}
	if again.ProcessAttempts != 2 {
		t.Fatalf("dead row retried: process_attempts = %d, want 2", again.ProcessAttempts)
	}
}

func TestProcessOutboxRecord_MissingOrderRecordsFailure(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	rec := enqueueOutboxRow(t, db, eid, 424242)

	if err := ProcessOutboxRecord(context.Background(), db, nil, rec); err == nil {
		t.Fatal("expected error for missing order")
	}

	var after models.SalesOutboxRecord
	if err := db.Where("id = ?", rec.ID).First(&after).Error; err != nil {
		t.Fatalf("reload outbox row: %v", err)
	}
	if after.IsProcessed {
		t.Fatal("failed row must stay unprocessed for retry")
	}
	if after.ProcessAttempts != 1 {
		t.Fatalf("process_attempts = %d, want 1", after.ProcessAttempts)
	}
	if after.LastProcessError == nil {
		t.Fatal("last_process_error not recorded")
	}
}
