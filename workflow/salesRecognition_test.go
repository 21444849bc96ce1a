package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/models"
)

// newTestDB opens an isolated in-memory database per test. TranslateError
// makes the sqlite driver report duplicate-key violations as
// gorm.ErrDuplicatedKey, the same class the posting path checks for.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Establishment{},
		&models.Order{},
		&models.OrderItem{},
		&models.DailySalesRecord{},
		&models.SalesOutboxRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedEstablishment(t *testing.T, db *gorm.DB) *models.Establishment {
	t.Helper()
	e := models.Establishment{
		Name:     "Golden Duck",
		Type:     models.EstablishmentTypeRestaurant,
		Timezone: "Asia/Yangon",
	}
	if err := db.Create(&e).Error; err != nil {
		t.Fatalf("seed establishment: %v", err)
	}
	return &e
}

func seedOrder(t *testing.T, db *gorm.DB, establishmentId string, status models.OrderStatus, payment models.PaymentStatus, amount string) *models.Order {
	t.Helper()
	total, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("bad amount %q: %v", amount, err)
	}
	o := models.Order{
		EstablishmentId: establishmentId,
		CustomerName:    "U Ba",
		CustomerPhone:   "09250000000",
		TotalAmount:     total,
		CurrentStatus:   status,
		PaymentStatus:   payment,
	}
	if err := db.Create(&o).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &o
}

func countSalesRecords(t *testing.T, db *gorm.DB, establishmentId string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.DailySalesRecord{}).
		Where("establishment_id = ?", establishmentId).
		Count(&n).Error; err != nil {
		t.Fatalf("count sales records: %v", err)
	}
	return n
}

func reloadEstablishment(t *testing.T, db *gorm.DB, id string) *models.Establishment {
	t.Helper()
	var e models.Establishment
	if err := db.Where("id = ?", id).First(&e).Error; err != nil {
		t.Fatalf("reload establishment: %v", err)
	}
	return &e
}

func TestQualifiesForRecognition(t *testing.T) {
	paid := models.PaymentStatusPaid
	pending := models.PaymentStatusPending

	cases := []struct {
		name    string
		status  models.OrderStatus
		payment models.PaymentStatus
		want    bool
	}{
		{"pending unpaid", models.OrderStatusPending, pending, false},
		{"pending paid", models.OrderStatusPending, paid, true},
		{"preparing unpaid", models.OrderStatusPreparing, pending, true},
		{"served unpaid", models.OrderStatusServed, pending, true},
		{"served paid", models.OrderStatusServed, paid, true},
		{"delivered unpaid", models.OrderStatusDelivered, pending, true},
		{"cancelled unpaid", models.OrderStatusCancelled, pending, false},
		// Cancelled beats Paid: a refunded/voided order must never count.
		{"cancelled paid", models.OrderStatusCancelled, paid, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := &models.Order{CurrentStatus: tc.status, PaymentStatus: tc.payment}
			if got := QualifiesForRecognition(order); got != tc.want {
				t.Fatalf("status=%s payment=%s: got %v, want %v", tc.status, tc.payment, got, tc.want)
			}
		})
	}

	if QualifiesForRecognition(nil) {
		t.Fatal("nil order must not qualify")
	}
}

func TestPostSalesRecord_PostsOnceAndBumpsAggregates(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPaid, "15000")

	ctx := context.Background()

	posted, err := PostSalesRecord(ctx, db, nil, order)
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	if !posted {
		t.Fatal("first post: expected posted=true")
	}

	// Re-delivery of the same trigger must be a silent no-op, not an error.
	posted, err = PostSalesRecord(ctx, db, nil, order)
	if err != nil {
		t.Fatalf("second post: %v", err)
	}
	if posted {
		t.Fatal("second post: expected posted=false")
	}

	if n := countSalesRecords(t, db, eid); n != 1 {
		t.Fatalf("expected 1 ledger row, got %d", n)
	}

	got := reloadEstablishment(t, db, eid)
	if !got.TotalRevenue.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("total_revenue = %s, want 15000", got.TotalRevenue)
	}
	if got.TotalOrders != 1 {
		t.Fatalf("total_orders = %d, want 1", got.TotalOrders)
	}
	if got.SalesUpdatedAt == nil {
		t.Fatal("sales_updated_at not set")
	}
}

func TestPostSalesRecord_NonQualifyingIsNoOp(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusPending, models.PaymentStatusPending, "5000")

	posted, err := PostSalesRecord(context.Background(), db, nil, order)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted {
		t.Fatal("pending/pending order must not post")
	}
	if n := countSalesRecords(t, db, eid); n != 0 {
		t.Fatalf("expected empty ledger, got %d rows", n)
	}
	got := reloadEstablishment(t, db, eid)
	if !got.TotalRevenue.IsZero() || got.TotalOrders != 0 {
		t.Fatalf("aggregates moved for non-qualifying order: revenue=%s orders=%d", got.TotalRevenue, got.TotalOrders)
	}
}

func TestPostSalesRecord_CancelledPaidNeverPosts(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusCancelled, models.PaymentStatusPaid, "8000")

	posted, err := PostSalesRecord(context.Background(), db, nil, order)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted {
		t.Fatal("cancelled order must not post even when paid")
	}
	if n := countSalesRecords(t, db, eid); n != 0 {
		t.Fatalf("expected empty ledger, got %d rows", n)
	}
}

func TestPostSalesRecord_DefaultsPaymentMethodToCash(t *testing.T) {
	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPending, "2500")

	if _, err := PostSalesRecord(context.Background(), db, nil, order); err != nil {
		t.Fatalf("post: %v", err)
	}

	var rec models.DailySalesRecord
	if err := db.Where("establishment_id = ? AND order_id = ?", eid, order.ID).First(&rec).Error; err != nil {
		t.Fatalf("load ledger row: %v", err)
	}
	if rec.PaymentMethod != models.PaymentMethodCash {
		t.Fatalf("payment_method = %s, want Cash", rec.PaymentMethod)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("amount = %s, want 2500", rec.Amount)
	}
	if rec.CurrentStatus != models.SalesRecordStatusCompleted {
		t.Fatalf("current_status = %s, want Completed", rec.CurrentStatus)
	}
}

func TestPostSalesRecord_InvalidatesCacheAfterCommit(t *testing.T) {
	mr := miniredis.RunT(t)
	config.SetRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { config.SetRedisClient(nil) })

	db := newTestDB(t)
	est := seedEstablishment(t, db)
	eid := est.ID.String()
	order := seedOrder(t, db, eid, models.OrderStatusServed, models.PaymentStatusPaid, "4500")

	// Warm the cache with the pre-posting counters.
	warm, err := models.GetEstablishmentById2(db, eid)
	if err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if warm.TotalOrders != 0 {
		t.Fatalf("warm total_orders = %d, want 0", warm.TotalOrders)
	}

	posted, err := PostSalesRecord(context.Background(), db, nil, order)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !posted {
		t.Fatal("expected posted=true")
	}

	// The stale cached copy is gone once the counter delta committed.
	var cached models.Establishment
	exists, err := config.GetRedisObject("Establishment:"+eid, &cached)
	if err != nil {
		t.Fatalf("cache lookup: %v", err)
	}
	if exists {
		t.Fatalf("cache still holds pre-posting counters: total_orders=%d", cached.TotalOrders)
	}

	fresh, err := models.GetEstablishmentById2(db, eid)
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if fresh.TotalOrders != 1 || !fresh.TotalRevenue.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("fresh counters: orders=%d revenue=%s, want 1/4500", fresh.TotalOrders, fresh.TotalRevenue)
	}
}

func TestPostSalesRecord_UnknownEstablishment(t *testing.T) {
	db := newTestDB(t)
	order := &models.Order{
		ID:              1,
		EstablishmentId: "no-such-tenant",
		CurrentStatus:   models.OrderStatusServed,
		PaymentStatus:   models.PaymentStatusPaid,
		TotalAmount:     decimal.NewFromInt(100),
	}
	if _, err := PostSalesRecord(context.Background(), db, nil, order); err == nil {
		t.Fatal("expected error for unknown establishment")
	}
}
