package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Establishment is the tenant record. Every other entity is scoped by its id.
//
// TotalRevenue / TotalOrders are running aggregates derived from the sales
// ledger. They are mutated ONLY through IncrementSalesAggregates (an SQL-level
// delta update), never by read-modify-write in application code, so that
// concurrent reconciliations of different orders cannot lose increments.
type Establishment struct {
	ID       uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	Name     string            `gorm:"size:255;not null" json:"name" binding:"required"`
	Type     EstablishmentType `gorm:"size:20;not null" json:"type" binding:"required"`
	Timezone string            `gorm:"size:64" json:"timezone"`
	Phone    string            `gorm:"size:20" json:"phone"`
	Address  string            `gorm:"type:text" json:"address"`
	IsActive *bool             `gorm:"not null;default:true" json:"is_active"`

	TotalRevenue   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_revenue"`
	TotalOrders    int64           `gorm:"default:0" json:"total_orders"`
	SalesUpdatedAt *time.Time      `json:"sales_updated_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *Establishment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *Establishment) StoreRedis() error {
	return config.SetRedisObject("Establishment:"+e.ID.String(), e, 0)
}

func establishmentCacheKey(id string) string {
	return "Establishment:" + id
}

func GetEstablishmentById(ctx context.Context, id string) (*Establishment, error) {

	var result Establishment

	exists, err := config.GetRedisObject(establishmentCacheKey(id), &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// GetEstablishmentById2 is the tx-scoped variant for workers and tools that
// manage their own DB handle.
func GetEstablishmentById2(tx *gorm.DB, id string) (*Establishment, error) {

	var result Establishment

	exists, err := config.GetRedisObject(establishmentCacheKey(id), &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		err := tx.Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// IncrementSalesAggregates applies the revenue/order-count delta for one newly
// posted sales record. The delta is evaluated inside the UPDATE statement so
// concurrent posts for the same establishment serialize at the storage layer.
func IncrementSalesAggregates(tx *gorm.DB, establishmentId string, amount decimal.Decimal) error {
	now := time.Now().UTC()
	result := tx.Model(&Establishment{}).
		Where("id = ?", establishmentId).
		Updates(map[string]interface{}{
			"total_revenue":    gorm.Expr("total_revenue + ?", amount),
			"total_orders":     gorm.Expr("total_orders + 1"),
			"sales_updated_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// InvalidateEstablishmentCache drops the cached tenant record. Call it AFTER
// the counter delta committed: deleting inside the transaction opens a window
// where a concurrent read re-caches the pre-commit counters.
func InvalidateEstablishmentCache(establishmentId string) error {
	return config.RemoveRedisKey(establishmentCacheKey(establishmentId))
}

func ValidateEstablishmentId(ctx context.Context, tx *gorm.DB, id string) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&Establishment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
