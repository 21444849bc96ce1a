package models

import (
	"time"

	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID              int           `gorm:"primary_key" json:"id"`
	EstablishmentId string        `gorm:"index;size:64;not null" json:"establishment_id" binding:"required"`
	CustomerName    string        `gorm:"size:255;not null" json:"customer_name" binding:"required"`
	CustomerPhone   string        `gorm:"size:20;not null" json:"customer_phone" binding:"required"`
	TableNumber     string        `gorm:"size:20" json:"table_number"`
	RoomNumber      string        `gorm:"size:20" json:"room_number"`
	Notes           string        `gorm:"type:text" json:"notes"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	CurrentStatus   OrderStatus   `gorm:"size:20;not null;default:'Pending'" json:"current_status"`
	PaymentStatus   PaymentStatus `gorm:"size:20;not null;default:'Pending'" json:"payment_status"`
	PaymentMethod   *PaymentMethod `gorm:"size:20;default:null" json:"payment_method"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	Items           []OrderItem   `gorm:"foreignKey:OrderId" json:"items"`
}

// OrderItem snapshots name and unit price at ordering time; later menu edits
// must not change what the customer was charged.
type OrderItem struct {
	ID      int             `gorm:"primary_key" json:"id"`
	OrderId int             `gorm:"index;not null" json:"order_id"`
	Name    string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Price   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Qty     int             `gorm:"not null" json:"qty" binding:"required,gt=0"`
}

type NewOrder struct {
	CustomerName  string         `json:"customer_name" binding:"required"`
	CustomerPhone string         `json:"customer_phone" binding:"required"`
	TableNumber   string         `json:"table_number"`
	RoomNumber    string         `json:"room_number"`
	Notes         string         `json:"notes"`
	Items         []NewOrderItem `json:"items" binding:"required,min=1,dive"`
}

type NewOrderItem struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price"`
	Qty   int             `json:"qty" binding:"required,gt=0"`
}

// OrderStatusPatch is a partial update: only non-nil fields are written.
type OrderStatusPatch struct {
	Status        *OrderStatus   `json:"status"`
	PaymentStatus *PaymentStatus `json:"payment_status"`
	PaymentMethod *PaymentMethod `json:"payment_method"`
}

func (p OrderStatusPatch) IsEmpty() bool {
	return p.Status == nil && p.PaymentStatus == nil && p.PaymentMethod == nil
}

var orderValidate = newBindingValidator()

func newBindingValidator() *validator.Validate {
	v := validator.New()
	// Reuse the same tags gin's binding engine reads, so HTTP and worker
	// entry points validate identically.
	v.SetTagName("binding")
	return v
}

func (o *NewOrder) Validate() error {
	if err := orderValidate.Struct(o); err != nil {
		return &utils.ValidationError{
			Message: "invalid order input",
			Fields:  utils.ProcessValidationErrors(err),
		}
	}
	if err := utils.ValidatePhoneNumber(o.CustomerPhone, "MM"); err != nil {
		return utils.NewValidationError("invalid customer phone: " + err.Error())
	}
	return nil
}

func (p OrderStatusPatch) Validate() error {
	if p.IsEmpty() {
		return utils.NewValidationError("at least one of status, payment_status, payment_method is required")
	}
	if p.Status != nil && !IsValidOrderStatus(*p.Status) {
		return utils.NewValidationError("invalid status: " + string(*p.Status))
	}
	if p.PaymentStatus != nil && !IsValidPaymentStatus(*p.PaymentStatus) {
		return utils.NewValidationError("invalid payment_status: " + string(*p.PaymentStatus))
	}
	if p.PaymentMethod != nil && !IsValidPaymentMethod(*p.PaymentMethod) {
		return utils.NewValidationError("invalid payment_method: " + string(*p.PaymentMethod))
	}
	return nil
}

// ComputeOrderTotal is the creation-time invariant: total = Σ price × qty.
// It is not re-validated on later updates.
func ComputeOrderTotal(items []NewOrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
	}
	return total
}
