package models

// Enum values are stored as short varchar columns and enforced by the
// IsValid* guards in the validation layer, not by dialect-specific DDL.

type EstablishmentType string

const (
	EstablishmentTypeRestaurant EstablishmentType = "Restaurant"
	EstablishmentTypeHotel      EstablishmentType = "Hotel"
	EstablishmentTypeCafe       EstablishmentType = "Cafe"
	EstablishmentTypeBakery     EstablishmentType = "Bakery"
)

// OrderStatus values are domain labels, not a gated state machine:
// staff tooling may move an order between any of them. Only Cancelled has
// hard semantics (excluded from revenue recognition).
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPreparing OrderStatus = "Preparing"
	OrderStatusReady     OrderStatus = "Ready"
	OrderStatusServed    OrderStatus = "Served"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPaid    PaymentStatus = "Paid"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "Cash"
	PaymentMethodCard         PaymentMethod = "Card"
	PaymentMethodMobilePay    PaymentMethod = "MobilePay"
	PaymentMethodBankTransfer PaymentMethod = "BankTransfer"
)

type SalesRecordStatus string

const (
	SalesRecordStatusCompleted SalesRecordStatus = "Completed"
)

// Outbox publish lifecycle (dispatcher side). Processing state is tracked
// separately via is_processed.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady,
		OrderStatusServed, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func IsValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid:
		return true
	}
	return false
}

func IsValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobilePay, PaymentMethodBankTransfer:
		return true
	}
	return false
}
