package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/hospitality_backend/utils"
)

func TestComputeOrderTotal(t *testing.T) {
	items := []NewOrderItem{
		{Name: "Mohinga", Price: decimal.NewFromInt(3500), Qty: 2},
		{Name: "Tea", Price: decimal.RequireFromString("500.50"), Qty: 3},
	}
	got := ComputeOrderTotal(items)
	want := decimal.RequireFromString("8501.50")
	if !got.Equal(want) {
		t.Fatalf("total = %s, want %s", got, want)
	}

	if !ComputeOrderTotal(nil).IsZero() {
		t.Fatal("empty order must total zero")
	}
}

func TestNewOrderValidate_MissingFields(t *testing.T) {
	input := NewOrder{}
	err := input.Validate()
	if !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}

	var ve *utils.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("cannot unwrap ValidationError from %v", err)
	}
	for _, field := range []string{"CustomerName", "CustomerPhone", "Items"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Errorf("missing field error for %s: %v", field, ve.Fields)
		}
	}
}

func TestNewOrderValidate_BadPhone(t *testing.T) {
	input := NewOrder{
		CustomerName:  "U Ba",
		CustomerPhone: "not-a-phone",
		Items: []NewOrderItem{
			{Name: "Tea", Price: decimal.NewFromInt(500), Qty: 1},
		},
	}
	if err := input.Validate(); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for bad phone, got %v", err)
	}
}

func TestNewOrderValidate_NonPositiveQty(t *testing.T) {
	input := NewOrder{
		CustomerName:  "U Ba",
		CustomerPhone: "09250000000",
		Items: []NewOrderItem{
			{Name: "Tea", Price: decimal.NewFromInt(500), Qty: 0},
		},
	}
	if err := input.Validate(); !utils.IsValidationError(err) {
		t.Fatalf("expected ValidationError for qty=0, got %v", err)
	}
}

func TestOrderStatusPatchValidate(t *testing.T) {
	served := OrderStatusServed
	paid := PaymentStatusPaid
	bogusStatus := OrderStatus("Teleported")
	bogusMethod := PaymentMethod("Barter")

	cases := []struct {
		name    string
		patch   OrderStatusPatch
		wantErr bool
	}{
		{"empty", OrderStatusPatch{}, true},
		{"status only", OrderStatusPatch{Status: &served}, false},
		{"payment only", OrderStatusPatch{PaymentStatus: &paid}, false},
		{"invalid status", OrderStatusPatch{Status: &bogusStatus}, true},
		{"invalid method", OrderStatusPatch{PaymentMethod: &bogusMethod}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.patch.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !utils.IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}
