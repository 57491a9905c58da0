package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusDelivered, false},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusPaid, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
	if !OrderStatusDelivered.Terminal() || !OrderStatusCancelled.Terminal() {
		t.Fatalf("delivered and cancelled must be terminal")
	}
	if OrderStatusPaid.Terminal() {
		t.Fatalf("paid is not terminal")
	}
}

func TestParseOrderStatus(t *testing.T) {
	if st, ok := ParseOrderStatus(" Shipped "); !ok || st != OrderStatusShipped {
		t.Fatalf("parse shipped: %v %v", st, ok)
	}
	if _, ok := ParseOrderStatus("refunded"); ok {
		t.Fatalf("unknown status accepted")
	}
}

func TestOrder_AmountMinor(t *testing.T) {
	o := Order{TotalAmount: decimal.RequireFromString("199.995")}
	if got := o.AmountMinor(); got != 20000 {
		t.Fatalf("expected 20000 paise, got %d", got)
	}
	o.TotalAmount = decimal.NewFromInt(200)
	if got := o.AmountMinor(); got != 20000 {
		t.Fatalf("expected 20000 paise, got %d", got)
	}
}

func TestShippingAddress_Normalize(t *testing.T) {
	a := ShippingAddress{FullName: "  Asha ", City: "Pune"}.Normalize()
	if a.FullName != "Asha" || a.Country != DefaultCountry {
		t.Fatalf("unexpected normalize result: %+v", a)
	}
}

func TestOrder_CloneDoesNotShareItems(t *testing.T) {
	o := Order{Items: []OrderItem{{ProductID: 1, Quantity: 2}}, Payment: &PaymentReceipt{GatewayPaymentID: "pay_1"}}
	cp := o.Clone()
	cp.Items[0].Quantity = 9
	cp.Payment.GatewayPaymentID = "pay_2"
	if o.Items[0].Quantity != 2 || o.Payment.GatewayPaymentID != "pay_1" {
		t.Fatalf("clone shares state with original")
	}
}
