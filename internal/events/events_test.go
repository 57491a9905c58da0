package events

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

func TestFromOrder(t *testing.T) {
	o := domain.Order{ID: "o1", UserID: "u1", Status: domain.OrderStatusPaid, TotalAmount: decimal.NewFromInt(200)}
	ev := FromOrder(OrderPaid, o)
	if ev.OrderID != "o1" || ev.UserID != "u1" || ev.Status != domain.OrderStatusPaid || !ev.Total.Equal(o.TotalAmount) {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.OccurredAt.IsZero() {
		t.Fatalf("missing timestamp")
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Publish(context.Background(), Event{Type: OrderPlaced})
	_ = r.Publish(context.Background(), Event{Type: OrderPaid})
	got := r.Types()
	if len(got) != 2 || got[0] != OrderPlaced || got[1] != OrderPaid {
		t.Fatalf("unexpected types: %v", got)
	}
}

func TestOpen(t *testing.T) {
	p, err := Open(Options{})
	if err != nil {
		t.Fatalf("open none: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
	if _, err := Open(Options{Driver: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Options{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for kafka without brokers")
	}
}
