// Package events publishes order lifecycle events after the state change committed.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// Event types, also used as routing keys.
const (
	OrderPlaced        = "order.placed"
	OrderPaid          = "order.paid"
	OrderCancelled     = "order.cancelled"
	OrderStatusChanged = "order.status_changed"
)

type Event struct {
	Type       string             `json:"type"`
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	Status     domain.OrderStatus `json:"status"`
	Total      decimal.Decimal    `json:"total"`
	Items      []domain.OrderItem `json:"items,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// FromOrder builds an event of type typ describing o.
func FromOrder(typ string, o domain.Order) Event {
	return Event{
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Total:      o.TotalAmount,
		Items:      o.Items,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Options selects and configures the publisher driver.
type Options struct {
	Driver         string // none | kafka | rabbitmq
	KafkaBrokers   []string
	KafkaTopic     string
	RabbitURL      string
	RabbitExchange string
}

// Open builds the publisher for the configured driver.
func Open(opts Options) (Publisher, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "none":
		return Nop{}, nil
	case "kafka":
		if len(opts.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka driver requires brokers")
		}
		p, err := NewKafkaPublisher(opts.KafkaBrokers, opts.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "rabbitmq":
		p, err := NewRabbitPublisher(opts.RabbitURL, opts.RabbitExchange)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", opts.Driver)
	}
}
