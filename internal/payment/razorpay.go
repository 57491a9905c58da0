package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// RazorpayClient creates orders through the Razorpay Orders API.
type RazorpayClient struct {
	client *razorpay.Client
}

func NewRazorpayClient(keyID, keySecret string) *RazorpayClient {
	return &RazorpayClient{client: razorpay.NewClient(keyID, keySecret)}
}

// CreateOrder calls the API in a goroutine since the SDK takes no context.
func (r *RazorpayClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	data := map[string]interface{}{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}
	type result struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := r.client.Order.Create(data, nil)
		ch <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		id, _ := res.body["id"].(string)
		if id == "" {
			return "", fmt.Errorf("razorpay: order response without id")
		}
		return id, nil
	}
}

// WebhookEvent is the subset of a gateway webhook this service acts on.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// Webhook event names that settle an order.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
)

// ParseWebhook decodes an already verified body.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	if ev.Event == "" {
		return ev, errors.New("webhook without event name")
	}
	return ev, nil
}

// Settles reports whether the event confirms payment.
func (ev WebhookEvent) Settles() bool {
	return ev.Event == EventPaymentCaptured || ev.Event == EventOrderPaid
}

// GatewayOrderID prefers the payment entity and falls back to the order entity.
func (ev WebhookEvent) GatewayOrderID() string {
	if id := ev.Payload.Payment.Entity.OrderID; id != "" {
		return id
	}
	return ev.Payload.Order.Entity.ID
}

func (ev WebhookEvent) PaymentID() string { return ev.Payload.Payment.Entity.ID }
