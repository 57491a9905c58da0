// Package payment talks to the payment gateway and proves the authenticity of
// its callbacks.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain"
)

var (
	// ErrInvalidSignature is returned when a callback HMAC does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrGateway wraps any failure of the remote gateway.
	ErrGateway = errors.New("payment gateway error")
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "INR"

// OrderCreator creates a gateway-side order (the payment intent) and returns its id.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error)
}

// Config holds the gateway credentials.
type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

// Intent is what the client needs to open the gateway checkout.
type Intent struct {
	Key            string `json:"key"`
	GatewayOrderID string `json:"razorpayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type Gateway struct {
	client        OrderCreator
	keyID         string
	keySecret     []byte
	webhookSecret []byte
	currency      string
}

func NewGateway(cfg Config, client OrderCreator) *Gateway {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Gateway{
		client:        client,
		keyID:         cfg.KeyID,
		keySecret:     []byte(cfg.KeySecret),
		webhookSecret: []byte(cfg.WebhookSecret),
		currency:      currency,
	}
}

// CreateIntent sizes the intent to the order total in minor units.
func (g *Gateway) CreateIntent(ctx context.Context, o domain.Order) (*Intent, error) {
	amount := o.AmountMinor()
	if amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %d", ErrGateway, amount)
	}
	ref, err := g.client.CreateOrder(ctx, amount, g.currency, "receipt_"+o.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return &Intent{Key: g.keyID, GatewayOrderID: ref, Amount: amount, Currency: g.currency}, nil
}

// VerifySignature checks the checkout callback signature over "orderRef|paymentRef".
func (g *Gateway) VerifySignature(orderRef, paymentRef, signature string) bool {
	if len(g.keySecret) == 0 || orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	return verify(g.keySecret, []byte(orderRef+"|"+paymentRef), signature)
}

// VerifyWebhook checks the signature of a raw webhook body. It must run before
// the body is parsed.
func (g *Gateway) VerifyWebhook(rawBody []byte, signatureHeader string) error {
	if len(g.webhookSecret) == 0 || signatureHeader == "" {
		return ErrInvalidSignature
	}
	if !verify(g.webhookSecret, rawBody, signatureHeader) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload, as the gateway computes it.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, payload []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}
