// Package logkey holds the structured-log attribute names and the request trace id.
package logkey

import "context"

const (
	TraceID        = "trace_id"
	ERROR          = "error"
	Code           = "code"
	UserID         = "user_id"
	OrderID        = "order_id"
	ProductID      = "product_id"
	GatewayOrderID = "gateway_order_id"
	PaymentID      = "payment_id"
	Status         = "status"
	Source         = "source"
	Event          = "event"
	Security       = "security_event"
	Reconciliation = "reconciliation"
)

type traceKey struct{}

// WithTraceID stores the request trace id in ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFrom returns the trace id stored in ctx, or "".
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
