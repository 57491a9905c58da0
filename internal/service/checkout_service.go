package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/logkey"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository"
)

// PaymentGateway is the part of payment.Gateway the orchestrator needs.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, o domain.Order) (*payment.Intent, error)
	VerifySignature(orderRef, paymentRef, signature string) bool
	VerifyWebhook(rawBody []byte, signatureHeader string) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Admin  bool
}

// ConfirmPaymentInput carries the fields the gateway checkout hands back to the client.
type ConfirmPaymentInput struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Confirmation sources, used as metric labels.
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
)

// CheckoutService реализует оформление заказа и расчёт по оплате.
type CheckoutService struct {
	products repository.ProductRepository
	ledger   repository.InventoryLedger
	carts    repository.CartRepository
	orders   repository.OrderRepository
	tx       repository.TxManager
	gateway  PaymentGateway
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewCheckoutService(store repository.Store, gateway PaymentGateway, pub events.Publisher, m *metrics.Metrics, log *slog.Logger) *CheckoutService {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	if pub == nil {
		pub = events.Nop{}
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{
		products: store.Products(),
		ledger:   store.Ledger(),
		carts:    store.Carts(),
		orders:   store.Orders(),
		tx:       store.Tx(),
		gateway:  gateway,
		events:   pub,
		metrics:  m,
		log:      log,
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder validates items against the ledger, snapshots prices and persists
// a pending order. No stock is debited here.
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID string, items []domain.CartItem, addr domain.ShippingAddress) (*domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	merged, err := mergeItems(items)
	if err != nil {
		return nil, err
	}
	addr = addr.Normalize()
	if err := s.validate.Struct(addr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var created *domain.Order
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o := domain.Order{
			UserID:          userID,
			Items:           make([]domain.OrderItem, 0, len(merged)),
			ShippingAddress: addr,
			TotalAmount:     decimal.Zero,
			Status:          domain.OrderStatusPending,
		}
		for _, it := range merged {
			p, err := s.products.GetByID(ctx, it.ProductID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %d", ErrProductNotFound, it.ProductID)
			}
			if err != nil {
				return err
			}
			if err := s.ledger.Reserve(ctx, p.ID, it.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) {
					return fmt.Errorf("%w: not enough stock for %s", ErrInsufficientStock, p.Name)
				}
				return err
			}
			o.Items = append(o.Items, domain.OrderItem{
				ProductID: p.ID,
				Name:      p.Name,
				Quantity:  it.Quantity,
				UnitPrice: p.Price,
			})
			o.TotalAmount = o.TotalAmount.Add(p.Price.Mul(decimal.NewFromInt(it.Quantity)))
		}
		if err := s.orders.Create(ctx, &o); err != nil {
			return err
		}
		created = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersPlaced.Inc()
	s.log.InfoContext(ctx, "order placed",
		slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
		slog.String(logkey.OrderID, created.ID),
		slog.String(logkey.UserID, userID),
		slog.String("total", created.TotalAmount.StringFixed(2)))
	s.publish(ctx, events.OrderPlaced, *created)
	return created, nil
}

// PlaceOrderFromCart places an order for the current contents of the user's cart.
// The cart itself is left alone until payment settles.
func (s *CheckoutService) PlaceOrderFromCart(ctx context.Context, userID string, addr domain.ShippingAddress) (*domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.PlaceOrder(ctx, userID, c.Items, addr)
}

// mergeItems sums quantities per product, keeping first-seen order.
func mergeItems(items []domain.CartItem) ([]domain.CartItem, error) {
	out := make([]domain.CartItem, 0, len(items))
	idx := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %d must be at least 1", ErrInvalidQuantity, it.ProductID)
		}
		if it.ProductID <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, it.ProductID)
		}
		if i, ok := idx[it.ProductID]; ok {
			if out[i].Quantity > math.MaxInt64-it.Quantity {
				return nil, fmt.Errorf("%w: quantity too large", ErrInvalidQuantity)
			}
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// CreatePaymentIntent opens a gateway intent for a pending order of the caller.
// It may be retried; a failed attempt changes nothing.
func (s *CheckoutService) CreatePaymentIntent(ctx context.Context, actor Actor, orderID string) (*payment.Intent, error) {
	o, err := s.loadOwned(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	intent, err := s.gateway.CreateIntent(ctx, *o)
	if err != nil {
		s.metrics.GatewayErrors.Inc()
		s.log.WarnContext(ctx, "payment intent failed",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.OrderID, o.ID),
			slog.String(logkey.ERROR, err.Error()))
		if !errors.Is(err, ErrGatewayError) {
			err = fmt.Errorf("%w: %v", ErrGatewayError, err)
		}
		return nil, err
	}
	if _, err := s.orders.SetGatewayOrderID(ctx, o.ID, intent.GatewayOrderID); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order is no longer pending", ErrInvalidTransition)
		}
		return nil, s.orderErr(err, o.ID)
	}
	return intent, nil
}

// ConfirmPayment settles an order after the client returns from the gateway.
// A repeated confirmation of a paid order succeeds without debiting again.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, s.orderErr(err, in.OrderID)
	}
	if o.Status == domain.OrderStatusPaid {
		return o, nil
	}
	if o.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	if !s.gateway.VerifySignature(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		s.signatureFailure(ctx, SourceVerify, o.ID, "hmac mismatch")
		return nil, ErrInvalidSignature
	}
	// the signed pair proves a payment happened, the stored ref proves it was for this order
	if o.GatewayOrderID == "" || o.GatewayOrderID != in.GatewayOrderID {
		s.signatureFailure(ctx, SourceVerify, o.ID, "gateway order reference does not belong to this order")
		return nil, ErrInvalidSignature
	}
	receipt := domain.PaymentReceipt{
		GatewayOrderID:   in.GatewayOrderID,
		GatewayPaymentID: in.GatewayPaymentID,
		Signature:        in.Signature,
		PaidAt:           s.now(),
	}
	return s.settle(ctx, o.ID, receipt, SourceVerify)
}

// HandleWebhook verifies the raw body before parsing it, then applies settling
// events through the same commit as ConfirmPayment. Events it cannot use are
// acknowledged and logged.
func (s *CheckoutService) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if err := s.gateway.VerifyWebhook(rawBody, signatureHeader); err != nil {
		s.signatureFailure(ctx, SourceWebhook, "", err.Error())
		return ErrInvalidSignature
	}
	ev, err := payment.ParseWebhook(rawBody)
	if err != nil {
		s.log.WarnContext(ctx, "webhook body not understood",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.ERROR, err.Error()))
		return nil
	}
	if !ev.Settles() {
		s.log.InfoContext(ctx, "webhook event ignored",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.Event, ev.Event))
		return nil
	}
	ref := ev.GatewayOrderID()
	o, err := s.orders.GetByGatewayOrderID(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.WarnContext(ctx, "webhook for unknown order",
				slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
				slog.String(logkey.Event, ev.Event),
				slog.String(logkey.GatewayOrderID, ref))
			return nil
		}
		return err
	}
	switch o.Status {
	case domain.OrderStatusPending:
	case domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return nil
	default:
		// paid at the gateway after cancellation: money must go back by hand
		s.log.ErrorContext(ctx, "payment captured for cancelled order",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.OrderID, o.ID),
			slog.String(logkey.PaymentID, ev.PaymentID()),
			slog.Bool(logkey.Reconciliation, true))
		s.metrics.ReconciliationNeeded.Inc()
		return nil
	}
	receipt := domain.PaymentReceipt{
		GatewayOrderID:   ref,
		GatewayPaymentID: ev.PaymentID(),
		Signature:        signatureHeader,
		PaidAt:           s.now(),
	}
	_, err = s.settle(ctx, o.ID, receipt, SourceWebhook)
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidSignature) {
		// cancelled (or re-issued) between lookup and commit; redelivery cannot fix it
		s.log.ErrorContext(ctx, "captured payment could not be applied",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.OrderID, o.ID),
			slog.String(logkey.PaymentID, ev.PaymentID()),
			slog.Bool(logkey.Reconciliation, true),
			slog.String(logkey.ERROR, err.Error()))
		s.metrics.ReconciliationNeeded.Inc()
		return nil
	}
	return err
}

// settle flips pending -> paid, debits every line and clears the cart in one
// transaction. The status write is conditional, so a concurrent settle of the
// same order commits at most once and the loser reports the paid order.
func (s *CheckoutService) settle(ctx context.Context, orderID string, receipt domain.PaymentReceipt, source string) (*domain.Order, error) {
	var (
		result  *domain.Order
		already bool
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return s.orderErr(err, orderID)
		}
		if o.Status == domain.OrderStatusPaid {
			result, already = o, true
			return nil
		}
		if o.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
		}
		// a newer intent replaced the one this payment was made against
		if o.GatewayOrderID != receipt.GatewayOrderID {
			return fmt.Errorf("%w: gateway order reference changed", ErrInvalidSignature)
		}
		paid, err := s.orders.Transition(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusPaid, &receipt)
		if errors.Is(err, repository.ErrStatusConflict) {
			cur, gerr := s.orders.GetByID(ctx, orderID)
			if gerr == nil && cur.Status == domain.OrderStatusPaid {
				result, already = cur, true
				return nil
			}
			return fmt.Errorf("%w: order changed during payment", ErrInvalidTransition)
		}
		if err != nil {
			return err
		}
		for _, it := range o.Items {
			if err := s.ledger.Debit(ctx, it.ProductID, it.Quantity); err != nil {
				if errors.Is(err, repository.ErrInsufficientStock) || errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: not enough stock for %s", ErrInsufficientStock, it.Name)
				}
				return err
			}
		}
		if err := s.carts.Clear(ctx, o.UserID); err != nil {
			return err
		}
		result = paid
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.ReconciliationNeeded.Inc()
			s.log.ErrorContext(ctx, "verified payment could not be honoured",
				slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
				slog.String(logkey.OrderID, orderID),
				slog.String(logkey.GatewayOrderID, receipt.GatewayOrderID),
				slog.String(logkey.PaymentID, receipt.GatewayPaymentID),
				slog.String(logkey.Source, source),
				slog.Bool(logkey.Reconciliation, true),
				slog.String(logkey.ERROR, err.Error()))
		}
		return nil, err
	}
	if already {
		return result, nil
	}
	s.metrics.PaymentsConfirmed.WithLabelValues(source).Inc()
	s.log.InfoContext(ctx, "order paid",
		slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
		slog.String(logkey.OrderID, result.ID),
		slog.String(logkey.PaymentID, receipt.GatewayPaymentID),
		slog.String(logkey.Source, source))
	s.publish(ctx, events.OrderPaid, *result)
	return result, nil
}

// CancelOrder cancels an order of the caller (or any order for an admin).
func (s *CheckoutService) CancelOrder(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	if _, err := s.loadOwned(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.cancel(ctx, orderID)
}

// cancel restores exactly the debited stock when the order was paid.
func (s *CheckoutService) cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	var cancelled *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return s.orderErr(err, orderID)
		}
		if !o.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidTransition, o.Status)
		}
		updated, err := s.orders.Transition(ctx, orderID, o.Status, domain.OrderStatusCancelled, nil)
		if errors.Is(err, repository.ErrStatusConflict) {
			return fmt.Errorf("%w: order changed during cancellation", ErrInvalidTransition)
		}
		if err != nil {
			return err
		}
		if o.Status == domain.OrderStatusPaid {
			for _, it := range o.Items {
				err := s.ledger.Credit(ctx, it.ProductID, it.Quantity)
				if errors.Is(err, repository.ErrNotFound) {
					s.log.WarnContext(ctx, "restock skipped for deleted product",
						slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
						slog.String(logkey.OrderID, o.ID),
						slog.Int64(logkey.ProductID, it.ProductID))
					continue
				}
				if err != nil {
					return err
				}
			}
		}
		cancelled = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OrdersCancelled.Inc()
	s.log.InfoContext(ctx, "order cancelled",
		slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
		slog.String(logkey.OrderID, cancelled.ID))
	s.publish(ctx, events.OrderCancelled, *cancelled)
	return cancelled, nil
}

// UpdateStatus is the admin path. Paid is only reachable through payment
// confirmation; cancelled goes through the cancellation path.
func (s *CheckoutService) UpdateStatus(ctx context.Context, orderID, status string) (*domain.Order, error) {
	next, ok := domain.ParseOrderStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	switch next {
	case domain.OrderStatusCancelled:
		return s.cancel(ctx, orderID)
	case domain.OrderStatusPaid, domain.OrderStatusPending:
		return nil, fmt.Errorf("%w: status %s cannot be set by hand", ErrInvalidTransition, next)
	}

	var updated *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return s.orderErr(err, orderID)
		}
		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
		}
		updated, err = s.orders.Transition(ctx, orderID, o.Status, next, nil)
		if errors.Is(err, repository.ErrStatusConflict) {
			return fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderStatusChanged, *updated)
	return updated, nil
}

// GetOrder returns an order visible to the actor.
func (s *CheckoutService) GetOrder(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	return s.loadOwned(ctx, actor, orderID)
}

// ListMyOrders returns the user's orders, newest first.
func (s *CheckoutService) ListMyOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	return s.orders.ListByUser(ctx, userID)
}

func (s *CheckoutService) CountMyOrders(ctx context.Context, userID string) (int, error) {
	list, err := s.ListMyOrders(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// ListOrders returns every order, optionally only those in status.
func (s *CheckoutService) ListOrders(ctx context.Context, status string) ([]domain.Order, error) {
	list, err := s.orders.List(ctx)
	if err != nil || status == "" {
		return list, err
	}
	want, ok := domain.ParseOrderStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	out := make([]domain.Order, 0, len(list))
	for _, o := range list {
		if o.Status == want {
			out = append(out, o)
		}
	}
	return out, nil
}

// Stats summarises orders. Revenue counts every order that was paid and not cancelled.
func (s *CheckoutService) Stats(ctx context.Context) (*domain.OrderStats, error) {
	list, err := s.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	st := &domain.OrderStats{
		TotalOrders: len(list),
		ByStatus: map[domain.OrderStatus]int{
			domain.OrderStatusPending:   0,
			domain.OrderStatusPaid:      0,
			domain.OrderStatusShipped:   0,
			domain.OrderStatusDelivered: 0,
			domain.OrderStatusCancelled: 0,
		},
		PaidRevenue:       decimal.Zero,
		AverageOrderValue: decimal.Zero,
	}
	paid := 0
	for _, o := range list {
		st.ByStatus[o.Status]++
		if settled(o) {
			st.PaidRevenue = st.PaidRevenue.Add(o.TotalAmount)
			paid++
		}
	}
	if paid > 0 {
		st.AverageOrderValue = st.PaidRevenue.Div(decimal.NewFromInt(int64(paid))).Round(2)
	}
	// List is newest first
	st.RecentOrders = list[:min(len(list), recentOrdersLimit)]
	return st, nil
}

func (s *CheckoutService) loadOwned(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrInvalidInput
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, s.orderErr(err, orderID)
	}
	if !actor.Admin && o.UserID != actor.UserID {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *CheckoutService) orderErr(err error, orderID string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return err
}

func (s *CheckoutService) signatureFailure(ctx context.Context, source, orderID, reason string) {
	s.metrics.SignatureFailures.WithLabelValues(source).Inc()
	s.log.WarnContext(ctx, "payment signature rejected",
		slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
		slog.Bool(logkey.Security, true),
		slog.String(logkey.Code, CodeInvalidSignature),
		slog.String(logkey.Source, source),
		slog.String(logkey.OrderID, orderID),
		slog.String("reason", reason))
}

// publish runs after commit; a failed publish never undoes the state change.
func (s *CheckoutService) publish(ctx context.Context, typ string, o domain.Order) {
	if err := s.events.Publish(ctx, events.FromOrder(typ, o)); err != nil {
		s.metrics.EventPublishFailures.Inc()
		s.log.WarnContext(ctx, "event publish failed",
			slog.String(logkey.TraceID, logkey.TraceIDFrom(ctx)),
			slog.String(logkey.Event, typ),
			slog.String(logkey.OrderID, o.ID),
			slog.String(logkey.ERROR, err.Error()))
	}
}
