package repository

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when a debit or reservation exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockOverflow is returned when a credit would overflow the counter.
	ErrStockOverflow = errors.New("stock overflow")
	// ErrInvalidQuantity is returned for ledger operations with qty <= 0.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrStatusConflict means a conditional status update lost: the stored
	// status no longer matches the expected one.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// ProductFilter параметры фильтрации списка товаров
type ProductFilter struct {
	NameSubstring string
	MinPrice      *float64
	MaxPrice      *float64
	MaxStock      *int64
}

// ProductRepository owns catalog metadata. Update never touches stock.
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f ProductFilter) ([]domain.Product, error)
}

// InventoryLedger is the only writer of product stock.
type InventoryLedger interface {
	// Reserve is a point-in-time sufficiency check; it never mutates.
	Reserve(ctx context.Context, productID, qty int64) error
	// Debit decrements stock only if it stays non-negative, in one atomic step.
	Debit(ctx context.Context, productID, qty int64) error
	// Credit increments stock.
	Credit(ctx context.Context, productID, qty int64) error
}

// CartRepository stores one cart per user.
type CartRepository interface {
	// Get returns an empty cart when the user has none.
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	// Update runs fn on the user's cart and persists the result atomically.
	Update(ctx context.Context, userID string, fn func(c *domain.Cart) error) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByGatewayOrderID(ctx context.Context, ref string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	// SetGatewayOrderID stores the payment intent reference while the order is pending.
	SetGatewayOrderID(ctx context.Context, id, ref string) (*domain.Order, error)
	// Transition moves the order from -> to only if it is still in from.
	// A non-nil receipt is attached in the same write.
	Transition(ctx context.Context, id string, from, to domain.OrderStatus, receipt *domain.PaymentReceipt) (*domain.Order, error)
}

// TxManager абстракция транзакции. Nested calls join the outer transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles every repository a backend provides.
type Store interface {
	Products() ProductRepository
	Ledger() InventoryLedger
	Carts() CartRepository
	Orders() OrderRepository
	Tx() TxManager
	Close()
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchesFilter(p domain.Product, f ProductFilter) bool {
	if !containsIgnoreCase(p.Name, f.NameSubstring) {
		return false
	}
	price := p.Price.InexactFloat64()
	if f.MinPrice != nil && price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && price > *f.MaxPrice {
		return false
	}
	if f.MaxStock != nil && p.Stock > *f.MaxStock {
		return false
	}
	return true
}
