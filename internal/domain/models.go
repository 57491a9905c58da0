package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Stock is only changed through the inventory ledger.
type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	SKU   string          `json:"sku"`
	Price decimal.Decimal `json:"price" swaggertype:"string"`
	Stock int64           `json:"stock"`
}

// CartItem is a product reference with a quantity of at least one.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// Cart belongs to exactly one user and is created lazily.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartLine is a cart item priced with the live catalog price.
type CartLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" swaggertype:"string"`
	LineTotal decimal.Decimal `json:"line_total" swaggertype:"string"`
}

// CartView is what the storefront shows; the subtotal is derived, never stored.
type CartView struct {
	UserID   string          `json:"user_id"`
	Items    []CartLine      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal" swaggertype:"string"`
}

// ShippingAddress is required on every order.
type ShippingAddress struct {
	FullName    string `json:"full_name" validate:"required,notblank"`
	Phone       string `json:"phone" validate:"required,notblank"`
	AddressLine string `json:"address_line" validate:"required,notblank"`
	City        string `json:"city" validate:"required,notblank"`
	State       string `json:"state" validate:"required,notblank"`
	PostalCode  string `json:"postal_code" validate:"required,notblank"`
	Country     string `json:"country"`
}

// DefaultCountry is applied when an address has no country.
const DefaultCountry = "India"

// OrderItem is the placement-time snapshot of a line.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" swaggertype:"string"`
}

// PaymentReceipt is attached when an order becomes paid.
type PaymentReceipt struct {
	GatewayOrderID   string    `json:"gateway_order_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Signature        string    `json:"signature"`
	PaidAt           time.Time `json:"paid_at"`
}

// Order captures one checkout attempt.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	TotalAmount     decimal.Decimal `json:"total_amount" swaggertype:"string"`
	Status          OrderStatus     `json:"status"`
	GatewayOrderID  string          `json:"gateway_order_id,omitempty"`
	Payment         *PaymentReceipt `json:"payment,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AmountMinor converts the total to the gateway's minor unit (paise).
func (o Order) AmountMinor() int64 {
	return o.TotalAmount.Shift(2).Round(0).IntPart()
}

// Clone returns a deep copy so stored orders never share slices with callers.
func (o Order) Clone() Order {
	cp := o
	cp.Items = append([]OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		cp.Payment = &p
	}
	return cp
}

// OrderStats is the admin dashboard summary.
type OrderStats struct {
	TotalOrders       int                 `json:"total_orders"`
	ByStatus          map[OrderStatus]int `json:"by_status"`
	PaidRevenue       decimal.Decimal     `json:"paid_revenue" swaggertype:"string"`
	AverageOrderValue decimal.Decimal     `json:"average_order_value" swaggertype:"string"`
	RecentOrders      []Order             `json:"recent_orders"`
}

// MonthlyRevenue is settled revenue per calendar month (UTC), Month as "2006-01".
type MonthlyRevenue struct {
	Month   string          `json:"month"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue" swaggertype:"string"`
}

// TopSeller aggregates units sold from order snapshots.
type TopSeller struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitsSold int64           `json:"units_sold"`
	Revenue   decimal.Decimal `json:"revenue" swaggertype:"string"`
}
