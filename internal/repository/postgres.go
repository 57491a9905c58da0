package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// PostgresStore хранилище на pgxpool. Transactions travel in the context so
// repositories pick the open pgx.Tx over the pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Products() ProductRepository { return &PgProducts{s: s} }
func (s *PostgresStore) Ledger() InventoryLedger     { return &PgProducts{s: s} }
func (s *PostgresStore) Carts() CartRepository       { return &PgCarts{s: s} }
func (s *PostgresStore) Orders() OrderRepository     { return &PgOrders{s: s} }
func (s *PostgresStore) Tx() TxManager               { return &PgTx{s: s} }
func (s *PostgresStore) Close()                      { s.pool.Close() }

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// PgTx implements TxManager.
type PgTx struct{ s *PostgresStore }

func (t *PgTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, t.s.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

// PgProducts implements ProductRepository and InventoryLedger.
type PgProducts struct{ s *PostgresStore }

const productColumns = `id, name, sku, price::text, stock`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &price, &p.Stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = d
	return &p, nil
}

func (r *PgProducts) Create(ctx context.Context, p *domain.Product) error {
	err := r.s.q(ctx).QueryRow(ctx,
		`INSERT INTO products(name, sku, price, stock) VALUES($1, $2, $3::numeric, $4) RETURNING id`,
		p.Name, p.SKU, p.Price.String(), p.Stock,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *PgProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	return scanProduct(r.s.q(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (r *PgProducts) Update(ctx context.Context, p *domain.Product) error {
	err := r.s.q(ctx).QueryRow(ctx,
		`UPDATE products SET name=$2, sku=$3, price=$4::numeric WHERE id=$1 RETURNING stock`,
		p.ID, p.Name, p.SKU, p.Price.String(),
	).Scan(&p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *PgProducts) Delete(ctx context.Context, id int64) error {
	tag, err := r.s.q(ctx).Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgProducts) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	rows, err := r.s.q(ctx).Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
		  AND ($2::float8 IS NULL OR price >= $2::float8::numeric)
		  AND ($3::float8 IS NULL OR price <= $3::float8::numeric)
		  AND ($4::bigint IS NULL OR stock <= $4)
		ORDER BY id`,
		f.NameSubstring, f.MinPrice, f.MaxPrice, f.MaxStock,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgProducts) Reserve(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	var stock int64
	err := r.s.q(ctx).QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if stock < qty {
		return ErrInsufficientStock
	}
	return nil
}

// Debit relies on the conditional UPDATE: the row lock plus the WHERE guard
// make check-and-decrement one step.
func (r *PgProducts) Debit(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := r.s.q(ctx).Exec(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id=$1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.exists(ctx, productID); err != nil {
		return err
	}
	return ErrInsufficientStock
}

func (r *PgProducts) Credit(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := r.s.q(ctx).Exec(ctx,
		`UPDATE products SET stock = stock + $2 WHERE id=$1 AND stock <= $3`, productID, qty, math.MaxInt64-qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.exists(ctx, productID); err != nil {
		return err
	}
	return ErrStockOverflow
}

func (r *PgProducts) exists(ctx context.Context, id int64) error {
	var one int
	err := r.s.q(ctx).QueryRow(ctx, `SELECT 1 FROM products WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// PgCarts implements CartRepository.
type PgCarts struct{ s *PostgresStore }

func (r *PgCarts) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	c := &domain.Cart{UserID: userID, Items: []domain.CartItem{}}
	err := r.s.q(ctx).QueryRow(ctx, `SELECT updated_at FROM carts WHERE user_id=$1`, userID).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := r.items(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return c, nil
}

func (r *PgCarts) items(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := r.s.q(ctx).Query(ctx,
		`SELECT product_id, quantity FROM cart_items WHERE user_id=$1 ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.CartItem, 0)
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Update locks the cart row for the duration of fn.
func (r *PgCarts) Update(ctx context.Context, userID string, fn func(c *domain.Cart) error) (*domain.Cart, error) {
	var out *domain.Cart
	err := (&PgTx{s: r.s}).WithTransaction(ctx, func(ctx context.Context) error {
		q := r.s.q(ctx)
		if _, err := q.Exec(ctx, `INSERT INTO carts(user_id) VALUES($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `SELECT 1 FROM carts WHERE user_id=$1 FOR UPDATE`, userID); err != nil {
			return err
		}
		items, err := r.items(ctx, userID)
		if err != nil {
			return err
		}
		c := &domain.Cart{UserID: userID, Items: items}
		if err := fn(c); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID); err != nil {
			return err
		}
		for i, it := range c.Items {
			if _, err := q.Exec(ctx,
				`INSERT INTO cart_items(user_id, position, product_id, quantity) VALUES($1, $2, $3, $4)`,
				userID, i, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
		if err := q.QueryRow(ctx, `UPDATE carts SET updated_at=now() WHERE user_id=$1 RETURNING updated_at`, userID).Scan(&c.UpdatedAt); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgCarts) Clear(ctx context.Context, userID string) error {
	q := r.s.q(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `UPDATE carts SET updated_at=now() WHERE user_id=$1`, userID)
	return err
}

// PgOrders implements OrderRepository. Items, address and receipt are JSONB.
type PgOrders struct{ s *PostgresStore }

const orderColumns = `id, user_id, items, shipping, total::text, status, COALESCE(gateway_order_id, ''), payment, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                        domain.Order
		items, shipping, payment []byte
		total, status            string
	)
	err := row.Scan(&o.ID, &o.UserID, &items, &shipping, &total, &status, &o.GatewayOrderID, &payment, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total %q: %w", total, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}
	if len(payment) > 0 {
		var p domain.PaymentReceipt
		if err := json.Unmarshal(payment, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		o.Payment = &p
	}
	return &o, nil
}

func (r *PgOrders) Create(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	_, err = r.s.q(ctx).Exec(ctx,
		`INSERT INTO orders(id, user_id, items, shipping, total, status, created_at, updated_at)
		 VALUES($1, $2, $3, $4, $5::numeric, $6, $7, $7)`,
		o.ID, o.UserID, items, shipping, o.TotalAmount.String(), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *PgOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return scanOrder(r.s.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r *PgOrders) GetByGatewayOrderID(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	return scanOrder(r.s.q(ctx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id=$1`, ref))
}

func (r *PgOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, userID)
}

func (r *PgOrders) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
}

func (r *PgOrders) list(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := r.s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PgOrders) SetGatewayOrderID(ctx context.Context, id, ref string) (*domain.Order, error) {
	o, err := scanOrder(r.s.q(ctx).QueryRow(ctx,
		`UPDATE orders SET gateway_order_id=$2, updated_at=now() WHERE id=$1 AND status=$3 RETURNING `+orderColumns,
		id, ref, string(domain.OrderStatusPending)))
	if errors.Is(err, ErrNotFound) {
		return nil, r.conflictOrMissing(ctx, id)
	}
	return o, err
}

func (r *PgOrders) Transition(ctx context.Context, id string, from, to domain.OrderStatus, receipt *domain.PaymentReceipt) (*domain.Order, error) {
	var payment []byte
	if receipt != nil {
		b, err := json.Marshal(receipt)
		if err != nil {
			return nil, err
		}
		payment = b
	}
	o, err := scanOrder(r.s.q(ctx).QueryRow(ctx,
		`UPDATE orders SET status=$3, payment=COALESCE($4::jsonb, payment), updated_at=now()
		 WHERE id=$1 AND status=$2 RETURNING `+orderColumns,
		id, string(from), string(to), payment))
	if errors.Is(err, ErrNotFound) {
		return nil, r.conflictOrMissing(ctx, id)
	}
	return o, err
}

func (r *PgOrders) conflictOrMissing(ctx context.Context, id string) error {
	var one int
	err := r.s.q(ctx).QueryRow(ctx, `SELECT 1 FROM orders WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}
