package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID.
//
// mu guards the maps. Stock lives in per-product cells so ledger operations on
// different products only share the read lock; a transaction takes the write
// lock and excludes everything else.
type MemoryStore struct {
	mu         sync.RWMutex
	nextProdID int64
	products   map[int64]*productCell
	orders     map[string]domain.Order
	carts      map[string]domain.Cart
}

type productCell struct {
	mu sync.Mutex
	p  domain.Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextProdID: 1,
		products:   make(map[int64]*productCell),
		orders:     make(map[string]domain.Order),
		carts:      make(map[string]domain.Cart),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Products() ProductRepository { return m }
func (m *MemoryStore) Ledger() InventoryLedger     { return m }
func (m *MemoryStore) Carts() CartRepository       { return &MemoryCarts{store: m} }
func (m *MemoryStore) Orders() OrderRepository     { return &MemoryOrders{store: m} }
func (m *MemoryStore) Tx() TxManager               { return &MemoryTx{store: m} }
func (m *MemoryStore) Close()                      {}

// transaction-aware locking helpers
type txKey struct{}

// memJournal collects undo steps for the running transaction.
type memJournal struct {
	undo []func()
}

func journalFrom(ctx context.Context) *memJournal {
	j, _ := ctx.Value(txKey{}).(*memJournal)
	return j
}

func isTx(ctx context.Context) bool { return journalFrom(ctx) != nil }

// record registers an undo step; outside a transaction it is a no-op.
func (m *MemoryStore) record(ctx context.Context, undo func()) {
	if j := journalFrom(ctx); j != nil {
		j.undo = append(j.undo, undo)
	}
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// Ensure interfaces
var (
	_ ProductRepository = (*MemoryStore)(nil)
	_ InventoryLedger   = (*MemoryStore)(nil)
)

// ProductRepository implementation
func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	p.ID = m.nextProdID
	m.nextProdID++
	m.products[p.ID] = &productCell{p: *p}
	id := p.ID
	m.record(ctx, func() { delete(m.products, id) })
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	c, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.mu.Lock()
	cp := c.p
	c.mu.Unlock()
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *domain.Product) error {
	m.rlock(ctx)
	defer m.runlock(ctx)
	c, ok := m.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.p
	c.p.Name = p.Name
	c.p.SKU = p.SKU
	c.p.Price = p.Price
	p.Stock = c.p.Stock
	m.record(ctx, func() {
		c.p.Name, c.p.SKU, c.p.Price = prev.Name, prev.SKU, prev.Price
	})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id int64) error {
	m.wlock(ctx)
	defer m.wunlock(ctx)
	c, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	m.record(ctx, func() { m.products[id] = c })
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Product, 0, len(m.products))
	for _, c := range m.products {
		c.mu.Lock()
		p := c.p
		c.mu.Unlock()
		if matchesFilter(p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InventoryLedger implementation

func (m *MemoryStore) Reserve(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p, err := m.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	if p.Stock < qty {
		return ErrInsufficientStock
	}
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return m.withCell(ctx, productID, func(c *productCell) error {
		if c.p.Stock < qty {
			return ErrInsufficientStock
		}
		c.p.Stock -= qty
		m.record(ctx, func() { c.p.Stock += qty })
		return nil
	})
}

func (m *MemoryStore) Credit(ctx context.Context, productID, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return m.withCell(ctx, productID, func(c *productCell) error {
		if c.p.Stock > math.MaxInt64-qty {
			return ErrStockOverflow
		}
		c.p.Stock += qty
		m.record(ctx, func() { c.p.Stock -= qty })
		return nil
	})
}

func (m *MemoryStore) withCell(ctx context.Context, id int64, fn func(c *productCell) error) error {
	m.rlock(ctx)
	defer m.runlock(ctx)
	c, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c)
}

// CartRepository implementation on wrapper type
type MemoryCarts struct{ store *MemoryStore }

func NewMemoryCarts(store *MemoryStore) *MemoryCarts { return &MemoryCarts{store: store} }

var _ CartRepository = (*MemoryCarts)(nil)

func (mc *MemoryCarts) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	mc.store.rlock(ctx)
	defer mc.store.runlock(ctx)
	c := cloneCart(mc.store.carts[userID])
	c.UserID = userID
	return &c, nil
}

func (mc *MemoryCarts) Update(ctx context.Context, userID string, fn func(c *domain.Cart) error) (*domain.Cart, error) {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	prev, existed := mc.store.carts[userID]
	c := cloneCart(prev)
	c.UserID = userID
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now().UTC()
	mc.store.carts[userID] = cloneCart(c)
	mc.store.record(ctx, func() { mc.restore(userID, prev, existed) })
	return &c, nil
}

func (mc *MemoryCarts) Clear(ctx context.Context, userID string) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	prev, existed := mc.store.carts[userID]
	if !existed {
		return nil
	}
	mc.store.carts[userID] = domain.Cart{UserID: userID, UpdatedAt: time.Now().UTC()}
	mc.store.record(ctx, func() { mc.restore(userID, prev, existed) })
	return nil
}

func (mc *MemoryCarts) restore(userID string, prev domain.Cart, existed bool) {
	if existed {
		mc.store.carts[userID] = prev
		return
	}
	delete(mc.store.carts, userID)
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Items = append([]domain.CartItem(nil), c.Items...)
	return c
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	mo.store.orders[o.ID] = o.Clone()
	id := o.ID
	mo.store.record(ctx, func() { delete(mo.store.orders, id) })
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o.Clone()
	return &cp, nil
}

func (mo *MemoryOrders) GetByGatewayOrderID(ctx context.Context, ref string) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, o := range mo.store.orders {
		if o.GatewayOrderID == ref {
			cp := o.Clone()
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (mo *MemoryOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return mo.list(ctx, func(o domain.Order) bool { return o.UserID == userID })
}

func (mo *MemoryOrders) List(ctx context.Context) ([]domain.Order, error) {
	return mo.list(ctx, func(domain.Order) bool { return true })
}

func (mo *MemoryOrders) list(ctx context.Context, keep func(domain.Order) bool) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for _, o := range mo.store.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (mo *MemoryOrders) SetGatewayOrderID(ctx context.Context, id, ref string) (*domain.Order, error) {
	return mo.mutate(ctx, id, func(o *domain.Order) error {
		if o.Status != domain.OrderStatusPending {
			return ErrStatusConflict
		}
		o.GatewayOrderID = ref
		return nil
	})
}

func (mo *MemoryOrders) Transition(ctx context.Context, id string, from, to domain.OrderStatus, receipt *domain.PaymentReceipt) (*domain.Order, error) {
	return mo.mutate(ctx, id, func(o *domain.Order) error {
		if o.Status != from {
			return ErrStatusConflict
		}
		o.Status = to
		if receipt != nil {
			r := *receipt
			o.Payment = &r
		}
		return nil
	})
}

func (mo *MemoryOrders) mutate(ctx context.Context, id string, fn func(o *domain.Order) error) (*domain.Order, error) {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	prev, ok := mo.store.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	o := prev.Clone()
	if err := fn(&o); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now().UTC()
	mo.store.orders[id] = o.Clone()
	mo.store.record(ctx, func() { mo.store.orders[id] = prev })
	return &o, nil
}

// Tx manager using write lock to emulate transaction boundary.
// On error the journal is replayed backwards, so nothing partial survives.
// The lock is store-wide: transactions never overlap, even ones touching
// unrelated products, and readers wait for the running one. Postgres only
// locks the rows a transaction touches.
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	j := &memJournal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		return err
	}
	return nil
}
