package repository

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

func seedProduct(t *testing.T, store *MemoryStore, name string, price int64, stock int64) domain.Product {
	t.Helper()
	p := domain.Product{Name: name, SKU: name, Price: decimal.NewFromInt(price), Stock: stock}
	if err := store.Create(context.Background(), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMemoryStore_ProductCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := seedProduct(t, store, "A", 10, 5)
	if p.ID == 0 {
		t.Fatalf("no id")
	}

	got, err := store.GetByID(ctx, p.ID)
	if err != nil || got.ID != p.ID {
		t.Fatalf("get: %v", err)
	}

	p.Price = decimal.NewFromInt(12)
	p.Stock = 999
	if err := store.Update(ctx, &p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetByID(ctx, p.ID)
	if !got.Price.Equal(decimal.NewFromInt(12)) || got.Stock != 5 {
		t.Fatalf("update must change price only, got %+v", got)
	}

	if err := store.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetByID(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedger_DebitCredit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "A", 10, 5)

	if err := store.Reserve(ctx, p.ID, 5); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Reserve(ctx, p.ID, 6); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := store.Debit(ctx, p.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if err := store.Debit(ctx, p.ID, 6); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := store.Debit(ctx, p.ID, 5); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := store.Credit(ctx, p.ID, 2); err != nil {
		t.Fatalf("credit: %v", err)
	}
	got, _ := store.GetByID(ctx, p.ID)
	if got.Stock != 2 {
		t.Fatalf("stock expected 2, got %d", got.Stock)
	}
	if err := store.Credit(ctx, p.ID, math.MaxInt64); !errors.Is(err, ErrStockOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := store.Debit(ctx, 404, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedger_ConcurrentDebitNeverOversells(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedProduct(t, store, "A", 10, 10)

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Debit(ctx, p.ID, 1); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}()
	}
	wg.Wait()
	got, _ := store.GetByID(ctx, p.ID)
	if ok != 10 || got.Stock != 0 {
		t.Fatalf("expected 10 debits and zero stock, got %d and %d", ok, got.Stock)
	}
}

func TestMemoryTx_TransactionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx := NewMemoryTx(store)
	orders := NewMemoryOrders(store)

	p := seedProduct(t, store, "A", 10, 5)
	o := domain.Order{UserID: "u1", Items: []domain.OrderItem{{ProductID: p.ID, Quantity: 3}}, Status: domain.OrderStatusPending}
	if err := orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}

	// emulate settlement: status flip and stock decrease together
	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := orders.Transition(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusPaid, &domain.PaymentReceipt{GatewayPaymentID: "pay_1"}); err != nil {
			return err
		}
		return store.Debit(ctx, p.ID, 3)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	pp, _ := store.GetByID(ctx, p.ID)
	if pp.Stock != 2 {
		t.Fatalf("stock expected 2, got %v", pp.Stock)
	}
	got, _ := orders.GetByID(ctx, o.ID)
	if got.Status != domain.OrderStatusPaid || got.Payment == nil {
		t.Fatalf("order not paid: %+v", got)
	}
}

func TestMemoryTx_RollbackRestoresEverything(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx := NewMemoryTx(store)
	orders := NewMemoryOrders(store)
	carts := NewMemoryCarts(store)

	a := seedProduct(t, store, "A", 10, 5)
	b := seedProduct(t, store, "B", 10, 1)
	if _, err := carts.Update(ctx, "u1", func(c *domain.Cart) error {
		c.Items = append(c.Items, domain.CartItem{ProductID: a.ID, Quantity: 2})
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	o := domain.Order{UserID: "u1", Status: domain.OrderStatusPending}
	if err := orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}

	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := orders.Transition(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusPaid, nil); err != nil {
			return err
		}
		if err := store.Debit(ctx, a.ID, 2); err != nil {
			return err
		}
		if err := carts.Clear(ctx, "u1"); err != nil {
			return err
		}
		return store.Debit(ctx, b.ID, 2)
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	pa, _ := store.GetByID(ctx, a.ID)
	if pa.Stock != 5 {
		t.Fatalf("debit not rolled back, stock %d", pa.Stock)
	}
	got, _ := orders.GetByID(ctx, o.ID)
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("status not rolled back: %s", got.Status)
	}
	c, _ := carts.Get(ctx, "u1")
	if len(c.Items) != 1 {
		t.Fatalf("cart not restored: %+v", c)
	}
}

func TestMemoryOrders_TransitionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := NewMemoryOrders(store)

	o := domain.Order{UserID: "u1", Status: domain.OrderStatusPending}
	if err := orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}
	if _, err := orders.SetGatewayOrderID(ctx, o.ID, "order_X"); err != nil {
		t.Fatalf("set ref: %v", err)
	}
	byRef, err := orders.GetByGatewayOrderID(ctx, "order_X")
	if err != nil || byRef.ID != o.ID {
		t.Fatalf("lookup by ref: %v", err)
	}
	if _, err := orders.Transition(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusPaid, nil); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if _, err := orders.Transition(ctx, o.ID, domain.OrderStatusPending, domain.OrderStatusPaid, nil); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := orders.SetGatewayOrderID(ctx, o.ID, "order_Y"); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("ref change after payment must conflict, got %v", err)
	}
}

func TestMemoryOrders_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := NewMemoryOrders(store)
	var ids []string
	for i := 0; i < 3; i++ {
		o := domain.Order{UserID: "u1", Status: domain.OrderStatusPending}
		if err := orders.Create(ctx, &o); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, o.ID)
	}
	other := domain.Order{UserID: "u2", Status: domain.OrderStatusPending}
	_ = orders.Create(ctx, &other)

	list, _ := orders.ListByUser(ctx, "u1")
	if len(list) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("not sorted newest first")
		}
	}
	all, _ := orders.List(ctx)
	if len(all) != 4 {
		t.Fatalf("expected 4 orders, got %d", len(all))
	}
}

func TestList_Filtering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedProduct(t, store, "Aspirin", 100, 1)
	seedProduct(t, store, "Paracetamol", 50, 20)
	seedProduct(t, store, "Ibuprofen", 150, 3)

	// name contains
	list, _ := store.List(ctx, ProductFilter{NameSubstring: "in"})
	if len(list) != 2 {
		t.Fatalf("name filter: expected 2, got %d", len(list))
	}

	// min
	min := 100.0
	list, _ = store.List(ctx, ProductFilter{MinPrice: &min})
	for _, p := range list {
		if p.Price.InexactFloat64() < min {
			t.Fatalf("min filter fail")
		}
	}

	// max
	max := 100.0
	list, _ = store.List(ctx, ProductFilter{MaxPrice: &max})
	for _, p := range list {
		if p.Price.InexactFloat64() > max {
			t.Fatalf("max filter fail")
		}
	}

	// low stock
	low := int64(5)
	list, _ = store.List(ctx, ProductFilter{MaxStock: &low})
	if len(list) != 2 {
		t.Fatalf("stock filter: expected 2, got %d", len(list))
	}
}
