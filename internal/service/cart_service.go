package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// CartService manages per-user carts. Prices shown are live; checkout snapshots them.
type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
}

func NewCartService(carts repository.CartRepository, products repository.ProductRepository) *CartService {
	return &CartService{carts: carts, products: products}
}

// Get returns the cart priced with current catalog prices. Lines whose product
// was deleted are left out of the view.
func (s *CartService) Get(ctx context.Context, userID string) (*domain.CartView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

func (s *CartService) Add(ctx context.Context, userID string, productID, qty int64) (*domain.CartView, error) {
	if err := s.checkItem(ctx, userID, productID, qty); err != nil {
		return nil, err
	}
	c, err := s.carts.Update(ctx, userID, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				if c.Items[i].Quantity > math.MaxInt64-qty {
					return fmt.Errorf("%w: quantity too large", ErrInvalidQuantity)
				}
				c.Items[i].Quantity += qty
				return nil
			}
		}
		c.Items = append(c.Items, domain.CartItem{ProductID: productID, Quantity: qty})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// Update sets the quantity of an item already in the cart.
func (s *CartService) Update(ctx context.Context, userID string, productID, qty int64) (*domain.CartView, error) {
	if strings.TrimSpace(userID) == "" || productID <= 0 {
		return nil, ErrInvalidInput
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	c, err := s.carts.Update(ctx, userID, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity = qty
				return nil
			}
		}
		return fmt.Errorf("%w: product %d is not in the cart", ErrProductNotFound, productID)
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// Remove drops an item; removing an absent item is a no-op.
func (s *CartService) Remove(ctx context.Context, userID string, productID int64) (*domain.CartView, error) {
	if strings.TrimSpace(userID) == "" || productID <= 0 {
		return nil, ErrInvalidInput
	}
	c, err := s.carts.Update(ctx, userID, func(c *domain.Cart) error {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.ProductID != productID {
				kept = append(kept, it)
			}
		}
		c.Items = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	return s.carts.Clear(ctx, userID)
}

func (s *CartService) checkItem(ctx context.Context, userID string, productID, qty int64) error {
	if strings.TrimSpace(userID) == "" || productID <= 0 {
		return ErrInvalidInput
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return err
	}
	return nil
}

func (s *CartService) view(ctx context.Context, c *domain.Cart) (*domain.CartView, error) {
	v := &domain.CartView{UserID: c.UserID, Items: make([]domain.CartLine, 0, len(c.Items)), Subtotal: decimal.Zero}
	for _, it := range c.Items {
		p, err := s.products.GetByID(ctx, it.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		line := p.Price.Mul(decimal.NewFromInt(it.Quantity))
		v.Items = append(v.Items, domain.CartLine{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
			LineTotal: line,
		})
		v.Subtotal = v.Subtotal.Add(line)
	}
	return v, nil
}
