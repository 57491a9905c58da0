package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// ProductService инкапсулирует бизнес-логику вокруг товаров.
// Metadata goes through the repository, stock only through the ledger.
type ProductService struct {
	repo   repository.ProductRepository
	ledger repository.InventoryLedger
}

func NewProductService(repo repository.ProductRepository, ledger repository.InventoryLedger) *ProductService {
	return &ProductService{repo: repo, ledger: ledger}
}

func (s *ProductService) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.TrimSpace(p.SKU)
	if p.Name == "" || p.SKU == "" || p.Price.IsNegative() || p.Stock < 0 {
		return nil, ErrInvalidInput
	}
	cp := p
	if err := s.repo.Create(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, err
}

// Update changes name, sku and price. Stock in p is ignored.
func (s *ProductService) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.TrimSpace(p.SKU)
	if p.ID <= 0 || p.Name == "" || p.Price.IsNegative() {
		return nil, ErrInvalidInput
	}
	cp := p
	if cp.SKU == "" {
		cur, err := s.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		cp.SKU = cur.SKU
	}
	if err := s.repo.Update(ctx, &cp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, p.ID)
		}
		return nil, err
	}
	return &cp, nil
}

func (s *ProductService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return err
}

func (s *ProductService) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, ErrInvalidInput
	}
	return s.repo.List(ctx, f)
}

// Restock credits qty units through the ledger.
func (s *ProductService) Restock(ctx context.Context, id, qty int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be at least 1", ErrInvalidQuantity)
	}
	switch err := s.ledger.Credit(ctx, id, qty); {
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	case errors.Is(err, repository.ErrStockOverflow):
		return nil, fmt.Errorf("%w: stock would overflow", ErrInvalidQuantity)
	case err != nil:
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// LowStock lists products whose stock is at or below threshold.
func (s *ProductService) LowStock(ctx context.Context, threshold int64) ([]domain.Product, error) {
	if threshold < 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.List(ctx, repository.ProductFilter{MaxStock: &threshold})
}
