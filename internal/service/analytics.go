package service

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

const (
	recentOrdersLimit = 5
	topSellersLimit   = 5
)

// settled orders are the ones whose money was kept.
func settled(o domain.Order) bool {
	switch o.Status {
	case domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusDelivered:
		return true
	}
	return false
}

// MonthlyRevenue returns settled revenue per month of placement, oldest first.
func (s *CheckoutService) MonthlyRevenue(ctx context.Context) ([]domain.MonthlyRevenue, error) {
	list, err := s.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	return monthlyRevenue(list), nil
}

func monthlyRevenue(list []domain.Order) []domain.MonthlyRevenue {
	byMonth := make(map[string]*domain.MonthlyRevenue)
	for _, o := range list {
		if !settled(o) {
			continue
		}
		key := o.CreatedAt.UTC().Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = &domain.MonthlyRevenue{Month: key, Revenue: decimal.Zero}
			byMonth[key] = m
		}
		m.Orders++
		m.Revenue = m.Revenue.Add(o.TotalAmount)
	}
	out := make([]domain.MonthlyRevenue, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b domain.MonthlyRevenue) int { return cmp.Compare(a.Month, b.Month) })
	return out
}

// TopSellers ranks products by units sold in settled orders. The name is the
// one captured at placement, so deleted products still show up.
func (s *CheckoutService) TopSellers(ctx context.Context, limit int) ([]domain.TopSeller, error) {
	if limit < 0 {
		return nil, ErrInvalidInput
	}
	if limit == 0 {
		limit = topSellersLimit
	}
	list, err := s.orders.List(ctx)
	if err != nil {
		return nil, err
	}
	return topSellers(list, limit), nil
}

func topSellers(list []domain.Order, limit int) []domain.TopSeller {
	byProduct := make(map[int64]*domain.TopSeller)
	for _, o := range list {
		if !settled(o) {
			continue
		}
		for _, it := range o.Items {
			ts, ok := byProduct[it.ProductID]
			if !ok {
				ts = &domain.TopSeller{ProductID: it.ProductID, Name: it.Name, Revenue: decimal.Zero}
				byProduct[it.ProductID] = ts
			}
			ts.UnitsSold += it.Quantity
			ts.Revenue = ts.Revenue.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
		}
	}
	out := make([]domain.TopSeller, 0, len(byProduct))
	for _, ts := range byProduct {
		out = append(out, *ts)
	}
	slices.SortFunc(out, func(a, b domain.TopSeller) int {
		if c := cmp.Compare(b.UnitsSold, a.UnitsSold); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out[:min(len(out), limit)]
}
