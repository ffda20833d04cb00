package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

type mockCartRepo struct {
	cart *Cart

	upserts map[string]int
	sets    map[string]int
	removed []string
}

func newMockCartRepo(items ...Item) *mockCartRepo {
	return &mockCartRepo{
		cart:    &Cart{ID: "c1", UserID: "u1", Items: items},
		upserts: make(map[string]int),
		sets:    make(map[string]int),
	}
}

func (m *mockCartRepo) GetByUser(_ context.Context, _ string) (*Cart, error) {
	return m.cart, nil
}

func (m *mockCartRepo) UpsertItem(_ context.Context, _, productID string, delta int) error {
	m.upserts[productID] += delta
	return nil
}

func (m *mockCartRepo) SetItemQuantity(_ context.Context, _, productID string, qty int) error {
	for _, it := range m.cart.Items {
		if it.ProductID == productID {
			m.sets[productID] = qty
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *mockCartRepo) RemoveItem(_ context.Context, _, productID string) error {
	for _, it := range m.cart.Items {
		if it.ProductID == productID {
			m.removed = append(m.removed, productID)
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *mockCartRepo) Clear(_ context.Context, _ string) error {
	m.cart.Items = nil
	return nil
}

type mockProductRepo struct {
	products map[string]product.Product
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func catalog() *mockProductRepo {
	return &mockProductRepo{products: map[string]product.Product{
		"p1":       {ID: "p1", Title: "Widget", Price: decimal.NewFromInt(5000), StockQuantity: 5, TrackStock: true, Active: true},
		"backord":  {ID: "backord", Title: "Backorder", Price: decimal.NewFromInt(2500), TrackStock: true, AllowBackorder: true, Active: true},
		"inactive": {ID: "inactive", Title: "Retired", Price: decimal.NewFromInt(100), StockQuantity: 99, TrackStock: true},
	}}
}

func TestServiceAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("adds within stock", func(t *testing.T) {
		carts := newMockCartRepo()
		s := NewService(carts, catalog())

		require.NoError(t, s.Add(ctx, "u1", "p1", 3))
		assert.Equal(t, 3, carts.upserts["p1"])
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		s := NewService(newMockCartRepo(), catalog())
		assert.ErrorIs(t, s.Add(ctx, "u1", "p1", 0), ErrInvalidQuantity)
		assert.ErrorIs(t, s.Add(ctx, "u1", "p1", -2), ErrInvalidQuantity)
	})

	t.Run("counts the existing line against stock", func(t *testing.T) {
		carts := newMockCartRepo(Item{ProductID: "p1", Quantity: 4})
		s := NewService(carts, catalog())

		err := s.Add(ctx, "u1", "p1", 2)

		var stockErr *order.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 6, stockErr.Requested)
		assert.Equal(t, 5, stockErr.Available)
		assert.Empty(t, carts.upserts)
	})

	t.Run("backorder products ignore stock", func(t *testing.T) {
		carts := newMockCartRepo()
		s := NewService(carts, catalog())

		require.NoError(t, s.Add(ctx, "u1", "backord", 100))
		assert.Equal(t, 100, carts.upserts["backord"])
	})

	t.Run("inactive products cannot be added", func(t *testing.T) {
		s := NewService(newMockCartRepo(), catalog())

		var stockErr *order.InsufficientStockError
		assert.ErrorAs(t, s.Add(ctx, "u1", "inactive", 1), &stockErr)
	})

	t.Run("unknown product fails", func(t *testing.T) {
		s := NewService(newMockCartRepo(), catalog())
		assert.ErrorIs(t, s.Add(ctx, "u1", "ghost", 1), product.ErrNotFound)
	})
}

func TestServiceUpdateQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the quantity", func(t *testing.T) {
		carts := newMockCartRepo(Item{ProductID: "p1", Quantity: 1})
		s := NewService(carts, catalog())

		require.NoError(t, s.UpdateQuantity(ctx, "u1", "p1", 5))
		assert.Equal(t, 5, carts.sets["p1"])
	})

	t.Run("rejects quantities beyond stock", func(t *testing.T) {
		carts := newMockCartRepo(Item{ProductID: "p1", Quantity: 1})
		s := NewService(carts, catalog())

		var stockErr *order.InsufficientStockError
		assert.ErrorAs(t, s.UpdateQuantity(ctx, "u1", "p1", 6), &stockErr)
	})

	t.Run("missing line reports not found", func(t *testing.T) {
		s := NewService(newMockCartRepo(), catalog())
		assert.ErrorIs(t, s.UpdateQuantity(ctx, "u1", "p1", 2), ErrItemNotFound)
	})
}

func TestServiceRemove(t *testing.T) {
	ctx := context.Background()

	carts := newMockCartRepo(Item{ProductID: "p1", Quantity: 1})
	s := NewService(carts, catalog())

	require.NoError(t, s.Remove(ctx, "u1", "p1"))
	assert.Equal(t, []string{"p1"}, carts.removed)

	assert.ErrorIs(t, s.Remove(ctx, "u1", "ghost"), ErrItemNotFound)
}

func TestServiceClear(t *testing.T) {
	carts := newMockCartRepo(Item{ProductID: "p1", Quantity: 2}, Item{ProductID: "p2", Quantity: 1})
	s := NewService(carts, catalog())

	require.NoError(t, s.Clear(context.Background(), "u1"))
	assert.Empty(t, carts.cart.Items)
}

func TestCartSubtotal(t *testing.T) {
	c := &Cart{Items: []Item{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "unpriced", Quantity: 9},
	}}
	prices := map[string]decimal.Decimal{
		"p1": decimal.NewFromInt(5000),
		"p2": decimal.NewFromInt(4000),
	}
	assert.True(t, c.Subtotal(prices).Equal(decimal.NewFromInt(14000)))
}
