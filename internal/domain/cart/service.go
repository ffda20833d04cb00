package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// Service applies stock-aware mutations to user carts. Stock checks here are
// advisory; the authoritative re-check happens at checkout because carts and
// orders are not created atomically with respect to other buyers.
type Service struct {
	carts    Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(carts Repository, products product.Repository) *Service {
	return &Service{carts: carts, products: products}
}

// Get returns the user's cart.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	return s.carts.GetByUser(ctx, userID)
}

// Add puts qty more units of the product into the user's cart. The combined
// quantity (existing line + qty) must still be purchasable.
func (s *Service) Add(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "lookup product")
	}

	c, err := s.carts.GetByUser(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}

	existing := 0
	for _, it := range c.Items {
		if it.ProductID == productID {
			existing = it.Quantity
			break
		}
	}

	if !p.CanPurchase(existing + qty) {
		return &order.InsufficientStockError{
			ProductID: p.ID,
			Title:     p.Title,
			Requested: existing + qty,
			Available: p.StockQuantity,
		}
	}

	return s.carts.UpsertItem(ctx, userID, productID, qty)
}

// UpdateQuantity replaces a cart line's quantity after a stock check.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "lookup product")
	}

	if !p.CanPurchase(qty) {
		return &order.InsufficientStockError{
			ProductID: p.ID,
			Title:     p.Title,
			Requested: qty,
			Available: p.StockQuantity,
		}
	}

	return s.carts.SetItemQuantity(ctx, userID, productID, qty)
}

// Remove deletes a line from the user's cart.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	return s.carts.RemoveItem(ctx, userID, productID)
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.carts.Clear(ctx, userID)
}
