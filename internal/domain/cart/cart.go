package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when an operation requires a non-empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrItemNotFound is returned when a cart line does not exist.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// Cart is a user's mutable pre-checkout item collection. One cart per user;
// it survives until the payment for an order built from it succeeds.
type Cart struct {
	ID        string
	UserID    string
	Items     []Item
	CreatedAt time.Time
}

// Item is a single (product, quantity) line in a cart.
type Item struct {
	ProductID string
	Quantity  int
}

// Subtotal sums price x quantity over the given unit prices, keyed by
// product ID. Lines without a known price are skipped.
func (c *Cart) Subtotal(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		if price, ok := prices[it.ProductID]; ok {
			total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return total
}

// Repository defines persistence operations for carts.
type Repository interface {
	// GetByUser returns the user's cart, creating an empty one if absent.
	GetByUser(ctx context.Context, userID string) (*Cart, error)
	// UpsertItem adds delta to the line's quantity, creating the line (and
	// the cart) as needed.
	UpsertItem(ctx context.Context, userID, productID string, delta int) error
	// SetItemQuantity replaces the line's quantity. Returns ErrItemNotFound
	// if the line does not exist.
	SetItemQuantity(ctx context.Context, userID, productID string, qty int) error
	// RemoveItem deletes the line. Returns ErrItemNotFound if absent.
	RemoveItem(ctx context.Context, userID, productID string) error
	// Clear removes every line from the user's cart.
	Clear(ctx context.Context, userID string) error
}
