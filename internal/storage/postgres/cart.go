package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

const (
	ensureCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id, created_at`

	getCartItemsSQL = `SELECT ci.product_id, ci.quantity
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1
		ORDER BY ci.created_at`

	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity`

	setCartItemSQL = `UPDATE cart_items SET quantity = $3
		WHERE product_id = $2
		AND cart_id = (SELECT id FROM carts WHERE user_id = $1)`

	removeCartItemSQL = `DELETE FROM cart_items
		WHERE product_id = $2
		AND cart_id = (SELECT id FROM carts WHERE user_id = $1)`

	clearCartSQL = `DELETE FROM cart_items
		WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetByUser returns the user's cart with its lines, creating an empty cart
// on first access.
func (r *CartRepository) GetByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}
	err := r.pool.QueryRow(ctx, ensureCartSQL, uuid.New().String(), userID).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring cart for user %q: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, getCartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart items for user %q: %w", userID, err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cart items for user %q: %w", userID, err)
	}
	return c, nil
}

// UpsertItem adds delta to a line's quantity, creating the cart and the line
// as needed.
func (r *CartRepository) UpsertItem(ctx context.Context, userID, productID string, delta int) error {
	var cartID string
	err := r.pool.QueryRow(ctx, `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id`, uuid.New().String(), userID).Scan(&cartID)
	if err != nil {
		return fmt.Errorf("ensuring cart for user %q: %w", userID, err)
	}

	_, err = r.pool.Exec(ctx, upsertCartItemSQL, cartID, productID, delta)
	if err != nil {
		return fmt.Errorf("upserting cart item %q: %w", productID, err)
	}
	return nil
}

// SetItemQuantity replaces a line's quantity.
func (r *CartRepository) SetItemQuantity(ctx context.Context, userID, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, setCartItemSQL, userID, productID, qty)
	if err != nil {
		return fmt.Errorf("setting cart item %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// RemoveItem deletes a line from the user's cart.
func (r *CartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	tag, err := r.pool.Exec(ctx, removeCartItemSQL, userID, productID)
	if err != nil {
		return fmt.Errorf("removing cart item %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrItemNotFound
	}
	return nil
}

// Clear removes every line from the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, clearCartSQL, userID)
	if err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}
