package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, order_number, user_id, status, fulfillment_type,
		subtotal, shipping_cost, tax_amount, total,
		shipping_address, tracking_number, shipped_at, delivered_at,
		payment_reference, paid_at, customer_notes, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT oi.product_id, p.title, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, tracking_number = $3, shipped_at = $4, delivered_at = $5,
		    paid_at = $6, updated_at = $7
		WHERE id = $1`

	liquidateOrderSQL = `UPDATE orders
		SET fulfillment_type = $2, shipping_address = $3,
		    subtotal = $4, shipping_cost = $5, tax_amount = $6, total = $7,
		    updated_at = $8
		WHERE id = $1`

	insertStatusLogSQL = `INSERT INTO order_status_logs (id, order_id, previous_status, new_status, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns an order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	itemRows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order items for %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("scanning order items for %q: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus persists a status change and its log entry atomically.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, log *order.StatusLog) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateOrderStatusSQL,
			o.ID, o.Status, o.TrackingNumber, o.ShippedAt, o.DeliveredAt, o.PaidAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating order %q status: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertStatusLog(ctx, tx, log)
	})
}

// Liquidate persists the fulfillment switch, address, and recalculated totals
// of a liquidated order together with its log entry.
func (r *OrderRepository) Liquidate(ctx context.Context, o *order.Order, log *order.StatusLog) error {
	addrJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, liquidateOrderSQL,
			o.ID, o.Fulfillment, addrJSON,
			o.Subtotal, o.ShippingCost, o.TaxAmount, o.Total, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("liquidating order %q: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrNotFound
		}
		return insertStatusLog(ctx, tx, log)
	})
}

func insertStatusLog(ctx context.Context, tx pgx.Tx, log *order.StatusLog) error {
	_, err := tx.Exec(ctx, insertStatusLogSQL,
		log.ID, log.OrderID, log.PreviousStatus, log.NewStatus,
		log.ChangedBy, log.Notes, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting status log for order %q: %w", log.OrderID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o        order.Order
		addrJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.Fulfillment,
		&o.Subtotal, &o.ShippingCost, &o.TaxAmount, &o.Total,
		&addrJSON, &o.TrackingNumber, &o.ShippedAt, &o.DeliveredAt,
		&o.PaymentReference, &o.PaidAt, &o.CustomerNotes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if len(addrJSON) > 0 {
		var addr order.Address
		if err := json.Unmarshal(addrJSON, &addr); err != nil {
			return o, fmt.Errorf("unmarshaling shipping address: %w", err)
		}
		o.ShippingAddress = &addr
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ProductID, &it.Title, &it.Quantity, &it.Price)
	return it, err
}
