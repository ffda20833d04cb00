package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const (
	getPaymentSQL = `SELECT id, payment_reference, external_transaction_id, order_id, user_id,
		amount, currency, gateway, status,
		customer_email, customer_name, customer_phone,
		gateway_data, error_message, error_code,
		initiated_at, processed_at, completed_at
		FROM payments WHERE payment_reference = $1`

	getPaymentByOrderSQL = `SELECT id, payment_reference, external_transaction_id, order_id, user_id,
		amount, currency, gateway, status,
		customer_email, customer_name, customer_phone,
		gateway_data, error_message, error_code,
		initiated_at, processed_at, completed_at
		FROM payments WHERE order_id = $1`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, status, fulfillment_type,
		subtotal, shipping_cost, tax_amount, total,
		shipping_address, payment_reference, customer_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4)`

	insertPaymentSQL = `INSERT INTO payments (id, payment_reference, order_id, user_id,
		amount, currency, gateway, status,
		customer_email, customer_name, customer_phone, initiated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	// Deleting the order cascades to its items and payment.
	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	markProcessingSQL = `UPDATE payments
		SET status = 'processing', gateway_data = $2, processed_at = $3
		WHERE payment_reference = $1 AND status = 'pending'
		RETURNING order_id`

	// The status guard makes settlement a one-shot: the first success wins
	// and every later duplicate matches zero rows.
	applySuccessSQL = `UPDATE payments
		SET status = 'success', external_transaction_id = $2, gateway_data = $3,
		    error_message = '', error_code = '', completed_at = $4
		WHERE payment_reference = $1 AND status <> 'success'
		RETURNING order_id, user_id`

	markFailedSQL = `UPDATE payments
		SET status = 'failed', error_message = $2, error_code = $3, completed_at = $4
		WHERE payment_reference = $1 AND status IN ('pending', 'processing')
		RETURNING order_id`

	markCancelledSQL = `UPDATE payments
		SET status = 'cancelled', error_message = $2, completed_at = $3
		WHERE payment_reference = $1 AND status IN ('pending', 'processing')
		RETURNING order_id`

	paymentStatusSQL = `SELECT status FROM payments WHERE payment_reference = $1`

	orderStatusForUpdateSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	setOrderStatusSQL = `UPDATE orders SET status = $2, paid_at = COALESCE($3, paid_at), updated_at = $4
		WHERE id = $1`

	// Stock is decremented only when the money actually arrives. Tracked
	// products are clamped at zero; a backorder simply sells through the
	// remaining stock.
	decrementStockSQL = `UPDATE products p
		SET stock_quantity = GREATEST(p.stock_quantity - oi.quantity, 0), updated_at = now()
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.product_id = p.id AND p.track_stock`

	clearUserCartSQL = `DELETE FROM cart_items
		WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`

	insertWebhookSQL = `INSERT INTO payment_webhooks (id, gateway, event_type, payment_reference, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	markWebhookProcessedSQL = `UPDATE payment_webhooks
		SET processed = TRUE, processed_at = $2
		WHERE id = $1`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// GetByReference returns a payment by its gateway-facing reference.
func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentSQL, reference)
}

// GetByOrderID returns the payment attached to an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByOrderSQL, orderID)
}

func (r *PaymentRepository) getOne(ctx context.Context, sql, arg string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", arg, err)
	}
	return &p, nil
}

// CreateWithOrder persists the order, its items, and the payment in one
// transaction. An order-number collision surfaces as order.ErrNumberTaken.
func (r *PaymentRepository) CreateWithOrder(ctx context.Context, o *order.Order, p *payment.Payment) error {
	var addrJSON []byte
	if o.ShippingAddress != nil {
		var err error
		addrJSON, err = json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshaling shipping address: %w", err)
		}
	}

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.OrderNumber, o.UserID, o.Status, o.Fulfillment,
			o.Subtotal, o.ShippingCost, o.TaxAmount, o.Total,
			addrJSON, o.PaymentReference, o.CustomerNotes, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, "orders_order_number_key") {
				return order.ErrNumberTaken
			}
			return fmt.Errorf("inserting order %q: %w", o.ID, err)
		}

		for _, it := range o.Items {
			if _, err := tx.Exec(ctx, insertOrderItemSQL, o.ID, it.ProductID, it.Quantity, it.Price); err != nil {
				return fmt.Errorf("inserting order item %q: %w", it.ProductID, err)
			}
		}

		_, err = tx.Exec(ctx, insertPaymentSQL,
			p.ID, p.Reference, p.OrderID, p.UserID,
			p.Amount, p.Currency, p.Gateway, p.Status,
			p.CustomerEmail, p.CustomerName, p.CustomerPhone, p.InitiatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting payment %q: %w", p.Reference, err)
		}

		return insertStatusLog(ctx, tx, &order.StatusLog{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			NewStatus: o.Status,
			ChangedBy: "checkout",
			Notes:     "order created",
			CreatedAt: o.CreatedAt,
		})
	})
}

// DeleteWithOrder removes a freshly created payment together with its order.
func (r *PaymentRepository) DeleteWithOrder(ctx context.Context, p *payment.Payment) error {
	_, err := r.pool.Exec(ctx, deleteOrderSQL, p.OrderID)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", p.OrderID, err)
	}
	return nil
}

// MarkProcessing advances a pending payment to processing and its order to
// payment_pending in one transaction.
func (r *PaymentRepository) MarkProcessing(ctx context.Context, reference string, gatewayData []byte) (bool, error) {
	var applied bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now()

		var orderID string
		err := tx.QueryRow(ctx, markProcessingSQL, reference, normalizeJSON(gatewayData), now).Scan(&orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			// Already past pending, or the reference is unknown.
			return r.requireExists(ctx, tx, reference)
		}
		if err != nil {
			return fmt.Errorf("marking payment %q processing: %w", reference, err)
		}
		applied = true

		return r.transitionOrder(ctx, tx, orderID, order.StatusPaymentPending, nil, "payment_gateway", "payment handed to gateway", now)
	})
	return applied, err
}

// ApplySuccess performs the settlement transaction: payment to success, order
// to paid with a log entry, stock decrement, cart cleared. A payment that is
// already successful is left untouched and reported as not applied.
func (r *PaymentRepository) ApplySuccess(ctx context.Context, app payment.SuccessApplication) (bool, error) {
	var applied bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now()

		var orderID, userID string
		err := tx.QueryRow(ctx, applySuccessSQL,
			app.Reference, app.ExternalTransactionID, normalizeJSON(app.GatewayData), now,
		).Scan(&orderID, &userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.requireExists(ctx, tx, app.Reference)
		}
		if err != nil {
			return fmt.Errorf("settling payment %q: %w", app.Reference, err)
		}
		applied = true

		if err := r.transitionOrder(ctx, tx, orderID, order.StatusPaid, &now, app.Actor, "payment confirmed", now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, decrementStockSQL, orderID); err != nil {
			return fmt.Errorf("decrementing stock for order %q: %w", orderID, err)
		}

		if _, err := tx.Exec(ctx, clearUserCartSQL, userID); err != nil {
			return fmt.Errorf("clearing cart for user %q: %w", userID, err)
		}
		return nil
	})
	return applied, err
}

// MarkFailed moves a non-terminal payment to failed and its order to
// payment_failed in one transaction.
func (r *PaymentRepository) MarkFailed(ctx context.Context, reference, message, code string) (bool, error) {
	var applied bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now()

		var orderID string
		err := tx.QueryRow(ctx, markFailedSQL, reference, message, code, now).Scan(&orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.requireExists(ctx, tx, reference)
		}
		if err != nil {
			return fmt.Errorf("marking payment %q failed: %w", reference, err)
		}
		applied = true

		return r.transitionOrder(ctx, tx, orderID, order.StatusPaymentFailed, nil, "payment_gateway", message, now)
	})
	return applied, err
}

// MarkCancelled moves a non-terminal payment to cancelled and its order to
// cancelled in one transaction.
func (r *PaymentRepository) MarkCancelled(ctx context.Context, reference, message string) (bool, error) {
	var applied bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now()

		var orderID string
		err := tx.QueryRow(ctx, markCancelledSQL, reference, message, now).Scan(&orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.requireExists(ctx, tx, reference)
		}
		if err != nil {
			return fmt.Errorf("marking payment %q cancelled: %w", reference, err)
		}
		applied = true

		return r.transitionOrder(ctx, tx, orderID, order.StatusCancelled, nil, "payment_gateway", message, now)
	})
	return applied, err
}

// InsertWebhook records an inbound gateway notification.
func (r *PaymentRepository) InsertWebhook(ctx context.Context, w *payment.Webhook) error {
	_, err := r.pool.Exec(ctx, insertWebhookSQL,
		w.ID, w.Gateway, w.EventType, w.Reference, normalizeJSON(w.Payload), w.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting webhook %q: %w", w.ID, err)
	}
	return nil
}

// MarkWebhookProcessed stamps a webhook audit row as handled.
func (r *PaymentRepository) MarkWebhookProcessed(ctx context.Context, webhookID string) error {
	_, err := r.pool.Exec(ctx, markWebhookProcessedSQL, webhookID, time.Now())
	if err != nil {
		return fmt.Errorf("marking webhook %q processed: %w", webhookID, err)
	}
	return nil
}

// transitionOrder moves the order to the target status if the state machine
// allows it from the current (locked) status, appending a log entry. An order
// already past the target is left alone so repeated gateway callbacks stay
// idempotent.
func (r *PaymentRepository) transitionOrder(ctx context.Context, tx pgx.Tx, orderID string, to order.Status, paidAt *time.Time, actor, notes string, now time.Time) error {
	var current order.Status
	if err := tx.QueryRow(ctx, orderStatusForUpdateSQL, orderID).Scan(&current); err != nil {
		return fmt.Errorf("locking order %q: %w", orderID, err)
	}
	if current == to || !order.CanTransition(current, to) {
		return nil
	}

	if _, err := tx.Exec(ctx, setOrderStatusSQL, orderID, to, paidAt, now); err != nil {
		return fmt.Errorf("updating order %q status: %w", orderID, err)
	}

	return insertStatusLog(ctx, tx, &order.StatusLog{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		PreviousStatus: current,
		NewStatus:      to,
		ChangedBy:      actor,
		Notes:          notes,
		CreatedAt:      now,
	})
}

// requireExists distinguishes "no rows because terminal" from "no rows
// because the reference is unknown".
func (r *PaymentRepository) requireExists(ctx context.Context, tx pgx.Tx, reference string) error {
	var status string
	err := tx.QueryRow(ctx, paymentStatusSQL, reference).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking payment %q: %w", reference, err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// normalizeJSON substitutes an empty object for nil blobs so JSONB NOT NULL
// columns accept them.
func normalizeJSON(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.Reference, &p.ExternalTransactionID, &p.OrderID, &p.UserID,
		&p.Amount, &p.Currency, &p.Gateway, &p.Status,
		&p.CustomerEmail, &p.CustomerName, &p.CustomerPhone,
		&p.GatewayData, &p.ErrorMessage, &p.ErrorCode,
		&p.InitiatedAt, &p.ProcessedAt, &p.CompletedAt,
	)
	return p, err
}
