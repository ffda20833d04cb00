package order

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status describes the lifecycle of an order.
type Status string

const (
	// StatusPending: order created, payment not yet initialized.
	StatusPending Status = "pending"
	// StatusPaymentPending: payment handed to the gateway, awaiting settlement.
	StatusPaymentPending Status = "payment_pending"
	// StatusPaymentFailed: the gateway reported a definitive failure.
	StatusPaymentFailed Status = "payment_failed"
	// StatusPaid: payment confirmed; totals are frozen from here on.
	StatusPaid Status = "paid"
	// StatusShipped: order handed to the carrier (deliver fulfillment only).
	StatusShipped Status = "shipped"
	// StatusDelivered: terminal happy path.
	StatusDelivered Status = "delivered"
	// StatusCancelled: terminal; only reachable before payment succeeds.
	StatusCancelled Status = "cancelled"
)

// Fulfillment describes what happens to a paid order.
type Fulfillment string

const (
	// FulfillmentDeliver ships the items to the customer.
	FulfillmentDeliver Fulfillment = "deliver"
	// FulfillmentHoldAsset retains the items on the platform as a sellable
	// asset until the customer liquidates them.
	FulfillmentHoldAsset Fulfillment = "hold_asset"
)

// transitions is the allowed state machine. A missing entry means the status
// is terminal.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPaymentPending, StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaymentPending: {StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:  {StatusCancelled},
	StatusPaid:           {StatusShipped},
	StatusShipped:        {StatusDelivered},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a status change violates the state
// machine. It guards against races and programming errors alike.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// InsufficientStockError names the exact item that could not be purchased.
type InsufficientStockError struct {
	ProductID string
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d",
		e.Title, e.Requested, e.Available)
}

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrNumberTaken is returned on an order-number collision; the caller
	// regenerates the number and retries.
	ErrNumberTaken = errors.New("order number already taken")
	// ErrAddressRequired is returned when a deliver-fulfillment operation is
	// missing a shipping address.
	ErrAddressRequired = errors.New("shipping address is required for delivery orders")
	// ErrInvalidFulfillment is returned for unknown fulfillment types.
	ErrInvalidFulfillment = errors.New("invalid fulfillment type")
	// ErrNotLiquidatable is returned when liquidation preconditions are not
	// met (fulfillment must be hold_asset and status paid).
	ErrNotLiquidatable = errors.New("order assets cannot be liquidated")
)

// Address is the flattened shipping contact snapshot attached to delivery
// orders.
type Address struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Item is a priced order line. The price is snapshotted from the product's
// display price at checkout and never recomputed.
type Item struct {
	ProductID string
	Title     string
	Quantity  int
	Price     decimal.Decimal
}

// TotalPrice returns price x quantity for this line.
func (i Item) TotalPrice() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusLog is one append-only record of a status change.
type StatusLog struct {
	ID             string
	OrderID        string
	PreviousStatus Status
	NewStatus      Status
	ChangedBy      string
	Notes          string
	CreatedAt      time.Time
}

// Order aggregates a purchase and its fulfillment state.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      Status
	Fulfillment Fulfillment

	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	TaxAmount    decimal.Decimal
	Total        decimal.Decimal

	Items           []Item
	ShippingAddress *Address

	TrackingNumber string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time

	PaymentReference string
	PaidAt           *time.Time

	CustomerNotes string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PricingConfig carries the site-wide shipping and tax settings. It is
// injected explicitly so that totals calculation has no hidden global state.
type PricingConfig struct {
	DefaultShippingCost   decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	TaxRate               decimal.Decimal
}

// CalculateTotals recomputes subtotal, shipping, tax, and total from the
// order lines. Shipping applies only to delivery orders below the
// free-shipping threshold. Called at checkout and again at liquidation;
// totals are immutable otherwise.
func (o *Order) CalculateTotals(cfg PricingConfig) {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		subtotal = subtotal.Add(it.TotalPrice())
	}
	o.Subtotal = subtotal

	o.ShippingCost = decimal.Zero
	if o.Fulfillment == FulfillmentDeliver && subtotal.LessThan(cfg.FreeShippingThreshold) {
		o.ShippingCost = cfg.DefaultShippingCost
	}

	o.TaxAmount = subtotal.Mul(cfg.TaxRate)
	o.Total = o.Subtotal.Add(o.ShippingCost).Add(o.TaxAmount)
}

// NewOrderNumber generates a human-readable order number. Uniqueness is
// enforced by the database; callers retry on collision.
func NewOrderNumber() string {
	return fmt.Sprintf("ORD%06d", rand.IntN(1_000_000))
}

// Repository defines persistence operations for orders.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	// UpdateStatus persists a validated status change together with its
	// append-only log entry and any per-status side fields already set on
	// the order (tracking number, timestamps).
	UpdateStatus(ctx context.Context, o *Order, log *StatusLog) error
	// Liquidate persists the fulfillment switch, new address, and
	// recalculated totals of a liquidated order.
	Liquidate(ctx context.Context, o *Order, log *StatusLog) error
}
