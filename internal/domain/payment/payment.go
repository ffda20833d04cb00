package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Status describes the gateway-side lifecycle of a payment, tracked
// independently of the order so duplicate gateway callbacks are absorbed
// here before they touch the order.
type Status string

const (
	// StatusPending: payment record created, gateway not yet contacted.
	StatusPending Status = "pending"
	// StatusProcessing: handed to the gateway, awaiting the outcome.
	StatusProcessing Status = "processing"
	// StatusSuccess: settled. One-way terminal: once set, webhooks and
	// verify calls for this reference are no-ops.
	StatusSuccess Status = "success"
	// StatusFailed: the gateway reported a definitive failure.
	StatusFailed Status = "failed"
	// StatusCancelled: abandoned by the customer before settlement.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further status changes are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrNotFound is returned when no payment matches a reference.
	ErrNotFound = errors.New("payment not found")
	// ErrAmountMismatch is returned when the gateway-reported amount differs
	// from the stored one. Never silently reconciled.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrInvalidSignature is returned for webhooks whose HMAC signature does
	// not match the raw body.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned for webhook bodies that cannot be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// subunitFactor converts the base currency amount to the gateway's minor
// unit (kobo for NGN).
var subunitFactor = decimal.NewFromInt(100)

// Payment tracks one gateway-side money movement, one-to-one with an order.
type Payment struct {
	ID                    string
	Reference             string
	ExternalTransactionID string
	OrderID               string
	UserID                string

	Amount   decimal.Decimal
	Currency string
	Gateway  string
	Status   Status

	CustomerEmail string
	CustomerName  string
	CustomerPhone string

	// GatewayData is the opaque gateway-specific blob (authorization URL,
	// access code, raw charge data) stored as JSON.
	GatewayData []byte

	ErrorMessage string
	ErrorCode    string

	InitiatedAt time.Time
	ProcessedAt *time.Time
	CompletedAt *time.Time
}

// AmountInSubunit converts the amount to the gateway's minor currency unit.
func (p *Payment) AmountInSubunit() int64 {
	return p.Amount.Mul(subunitFactor).IntPart()
}

// NewReference generates a gateway-facing payment reference.
func NewReference() string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "PAY_" + hex[:16]
}

// New creates a payment for an order. The amount must equal the order total
// at this instant; any drift means the caller is working from a stale order.
func New(o *order.Order, amount decimal.Decimal, gateway, email, name, phone string) (*Payment, error) {
	if !amount.Equal(o.Total) {
		return nil, errors.Wrapf(ErrAmountMismatch, "order total %s, payment amount %s", o.Total, amount)
	}
	if email == "" {
		return nil, errors.New("customer email is required")
	}

	return &Payment{
		ID:            uuid.New().String(),
		Reference:     NewReference(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		Amount:        amount,
		Currency:      "NGN",
		Gateway:       gateway,
		Status:        StatusPending,
		CustomerEmail: email,
		CustomerName:  name,
		CustomerPhone: phone,
		InitiatedAt:   time.Now(),
	}, nil
}

// Webhook is the append-only audit record of one inbound gateway
// notification. Rows are written unconditionally, before any processing
// outcome is known, and never deleted.
type Webhook struct {
	ID          string
	Gateway     string
	EventType   string
	Reference   string
	Payload     []byte
	Processed   bool
	ProcessedAt *time.Time
	ReceivedAt  time.Time
}

// SuccessApplication is the input to the atomic payment-success transaction.
type SuccessApplication struct {
	Reference             string
	ExternalTransactionID string
	GatewayData           []byte
	Actor                 string
}

// Repository defines persistence for payments and their webhook audit trail.
type Repository interface {
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)

	// CreateWithOrder persists the order, its items, and the payment in one
	// transaction. Returns order.ErrNumberTaken on an order-number
	// collision so the caller can regenerate and retry.
	CreateWithOrder(ctx context.Context, o *order.Order, p *Payment) error

	// DeleteWithOrder removes a freshly created payment and its order after
	// an immediate gateway-initialization failure, so no ghost orders
	// accumulate.
	DeleteWithOrder(ctx context.Context, p *Payment) error

	// MarkProcessing advances a pending payment to processing (storing
	// gateway data) and its order to payment_pending, in one transaction.
	// A no-op returning false when the payment already left pending.
	MarkProcessing(ctx context.Context, reference string, gatewayData []byte) (bool, error)

	// ApplySuccess performs the conditional success transition in one
	// transaction: payment success (only where status is not yet success),
	// order paid with its status log entry, stock decrement per item, and
	// cart clearing. Returns false without error when the payment was
	// already successful; the idempotent no-op path.
	ApplySuccess(ctx context.Context, app SuccessApplication) (bool, error)

	// MarkFailed moves a non-terminal payment to failed and its order to
	// payment_failed, in one transaction. Returns false when the payment
	// was already terminal.
	MarkFailed(ctx context.Context, reference, message, code string) (bool, error)

	// MarkCancelled moves a non-terminal payment to cancelled and its order
	// to cancelled, in one transaction. Returns false when the payment was
	// already terminal.
	MarkCancelled(ctx context.Context, reference, message string) (bool, error)

	InsertWebhook(ctx context.Context, w *Webhook) error
	MarkWebhookProcessed(ctx context.Context, webhookID string) error
}
