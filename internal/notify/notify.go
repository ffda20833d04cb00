// Package notify produces fire-and-forget notification events for the
// external notification service. Event payloads are flat, typed snapshots
// built at the moment of the state change; template rendering and delivery
// are entirely the consumer's concern.
package notify

import (
	"context"
	"time"
)

// Kind enumerates the notification event types this service emits.
type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindNewOrderAdmin     Kind = "new_order_admin"
	KindPaymentSuccessful Kind = "payment_successful"
	KindPaymentFailed     Kind = "payment_failed"
	KindOrderShipped      Kind = "order_shipped"
	KindOrderDelivered    Kind = "order_delivered"
	KindOrderCancelled    Kind = "order_cancelled"
	KindAssetLiquidation  Kind = "asset_liquidation"
)

// Recipient selects the audience of an event.
type Recipient string

const (
	RecipientUser  Recipient = "user"
	RecipientAdmin Recipient = "admin"
)

// OrderContext is the order snapshot attached to every event.
type OrderContext struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	Fulfillment string `json:"fulfillment_type"`
	Total       string `json:"total"`
	ItemCount   int    `json:"item_count"`
}

// PaymentContext is attached to payment-outcome events.
type PaymentContext struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// ShipmentContext is attached to shipped/delivered events.
type ShipmentContext struct {
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Event is one notification instruction.
type Event struct {
	Kind       Kind             `json:"kind"`
	Recipient  Recipient        `json:"recipient"`
	OccurredAt time.Time        `json:"occurred_at"`
	Order      OrderContext     `json:"order"`
	Payment    *PaymentContext  `json:"payment,omitempty"`
	Shipment   *ShipmentContext `json:"shipment,omitempty"`
}

// Dispatcher delivers events to the notification transport. Callers treat
// dispatch as fire-and-forget: errors are logged, never propagated into the
// state transition that produced the event.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// Nop is a Dispatcher that discards all events. Used in tests and when no
// broker is configured.
type Nop struct{}

// Dispatch implements Dispatcher.
func (Nop) Dispatch(context.Context, Event) error { return nil }
