package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/notify"
)

// Line is an unpriced (product, quantity) pair coming out of a cart.
type Line struct {
	ProductID string
	Quantity  int
}

// BuildRequest holds the input for assembling a new order.
type BuildRequest struct {
	UserID        string
	Lines         []Line
	Fulfillment   Fulfillment
	Address       *Address
	CustomerNotes string
}

// TransitionRequest holds the input for an explicit status change.
type TransitionRequest struct {
	OrderID        string
	To             Status
	Actor          string
	Notes          string
	TrackingNumber string
}

// ErrEmptyOrder is returned when an order would have no lines.
var ErrEmptyOrder = errors.New("order must contain at least one item")

// Service owns order assembly, the status state machine, and liquidation.
type Service struct {
	orders   Repository
	products product.Repository
	pricing  PricingConfig
	events   notify.Dispatcher
	lg       *zap.Logger
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, products product.Repository, pricing PricingConfig, events notify.Dispatcher, lg *zap.Logger) *Service {
	return &Service{
		orders:   orders,
		products: products,
		pricing:  pricing,
		events:   events,
		lg:       lg,
		now:      time.Now,
	}
}

// Build assembles an order aggregate from cart lines: validates the
// fulfillment type, re-checks purchasability per item (the authoritative
// stock check; the cart's earlier checks may be stale by now), snapshots
// unit prices, and computes totals. The result is not persisted; the caller
// owns the transaction that creates the order together with its payment.
func (s *Service) Build(ctx context.Context, req BuildRequest) (*Order, error) {
	switch req.Fulfillment {
	case FulfillmentDeliver:
		if req.Address == nil {
			return nil, ErrAddressRequired
		}
	case FulfillmentHoldAsset:
		// Held assets need no address until liquidation.
	default:
		return nil, ErrInvalidFulfillment
	}

	if len(req.Lines) == 0 {
		return nil, ErrEmptyOrder
	}

	ids := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, errors.Errorf("quantity must be greater than 0 for product %s", line.ProductID)
		}
		ids[i] = line.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	items := make([]Item, 0, len(req.Lines))
	for _, line := range req.Lines {
		p, ok := byID[line.ProductID]
		if !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", line.ProductID)
		}
		if !p.CanPurchase(line.Quantity) {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Title:     p.Title,
				Requested: line.Quantity,
				Available: p.StockQuantity,
			}
		}
		items = append(items, Item{
			ProductID: p.ID,
			Title:     p.Title,
			Quantity:  line.Quantity,
			Price:     p.DisplayPrice(),
		})
	}

	now := s.now()
	o := &Order{
		ID:            uuid.New().String(),
		OrderNumber:   NewOrderNumber(),
		UserID:        req.UserID,
		Status:        StatusPending,
		Fulfillment:   req.Fulfillment,
		Items:         items,
		CustomerNotes: req.CustomerNotes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Fulfillment == FulfillmentDeliver {
		o.ShippingAddress = req.Address
	}
	o.CalculateTotals(s.pricing)

	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// Transition applies an explicit status change (ship, deliver, cancel),
// enforcing the state machine and appending a status log entry. A
// notification event is dispatched after the change is persisted; dispatch
// failure never fails the transition.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Order, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(o.Status, req.To) {
		return nil, &InvalidTransitionError{From: o.Status, To: req.To}
	}
	if req.To == StatusShipped && o.Fulfillment != FulfillmentDeliver {
		return nil, &InvalidTransitionError{From: o.Status, To: req.To}
	}

	prev := o.Status
	now := s.now()
	o.Status = req.To
	o.UpdatedAt = now

	switch req.To {
	case StatusShipped:
		o.TrackingNumber = req.TrackingNumber
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusPaid:
		o.PaidAt = &now
	}

	log := &StatusLog{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		PreviousStatus: prev,
		NewStatus:      req.To,
		ChangedBy:      req.Actor,
		Notes:          req.Notes,
		CreatedAt:      now,
	}
	if err := s.orders.UpdateStatus(ctx, o, log); err != nil {
		return nil, errors.Wrap(err, "update status")
	}

	s.emit(ctx, o, statusEventKind(req.To))
	return o, nil
}

// Liquidate converts a held-asset order into a delivery order: attaches the
// address, switches fulfillment, and recomputes totals with shipping and
// tax. The order stays paid throughout.
func (s *Service) Liquidate(ctx context.Context, orderID string, addr Address, actor string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Fulfillment != FulfillmentHoldAsset || o.Status != StatusPaid {
		return nil, ErrNotLiquidatable
	}

	now := s.now()
	o.Fulfillment = FulfillmentDeliver
	o.ShippingAddress = &addr
	o.UpdatedAt = now
	o.CalculateTotals(s.pricing)

	log := &StatusLog{
		ID:             uuid.New().String(),
		OrderID:        o.ID,
		PreviousStatus: StatusPaid,
		NewStatus:      StatusPaid,
		ChangedBy:      actor,
		Notes:          "assets liquidated to delivery",
		CreatedAt:      now,
	}
	if err := s.orders.Liquidate(ctx, o, log); err != nil {
		return nil, errors.Wrap(err, "liquidate order")
	}

	s.emit(ctx, o, notify.KindAssetLiquidation)
	return o, nil
}

// emit dispatches a notification event, logging (not propagating) failures.
func (s *Service) emit(ctx context.Context, o *Order, kind notify.Kind) {
	if kind == "" {
		return
	}
	ev := notify.Event{
		Kind:       kind,
		Recipient:  notify.RecipientUser,
		OccurredAt: s.now(),
		Order:      EventContext(o),
	}
	if kind == notify.KindOrderShipped || kind == notify.KindOrderDelivered {
		ev.Shipment = &notify.ShipmentContext{
			TrackingNumber: o.TrackingNumber,
			ShippedAt:      o.ShippedAt,
			DeliveredAt:    o.DeliveredAt,
		}
	}
	if err := s.events.Dispatch(ctx, ev); err != nil {
		s.lg.Warn("notification dispatch failed",
			zap.String("kind", string(kind)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// EventContext builds the order snapshot shared by all notification events.
func EventContext(o *Order) notify.OrderContext {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return notify.OrderContext{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Status:      string(o.Status),
		Fulfillment: string(o.Fulfillment),
		Total:       o.Total.StringFixed(2),
		ItemCount:   count,
	}
}

// statusEventKind maps explicit transitions to their notification kinds.
// Payment-driven transitions emit their events from the payment service.
func statusEventKind(to Status) notify.Kind {
	switch to {
	case StatusShipped:
		return notify.KindOrderShipped
	case StatusDelivered:
		return notify.KindOrderDelivered
	case StatusCancelled:
		return notify.KindOrderCancelled
	default:
		return ""
	}
}
