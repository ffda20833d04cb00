package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/notify"
)

// createRetries bounds order-number regeneration on collision.
const createRetries = 3

// StartRequest holds the checkout input: the cart owner plus the fulfillment
// and contact details collected at checkout.
type StartRequest struct {
	UserID        string
	Fulfillment   order.Fulfillment
	Address       *order.Address
	CustomerNotes string

	Email string
	Name  string
	Phone string
}

// StartResult is the outcome of a started checkout: the created order and
// payment, and the gateway redirect the customer completes the charge at.
type StartResult struct {
	Order            *order.Order
	Payment          *Payment
	AuthorizationURL string
	AccessCode       string
}

// Service orchestrates the settlement pipeline: checkout, gateway
// verification, and webhook processing.
type Service struct {
	payments Repository
	carts    cart.Repository
	orders   *order.Service
	gw       gateway.Gateway
	events   notify.Dispatcher
	lg       *zap.Logger
	now      func() time.Time

	// verifies collapses concurrent verify calls for the same reference so
	// a webhook and a customer poll never double-hit the gateway.
	verifies singleflight.Group
}

// NewService creates a payment Service.
func NewService(payments Repository, carts cart.Repository, orders *order.Service, gw gateway.Gateway, events notify.Dispatcher, lg *zap.Logger) *Service {
	return &Service{
		payments: payments,
		carts:    carts,
		orders:   orders,
		gw:       gw,
		events:   events,
		lg:       lg,
		now:      time.Now,
	}
}

// Start runs the checkout: builds an order from the user's cart, persists
// order and payment together, and initializes the gateway charge. The cart is
// NOT cleared here; it survives until the payment actually succeeds, so an
// abandoned checkout costs the customer nothing. If the gateway rejects the
// initialization outright, the freshly created order and payment are removed
// again so no ghost orders accumulate.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	c, err := s.carts.GetByUser(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if len(c.Items) == 0 {
		return nil, cart.ErrEmptyCart
	}

	lines := make([]order.Line, len(c.Items))
	for i, it := range c.Items {
		lines[i] = order.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := s.orders.Build(ctx, order.BuildRequest{
		UserID:        req.UserID,
		Lines:         lines,
		Fulfillment:   req.Fulfillment,
		Address:       req.Address,
		CustomerNotes: req.CustomerNotes,
	})
	if err != nil {
		return nil, err
	}

	p, err := New(o, o.Total, s.gw.Name(), req.Email, req.Name, req.Phone)
	if err != nil {
		return nil, err
	}
	o.PaymentReference = p.Reference

	for attempt := 0; ; attempt++ {
		err = s.payments.CreateWithOrder(ctx, o, p)
		if err == nil {
			break
		}
		if errors.Is(err, order.ErrNumberTaken) && attempt < createRetries {
			o.OrderNumber = order.NewOrderNumber()
			continue
		}
		return nil, errors.Wrap(err, "create order")
	}

	init, err := s.gw.Initialize(ctx, gateway.InitializeRequest{
		Email:         p.CustomerEmail,
		AmountSubunit: p.AmountInSubunit(),
		Reference:     p.Reference,
		Currency:      p.Currency,
		Metadata: map[string]string{
			"order_number": o.OrderNumber,
			"user_id":      o.UserID,
		},
	})
	if err != nil {
		if derr := s.payments.DeleteWithOrder(ctx, p); derr != nil {
			s.lg.Error("rollback of failed checkout left orphan order",
				zap.String("order_id", o.ID),
				zap.String("reference", p.Reference),
				zap.Error(derr),
			)
		}
		return nil, errors.Wrap(err, "initialize payment")
	}

	if _, err := s.payments.MarkProcessing(ctx, p.Reference, init.Raw); err != nil {
		return nil, errors.Wrap(err, "mark processing")
	}
	p.Status = StatusProcessing
	o.Status = order.StatusPaymentPending

	s.emitOrder(ctx, o, notify.KindOrderConfirmation, notify.RecipientUser)
	s.emitOrder(ctx, o, notify.KindNewOrderAdmin, notify.RecipientAdmin)

	return &StartResult{
		Order:            o,
		Payment:          p,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
	}, nil
}

// Get returns a payment by its reference.
func (s *Service) Get(ctx context.Context, reference string) (*Payment, error) {
	return s.payments.GetByReference(ctx, reference)
}

// Verify asks the gateway for the authoritative charge state and applies the
// outcome. Safe to call any number of times: a settled payment short-circuits
// before the gateway is contacted, and concurrent calls for the same
// reference are collapsed into one.
func (s *Service) Verify(ctx context.Context, reference string) (*Payment, error) {
	v, err, _ := s.verifies.Do(reference, func() (interface{}, error) {
		return s.verify(ctx, reference)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Payment), nil
}

func (s *Service) verify(ctx context.Context, reference string) (*Payment, error) {
	p, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusSuccess {
		return p, nil
	}

	vr, err := s.gw.Verify(ctx, reference)
	if err != nil {
		// Gateway unreachable: leave the payment as-is and let the caller
		// retry or wait for the webhook.
		return nil, err
	}

	switch vr.Status {
	case "success":
		if vr.AmountSubunit != p.AmountInSubunit() {
			if _, ferr := s.payments.MarkFailed(ctx, reference, "gateway amount does not match payment amount", "AMOUNT_MISMATCH"); ferr != nil {
				return nil, errors.Wrap(ferr, "mark failed")
			}
			return nil, errors.Wrapf(ErrAmountMismatch, "reference %s: gateway %d, expected %d",
				reference, vr.AmountSubunit, p.AmountInSubunit())
		}
		applied, err := s.payments.ApplySuccess(ctx, SuccessApplication{
			Reference:             reference,
			ExternalTransactionID: vr.TransactionID,
			GatewayData:           vr.Raw,
			Actor:                 "payment_verify",
		})
		if err != nil {
			return nil, errors.Wrap(err, "apply success")
		}
		if applied {
			s.emitPaymentOutcome(ctx, p.OrderID, reference, notify.KindPaymentSuccessful, "")
		}

	case "failed":
		applied, err := s.payments.MarkFailed(ctx, reference, vr.GatewayResponse, "CHARGE_FAILED")
		if err != nil {
			return nil, errors.Wrap(err, "mark failed")
		}
		if applied {
			s.emitPaymentOutcome(ctx, p.OrderID, reference, notify.KindPaymentFailed, vr.GatewayResponse)
		}

	case "abandoned":
		// The customer walked away from the gateway page. Cancel the
		// payment and its order; the cart is still intact.
		message := vr.GatewayResponse
		if message == "" {
			message = "charge abandoned by customer"
		}
		applied, err := s.payments.MarkCancelled(ctx, reference, message)
		if err != nil {
			return nil, errors.Wrap(err, "mark cancelled")
		}
		if applied {
			s.emitPaymentOutcome(ctx, p.OrderID, reference, notify.KindOrderCancelled, message)
		}

	default:
		// pending, processing, ongoing: refresh the gateway data and keep
		// waiting.
		if _, err := s.payments.MarkProcessing(ctx, reference, vr.Raw); err != nil {
			return nil, errors.Wrap(err, "mark processing")
		}
	}

	return s.payments.GetByReference(ctx, reference)
}

// webhookEvent is the parsed shape of an inbound gateway notification.
type webhookEvent struct {
	Event           string
	Reference       string
	TransactionID   string
	AmountSubunit   int64
	GatewayResponse string
	Data            jx.Raw
}

// ProcessWebhook handles one inbound gateway notification. The raw body is
// checked against its HMAC signature first; anything that fails the check is
// rejected before it can touch state. Every authentic webhook is recorded in
// the audit trail, including ones for unknown references and unknown event
// types.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.gw.VerifySignature(payload, signature) {
		return ErrInvalidSignature
	}

	ev, err := parseWebhook(payload)
	if err != nil {
		return errors.Wrap(ErrMalformedPayload, err.Error())
	}

	w := &Webhook{
		ID:         uuid.New().String(),
		Gateway:    s.gw.Name(),
		EventType:  ev.Event,
		Reference:  ev.Reference,
		Payload:    payload,
		ReceivedAt: s.now(),
	}
	if err := s.payments.InsertWebhook(ctx, w); err != nil {
		return errors.Wrap(err, "record webhook")
	}

	switch ev.Event {
	case "charge.success":
		return s.webhookSuccess(ctx, w, ev)
	case "charge.failed":
		return s.webhookFailure(ctx, w, ev)
	case "charge.pending", "charge.processing":
		return s.webhookPending(ctx, w, ev)
	default:
		s.lg.Info("ignoring webhook event",
			zap.String("event", ev.Event),
			zap.String("reference", ev.Reference),
		)
		return s.finishWebhook(ctx, w)
	}
}

func (s *Service) webhookSuccess(ctx context.Context, w *Webhook, ev webhookEvent) error {
	p, err := s.payments.GetByReference(ctx, ev.Reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Authentic webhook for a reference we never issued. Keep the
			// audit row, mark it handled, and report not-found upstream.
			if ferr := s.finishWebhook(ctx, w); ferr != nil {
				return ferr
			}
		}
		return err
	}

	if p.Status == StatusSuccess {
		// Settled is one-way terminal; a redelivered success webhook is
		// acknowledged without re-checking anything.
		return s.finishWebhook(ctx, w)
	}

	if ev.AmountSubunit != p.AmountInSubunit() {
		if _, ferr := s.payments.MarkFailed(ctx, ev.Reference, "webhook amount does not match payment amount", "AMOUNT_MISMATCH"); ferr != nil {
			return errors.Wrap(ferr, "mark failed")
		}
		if ferr := s.finishWebhook(ctx, w); ferr != nil {
			return ferr
		}
		return errors.Wrapf(ErrAmountMismatch, "reference %s: webhook %d, expected %d",
			ev.Reference, ev.AmountSubunit, p.AmountInSubunit())
	}

	applied, err := s.payments.ApplySuccess(ctx, SuccessApplication{
		Reference:             ev.Reference,
		ExternalTransactionID: ev.TransactionID,
		GatewayData:           ev.Data,
		Actor:                 "payment_webhook",
	})
	if err != nil {
		// The webhook row stays unprocessed so the failure is visible and
		// the gateway's redelivery gets a clean retry.
		return errors.Wrap(err, "apply success")
	}
	if applied {
		s.emitPaymentOutcome(ctx, p.OrderID, ev.Reference, notify.KindPaymentSuccessful, "")
	}
	return s.finishWebhook(ctx, w)
}

func (s *Service) webhookFailure(ctx context.Context, w *Webhook, ev webhookEvent) error {
	p, err := s.payments.GetByReference(ctx, ev.Reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if ferr := s.finishWebhook(ctx, w); ferr != nil {
				return ferr
			}
		}
		return err
	}

	message := ev.GatewayResponse
	if message == "" {
		message = "charge failed"
	}
	applied, err := s.payments.MarkFailed(ctx, ev.Reference, message, "CHARGE_FAILED")
	if err != nil {
		return errors.Wrap(err, "mark failed")
	}
	if applied {
		s.emitPaymentOutcome(ctx, p.OrderID, ev.Reference, notify.KindPaymentFailed, message)
	}
	return s.finishWebhook(ctx, w)
}

// webhookPending refreshes a payment the gateway reports as still in flight:
// a pending payment advances to processing with the webhook's charge data, a
// payment already past pending is left alone.
func (s *Service) webhookPending(ctx context.Context, w *Webhook, ev webhookEvent) error {
	if _, err := s.payments.MarkProcessing(ctx, ev.Reference, ev.Data); err != nil {
		if errors.Is(err, ErrNotFound) {
			if ferr := s.finishWebhook(ctx, w); ferr != nil {
				return ferr
			}
		}
		return err
	}
	return s.finishWebhook(ctx, w)
}

func (s *Service) finishWebhook(ctx context.Context, w *Webhook) error {
	if err := s.payments.MarkWebhookProcessed(ctx, w.ID); err != nil {
		return errors.Wrap(err, "mark webhook processed")
	}
	return nil
}

// parseWebhook extracts the event type and charge fields from the raw body.
func parseWebhook(payload []byte) (webhookEvent, error) {
	var ev webhookEvent
	d := jx.DecodeBytes(payload)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			ev.Event = v
			return err
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			ev.Data = raw
			return parseWebhookData(raw, &ev)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return webhookEvent{}, err
	}
	if ev.Event == "" {
		return webhookEvent{}, errors.New("missing event type")
	}
	if ev.Reference == "" {
		return webhookEvent{}, errors.New("missing charge reference")
	}
	return ev, nil
}

func parseWebhookData(raw jx.Raw, ev *webhookEvent) error {
	d := jx.DecodeBytes(raw)
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reference":
			v, err := d.Str()
			ev.Reference = v
			return err
		case "amount":
			v, err := d.Int64()
			ev.AmountSubunit = v
			return err
		case "id":
			switch d.Next() {
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return err
				}
				ev.TransactionID = n.String()
				return nil
			case jx.String:
				v, err := d.Str()
				ev.TransactionID = v
				return err
			default:
				return d.Skip()
			}
		case "gateway_response":
			v, err := d.Str()
			ev.GatewayResponse = v
			return err
		default:
			return d.Skip()
		}
	})
}

// emitOrder dispatches an order-scoped notification, logging failures.
func (s *Service) emitOrder(ctx context.Context, o *order.Order, kind notify.Kind, to notify.Recipient) {
	ev := notify.Event{
		Kind:       kind,
		Recipient:  to,
		OccurredAt: s.now(),
		Order:      order.EventContext(o),
	}
	if err := s.events.Dispatch(ctx, ev); err != nil {
		s.lg.Warn("notification dispatch failed",
			zap.String("kind", string(kind)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// emitPaymentOutcome dispatches a payment outcome event, re-reading the order
// so the snapshot reflects the post-transition state.
func (s *Service) emitPaymentOutcome(ctx context.Context, orderID, reference string, kind notify.Kind, errorMessage string) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.lg.Warn("load order for notification failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	p, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		s.lg.Warn("load payment for notification failed",
			zap.String("reference", reference),
			zap.Error(err),
		)
		return
	}

	ev := notify.Event{
		Kind:       kind,
		Recipient:  notify.RecipientUser,
		OccurredAt: s.now(),
		Order:      order.EventContext(o),
		Payment: &notify.PaymentContext{
			Reference:     p.Reference,
			Amount:        p.Amount.StringFixed(2),
			Currency:      p.Currency,
			CustomerEmail: p.CustomerEmail,
			ErrorMessage:  errorMessage,
		},
	}
	if err := s.events.Dispatch(ctx, ev); err != nil {
		s.lg.Warn("notification dispatch failed",
			zap.String("kind", string(kind)),
			zap.String("reference", reference),
			zap.Error(err),
		)
	}
}
