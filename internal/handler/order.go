package handler

import (
	"net/http"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

type orderItemView struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type orderView struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	Status           string          `json:"status"`
	Fulfillment      string          `json:"fulfillment"`
	Subtotal         string          `json:"subtotal"`
	ShippingCost     string          `json:"shipping_cost"`
	TaxAmount        string          `json:"tax_amount"`
	Total            string          `json:"total"`
	Items            []orderItemView `json:"items"`
	ShippingAddress  *order.Address  `json:"shipping_address,omitempty"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time      `json:"delivered_at,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type transitionRequest struct {
	Status         string `json:"status"`
	Notes          string `json:"notes"`
	TrackingNumber string `json:"tracking_number"`
}

type liquidateRequest struct {
	Address order.Address `json:"address"`
}

func orderToView(o *order.Order) orderView {
	items := make([]orderItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemView{
			ProductID: it.ProductID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.Price.StringFixed(2),
			LineTotal: it.TotalPrice().StringFixed(2),
		}
	}
	return orderView{
		ID:               o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           string(o.Status),
		Fulfillment:      string(o.Fulfillment),
		Subtotal:         o.Subtotal.StringFixed(2),
		ShippingCost:     o.ShippingCost.StringFixed(2),
		TaxAmount:        o.TaxAmount.StringFixed(2),
		Total:            o.Total.StringFixed(2),
		Items:            items,
		ShippingAddress:  o.ShippingAddress,
		TrackingNumber:   o.TrackingNumber,
		ShippedAt:        o.ShippedAt,
		DeliveredAt:      o.DeliveredAt,
		PaymentReference: o.PaymentReference,
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
	}
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if o.UserID != userID {
		// Existence of other users' orders is not disclosed.
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, orderToView(o))
}

// TransitionOrder applies an explicit status change (shipped, delivered,
// cancelled). Payment-driven transitions only ever happen through the
// settlement pipeline, never through this endpoint.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if !readJSON(w, r, &req) {
		return
	}

	to := order.Status(req.Status)
	switch to {
	case order.StatusShipped, order.StatusDelivered, order.StatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of: shipped, delivered, cancelled")
		return
	}

	o, err := h.orders.Transition(r.Context(), order.TransitionRequest{
		OrderID:        r.PathValue("id"),
		To:             to,
		Actor:          userID,
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderToView(o))
}

// LiquidateOrder converts a paid held-asset order into a delivery order.
func (h *Handler) LiquidateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req liquidateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Address.Line1 == "" || req.Address.City == "" {
		writeError(w, http.StatusBadRequest, "shipping address is required")
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if o.UserID != userID {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}

	o, err = h.orders.Liquidate(r.Context(), o.ID, req.Address, userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderToView(o))
}
