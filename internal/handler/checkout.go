package handler

import (
	"net/http"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

type checkoutRequest struct {
	Fulfillment   string         `json:"fulfillment"`
	Address       *order.Address `json:"address,omitempty"`
	CustomerNotes string         `json:"customer_notes"`

	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type checkoutResponse struct {
	Order            orderView `json:"order"`
	Reference        string    `json:"reference"`
	AuthorizationURL string    `json:"authorization_url"`
	AccessCode       string    `json:"access_code"`
}

// Checkout turns the caller's cart into an order with an initialized payment
// and returns the gateway redirect to complete the charge at.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	res, err := h.payments.Start(r.Context(), payment.StartRequest{
		UserID:        userID,
		Fulfillment:   order.Fulfillment(req.Fulfillment),
		Address:       req.Address,
		CustomerNotes: req.CustomerNotes,
		Email:         req.Email,
		Name:          req.Name,
		Phone:         req.Phone,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:            orderToView(res.Order),
		Reference:        res.Payment.Reference,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
	})
}
