package handler

import (
	"net/http"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

type paymentView struct {
	Reference             string     `json:"reference"`
	OrderID               string     `json:"order_id"`
	Status                string     `json:"status"`
	Amount                string     `json:"amount"`
	Currency              string     `json:"currency"`
	Gateway               string     `json:"gateway"`
	ExternalTransactionID string     `json:"external_transaction_id,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	ErrorCode             string     `json:"error_code,omitempty"`
	InitiatedAt           time.Time  `json:"initiated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

func paymentToView(p *payment.Payment) paymentView {
	return paymentView{
		Reference:             p.Reference,
		OrderID:               p.OrderID,
		Status:                string(p.Status),
		Amount:                p.Amount.StringFixed(2),
		Currency:              p.Currency,
		Gateway:               p.Gateway,
		ExternalTransactionID: p.ExternalTransactionID,
		ErrorMessage:          p.ErrorMessage,
		ErrorCode:             p.ErrorCode,
		InitiatedAt:           p.InitiatedAt,
		CompletedAt:           p.CompletedAt,
	}
}

// GetPayment returns the current state of one of the caller's payments.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	p, err := h.payments.Get(r.Context(), r.PathValue("reference"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if p.UserID != userID {
		writeError(w, http.StatusNotFound, payment.ErrNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, paymentToView(p))
}

// VerifyPayment asks the gateway for the authoritative charge state and
// applies the outcome. Customers hit this from the payment return page;
// calling it repeatedly is safe.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	p, err := h.payments.Get(r.Context(), r.PathValue("reference"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if p.UserID != userID {
		writeError(w, http.StatusNotFound, payment.ErrNotFound.Error())
		return
	}

	p, err = h.payments.Verify(r.Context(), p.Reference)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paymentToView(p))
}
