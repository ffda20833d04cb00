package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// signatureHeader carries the gateway's HMAC of the raw request body.
const signatureHeader = "x-paystack-signature"

// PaystackWebhook receives gateway notifications. The body is read raw before
// any parsing; the HMAC is computed over the exact bytes the gateway sent.
// Responses drive the gateway's redelivery: 2xx stops it, anything else
// triggers a retry.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	err = h.payments.ProcessWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, payment.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed payload")
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown payment reference")
	case errors.Is(err, payment.ErrAmountMismatch):
		// Recorded and failed; a retry cannot change the outcome.
		writeError(w, http.StatusBadRequest, "amount mismatch")
	default:
		zctx.From(r.Context()).Error("webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
