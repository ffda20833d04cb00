// Package handler exposes the settlement pipeline over HTTP. Identity comes
// from the edge-injected X-User-ID header; authentication itself lives in
// front of this service.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// userIDHeader carries the caller identity, injected by the edge proxy.
const userIDHeader = "X-User-ID"

// Handler serves the cart, checkout, order, payment, and webhook endpoints,
// delegating business logic to the injected domain services.
type Handler struct {
	carts    *cart.Service
	orders   *order.Service
	payments *payment.Service
	products product.Repository
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	carts *cart.Service,
	orders *order.Service,
	payments *payment.Service,
	products product.Repository,
) *Handler {
	return &Handler{
		carts:    carts,
		orders:   orders,
		payments: payments,
		products: products,
	}
}

// Register attaches all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", h.GetProduct)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItem)
	mux.HandleFunc("PUT /api/cart/items/{productID}", h.UpdateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{productID}", h.RemoveCartItem)

	mux.HandleFunc("POST /api/checkout", h.Checkout)

	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/status", h.TransitionOrder)
	mux.HandleFunc("POST /api/orders/{id}/liquidate", h.LiquidateOrder)

	mux.HandleFunc("GET /api/payments/{reference}", h.GetPayment)
	mux.HandleFunc("POST /api/payments/{reference}/verify", h.VerifyPayment)

	mux.HandleFunc("POST /webhooks/paystack", h.PaystackWebhook)
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// userID extracts the caller identity, writing a 401 when absent.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// respondError maps domain errors to HTTP status codes. Unmapped errors are
// logged and surfaced as opaque 500s.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr      *order.InsufficientStockError
		transitionErr *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, stockErr.Error())
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.Is(err, order.ErrNotLiquidatable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrAmountMismatch):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrAddressRequired),
		errors.Is(err, order.ErrInvalidFulfillment):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, gateway.ErrRejected):
		zctx.From(r.Context()).Warn("payment gateway error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment gateway error")

	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
