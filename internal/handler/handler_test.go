package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/notify"
)

type mockProductRepo struct {
	products map[string]product.Product
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockCartRepo struct {
	items map[string][]cart.Item // by user
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{items: make(map[string][]cart.Item)}
}

func (m *mockCartRepo) GetByUser(_ context.Context, userID string) (*cart.Cart, error) {
	return &cart.Cart{ID: "cart-" + userID, UserID: userID, Items: m.items[userID]}, nil
}

func (m *mockCartRepo) UpsertItem(_ context.Context, userID, productID string, delta int) error {
	for i, it := range m.items[userID] {
		if it.ProductID == productID {
			m.items[userID][i].Quantity += delta
			return nil
		}
	}
	m.items[userID] = append(m.items[userID], cart.Item{ProductID: productID, Quantity: delta})
	return nil
}

func (m *mockCartRepo) SetItemQuantity(_ context.Context, userID, productID string, qty int) error {
	for i, it := range m.items[userID] {
		if it.ProductID == productID {
			m.items[userID][i].Quantity = qty
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *mockCartRepo) RemoveItem(_ context.Context, userID, productID string) error {
	for i, it := range m.items[userID] {
		if it.ProductID == productID {
			m.items[userID] = append(m.items[userID][:i], m.items[userID][i+1:]...)
			return nil
		}
	}
	return cart.ErrItemNotFound
}

func (m *mockCartRepo) Clear(_ context.Context, userID string) error {
	delete(m.items, userID)
	return nil
}

type mockOrderRepo struct {
	orders map[string]*order.Order
	nextID int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]*order.Order)}
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, o *order.Order, _ *order.StatusLog) error {
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) Liquidate(_ context.Context, o *order.Order, _ *order.StatusLog) error {
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

// mockPaymentRepo persists the order alongside the payment the way the real
// storage layer's joint transaction does.
type mockPaymentRepo struct {
	payments map[string]*payment.Payment
	orders   *mockOrderRepo
	carts    *mockCartRepo
	webhooks int
}

func newMockPaymentRepo(orders *mockOrderRepo, carts *mockCartRepo) *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[string]*payment.Payment), orders: orders, carts: carts}
}

func (m *mockPaymentRepo) GetByReference(_ context.Context, reference string) (*payment.Payment, error) {
	p, ok := m.payments[reference]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) GetByOrderID(_ context.Context, orderID string) (*payment.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (m *mockPaymentRepo) CreateWithOrder(_ context.Context, o *order.Order, p *payment.Payment) error {
	m.orders.nextID++
	o.ID = fmt.Sprintf("o%d", m.orders.nextID)
	p.OrderID = o.ID
	oc := *o
	m.orders.orders[o.ID] = &oc
	pc := *p
	m.payments[p.Reference] = &pc
	return nil
}

func (m *mockPaymentRepo) DeleteWithOrder(_ context.Context, p *payment.Payment) error {
	delete(m.orders.orders, p.OrderID)
	delete(m.payments, p.Reference)
	return nil
}

func (m *mockPaymentRepo) MarkProcessing(_ context.Context, reference string, _ []byte) (bool, error) {
	p, ok := m.payments[reference]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status != payment.StatusPending {
		return false, nil
	}
	p.Status = payment.StatusProcessing
	m.orders.orders[p.OrderID].Status = order.StatusPaymentPending
	return true, nil
}

func (m *mockPaymentRepo) ApplySuccess(_ context.Context, app payment.SuccessApplication) (bool, error) {
	p, ok := m.payments[app.Reference]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status == payment.StatusSuccess {
		return false, nil
	}
	p.Status = payment.StatusSuccess
	p.ExternalTransactionID = app.ExternalTransactionID
	o := m.orders.orders[p.OrderID]
	o.Status = order.StatusPaid
	_ = m.carts.Clear(context.Background(), o.UserID)
	return true, nil
}

func (m *mockPaymentRepo) MarkFailed(_ context.Context, reference, message, code string) (bool, error) {
	p, ok := m.payments[reference]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = payment.StatusFailed
	p.ErrorMessage = message
	p.ErrorCode = code
	m.orders.orders[p.OrderID].Status = order.StatusPaymentFailed
	return true, nil
}

func (m *mockPaymentRepo) MarkCancelled(_ context.Context, reference, message string) (bool, error) {
	p, ok := m.payments[reference]
	if !ok {
		return false, payment.ErrNotFound
	}
	if p.Status.IsTerminal() {
		return false, nil
	}
	p.Status = payment.StatusCancelled
	p.ErrorMessage = message
	m.orders.orders[p.OrderID].Status = order.StatusCancelled
	return true, nil
}

func (m *mockPaymentRepo) InsertWebhook(_ context.Context, _ *payment.Webhook) error {
	m.webhooks++
	return nil
}

func (m *mockPaymentRepo) MarkWebhookProcessed(_ context.Context, _ string) error { return nil }

type mockGateway struct {
	sigOK bool
}

func (m *mockGateway) Name() string { return "paystack" }

func (m *mockGateway) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	return &gateway.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (m *mockGateway) Verify(_ context.Context, _ string) (*gateway.VerifyResult, error) {
	return &gateway.VerifyResult{Status: "pending"}, nil
}

func (m *mockGateway) VerifySignature(_ []byte, _ string) bool { return m.sigOK }

type testServer struct {
	mux      *http.ServeMux
	carts    *mockCartRepo
	orders   *mockOrderRepo
	payments *mockPaymentRepo
	gw       *mockGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	products := &mockProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", Title: "Widget", Price: decimal.NewFromInt(5000), StockQuantity: 10, TrackStock: true, Active: true},
		"p2": {ID: "p2", Title: "Gadget", Price: decimal.NewFromInt(2500), StockQuantity: 1, TrackStock: true, Active: true},
	}}
	carts := newMockCartRepo()
	orders := newMockOrderRepo()
	payments := newMockPaymentRepo(orders, carts)
	gw := &mockGateway{sigOK: true}

	pricing := order.PricingConfig{
		DefaultShippingCost:   decimal.NewFromInt(1000),
		FreeShippingThreshold: decimal.NewFromInt(15000),
		TaxRate:               decimal.RequireFromString("0.075"),
	}

	lg := zaptest.NewLogger(t)
	orderSvc := order.NewService(orders, products, pricing, notify.Nop{}, lg)
	paymentSvc := payment.NewService(payments, carts, orderSvc, gw, notify.Nop{}, lg)
	cartSvc := cart.NewService(carts, products)

	mux := http.NewServeMux()
	NewHandler(cartSvc, orderSvc, paymentSvc, products).Register(mux)

	return &testServer{mux: mux, carts: carts, orders: orders, payments: payments, gw: gw}
}

func (ts *testServer) do(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

const checkoutBody = `{
	"fulfillment": "deliver",
	"address": {
		"full_name": "Ada Obi",
		"email": "ada@example.com",
		"phone": "+2348000000000",
		"line1": "1 Marina Rd",
		"city": "Lagos",
		"state": "Lagos",
		"postal_code": "100001",
		"country": "NG"
	},
	"email": "ada@example.com",
	"name": "Ada Obi"
}`

func TestMissingIdentity(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/cart", "/api/orders/o1", "/api/payments/PAY_X"} {
		rec := ts.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestProductEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/products", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]productView](t, rec), 2)

	rec = ts.do(http.MethodGet, "/api/products/p1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[productView](t, rec)
	assert.Equal(t, "Widget", view.Title)
	assert.Equal(t, "5000.00", view.DisplayPrice)
	assert.True(t, view.InStock)

	rec = ts.do(http.MethodGet, "/api/products/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/cart", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[cartView](t, rec)
	assert.Empty(t, view.Items)
	assert.Equal(t, "0.00", view.Subtotal)

	rec = ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[cartView](t, rec)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "Widget", view.Items[0].Title)
	assert.Equal(t, "10000.00", view.Items[0].LineTotal)
	assert.Equal(t, "10000.00", view.Subtotal)

	rec = ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p2","quantity":5}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "only one p2 in stock")

	rec = ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"ghost","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/cart/items", "u1", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/api/cart/items/p1", "u1", `{"quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[cartView](t, rec)
	assert.Equal(t, "5000.00", view.Subtotal)

	rec = ts.do(http.MethodDelete, "/api/cart/items/p1", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[cartView](t, rec)
	assert.Empty(t, view.Items)

	ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":2}`)
	ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p2","quantity":1}`)
	rec = ts.do(http.MethodDelete, "/api/cart", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[cartView](t, rec)
	assert.Empty(t, view.Items)
	assert.Equal(t, "0.00", view.Subtotal)
}

func TestCheckout(t *testing.T) {
	t.Run("creates the order and returns the redirect", func(t *testing.T) {
		ts := newTestServer(t)
		ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":2}`)

		rec := ts.do(http.MethodPost, "/api/checkout", "u1", checkoutBody)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		res := decodeBody[checkoutResponse](t, rec)
		assert.Equal(t, "payment_pending", res.Order.Status)
		assert.Equal(t, "11750.00", res.Order.Total)
		assert.Contains(t, res.AuthorizationURL, res.Reference)

		// The cart survives until the payment succeeds.
		cartRec := ts.do(http.MethodGet, "/api/cart", "u1", "")
		assert.Equal(t, "10000.00", decodeBody[cartView](t, cartRec).Subtotal)
	})

	t.Run("empty cart is rejected", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(http.MethodPost, "/api/checkout", "u1", checkoutBody)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("email is required", func(t *testing.T) {
		ts := newTestServer(t)
		ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":1}`)

		rec := ts.do(http.MethodPost, "/api/checkout", "u1", `{"fulfillment":"hold_asset"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delivery without an address is rejected", func(t *testing.T) {
		ts := newTestServer(t)
		ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":1}`)

		rec := ts.do(http.MethodPost, "/api/checkout", "u1", `{"fulfillment":"deliver","email":"a@b.c"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestOrderEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":2}`)
	res := decodeBody[checkoutResponse](t, ts.do(http.MethodPost, "/api/checkout", "u1", checkoutBody))

	t.Run("owner can read the order", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/orders/"+res.Order.ID, "u1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, res.Order.OrderNumber, decodeBody[orderView](t, rec).OrderNumber)
	})

	t.Run("other users see not found", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/orders/"+res.Order.ID, "u2", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("payment statuses cannot be set directly", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/orders/"+res.Order.ID+"/status", "u1", `{"status":"paid"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("shipping an unpaid order conflicts", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/orders/"+res.Order.ID+"/status", "u1", `{"status":"shipped","tracking_number":"TRK1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestSettlementFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/cart/items", "u1", `{"product_id":"p1","quantity":2}`)
	res := decodeBody[checkoutResponse](t, ts.do(http.MethodPost, "/api/checkout", "u1", checkoutBody))

	webhook := fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":%q,"amount":1175000,"id":9001,"gateway_response":"Successful"}}`,
		res.Reference,
	)

	t.Run("webhook with a bad signature is rejected", func(t *testing.T) {
		ts.gw.sigOK = false
		rec := ts.do(http.MethodPost, "/webhooks/paystack", "", webhook)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, ts.payments.webhooks)
	})

	t.Run("authentic webhook settles the order", func(t *testing.T) {
		ts.gw.sigOK = true
		rec := ts.do(http.MethodPost, "/webhooks/paystack", "", webhook)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		orderRec := ts.do(http.MethodGet, "/api/orders/"+res.Order.ID, "u1", "")
		assert.Equal(t, "paid", decodeBody[orderView](t, orderRec).Status)

		payRec := ts.do(http.MethodGet, "/api/payments/"+res.Reference, "u1", "")
		require.Equal(t, http.StatusOK, payRec.Code)
		assert.Equal(t, "success", decodeBody[paymentView](t, payRec).Status)

		cartRec := ts.do(http.MethodGet, "/api/cart", "u1", "")
		assert.Empty(t, decodeBody[cartView](t, cartRec).Items, "cart clears on settlement")
	})

	t.Run("redelivered webhook is accepted without effect", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/webhooks/paystack", "", webhook)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("webhook for an unknown reference reports not found", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/webhooks/paystack", "",
			`{"event":"charge.success","data":{"reference":"PAY_FFFFFFFFFFFFFFFF","amount":100}}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("verify is idempotent once settled", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/payments/"+res.Reference+"/verify", "u1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", decodeBody[paymentView](t, rec).Status)
	})

	t.Run("payments are private to their owner", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/payments/"+res.Reference, "u2", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
