package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

type cartItemView struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
}

type cartView struct {
	Items    []cartItemView `json:"items"`
	Subtotal string         `json:"subtotal"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// GetCart returns the caller's cart with current display prices. Prices here
// are informational; the binding snapshot happens at checkout.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	view := cartView{Items: []cartItemView{}, Subtotal: "0.00"}
	if len(c.Items) > 0 {
		ids := make([]string, len(c.Items))
		for i, it := range c.Items {
			ids[i] = it.ProductID
		}
		products, err := h.products.GetByIDs(r.Context(), ids)
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		prices := make(map[string]decimal.Decimal, len(products))
		titles := make(map[string]string, len(products))
		for _, p := range products {
			prices[p.ID] = p.DisplayPrice()
			titles[p.ID] = p.Title
		}

		for _, it := range c.Items {
			price := prices[it.ProductID]
			view.Items = append(view.Items, cartItemView{
				ProductID: it.ProductID,
				Title:     titles[it.ProductID],
				UnitPrice: price.StringFixed(2),
				Quantity:  it.Quantity,
				LineTotal: price.Mul(decimal.NewFromInt(int64(it.Quantity))).StringFixed(2),
			})
		}
		view.Subtotal = c.Subtotal(prices).StringFixed(2)
	}

	writeJSON(w, http.StatusOK, view)
}

// AddCartItem puts more units of a product into the caller's cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	if err := h.carts.Add(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.GetCart(w, r)
}

// UpdateCartItem replaces a cart line's quantity.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if !readJSON(w, r, &req) {
		return
	}

	if err := h.carts.UpdateQuantity(r.Context(), userID, r.PathValue("productID"), req.Quantity); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.GetCart(w, r)
}

// RemoveCartItem deletes a line from the caller's cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.carts.Remove(r.Context(), userID, r.PathValue("productID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.GetCart(w, r)
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.GetCart(w, r)
}
