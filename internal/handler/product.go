package handler

import (
	"net/http"

	"github.com/xenking/storefront-checkout/internal/domain/product"
)

type productView struct {
	ID             string `json:"id"`
	SKU            string `json:"sku"`
	Title          string `json:"title"`
	Price          string `json:"price"`
	SalePrice      string `json:"sale_price,omitempty"`
	DisplayPrice   string `json:"display_price"`
	InStock        bool   `json:"in_stock"`
	AllowBackorder bool   `json:"allow_backorder"`
}

func productToView(p *product.Product) productView {
	v := productView{
		ID:             p.ID,
		SKU:            p.SKU,
		Title:          p.Title,
		Price:          p.Price.StringFixed(2),
		DisplayPrice:   p.DisplayPrice().StringFixed(2),
		InStock:        p.CanPurchase(1),
		AllowBackorder: p.AllowBackorder,
	}
	if p.SalePrice != nil {
		v.SalePrice = p.SalePrice.StringFixed(2)
	}
	return v
}

// ListProducts returns the purchasable catalog. Public: browsing needs no
// identity.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	views := make([]productView, len(products))
	for i := range products {
		views[i] = productToView(&products[i])
	}
	writeJSON(w, http.StatusOK, views)
}

// GetProduct returns one catalog entry.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productToView(p))
}
