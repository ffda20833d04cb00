package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the purchasable catalog entry as seen by the checkout pipeline.
// Catalog presentation fields (descriptions, images, SEO) live elsewhere.
type Product struct {
	ID        string
	Title     string
	SKU       string
	Price     decimal.Decimal
	SalePrice *decimal.Decimal

	StockQuantity  int
	TrackStock     bool
	AllowBackorder bool
	Active         bool
}

// DisplayPrice returns the price charged at checkout, preferring an active
// sale price over the list price.
func (p *Product) DisplayPrice() decimal.Decimal {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// CanPurchase reports whether qty units can be sold right now. Inactive
// products are never purchasable; untracked stock and backorders always are.
func (p *Product) CanPurchase(qty int) bool {
	if !p.Active {
		return false
	}
	if !p.TrackStock || p.AllowBackorder {
		return true
	}
	return p.StockQuantity >= qty
}

// Repository defines the catalog lookups used by the settlement pipeline.
// Stock is consumed inside the payment-success transaction, not here.
type Repository interface {
	// List returns all active products in catalog order.
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
