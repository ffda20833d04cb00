//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/products", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 5 {
		t.Fatalf("expected 5 products, got %d", len(products))
	}

	bySKU := make(map[string]productResponse, len(products))
	for _, p := range products {
		bySKU[p.SKU] = p
	}

	tshirt, ok := bySKU["TSHIRT-BLK-M"]
	if !ok {
		t.Fatal("TSHIRT-BLK-M not in catalog")
	}
	if tshirt.DisplayPrice != "5000.00" {
		t.Errorf("t-shirt display price: got %q, want %q", tshirt.DisplayPrice, "5000.00")
	}
	if !tshirt.InStock {
		t.Error("t-shirt should be in stock")
	}

	hoodie := bySKU["HOODIE-GRY-L"]
	if hoodie.SalePrice != "9500.00" || hoodie.DisplayPrice != "9500.00" {
		t.Errorf("hoodie sale pricing: sale=%q display=%q, want 9500.00 for both", hoodie.SalePrice, hoodie.DisplayPrice)
	}

	// Sold out but backorderable: still purchasable.
	if mug := bySKU["MUG-CERAMIC"]; !mug.InStock {
		t.Error("backorderable mug should report purchasable")
	}
}

func TestGetProduct(t *testing.T) {
	tshirt := productBySKU(t, "TSHIRT-BLK-M")

	resp := doGet(t, "/api/products/"+tshirt.ID, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeJSON[productResponse](t, resp)
	if got.SKU != "TSHIRT-BLK-M" {
		t.Errorf("sku: got %q", got.SKU)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/products/00000000-0000-0000-0000-000000000000", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("error code: got %d", body.Code)
	}
}
