//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestCart_RequiresIdentity(t *testing.T) {
	resp := doGet(t, "/api/cart", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCart_Flow(t *testing.T) {
	const user = "it-cart-flow"
	tshirt := productBySKU(t, "TSHIRT-BLK-M")
	hoodie := productBySKU(t, "HOODIE-GRY-L")

	// Empty to start.
	resp := doGet(t, "/api/cart", user)
	c := decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if len(c.Items) != 0 || c.Subtotal != "0.00" {
		t.Fatalf("expected empty cart, got %+v", c)
	}

	// Add two t-shirts.
	resp = doJSON(t, http.MethodPost, "/api/cart/items", user, map[string]any{
		"product_id": tshirt.ID, "quantity": 2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add: expected 200, got %d", resp.StatusCode)
	}
	c = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if c.Subtotal != "10000.00" {
		t.Errorf("subtotal after add: got %q, want %q", c.Subtotal, "10000.00")
	}

	// Hoodie is billed at its sale price.
	resp = doJSON(t, http.MethodPost, "/api/cart/items", user, map[string]any{
		"product_id": hoodie.ID, "quantity": 1,
	})
	c = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if c.Subtotal != "19500.00" {
		t.Errorf("subtotal with hoodie: got %q, want %q", c.Subtotal, "19500.00")
	}

	// Replace the t-shirt quantity.
	resp = doJSON(t, http.MethodPut, "/api/cart/items/"+tshirt.ID, user, map[string]any{"quantity": 1})
	c = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if c.Subtotal != "14500.00" {
		t.Errorf("subtotal after update: got %q, want %q", c.Subtotal, "14500.00")
	}

	// Remove the hoodie.
	resp = doJSON(t, http.MethodDelete, "/api/cart/items/"+hoodie.ID, user, nil)
	c = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if len(c.Items) != 1 || c.Subtotal != "5000.00" {
		t.Errorf("cart after remove: %+v", c)
	}

	// Clear whatever is left.
	resp = doJSON(t, http.MethodDelete, "/api/cart", user, nil)
	c = decodeJSON[cartResponse](t, resp)
	resp.Body.Close()
	if len(c.Items) != 0 || c.Subtotal != "0.00" {
		t.Errorf("cart after clear: %+v", c)
	}
}

func TestCart_StockGuard(t *testing.T) {
	const user = "it-cart-stock"
	sneaker := productBySKU(t, "SNEAKER-WHT-42") // 4 in stock, no backorder

	resp := doJSON(t, http.MethodPost, "/api/cart/items", user, map[string]any{
		"product_id": sneaker.ID, "quantity": 5,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCart_IsolatedPerUser(t *testing.T) {
	tshirt := productBySKU(t, "TSHIRT-BLK-M")

	resp := doJSON(t, http.MethodPost, "/api/cart/items", "it-cart-owner", map[string]any{
		"product_id": tshirt.ID, "quantity": 1,
	})
	resp.Body.Close()

	resp = doGet(t, "/api/cart", "it-cart-other")
	defer resp.Body.Close()
	if c := decodeJSON[cartResponse](t, resp); len(c.Items) != 0 {
		t.Errorf("carts leak between users: %+v", c)
	}
}
