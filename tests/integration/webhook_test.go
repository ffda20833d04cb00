//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestWebhook_InvalidSignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY_0000000000000000","amount":1000}}`)

	resp := doWebhook(t, payload, "deadbeef")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhook_TamperedBody(t *testing.T) {
	signed := []byte(`{"event":"charge.success","data":{"reference":"PAY_0000000000000000","amount":1000}}`)
	tampered := []byte(`{"event":"charge.success","data":{"reference":"PAY_0000000000000000","amount":999999}}`)

	resp := doWebhook(t, tampered, sign(signed))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	payload := []byte(`{"event":"charge.success"`)

	resp := doWebhook(t, payload, sign(payload))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebhook_UnknownReference(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"PAY_FFFFFFFFFFFFFFFF","amount":1000}}`)

	resp := doWebhook(t, payload, sign(payload))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWebhook_UnknownEventType(t *testing.T) {
	payload := []byte(`{"event":"subscription.create","data":{"reference":"PAY_FFFFFFFFFFFFFFFF"}}`)

	resp := doWebhook(t, payload, sign(payload))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
