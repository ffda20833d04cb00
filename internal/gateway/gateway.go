// Package gateway defines the contract every payment gateway adapter
// implements. The settlement pipeline only ever talks to this interface;
// protocol details stay inside the per-gateway packages.
package gateway

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnavailable wraps network and timeout failures talking to the gateway.
// Retryable: the payment keeps its prior state and the caller may re-poll
// verify or wait for webhook redelivery.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrRejected is returned when the gateway definitively refuses a request
// (validation failure, declined initialization). Not retryable as-is.
var ErrRejected = errors.New("payment gateway rejected request")

// InitializeRequest carries everything the gateway needs to start a charge.
// Amounts are in the minor currency unit to avoid floating-point error.
type InitializeRequest struct {
	Email         string
	AmountSubunit int64
	Reference     string
	Currency      string
	Metadata      map[string]string
}

// InitializeResult holds the gateway's redirect handle for the customer.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	// Raw is the gateway's response data blob, persisted into the
	// payment's gateway_data for audit.
	Raw []byte
}

// VerifyResult is the gateway's authoritative view of one charge.
type VerifyResult struct {
	// Status is the gateway-reported charge status: "success", "failed",
	// "abandoned", "pending", "processing", "ongoing".
	Status string
	// AmountSubunit is the charged amount in the minor currency unit. The
	// caller must compare it against the stored payment amount.
	AmountSubunit int64
	// TransactionID is the gateway-assigned transaction identifier.
	TransactionID string
	// GatewayResponse is the gateway's human-readable outcome message.
	GatewayResponse string
	Raw             []byte
}

// Gateway isolates one external payment provider behind initialize, verify,
// and webhook-signature operations.
type Gateway interface {
	// Name identifies the provider ("paystack").
	Name() string
	// Initialize starts a charge and returns the customer redirect handle.
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	// Verify polls the gateway for the charge state by reference.
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	// VerifySignature checks the webhook HMAC over the raw request body
	// using a constant-time comparison.
	VerifySignature(payload []byte, signature string) bool
}
