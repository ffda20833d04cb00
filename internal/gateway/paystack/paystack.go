// Package paystack implements the gateway contract for the Paystack API.
// Amounts on the wire are in kobo; webhook authenticity is an HMAC-SHA512
// of the raw body under the secret key.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/gateway"
)

// DefaultBaseURL is the production Paystack API endpoint.
const DefaultBaseURL = "https://api.paystack.co"

var _ gateway.Gateway = (*Client)(nil)

// Config holds the Paystack client settings.
type Config struct {
	// BaseURL overrides the API endpoint; tests point it at a local server.
	BaseURL string
	// SecretKey authenticates API calls and signs webhooks.
	SecretKey string
	// CallbackURL is where Paystack redirects the customer after payment.
	CallbackURL string
	// Timeout bounds every API call. Defaults to 15s.
	Timeout time.Duration
}

// Client talks to the Paystack transaction API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Paystack client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements gateway.Gateway.
func (c *Client) Name() string { return "paystack" }

// Initialize starts a charge and returns the authorization URL the customer
// is redirected to.
func (c *Client) Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("email")
	e.Str(req.Email)
	e.FieldStart("amount")
	e.Int64(req.AmountSubunit)
	e.FieldStart("reference")
	e.Str(req.Reference)
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.FieldStart("callback_url")
	e.Str(c.cfg.CallbackURL)
	if len(req.Metadata) > 0 {
		e.FieldStart("metadata")
		e.ObjStart()
		for k, v := range req.Metadata {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	body, err := c.post(ctx, "/transaction/initialize", e.Bytes())
	if err != nil {
		return nil, err
	}

	var (
		ok      bool
		message string
		data    jx.Raw
	)
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Bool()
			ok = v
			return err
		case "message":
			v, err := d.Str()
			message = v
			return err
		case "data":
			v, err := d.Raw()
			data = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode initialize response")
	}
	if !ok {
		return nil, errors.Wrapf(gateway.ErrRejected, "initialize: %s", message)
	}

	res := &gateway.InitializeResult{Raw: data}
	d = jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "authorization_url":
			v, err := d.Str()
			res.AuthorizationURL = v
			return err
		case "access_code":
			v, err := d.Str()
			res.AccessCode = v
			return err
		case "reference":
			v, err := d.Str()
			res.Reference = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode initialize data")
	}

	return res, nil
}

// Verify polls the transaction state by reference.
func (c *Client) Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	body, err := c.get(ctx, "/transaction/verify/"+reference)
	if err != nil {
		return nil, err
	}

	var (
		ok      bool
		message string
		data    jx.Raw
	)
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Bool()
			ok = v
			return err
		case "message":
			v, err := d.Str()
			message = v
			return err
		case "data":
			v, err := d.Raw()
			data = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode verify response")
	}
	if !ok {
		return nil, errors.Wrapf(gateway.ErrRejected, "verify: %s", message)
	}

	res := &gateway.VerifyResult{Raw: data}
	d = jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			v, err := d.Str()
			res.Status = v
			return err
		case "amount":
			v, err := d.Int64()
			res.AmountSubunit = v
			return err
		case "id":
			return decodeTransactionID(d, &res.TransactionID)
		case "gateway_response":
			v, err := d.Str()
			res.GatewayResponse = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode verify data")
	}

	return res, nil
}

// VerifySignature recomputes the HMAC-SHA512 of the raw body and compares it
// to the x-paystack-signature header value in constant time.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(c.cfg.SecretKey))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

// decodeTransactionID accepts both numeric and string transaction IDs.
// Paystack sends numbers, but the sandbox has been seen sending strings.
func decodeTransactionID(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		*dst = v
		return err
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*dst = n.String()
		return nil
	default:
		return d.Skip()
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(gateway.ErrUnavailable, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(gateway.ErrUnavailable, "read response")
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(gateway.ErrUnavailable, "gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errors.Wrapf(gateway.ErrRejected, "gateway returned %d: %s", resp.StatusCode, body)
	}

	return body, nil
}
