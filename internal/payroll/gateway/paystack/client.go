// Package paystack implements the payment gateway adapter against the
// Paystack REST API. The transfer reference doubles as the idempotency
// token: Paystack rejects a duplicate reference by returning the original
// transfer, which is what makes crash-and-retry safe.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"payguard/internal/payroll/ports"
	derrors "payguard/pkg/domain-errors"
)

const defaultTimeout = 10 * time.Second

// Client talks to the Paystack API.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.http = c }
}

func New(baseURL, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, derrors.Wrap(err, derrors.CodeInternal, "encode gateway request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeGatewayTransient, "gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeGatewayTransient, "read gateway response")
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, derrors.Newf(derrors.CodeGatewayTransient, "gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var env apiEnvelope
		_ = json.Unmarshal(raw, &env)
		return nil, derrors.Newf(derrors.CodeGatewayPermanent,
			"gateway rejected request: %d %s", resp.StatusCode, env.Message)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeGatewayTransient, "decode gateway response")
	}
	if !env.Status {
		return nil, derrors.Newf(derrors.CodeGatewayPermanent, "gateway error: %s", env.Message)
	}
	return env.Data, nil
}

// VerifyDestination checks that a transfer recipient token resolves.
func (c *Client) VerifyDestination(ctx context.Context, destination string) error {
	_, err := c.do(ctx, http.MethodGet, "/transferrecipient/"+destination, nil)
	return err
}

// CreateTransfer initiates a transfer with idempotencyKey as the reference.
func (c *Client) CreateTransfer(ctx context.Context, destination string, amount int64, idempotencyKey string) (*ports.Transfer, error) {
	payload := map[string]any{
		"source":    "balance",
		"amount":    amount,
		"recipient": destination,
		"reason":    "salary payment",
		"reference": idempotencyKey,
	}
	data, err := c.do(ctx, http.MethodPost, "/transfer", payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeGatewayTransient, "decode transfer response")
	}
	return &ports.Transfer{
		Reference: out.Reference,
		Status:    mapTransferStatus(out.Status),
	}, nil
}

// QueryTransferStatus resolves the definitive state of a transfer. This is
// the only source of truth for ambiguous outcomes.
func (c *Client) QueryTransferStatus(ctx context.Context, reference string) (ports.TransferStatus, error) {
	data, err := c.do(ctx, http.MethodGet, "/transfer/verify/"+reference, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", derrors.Wrap(err, derrors.CodeGatewayTransient, "decode transfer status")
	}
	return mapTransferStatus(out.Status), nil
}

// GetBalance returns the available balance in minor currency units.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	data, err := c.do(ctx, http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, err
	}

	var out []struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, derrors.Wrap(err, derrors.CodeGatewayTransient, "decode balance response")
	}
	if len(out) == 0 {
		return 0, derrors.New(derrors.CodeGatewayPermanent, "no balance ledger returned")
	}
	return out[0].Balance, nil
}

func mapTransferStatus(s string) ports.TransferStatus {
	switch s {
	case "success":
		return ports.TransferSucceeded
	case "failed", "reversed":
		return ports.TransferFailed
	default:
		return ports.TransferPending
	}
}

var _ ports.Gateway = (*Client)(nil)
