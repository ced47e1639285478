package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payguard/internal/payroll/ports"
	derrors "payguard/pkg/domain-errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "sk_test_secret")
}

func TestCreateTransfer(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transfer", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Transfer requires OTP to continue",
			"data":    map[string]any{"reference": "wrk:2025-01", "status": "pending"},
		})
	})

	transfer, err := client.CreateTransfer(context.Background(), "RCP_abc", 150000, "wrk:2025-01")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.Equal(t, "balance", gotPayload["source"])
	assert.Equal(t, float64(150000), gotPayload["amount"])
	assert.Equal(t, "RCP_abc", gotPayload["recipient"])
	assert.Equal(t, "wrk:2025-01", gotPayload["reference"], "idempotency key rides as the reference")

	assert.Equal(t, "wrk:2025-01", transfer.Reference)
	assert.Equal(t, ports.TransferPending, transfer.Status)
}

func TestQueryTransferStatus(t *testing.T) {
	cases := []struct {
		apiStatus string
		want      ports.TransferStatus
	}{
		{"success", ports.TransferSucceeded},
		{"failed", ports.TransferFailed},
		{"reversed", ports.TransferFailed},
		{"pending", ports.TransferPending},
		{"otp", ports.TransferPending},
	}
	for _, tc := range cases {
		t.Run(tc.apiStatus, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/transfer/verify/wrk:2025-01", r.URL.Path)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"status": true,
					"data":   map[string]any{"status": tc.apiStatus},
				})
			})

			status, err := client.QueryTransferStatus(context.Background(), "wrk:2025-01")
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestGetBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/balance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": []map[string]any{
				{"currency": "NGN", "balance": 550000},
			},
		})
	})

	balance, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(550000), balance)
}

func TestErrorClassification(t *testing.T) {
	t.Run("5xx is transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := client.CreateTransfer(context.Background(), "RCP_abc", 1, "ref")
		assert.True(t, derrors.Is(err, derrors.CodeGatewayTransient))
	})

	t.Run("429 is transient", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := client.GetBalance(context.Background())
		assert.True(t, derrors.Is(err, derrors.CodeGatewayTransient))
	})

	t.Run("4xx is permanent", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": false, "message": "Recipient not found",
			})
		})
		err := client.VerifyDestination(context.Background(), "RCP_missing")
		assert.True(t, derrors.Is(err, derrors.CodeGatewayPermanent))
		assert.Contains(t, err.Error(), "Recipient not found")
	})

	t.Run("status false envelope is permanent", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": false, "message": "Insufficient balance",
			})
		})
		_, err := client.CreateTransfer(context.Background(), "RCP_abc", 1, "ref")
		assert.True(t, derrors.Is(err, derrors.CodeGatewayPermanent))
	})

	t.Run("unreachable host is transient", func(t *testing.T) {
		client := New("http://127.0.0.1:1", "sk_test_secret")
		_, err := client.GetBalance(context.Background())
		assert.True(t, derrors.Is(err, derrors.CodeGatewayTransient))
	})
}
