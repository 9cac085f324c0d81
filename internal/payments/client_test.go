// SPDX-License-Identifier: MIT

package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2500", r.PostForm.Get("amount"), "amount in cents")
		assert.Equal(t, "user-1", r.PostForm.Get("metadata[user_id]"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pi_1", "client_secret": "pi_1_secret", "amount": 2500,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test")
	intent, err := c.CreateIntent(context.Background(), "user-1", decimal.RequireFromString("25.00"))
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.True(t, intent.Amount.Equal(decimal.RequireFromString("25.00")))
}

func TestTransferSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "payout-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1500", r.PostForm.Get("amount"))
		assert.Equal(t, "acct_1", r.PostForm.Get("destination"))

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "tr_1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test")
	ref, err := c.Transfer(context.Background(), "acct_1", decimal.RequireFromString("15.00"), "payout-1")
	require.NoError(t, err)
	assert.Equal(t, "tr_1", ref)
}

func TestTransferSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient platform funds"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test")
	_, err := c.Transfer(context.Background(), "acct_1", decimal.RequireFromString("15.00"), "payout-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "402")
}

func TestVerifySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	header := Sign(payload, "whsec_1", at)

	require.NoError(t, VerifySignature(payload, header, "whsec_1", at.Add(time.Minute), 5*time.Minute))
}

func TestVerifySignatureRejects(t *testing.T) {
	payload := []byte(`{"type":"payment_intent.succeeded"}`)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	header := Sign(payload, "whsec_1", at)

	t.Run("wrong secret", func(t *testing.T) {
		assert.Error(t, VerifySignature(payload, header, "whsec_2", at, 5*time.Minute))
	})
	t.Run("tampered payload", func(t *testing.T) {
		assert.Error(t, VerifySignature([]byte(`{"type":"other"}`), header, "whsec_1", at, 5*time.Minute))
	})
	t.Run("stale timestamp", func(t *testing.T) {
		assert.Error(t, VerifySignature(payload, header, "whsec_1", at.Add(time.Hour), 5*time.Minute))
	})
	t.Run("malformed header", func(t *testing.T) {
		assert.Error(t, VerifySignature(payload, "v1=abc", "whsec_1", at, 5*time.Minute))
	})
}
