package payment

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

func newChargeRequest() ChargeRequest {
	return ChargeRequest{
		Contact:        BillingContact{Name: "Ana", Email: "ana@example.com", Address: "1 Main St", Phone: "555"},
		Amount:         decimal.RequireFromString("80.00"),
		Token:          "tok_visa",
		IdempotencyKey: IdempotencyKey(15),
		Reference:      "purchase-15",
	}
}

func TestHTTPGateway_Charge_Success(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ch_1","status":"succeeded"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "sk_test", 2*time.Second)
	res, err := g.Charge(context.Background(), newChargeRequest())
	require.NoError(t, err)

	assert.Equal(t, "ch_1", res.PaymentRef)
	assert.Equal(t, IdempotencyKey(15), gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "80", gotBody["amount"])
	assert.Equal(t, "tok_visa", gotBody["card_token"])
}

func TestHTTPGateway_Charge_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"card_declined","message":"insufficient funds"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, "k", time.Second).Charge(context.Background(), newChargeRequest())
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestHTTPGateway_Charge_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPGateway(srv.URL, "k", time.Second).Charge(context.Background(), newChargeRequest())
	assert.ErrorIs(t, err, ErrTransient)
	assert.False(t, IsTimeout(err))
}

func TestHTTPGateway_Charge_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPGateway(srv.URL, "k", 5*time.Second).Charge(ctx, newChargeRequest())
	assert.ErrorIs(t, err, ErrTransient)
	assert.True(t, IsTimeout(err))
}

func TestIdempotencyKey_StablePerPurchase(t *testing.T) {
	assert.Equal(t, IdempotencyKey(7), IdempotencyKey(7))
	assert.NotEqual(t, IdempotencyKey(7), IdempotencyKey(8))
	assert.Len(t, IdempotencyKey(7), 36)
}

func TestSandboxGateway(t *testing.T) {
	g := NewSandboxGateway()
	req := newChargeRequest()

	res, err := g.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, res.PaymentRef, "sbx_")

	req.Token = "tok_decline_insufficient"
	_, err = g.Charge(context.Background(), req)
	assert.ErrorIs(t, err, ErrDeclined)

	req.Token = "tok_timeout"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Charge(ctx, req)
	assert.ErrorIs(t, err, ErrTransient)
	assert.True(t, IsTimeout(err))
}
