package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClient_Refund(t *testing.T) {
	var got GatewayRefundRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/refunds", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(GatewayRefundResponse{Status: "succeeded"})
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "sk_test", time.Second, nil)
	require.NoError(t, c.Refund(context.Background(), "ch_123", decimal.RequireFromString("42.50")))

	assert.Equal(t, "Bearer sk_test", auth)
	assert.Equal(t, "ch_123", got.Reference)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("42.5")))
}

func TestGatewayClient_RejectedRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GatewayRefundResponse{Status: "failed", Message: "charge already refunded"})
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "", time.Second, nil)
	err := c.Refund(context.Background(), "ch_1", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charge already refunded")
}

func TestGatewayClient_OpensBreakerOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Hour})
	c := NewGatewayClient(srv.URL, "", time.Second, cb)

	for i := 0; i < 2; i++ {
		err := c.Refund(context.Background(), "ch_1", decimal.NewFromInt(10))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	}
	assert.Equal(t, CBOpen, c.Breaker().State())

	err := c.Refund(context.Background(), "ch_1", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGatewayClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(GatewayRefundResponse{Status: "succeeded"})
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "", 50*time.Millisecond, nil)
	err := c.Refund(context.Background(), "ch_1", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestGatewayClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "", time.Second, nil)
	for i := 0; i < 8; i++ {
		err := c.Refund(context.Background(), "ch_1", decimal.NewFromInt(10))
		assert.ErrorIs(t, err, ErrGatewayRejected)
	}
	assert.Equal(t, CBClosed, c.Breaker().State())
	assert.EqualValues(t, 8, atomic.LoadInt32(&hits))
}
