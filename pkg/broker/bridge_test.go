package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T, handler http.HandlerFunc) *Bridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBridge(BridgeConfig{BaseURL: srv.URL, Token: "secret", RequestsPerSec: 100, Burst: 100})
}

func TestBridgeAccount(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"equity":105000.5,"cash":40000,"available_balance":38000,
			"positions":[{"symbol":"AAPL","quantity":100,"available_quantity":100,"avg_price":150.2}]}`))
	})

	acct, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 38000.0, acct.AvailableBalance, 1e-9)
	h, ok := acct.Holding("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(100), h.Quantity)
	_, ok = acct.Holding("MSFT")
	assert.False(t, ok)
}

func TestBridgePlaceOrder(t *testing.T) {
	var got OrderRequest
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"b-1","status":"filled","filled_price":101.25,"filled_quantity":5}`))
	})

	ack, err := b.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 5, Price: 101, Strategy: "ma_cross"})
	require.NoError(t, err)
	assert.Equal(t, "b-1", ack.OrderID)
	assert.InDelta(t, 101.25, ack.FilledPrice, 1e-9)
	assert.Equal(t, OrderRequest{Symbol: "AAPL", Action: "BUY", Quantity: 5, Price: 101, Strategy: "ma_cross"}, got)
}

func TestBridgeOrderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"market closed"}`, true},
		{"rejected status", http.StatusOK, `{"status":"rejected","message":"no shares to borrow"}`, true},
		{"server error", http.StatusBadGateway, `upstream down`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := b.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Action: "SELL", Quantity: 1, Price: 1})
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errorIsRejected(err))
		})
	}
}

func TestBridgeSignal(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TSLA", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"direction":"SHORT","confidence":0.7,"reason":"gap fade"}`))
	})

	sig, err := b.Signal(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "TSLA", sig.Symbol)
	assert.Equal(t, "SHORT", sig.Direction)
	assert.InDelta(t, 0.7, sig.Confidence, 1e-9)
}

func TestBridgeHonoursContext(t *testing.T) {
	b := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Account(ctx)
	assert.Error(t, err)
}
