package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
	"autotrader/pkg/market"
)

func TestMockFeedWalksEachSymbol(t *testing.T) {
	m := &MockFeed{Symbols: []string{"AAPL", "MSFT"}, StartPrice: 50, Step: 0.01, Seed: 7}
	var last []market.Tick
	for i := 0; i < 100; i++ {
		last = m.Next(time.Now())
		require.Len(t, last, 2)
		for _, tk := range last {
			assert.Greater(t, tk.Price, 0.0)
		}
	}
	assert.NotEqual(t, last[0].Price, last[1].Price)
	assert.InDelta(t, 50, last[0].Price, 50*0.7)
}

func TestMockFeedPublishes(t *testing.T) {
	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	(&MockFeed{Bus: bus, Symbols: []string{"AAPL"}, Interval: 10 * time.Millisecond, Seed: 1}).Start(ctx)

	select {
	case msg := <-ticks:
		assert.Equal(t, "AAPL", msg.(market.Tick).Symbol)
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}
}

func TestFeedPublishesStreamTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]any
		_ = conn.ReadJSON(&sub)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"AAPL","price":123.4}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	bus := events.NewBus()
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	(&Feed{
		Stream:  market.NewStreamClient("ws" + strings.TrimPrefix(srv.URL, "http")),
		Bus:     bus,
		Symbols: []string{"AAPL"},
	}).Start(ctx)

	select {
	case msg := <-ticks:
		tk := msg.(market.Tick)
		assert.Equal(t, 123.4, tk.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}
}
