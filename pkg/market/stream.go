// Package market is the websocket client for the upstream price stream.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tick is one price observation.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

type wireTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// StreamClient subscribes to a price stream that pushes
// {"symbol","price","timestamp"} objects, singly or batched in an array.
type StreamClient struct {
	URL    string
	dialer *websocket.Dialer
}

func NewStreamClient(url string) *StreamClient {
	return &StreamClient{URL: url, dialer: websocket.DefaultDialer}
}

// Subscribe dials the stream and asks for symbols. The returned channel is
// closed when the connection ends or stop is called.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string) (<-chan Tick, func(), error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial price stream: %w", err)
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: upper}); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("subscribe price stream: %w", err)
	}

	out := make(chan Tick, 256)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("market: stream read error: %v", err)
				return
			}
			ticks, err := ParseTicks(msg)
			if err != nil {
				log.Printf("market: stream parse error: %v", err)
				continue
			}
			for _, t := range ticks {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// ParseTicks decodes a single tick object or an array of them. Entries
// without a symbol or with a non-positive price are dropped.
func ParseTicks(msg []byte) ([]Tick, error) {
	var batch []wireTick
	trimmed := strings.TrimSpace(string(msg))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(msg, &batch); err != nil {
			return nil, fmt.Errorf("decode tick batch: %w", err)
		}
	} else {
		var one wireTick
		if err := json.Unmarshal(msg, &one); err != nil {
			return nil, fmt.Errorf("decode tick: %w", err)
		}
		batch = []wireTick{one}
	}

	out := make([]Tick, 0, len(batch))
	for _, w := range batch {
		if w.Symbol == "" || w.Price <= 0 {
			continue
		}
		ts := time.Now()
		if w.Timestamp > 0 {
			ts = time.UnixMilli(w.Timestamp)
		}
		out = append(out, Tick{Symbol: strings.ToUpper(w.Symbol), Price: w.Price, Time: ts})
	}
	return out, nil
}
