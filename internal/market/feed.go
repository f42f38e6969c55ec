package market

import (
	"context"
	"log"
	"time"

	"autotrader/internal/events"
	"autotrader/pkg/market"
)

// Feed streams prices from the upstream websocket and publishes ticks on
// the bus, reconnecting with capped backoff.
type Feed struct {
	Stream     *market.StreamClient
	Bus        *events.Bus
	Symbols    []string
	MaxBackoff time.Duration
}

// Start runs until ctx is done.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Stream == nil {
		log.Println("market feed not fully configured; skipping start")
		return
	}
	if f.MaxBackoff <= 0 {
		f.MaxBackoff = 30 * time.Second
	}
	go f.run(ctx)
}

func (f *Feed) run(ctx context.Context) {
	backoff := time.Second
	for {
		ch, stop, err := f.Stream.Subscribe(ctx, f.Symbols)
		if err != nil {
			log.Printf("market feed: subscribe error: %v (retry in %v)", err, backoff)
		} else {
			backoff = time.Second
			for t := range ch {
				f.Bus.Publish(events.EventPriceTick, t)
			}
			stop()
			log.Printf("market feed: stream closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.MaxBackoff {
			backoff = f.MaxBackoff
		}
	}
}
