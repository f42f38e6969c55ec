package market

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"autotrader/internal/events"
	"autotrader/pkg/market"
)

// MockFeed generates a random walk per symbol for local development and
// dry runs.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64 // max fractional move per tick
	Interval   time.Duration
	Seed       int64

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

func (m *MockFeed) init() {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"AAPL"}
	}
	if m.StartPrice <= 0 {
		m.StartPrice = 100
	}
	if m.Step <= 0 {
		m.Step = 0.002
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.rng = rand.New(rand.NewSource(seed))
	m.prices = make(map[string]float64, len(m.Symbols))
	for _, s := range m.Symbols {
		m.prices[s] = m.StartPrice
	}
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	m.init()

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, tick := range m.Next(now) {
					m.Bus.Publish(events.EventPriceTick, tick)
				}
			}
		}
	}()
	log.Printf("mock feed: %d symbols every %v", len(m.Symbols), m.Interval)
}

// Next advances every symbol one step. Prices stay positive.
func (m *MockFeed) Next(now time.Time) []market.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng == nil {
		m.init()
	}
	out := make([]market.Tick, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		p := m.prices[sym] * (1 + (m.rng.Float64()*2-1)*m.Step)
		if p <= 0.01 {
			p = 0.01
		}
		m.prices[sym] = p
		out = append(out, market.Tick{Symbol: sym, Price: p, Time: now})
	}
	return out
}
