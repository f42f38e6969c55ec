package strategy

import (
	"sync"
	"time"
)

// TradingMode controls whether short positions may be opened.
type TradingMode string

const (
	LongOnly  TradingMode = "LONG_ONLY"
	LongShort TradingMode = "LONG_SHORT"
)

// AllowsShort reports whether the mode opens shorts.
func (m TradingMode) AllowsShort() bool { return m == LongShort }

// Holding is one position inside a portfolio.
type Holding struct {
	Quantity   int64     `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// Portfolio is the view a strategy evaluates against. Live and shadow
// portfolios share the shape; only the live one is backed by the broker.
type Portfolio struct {
	mu              sync.RWMutex
	Equity          float64
	AvailableMargin float64
	Mode            TradingMode
	TradingQuantity int64
	positions       map[string]Holding
}

func NewPortfolio(equity float64, mode TradingMode, qty int64) *Portfolio {
	return &Portfolio{
		Equity:          equity,
		AvailableMargin: equity,
		Mode:            mode,
		TradingQuantity: qty,
		positions:       make(map[string]Holding),
	}
}

// Position returns the holding for symbol; zero when flat.
func (p *Portfolio) Position(symbol string) Holding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// SetPosition replaces the holding; a zero quantity removes it.
func (p *Portfolio) SetPosition(symbol string, h Holding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h.Quantity == 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = h
}

// Positions copies the open holdings.
func (p *Portfolio) Positions() map[string]Holding {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Holding, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out
}

// Reset drops every holding and restores margin to equity.
func (p *Portfolio) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = make(map[string]Holding)
	p.AvailableMargin = p.Equity
}
