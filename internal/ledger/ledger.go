// Package ledger keeps the process-wide view of what we currently hold.
//
// Every symbol owns a cell with two independent atomic slots: the signed
// quantity and the entry (price, time). They are updated separately, so a
// reader can briefly observe a new quantity next to the previous entry.
package ledger

import (
	"sort"
	"sync/atomic"
	"time"

	"autotrader/pkg/cache"
)

// Position is a point-in-time view of one symbol.
type Position struct {
	Symbol     string     `json:"symbol"`
	Quantity   int64      `json:"quantity"` // >0 long, <0 short, 0 flat
	EntryPrice float64    `json:"entry_price"`
	EntryTime  *time.Time `json:"entry_time,omitempty"`
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// Side returns LONG, SHORT or "" when flat.
func (p Position) Side() string {
	switch {
	case p.Quantity > 0:
		return "LONG"
	case p.Quantity < 0:
		return "SHORT"
	default:
		return ""
	}
}

type entry struct {
	price float64
	at    time.Time
}

type cell struct {
	qty   atomic.Int64
	entry atomic.Pointer[entry]
}

// Ledger is the single source of truth for per-symbol positions.
type Ledger struct {
	cells *cache.ShardedMap[*cell]
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{cells: cache.NewShardedMap[*cell]()}
}

func (l *Ledger) cell(symbol string) *cell {
	return l.cells.GetOrCreate(symbol, func() *cell { return &cell{} })
}

// Get returns the current position for symbol. Entry fields are only
// populated while the quantity is non-zero.
func (l *Ledger) Get(symbol string) Position {
	c := l.cell(symbol)
	p := Position{Symbol: symbol, Quantity: c.qty.Load()}
	if p.Quantity == 0 {
		return p
	}
	if e := c.entry.Load(); e != nil {
		at := e.at
		p.EntryPrice = e.price
		p.EntryTime = &at
	}
	return p
}

// Quantity returns the signed quantity for symbol.
func (l *Ledger) Quantity(symbol string) int64 {
	return l.cell(symbol).qty.Load()
}

// EntryPrice returns the recorded entry price, 0 when flat or unknown.
func (l *Ledger) EntryPrice(symbol string) float64 {
	return l.Get(symbol).EntryPrice
}

// EntryTime returns the recorded entry time, nil when flat or unknown.
func (l *Ledger) EntryTime(symbol string) *time.Time {
	return l.Get(symbol).EntryTime
}

// Adjust adds delta to the quantity and returns the new quantity.
func (l *Ledger) Adjust(symbol string, delta int64) int64 {
	return l.cell(symbol).qty.Add(delta)
}

// Set overwrites the quantity.
func (l *Ledger) Set(symbol string, qty int64) {
	l.cell(symbol).qty.Store(qty)
}

// RecordEntry stores the entry price and time.
func (l *Ledger) RecordEntry(symbol string, price float64, at time.Time) {
	l.cell(symbol).entry.Store(&entry{price: price, at: at})
}

// ClearEntry drops the entry price and time.
func (l *Ledger) ClearEntry(symbol string) {
	l.cell(symbol).entry.Store(nil)
}

// Snapshot returns every known position sorted by symbol, flat ones included.
func (l *Ledger) Snapshot() []Position {
	var out []Position
	l.cells.Range(func(sym string, _ *cell) bool {
		out = append(out, l.Get(sym))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Open returns only non-flat positions.
func (l *Ledger) Open() []Position {
	all := l.Snapshot()
	out := all[:0]
	for _, p := range all {
		if !p.IsFlat() {
			out = append(out, p)
		}
	}
	return out
}
