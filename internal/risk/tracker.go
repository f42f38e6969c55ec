package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"autotrader/pkg/db"
)

const historyRetention = 30 * 24 * time.Hour

// Realized is one closed position.
type Realized struct {
	Symbol     string     `json:"symbol"`
	Reason     string     `json:"reason"`
	Quantity   int64      `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	EntryTime  *time.Time `json:"entry_time,omitempty"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// PnLStore persists realized P&L.
type PnLStore interface {
	CreateRealizedPnL(ctx context.Context, p db.RealizedPnL) error
	ListRealizedPnL(ctx context.Context, since time.Time) ([]db.RealizedPnL, error)
}

// Tracker keeps cumulative realized P&L, streaks and drawdown.
type Tracker struct {
	mu      sync.RWMutex
	store   PnLStore
	capital float64
	now     func() time.Time

	history    []Realized
	dayTrades  []time.Time
	total      float64
	peak       float64
	maxDD      float64
	winStreak  int
	lossStreak int
	trades     int
	wins       int
	recentN    int
}

// NewTracker creates a tracker measuring drawdown against capital. store may be nil.
func NewTracker(capital float64, store PnLStore) *Tracker {
	return &Tracker{
		store:   store,
		capital: capital,
		now:     time.Now,
		recentN: DefaultScoreConfig().RecentTrades,
	}
}

// SetRecentWindow sets how many trades count as "recent" for the risk score.
func (t *Tracker) SetRecentWindow(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.recentN = n
	t.mu.Unlock()
}

// Record applies a realized trade and persists it.
func (t *Tracker) Record(ctx context.Context, r Realized) error {
	if r.ClosedAt.IsZero() {
		r.ClosedAt = t.now()
	}
	t.apply(r)

	if t.store == nil {
		return nil
	}
	if err := t.store.CreateRealizedPnL(ctx, db.RealizedPnL{
		Symbol:     r.Symbol,
		Reason:     r.Reason,
		Qty:        r.Quantity,
		EntryPrice: r.EntryPrice,
		ExitPrice:  r.ExitPrice,
		PnL:        r.PnL,
		EntryTime:  r.EntryTime,
		ClosedAt:   r.ClosedAt,
	}); err != nil {
		return fmt.Errorf("persist realized pnl: %w", err)
	}
	return nil
}

func (t *Tracker) apply(r Realized) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trades++
	t.total += r.PnL
	switch {
	case r.PnL > 0:
		t.wins++
		t.winStreak++
		t.lossStreak = 0
	case r.PnL < 0:
		t.lossStreak++
		t.winStreak = 0
	}
	if t.total > t.peak {
		t.peak = t.total
	}
	if dd := t.peak - t.total; dd > t.maxDD {
		t.maxDD = dd
	}

	if r.EntryTime != nil && sameDay(*r.EntryTime, r.ClosedAt) {
		t.dayTrades = append(t.dayTrades, r.ClosedAt)
	}

	t.history = append(t.history, r)
	cutoff := t.now().Add(-historyRetention)
	i := 0
	for i < len(t.history) && t.history[i].ClosedAt.Before(cutoff) {
		i++
	}
	t.history = t.history[i:]
	j := 0
	for j < len(t.dayTrades) && t.dayTrades[j].Before(cutoff) {
		j++
	}
	t.dayTrades = t.dayTrades[j:]
}

// Warm replays persisted history so streaks and rolling P&L survive a restart.
func (t *Tracker) Warm(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.ListRealizedPnL(ctx, t.now().Add(-historyRetention))
	if err != nil {
		return fmt.Errorf("load realized pnl: %w", err)
	}
	for _, row := range rows {
		t.apply(Realized{
			Symbol:     row.Symbol,
			Reason:     row.Reason,
			Quantity:   row.Qty,
			EntryPrice: row.EntryPrice,
			ExitPrice:  row.ExitPrice,
			PnL:        row.PnL,
			EntryTime:  row.EntryTime,
			ClosedAt:   row.ClosedAt,
		})
	}
	log.Printf("risk: tracker warmed with %d realized trades", len(rows))
	return nil
}

// DailyPnL sums realized P&L since local midnight.
func (t *Tracker) DailyPnL() float64 {
	now := t.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return t.pnlSince(start)
}

// WeeklyPnL sums realized P&L over the last seven days.
func (t *Tracker) WeeklyPnL() float64 {
	return t.pnlSince(t.now().AddDate(0, 0, -7))
}

func (t *Tracker) pnlSince(since time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, r := range t.history {
		if !r.ClosedAt.Before(since) {
			sum += r.PnL
		}
	}
	return sum
}

// DayTrades counts same-day round trips closed since the given time.
func (t *Tracker) DayTrades(since time.Time) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, at := range t.dayTrades {
		if !at.Before(since) {
			n++
		}
	}
	return n
}

// Stats returns the current view.
func (t *Tracker) Stats(context.Context) (Stats, error) {
	daily, weekly := t.DailyPnL(), t.WeeklyPnL()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var recent float64
	from := len(t.history) - t.recentN
	if from < 0 {
		from = 0
	}
	for _, r := range t.history[from:] {
		recent += r.PnL
	}

	s := Stats{
		RecentPnL:   recent,
		TotalPnL:    t.total,
		DailyPnL:    daily,
		WeeklyPnL:   weekly,
		WinStreak:   t.winStreak,
		LossStreak:  t.lossStreak,
		Drawdown:    t.peak - t.total,
		MaxDrawdown: t.maxDD,
		Trades:      t.trades,
		Wins:        t.wins,
	}
	if base := t.capital + t.peak; base > 0 {
		s.DrawdownPct = s.Drawdown / base * 100
	}
	return s, nil
}

// History returns a copy of the retained realized trades.
func (t *Tracker) History() []Realized {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Realized(nil), t.history...)
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
