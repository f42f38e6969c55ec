package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"autotrader/pkg/db"
)

// Performance summarizes a strategy's closed shadow round trips.
type Performance struct {
	Strategy       string  `json:"strategy"`
	Trades         int     `json:"trades"`
	TotalReturnPct float64 `json:"total_return_pct"`
	Sharpe         float64 `json:"sharpe"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	WinRate        float64 `json:"win_rate"`
}

// ReturnStore is the slice of the trade log performance is computed from.
type ReturnStore interface {
	StrategyReturns(ctx context.Context, strategy string, since time.Time) ([]db.ReturnPoint, error)
	ShadowStrategies(ctx context.Context, since time.Time) ([]string, error)
}

// PerformanceTracker computes rolling strategy performance from the shadow
// trade log.
type PerformanceTracker struct {
	store ReturnStore
	now   func() time.Time
}

func NewPerformanceTracker(store ReturnStore) *PerformanceTracker {
	return &PerformanceTracker{store: store, now: time.Now}
}

// Performance returns the strategy's figures over the trailing window.
func (p *PerformanceTracker) Performance(ctx context.Context, strategy string, window time.Duration) (Performance, error) {
	points, err := p.store.StrategyReturns(ctx, strategy, p.now().Add(-window))
	if err != nil {
		return Performance{Strategy: strategy}, fmt.Errorf("performance for %s: %w", strategy, err)
	}
	return ComputePerformance(strategy, points), nil
}

// Candidates lists strategies with shadow activity inside the window.
func (p *PerformanceTracker) Candidates(ctx context.Context, window time.Duration) ([]string, error) {
	return p.store.ShadowStrategies(ctx, p.now().Add(-window))
}

// ComputePerformance compounds per-trade returns into an equity curve
// starting at 1. Sharpe is mean over population stddev of per-trade returns.
func ComputePerformance(strategy string, points []db.ReturnPoint) Performance {
	perf := Performance{Strategy: strategy, Trades: len(points)}
	if len(points) == 0 {
		return perf
	}

	equity, peak := 1.0, 1.0
	var sum float64
	wins := 0
	for _, pt := range points {
		r := pt.ReturnPct / 100
		sum += r
		if pt.PnL > 0 {
			wins++
		}
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > perf.MaxDrawdownPct {
			perf.MaxDrawdownPct = dd
		}
	}

	n := float64(len(points))
	mean := sum / n
	var variance float64
	for _, pt := range points {
		d := pt.ReturnPct/100 - mean
		variance += d * d
	}
	if std := math.Sqrt(variance / n); std > 0 {
		perf.Sharpe = mean / std
	}
	perf.TotalReturnPct = (equity - 1) * 100
	perf.WinRate = float64(wins) / n
	return perf
}
