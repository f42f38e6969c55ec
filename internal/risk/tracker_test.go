package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/pkg/db"
)

func newClockedTracker(capital float64, store PnLStore, clock *time.Time) *Tracker {
	tr := NewTracker(capital, store)
	tr.now = func() time.Time { return *clock }
	return tr
}

func TestTrackerStreaksAndDrawdown(t *testing.T) {
	clock := now
	tr := newClockedTracker(10_000, nil, &clock)
	ctx := context.Background()

	for _, pnl := range []float64{300, 200, -100, -250, -150} {
		require.NoError(t, tr.Record(ctx, Realized{Symbol: "AAPL", PnL: pnl}))
	}

	s, err := tr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 3, s.LossStreak)
	assert.Equal(t, 0, s.WinStreak)
	assert.InDelta(t, 0.0, s.TotalPnL, 1e-9)
	assert.InDelta(t, 500.0, s.Drawdown, 1e-9)
	assert.InDelta(t, 500.0, s.MaxDrawdown, 1e-9)
	assert.InDelta(t, 500.0/10_500*100, s.DrawdownPct, 1e-9)
}

func TestTrackerRollingPnL(t *testing.T) {
	clock := now
	tr := newClockedTracker(10_000, nil, &clock)
	ctx := context.Background()

	require.NoError(t, tr.Record(ctx, Realized{PnL: 50, ClosedAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, tr.Record(ctx, Realized{PnL: 40, ClosedAt: now.AddDate(0, 0, -3)}))
	require.NoError(t, tr.Record(ctx, Realized{PnL: -15, ClosedAt: now.Add(-time.Hour)}))

	assert.InDelta(t, -15.0, tr.DailyPnL(), 1e-9)
	assert.InDelta(t, 25.0, tr.WeeklyPnL(), 1e-9)
}

func TestTrackerCountsDayTrades(t *testing.T) {
	clock := now
	tr := newClockedTracker(10_000, nil, &clock)
	ctx := context.Background()

	sameDayEntry := now.Add(-2 * time.Hour)
	overnight := now.AddDate(0, 0, -1)
	require.NoError(t, tr.Record(ctx, Realized{PnL: 1, EntryTime: &sameDayEntry, ClosedAt: now}))
	require.NoError(t, tr.Record(ctx, Realized{PnL: 1, EntryTime: &overnight, ClosedAt: now}))
	require.NoError(t, tr.Record(ctx, Realized{PnL: 1, ClosedAt: now}))

	assert.Equal(t, 1, tr.DayTrades(now.AddDate(0, 0, -5)))
}

func TestTrackerPersistsAndWarms(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	clock := now
	ctx := context.Background()
	tr := newClockedTracker(10_000, database, &clock)
	require.NoError(t, tr.Record(ctx, Realized{Symbol: "AAPL", Quantity: 10, EntryPrice: 100, ExitPrice: 95, PnL: -50, ClosedAt: now.Add(-time.Hour)}))
	require.NoError(t, tr.Record(ctx, Realized{Symbol: "AAPL", Quantity: 10, EntryPrice: 95, ExitPrice: 93, PnL: -20, ClosedAt: now.Add(-time.Minute)}))

	restarted := newClockedTracker(10_000, database, &clock)
	require.NoError(t, restarted.Warm(ctx))
	s, err := restarted.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.LossStreak)
	assert.InDelta(t, -70.0, s.DailyPnL, 1e-9)
}
