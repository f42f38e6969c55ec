package risk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	equity   float64
	holdings map[string]float64
	err      error
}

func (a fakeAccount) Equity(context.Context) (float64, error) { return a.equity, a.err }
func (a fakeAccount) Holdings(context.Context) (map[string]float64, error) {
	return a.holdings, a.err
}

type fakeStats struct {
	stats     Stats
	dayTrades int
	err       error
}

func (s fakeStats) Stats(context.Context) (Stats, error) { return s.stats, s.err }
func (s fakeStats) DayTrades(time.Time) int              { return s.dayTrades }

var now = time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Blackouts = []BlackoutWindow{{
		Symbol: "AAPL", Event: "earnings",
		Start: now.Add(-time.Hour), End: now.Add(24 * time.Hour),
	}}
	cfg.Liquidity.Symbols = map[string]LiquidityProfile{
		"AAPL": {Sector: "Technology", AvgDailyVolume: 50_000_000},
		"MSFT": {Sector: "Technology", AvgDailyVolume: 20_000_000},
		"TINY": {Sector: "Materials", AvgDailyVolume: 1000},
		"XOM":  {Sector: "Energy", AvgDailyVolume: 1_000_000},
	}
	cfg.Fundamentals.Symbols = map[string]Fundamentals{
		"AAPL": {PE: 30, DebtToEquity: 1.5, RevenueGrowth: 0.05},
		"MSFT": {PE: 45, DebtToEquity: 0.5, RevenueGrowth: 0.1},
		"XOM":  {PE: 12, DebtToEquity: 4, RevenueGrowth: 0.02},
	}
	return cfg
}

func newTestChain(account Account, stats StatsSource) *Chain {
	cfg := testConfig()
	return NewDefaultChain(cfg, NewStaticProvider(cfg), account, stats)
}

func richAccount() fakeAccount {
	return fakeAccount{equity: 100_000, holdings: map[string]float64{}}
}

func TestChainGateOrder(t *testing.T) {
	c := newTestChain(richAccount(), fakeStats{})
	assert.Equal(t, []string{GateBlackout, GateLiquidity, GateCompliance, GateFundamentals, GateRiskScore}, c.Gates())
}

func TestBlackoutRejects(t *testing.T) {
	c := newTestChain(richAccount(), fakeStats{})
	res := c.Evaluate(context.Background(), Order{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150, Time: now})

	assert.False(t, res.Approved)
	assert.Equal(t, GateBlackout, res.Gate)
	assert.Contains(t, res.Reason, "blackout")

	// outside the window the order passes
	res = c.Evaluate(context.Background(), Order{Symbol: "AAPL", Action: "BUY", Quantity: 10, Price: 150, Time: now.Add(48 * time.Hour)})
	assert.True(t, res.Approved, res.Reason)
	assert.Equal(t, int64(10), res.Quantity)
}

func TestLiquidityGate(t *testing.T) {
	later := now.Add(48 * time.Hour)
	tests := []struct {
		name     string
		account  fakeAccount
		order    Order
		approved bool
		qty      int64
	}{
		{
			name:     "below dollar volume floor",
			account:  richAccount(),
			order:    Order{Symbol: "TINY", Action: "BUY", Quantity: 10, Price: 5},
			approved: false,
		},
		{
			name:     "adv participation caps quantity",
			account:  fakeAccount{equity: 10_000_000, holdings: map[string]float64{}},
			order:    Order{Symbol: "XOM", Action: "BUY", Quantity: 50_000, Price: 100},
			approved: true,
			qty:      10_000,
		},
		{
			name:     "sector exposure shrinks quantity",
			account:  fakeAccount{equity: 100_000, holdings: map[string]float64{"MSFT": 20_000}},
			order:    Order{Symbol: "AAPL", Action: "BUY", Quantity: 100, Price: 100},
			approved: true,
			qty:      50,
		},
		{
			name:     "sector full",
			account:  fakeAccount{equity: 100_000, holdings: map[string]float64{"MSFT": 25_000}},
			order:    Order{Symbol: "AAPL", Action: "BUY", Quantity: 1, Price: 100},
			approved: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			g := LiquidityGate{Provider: NewStaticProvider(cfg), Account: tt.account, Limits: cfg.Liquidity.Limits}
			tt.order.Time = later
			v, err := g.Check(context.Background(), tt.order)
			require.NoError(t, err)
			assert.Equal(t, tt.approved, v.Approved, v.Reason)
			if tt.approved {
				assert.Equal(t, tt.qty, v.Quantity)
			}
		})
	}
}

func TestChainCarriesReducedQuantity(t *testing.T) {
	c := newTestChain(fakeAccount{equity: 100_000, holdings: map[string]float64{"AAPL": 20_000}}, fakeStats{})
	res := c.Evaluate(context.Background(), Order{Symbol: "MSFT", Action: "BUY", Quantity: 100, Price: 100, Time: now})

	require.True(t, res.Approved, res.Reason)
	assert.Equal(t, int64(50), res.Quantity)
	assert.True(t, res.Caution, "MSFT P/E is above the caution level")
	assert.Equal(t, uint64(1), c.Stats().AdjustmentsTotal)
}

func TestComplianceGate(t *testing.T) {
	cfg := testConfig()
	p := NewStaticProvider(cfg)
	order := Order{Symbol: "MSFT", Action: "BUY", Quantity: 1, Price: 100, Time: now}

	v, err := ComplianceGate{Provider: p, Account: fakeAccount{equity: 1500}, Stats: fakeStats{}}.Check(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Reason, "minimum")

	v, err = ComplianceGate{Provider: p, Account: fakeAccount{equity: 10_000}, Stats: fakeStats{dayTrades: 3}}.Check(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Reason, "pattern day trader")

	v, err = ComplianceGate{Provider: p, Account: fakeAccount{equity: 30_000}, Stats: fakeStats{dayTrades: 3}}.Check(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestFundamentalsGate(t *testing.T) {
	cfg := testConfig()
	g := FundamentalsGate{Provider: NewStaticProvider(cfg), Thresholds: cfg.Fundamentals.Thresholds}

	v, err := g.Check(context.Background(), Order{Symbol: "XOM", Action: "BUY", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Reason, "leverage")

	v, err = g.Check(context.Background(), Order{Symbol: "XOM", Action: "SELL", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, v.Approved, "short entries are not screened")

	v, err = g.Check(context.Background(), Order{Symbol: "MSFT", Action: "BUY", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.True(t, v.Caution)

	_, err = g.Check(context.Background(), Order{Symbol: "NOPE", Action: "BUY", Quantity: 1})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFailurePolicies(t *testing.T) {
	// NOPE has no liquidity or fundamentals data: those gates fail open.
	c := newTestChain(richAccount(), fakeStats{})
	res := c.Evaluate(context.Background(), Order{Symbol: "NOPE", Action: "BUY", Quantity: 7, Price: 10, Time: now})
	require.True(t, res.Approved, res.Reason)
	assert.Equal(t, int64(7), res.Quantity)
	assert.Len(t, res.Notes, 2)
	assert.Equal(t, uint64(2), c.Stats().FailOpenTotal)

	// the risk score fails closed
	c = newTestChain(richAccount(), fakeStats{err: errors.New("stats offline")})
	res = c.Evaluate(context.Background(), Order{Symbol: "MSFT", Action: "BUY", Quantity: 1, Price: 100, Time: now})
	assert.False(t, res.Approved)
	assert.Equal(t, GateRiskScore, res.Gate)
	assert.Contains(t, res.Reason, "stats offline")

	// and can be flipped
	require.NoError(t, c.SetPolicy(GateRiskScore, FailOpen))
	res = c.Evaluate(context.Background(), Order{Symbol: "MSFT", Action: "BUY", Quantity: 1, Price: 100, Time: now})
	assert.True(t, res.Approved, res.Reason)

	assert.Error(t, c.SetPolicy(GateRiskScore, "MAYBE"))
}

func TestScoreConfidenceShiftsThreshold(t *testing.T) {
	cfg := DefaultScoreConfig()
	stats := Stats{RecentPnL: -500, LossStreak: 3, DrawdownPct: 5}

	base, th := Score(stats, nil, cfg)
	assert.InDelta(t, cfg.Threshold, th, 1e-9)
	// (0.3*0.5 + 0.25*0.6 + 0.3*0.5) / 0.85
	assert.InDelta(t, 0.45/0.85, base, 1e-9)

	high := 0.9
	_, th = Score(stats, &high, cfg)
	assert.InDelta(t, cfg.Threshold+cfg.ConfidenceShift, th, 1e-9)

	low := 0.2
	score, th := Score(stats, &low, cfg)
	assert.InDelta(t, cfg.Threshold-cfg.ConfidenceShift, th, 1e-9)
	assert.Greater(t, score, base)

	clean, _ := Score(Stats{RecentPnL: 400}, nil, cfg)
	assert.Zero(t, clean)
}

func TestRiskScoreGateVeto(t *testing.T) {
	g := RiskScoreGate{Stats: fakeStats{stats: Stats{RecentPnL: -2000, LossStreak: 6, DrawdownPct: 12}}, Config: DefaultScoreConfig()}
	v, err := g.Check(context.Background(), Order{Symbol: "MSFT", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Contains(t, v.Reason, "risk score")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  risk_score: FAIL_OPEN
blackouts:
  - symbol: NVDA
    event: earnings
    start: 2026-11-19T00:00:00Z
    end: 2026-11-21T00:00:00Z
liquidity:
  symbols:
    NVDA: {sector: Technology, avg_daily_volume: 300000000}
compliance:
  jurisdiction: US
  max_day_trades: 4
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, FailOpen, cfg.Policies[GateRiskScore])
	assert.Equal(t, FailOpen, cfg.Policies[GateBlackout])
	require.Len(t, cfg.Blackouts, 1)
	assert.True(t, cfg.Blackouts[0].Contains(time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 4, cfg.Compliance.MaxDayTrades)
	assert.Equal(t, 25.0, cfg.Liquidity.Limits.MaxSectorExposurePct)

	require.NoError(t, os.WriteFile(path, []byte("policies:\n  blackout: SOMETIMES\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
