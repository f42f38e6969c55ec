package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/events"
	"autotrader/internal/monitor"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/pkg/db"
)

// scripted replays a fixed list of signals, then holds.
type scripted struct {
	name    string
	signals []Signal
	i       int
	resets  int
}

func (s *scripted) Name() string { return s.name }
func (s *scripted) Reset()       { s.i = 0; s.resets++ }
func (s *scripted) Evaluate(*Portfolio, Tick) Signal {
	if s.i >= len(s.signals) {
		return Hold("done")
	}
	sig := s.signals[s.i]
	s.i++
	return sig
}

type fakeExec struct {
	mu       sync.Mutex
	ledger   map[string]int64
	requests []order.Request
	flattens []string
	reject   bool
}

func newFakeExec() *fakeExec { return &fakeExec{ledger: map[string]int64{}} }

func (f *fakeExec) ExecuteWithRetry(_ context.Context, req order.Request) (order.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.reject {
		return order.Result{Gate: risk.GateResult{Gate: risk.GateBlackout, Reason: "blackout"}}, nil
	}
	if req.Action == order.ActionBuy {
		f.ledger[req.Symbol] += req.Quantity
	} else {
		f.ledger[req.Symbol] -= req.Quantity
	}
	return order.Result{Submitted: true}, nil
}

func (f *fakeExec) Flatten(_ context.Context, reason, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ledger[symbol] != 0 {
		f.flattens = append(f.flattens, reason)
		f.ledger[symbol] = 0
	}
	return nil
}

func (f *fakeExec) Quantity(symbol string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledger[symbol]
}

type fixedSizer struct {
	max    int64
	shares int64
	err    error
}

func (s fixedSizer) MaxBuyQuantity(context.Context, float64) (int64, error) { return s.max, s.err }

func (s fixedSizer) AvailableShares(context.Context, string) (int64, error) { return s.shares, s.err }

type memShadow struct {
	mu     sync.Mutex
	trades []db.ShadowTrade
}

func (m *memShadow) RecordShadowTrade(_ context.Context, t db.ShadowTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

type memSwitches struct{ rows []db.StrategySwitch }

func (m *memSwitches) CreateStrategySwitch(_ context.Context, s db.StrategySwitch) error {
	m.rows = append(m.rows, s)
	return nil
}

type fixture struct {
	d        *Dispatcher
	exec     *fakeExec
	shadow   *memShadow
	switches *memSwitches
	bus      *events.Bus
}

func newFixture(t *testing.T, opts Options, sizer Sizer, strategies map[string][]Signal, names ...string) *fixture {
	t.Helper()
	f := &fixture{exec: newFakeExec(), shadow: &memShadow{}, switches: &memSwitches{}, bus: events.NewBus()}
	factories := make(map[string]Factory)
	for _, name := range names {
		sigs := strategies[name]
		n := name
		factories[n] = func(string) (Strategy, error) {
			return &scripted{name: n, signals: append([]Signal(nil), sigs...)}, nil
		}
	}
	d, err := NewDispatcher(names, factories, opts, Deps{
		Executor:  f.exec,
		Positions: f.exec,
		Sizer:     sizer,
		ShadowLog: f.shadow,
		Switches:  f.switches,
		Bus:       f.bus,
		Metrics:   monitor.NewSystemMetrics(),
	})
	require.NoError(t, err)
	f.d = d
	return f
}

func tick(symbol string, price float64) Tick {
	return Tick{Symbol: symbol, Price: price, Time: time.Date(2026, 10, 15, 15, 0, 0, 0, time.UTC)}
}

func TestLongSignalOpensLiveAndShadow(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 10}, nil,
		map[string][]Signal{
			"a": {{Direction: Long, Confidence: 0.7, Reason: "up"}},
			"b": {{Direction: Long, Reason: "up too"}},
		}, "a", "b")

	require.NoError(t, f.d.OnTick(context.Background(), tick("aapl", 100)))

	require.Len(t, f.exec.requests, 1)
	req := f.exec.requests[0]
	assert.Equal(t, order.ActionBuy, req.Action)
	assert.Equal(t, int64(10), req.Quantity)
	assert.Equal(t, "a", req.Strategy)
	require.NotNil(t, req.Confidence)
	assert.Equal(t, 0.7, *req.Confidence)

	assert.Len(t, f.shadow.trades, 2)
	for _, name := range []string{"a", "b"} {
		p, ok := f.d.ShadowPortfolio(name, "AAPL")
		require.True(t, ok)
		assert.Equal(t, int64(1), p.Position("AAPL").Quantity)
	}
}

func TestLongClosesShortFirst(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 5, Mode: LongShort}, nil,
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	f.exec.ledger["AAPL"] = -5

	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Equal(t, []string{"a reversal"}, f.exec.flattens)
	assert.Equal(t, int64(5), f.exec.Quantity("AAPL"))
}

func TestShortInLongOnlyModeOnlyCloses(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 5}, nil,
		map[string][]Signal{"a": {{Direction: Short}}}, "a")
	f.exec.ledger["AAPL"] = 5

	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Len(t, f.exec.flattens, 1)
	assert.Empty(t, f.exec.requests)
	assert.Zero(t, f.exec.Quantity("AAPL"))

	p, _ := f.d.ShadowPortfolio("a", "AAPL")
	assert.Zero(t, p.Position("AAPL").Quantity)
}

func TestShortOpensWhenAllowed(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 3, Mode: LongShort}, nil,
		map[string][]Signal{"a": {{Direction: Short}}}, "a")

	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	require.Len(t, f.exec.requests, 1)
	assert.Equal(t, order.ActionSell, f.exec.requests[0].Action)
	assert.Equal(t, int64(-3), f.exec.Quantity("AAPL"))
}

func TestExitSignalFlattens(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a"}, nil,
		map[string][]Signal{"a": {{Direction: Neutral, Exit: true, Reason: "stop"}}}, "a")
	f.exec.ledger["AAPL"] = 2

	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Equal(t, []string{"a exit: stop"}, f.exec.flattens)
}

func TestSizerClampsQuantity(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 10}, fixedSizer{max: 4},
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	require.Len(t, f.exec.requests, 1)
	assert.Equal(t, int64(4), f.exec.requests[0].Quantity)

	g := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 10}, fixedSizer{max: 0},
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	require.NoError(t, g.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Empty(t, g.exec.requests)

	h := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 10}, fixedSizer{err: errors.New("no account")},
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	require.NoError(t, h.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Empty(t, h.exec.requests)
}

func TestShortEntrySizedByAvailableShares(t *testing.T) {
	opts := Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 10, Mode: LongShort}
	short := map[string][]Signal{"a": {{Direction: Short}}}

	f := newFixture(t, opts, fixedSizer{max: 100, shares: 0}, short, "a")
	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Empty(t, f.exec.requests)
	assert.Zero(t, f.exec.Quantity("AAPL"))

	g := newFixture(t, opts, fixedSizer{max: 0, shares: 6}, short, "a")
	require.NoError(t, g.d.OnTick(context.Background(), tick("AAPL", 100)))
	require.Len(t, g.exec.requests, 1)
	assert.Equal(t, order.ActionSell, g.exec.requests[0].Action)
	assert.Equal(t, int64(6), g.exec.requests[0].Quantity)
}

func TestHaltedLiveRoutingKeepsShadowRunning(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", TradingQuantity: 2}, nil,
		map[string][]Signal{"a": {{Direction: Long}, {Direction: Long}}}, "a")
	f.d.HaltLive("a drawdown breach")

	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Empty(t, f.exec.requests)
	assert.Len(t, f.shadow.trades, 1)
	assert.Equal(t, "a drawdown breach", f.d.LiveHalted())

	require.NoError(t, f.d.SwitchStrategy(context.Background(), "a", monitor.SwitchRecord{Reason: "operator resume"}))
	assert.Empty(t, f.d.LiveHalted())
	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 101)))
	require.Len(t, f.exec.requests, 1)
	assert.Equal(t, int64(2), f.exec.requests[0].Quantity)
}

func TestShadowRoundTripLogsReturn(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", MaxShadowStocks: 2}, nil,
		map[string][]Signal{"b": {{Direction: Long}, {Direction: Neutral, Exit: true, Reason: "target"}}}, "a", "b")
	f.d.SetShadowSymbols([]string{"MSFT"})

	require.NoError(t, f.d.OnTick(context.Background(), tick("MSFT", 200)))
	require.NoError(t, f.d.OnTick(context.Background(), tick("MSFT", 210)))

	assert.Empty(t, f.exec.requests)
	require.Len(t, f.shadow.trades, 2)
	closing := f.shadow.trades[1]
	assert.True(t, closing.IsClose)
	assert.Equal(t, "b", closing.Strategy)
	assert.Equal(t, order.ActionSell, closing.Action)
	assert.Equal(t, 10.0, closing.PnL)
	assert.Equal(t, 5.0, closing.ReturnPct)

	p, _ := f.d.ShadowPortfolio("b", "MSFT")
	assert.Equal(t, 100010.0, p.Equity)
}

func TestUntrackedSymbolsIgnored(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a"}, nil,
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	require.NoError(t, f.d.OnTick(context.Background(), tick("TSLA", 100)))
	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 0)))
	assert.Empty(t, f.exec.requests)
	assert.Empty(t, f.shadow.trades)
}

func TestShadowSetCapAndLaneDrop(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a", MaxShadowStocks: 2}, nil, nil, "a")

	got := f.d.SetShadowSymbols([]string{"aapl", "msft", "nvda", "amd"})
	assert.Equal(t, []string{"MSFT", "NVDA"}, got)

	require.NoError(t, f.d.OnTick(context.Background(), tick("MSFT", 10)))
	_, ok := f.d.ShadowPortfolio("a", "MSFT")
	require.True(t, ok)

	f.d.SetShadowSymbols([]string{"NVDA"})
	_, ok = f.d.ShadowPortfolio("a", "MSFT")
	assert.False(t, ok)
	assert.False(t, f.d.Tracks("MSFT"))
}

func TestSwitchStrategyAudits(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a"}, nil, nil, "a", "b")
	sub, unsub := f.bus.Subscribe(events.EventStrategySwitch, 1)
	defer unsub()

	err := f.d.SwitchStrategy(context.Background(), "b", monitor.SwitchRecord{
		Reason:      "drawdown breach",
		Performance: monitor.Performance{Sharpe: 1.1, WinRate: 0.6},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", f.d.ActiveStrategy())
	require.Len(t, f.switches.rows, 1)
	assert.Equal(t, "a", f.switches.rows[0].From)
	assert.Equal(t, "AAPL", f.switches.rows[0].Symbol)
	assert.Equal(t, 1.1, f.switches.rows[0].Sharpe)

	select {
	case msg := <-sub:
		assert.Equal(t, "b", msg.(monitor.SwitchRecord).To)
	case <-time.After(time.Second):
		t.Fatal("no switch event")
	}

	assert.ErrorIs(t, f.d.SwitchStrategy(context.Background(), "nope", monitor.SwitchRecord{}), ErrUnknownStrategy)
}

func TestResetAllResetsLanes(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a"}, nil,
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	require.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))

	p, _ := f.d.ShadowPortfolio("a", "AAPL")
	require.Equal(t, int64(1), p.Position("AAPL").Quantity)

	f.d.ResetAll()
	assert.Empty(t, p.Positions())
	ln, _ := f.d.lanes.Get(laneKey("AAPL", "a"))
	assert.Equal(t, 1, ln.strategy.(*scripted).resets)
}

type panicky struct{}

func (panicky) Name() string                     { return "panicky" }
func (panicky) Reset()                           {}
func (panicky) Evaluate(*Portfolio, Tick) Signal { panic("boom") }

func TestStrategyPanicIsContained(t *testing.T) {
	exec := newFakeExec()
	d, err := NewDispatcher([]string{"panicky"}, map[string]Factory{
		"panicky": func(string) (Strategy, error) { return panicky{}, nil },
	}, Options{LiveSymbol: "AAPL"}, Deps{Executor: exec, Positions: exec, Bus: events.NewBus()})
	require.NoError(t, err)
	assert.NoError(t, d.OnTick(context.Background(), tick("AAPL", 1)))
	assert.Empty(t, exec.requests)
}

func TestPerSymbolLanesAreIndependent(t *testing.T) {
	calls := map[string]int{}
	var mu sync.Mutex
	d, err := NewDispatcher([]string{"ma"}, map[string]Factory{
		"ma": func(symbol string) (Strategy, error) {
			mu.Lock()
			calls[symbol]++
			mu.Unlock()
			return NewMACrossStrategy("ma", 2, 3)
		},
	}, Options{LiveSymbol: "AAPL", MaxShadowStocks: 3}, Deps{Bus: events.NewBus()})
	require.NoError(t, err)
	d.SetShadowSymbols([]string{"MSFT", "NVDA"})

	var wg sync.WaitGroup
	for _, s := range []string{"AAPL", "MSFT", "NVDA"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, d.OnTick(context.Background(), tick(sym, float64(100+i%7))))
			}
		}(s)
	}
	wg.Wait()
	assert.Equal(t, map[string]int{"AAPL": 1, "MSFT": 1, "NVDA": 1}, calls)
}

func TestGateRejectionIsNotAnError(t *testing.T) {
	f := newFixture(t, Options{LiveSymbol: "AAPL", LiveStrategy: "a"}, nil,
		map[string][]Signal{"a": {{Direction: Long}}}, "a")
	f.exec.reject = true
	assert.NoError(t, f.d.OnTick(context.Background(), tick("AAPL", 100)))
	assert.Zero(t, f.exec.Quantity("AAPL"))
}
