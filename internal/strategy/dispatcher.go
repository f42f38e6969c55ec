package strategy

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"autotrader/internal/events"
	"autotrader/internal/monitor"
	"autotrader/internal/order"
	"autotrader/pkg/cache"
	"autotrader/pkg/db"
)

// Executor is the live order path.
type Executor interface {
	ExecuteWithRetry(ctx context.Context, req order.Request) (order.Result, error)
	Flatten(ctx context.Context, reason, symbol string) error
}

// PositionReader reads live quantities.
type PositionReader interface {
	Quantity(symbol string) int64
}

// Sizer caps live entries by what the broker says is available: cash for
// buys, shares for sells.
type Sizer interface {
	MaxBuyQuantity(ctx context.Context, price float64) (int64, error)
	AvailableShares(ctx context.Context, symbol string) (int64, error)
}

// ShadowSink receives synthetic shadow fills.
type ShadowSink interface {
	RecordShadowTrade(ctx context.Context, t db.ShadowTrade) error
}

// SwitchStore persists strategy switch audits.
type SwitchStore interface {
	CreateStrategySwitch(ctx context.Context, s db.StrategySwitch) error
}

// Options configure the dispatcher.
type Options struct {
	LiveSymbol      string
	LiveStrategy    string
	Mode            TradingMode
	TradingQuantity int64
	MaxShadowStocks int
	ShadowEquity    float64
}

// Deps are the dispatcher's collaborators. Only Executor and Positions
// are required for live routing.
type Deps struct {
	Executor  Executor
	Positions PositionReader
	Sizer     Sizer
	ShadowLog ShadowSink
	Switches  SwitchStore
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
}

type lane struct {
	symbol   string
	strategy Strategy
	shadow   *Portfolio
}

// Dispatcher runs every configured strategy on each tick, keeps a shadow
// portfolio per (symbol, strategy) lane and routes the live strategy's
// signal for the live symbol to the executor.
type Dispatcher struct {
	Deps
	opts      Options
	names     []string
	factories map[string]Factory

	lanes *cache.ShardedMap[*lane]
	locks *cache.ShardedMap[*sync.Mutex]
	live  *Portfolio

	mu           sync.RWMutex
	liveSymbol   string
	liveStrategy string
	haltReason   string
	shadowSet    map[string]struct{}

	now func() time.Time
}

func NewDispatcher(names []string, factories map[string]Factory, opts Options, deps Deps) (*Dispatcher, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no strategies configured", ErrUnknownStrategy)
	}
	for _, n := range names {
		if factories[n] == nil {
			return nil, fmt.Errorf("%w: %s has no factory", ErrUnknownStrategy, n)
		}
	}
	if opts.LiveStrategy == "" {
		opts.LiveStrategy = names[0]
	}
	if factories[opts.LiveStrategy] == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, opts.LiveStrategy)
	}
	if opts.Mode == "" {
		opts.Mode = LongOnly
	}
	if opts.TradingQuantity <= 0 {
		opts.TradingQuantity = 1
	}
	if opts.MaxShadowStocks < 0 {
		opts.MaxShadowStocks = 0
	}
	if opts.ShadowEquity <= 0 {
		opts.ShadowEquity = 100000
	}
	return &Dispatcher{
		Deps:         deps,
		opts:         opts,
		names:        append([]string(nil), names...),
		factories:    factories,
		lanes:        cache.NewShardedMap[*lane](),
		locks:        cache.NewShardedMap[*sync.Mutex](),
		live:         NewPortfolio(opts.ShadowEquity, opts.Mode, opts.TradingQuantity),
		liveSymbol:   strings.ToUpper(opts.LiveSymbol),
		liveStrategy: opts.LiveStrategy,
		shadowSet:    make(map[string]struct{}),
		now:          time.Now,
	}, nil
}

func (d *Dispatcher) LiveSymbol() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.liveSymbol
}

func (d *Dispatcher) ActiveStrategy() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.liveStrategy
}

// HaltLive stops routing live signals until the next SwitchStrategy.
// Shadow lanes keep running.
func (d *Dispatcher) HaltLive(reason string) {
	if reason == "" {
		reason = "halted"
	}
	d.mu.Lock()
	d.haltReason = reason
	d.mu.Unlock()
	log.Printf("strategy: ⏸ live routing halted: %s", reason)
}

// LiveHalted returns the halt reason, empty while live routing runs.
func (d *Dispatcher) LiveHalted() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.haltReason
}

func (d *Dispatcher) StrategyNames() []string {
	return append([]string(nil), d.names...)
}

// ShadowSymbols lists the shadow-mode stocks, sorted.
func (d *Dispatcher) ShadowSymbols() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.shadowSet))
	for s := range d.shadowSet {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tracks reports whether ticks for symbol are processed.
func (d *Dispatcher) Tracks(symbol string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, shadow := d.shadowSet[symbol]
	return shadow || symbol == d.liveSymbol
}

// ShadowPortfolio returns the lane portfolio for a strategy and symbol.
func (d *Dispatcher) ShadowPortfolio(strategy, symbol string) (*Portfolio, bool) {
	ln, ok := d.lanes.Get(laneKey(strings.ToUpper(symbol), strategy))
	if !ok {
		return nil, false
	}
	return ln.shadow, true
}

// OnTick evaluates every strategy for the tick's symbol. Ticks for one
// symbol are processed serially; different symbols run concurrently.
func (d *Dispatcher) OnTick(ctx context.Context, t Tick) (err error) {
	t.Symbol = strings.ToUpper(t.Symbol)
	if t.Symbol == "" || t.Price <= 0 || !d.Tracks(t.Symbol) {
		return nil
	}
	if t.Time.IsZero() {
		t.Time = d.now()
	}

	mu := d.symbolLock(t.Symbol)
	mu.Lock()
	defer mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal routing for %s panicked: %v", t.Symbol, r)
			log.Printf("strategy: ❌ %v", err)
			d.Bus.Publish(events.EventRiskAlert, events.NewAlert("strategy", err.Error()))
		}
	}()

	d.mu.RLock()
	live := t.Symbol == d.liveSymbol
	active := d.liveStrategy
	halted := d.haltReason != ""
	d.mu.RUnlock()

	var liveSig Signal
	for _, name := range d.names {
		ln, err := d.lane(t.Symbol, name)
		if err != nil {
			log.Printf("strategy: lane %s/%s: %v", t.Symbol, name, err)
			continue
		}
		portfolio := ln.shadow
		if live && name == active {
			d.refreshLive(t.Symbol)
			portfolio = d.live
		}
		sig := d.evaluate(ln, portfolio, t)
		d.applyShadow(ctx, name, ln, t, sig)
		if live && name == active {
			liveSig = sig
		}
	}

	if !live || halted {
		return nil
	}
	return d.routeLive(ctx, active, t, liveSig)
}

func (d *Dispatcher) evaluate(ln *lane, p *Portfolio, t Tick) (sig Signal) {
	var timer *monitor.Timer
	if d.Metrics != nil {
		timer = monitor.NewTimer(d.Metrics.StrategyLatency)
		defer timer.Stop()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("strategy: %s panicked on %s: %v", ln.strategy.Name(), t.Symbol, r)
			sig = Hold("strategy panic")
		}
	}()
	sig = ln.strategy.Evaluate(p, t)
	if sig.Direction == "" {
		sig.Direction = Neutral
	}
	if (sig.Direction != Neutral || sig.Exit) && d.Metrics != nil {
		d.Metrics.IncrementSignals()
	}
	return sig
}

func (d *Dispatcher) refreshLive(symbol string) {
	if d.Positions == nil {
		return
	}
	qty := d.Positions.Quantity(symbol)
	h := d.live.Position(symbol)
	h.Quantity = qty
	d.live.SetPosition(symbol, h)
}

// routeLive turns the live strategy's signal into executor calls.
func (d *Dispatcher) routeLive(ctx context.Context, strategy string, t Tick, sig Signal) error {
	if d.Executor == nil || d.Positions == nil {
		return nil
	}
	pos := d.Positions.Quantity(t.Symbol)

	if sig.Exit {
		if pos == 0 {
			return nil
		}
		return d.Executor.Flatten(ctx, fmt.Sprintf("%s exit: %s", strategy, sig.Reason), t.Symbol)
	}

	switch sig.Direction {
	case Long:
		if pos > 0 {
			return nil
		}
		if pos < 0 {
			if err := d.Executor.Flatten(ctx, strategy+" reversal", t.Symbol); err != nil {
				return fmt.Errorf("close short %s: %w", t.Symbol, err)
			}
		}
		return d.open(ctx, order.ActionBuy, strategy, t, sig)
	case Short:
		if pos < 0 {
			return nil
		}
		if pos > 0 {
			if err := d.Executor.Flatten(ctx, strategy+" reversal", t.Symbol); err != nil {
				return fmt.Errorf("close long %s: %w", t.Symbol, err)
			}
		}
		if !d.opts.Mode.AllowsShort() {
			return nil
		}
		return d.open(ctx, order.ActionSell, strategy, t, sig)
	}
	return nil
}

func (d *Dispatcher) open(ctx context.Context, action, strategy string, t Tick, sig Signal) error {
	qty := d.opts.TradingQuantity
	if d.Sizer != nil {
		var (
			max int64
			err error
		)
		if action == order.ActionSell {
			max, err = d.Sizer.AvailableShares(ctx, t.Symbol)
		} else {
			max, err = d.Sizer.MaxBuyQuantity(ctx, t.Price)
		}
		if err != nil {
			log.Printf("strategy: skip %s %s, broker availability unknown: %v", action, t.Symbol, err)
			return nil
		}
		if max < qty {
			qty = max
		}
	}
	if qty <= 0 {
		log.Printf("strategy: skip %s %s, nothing available at the broker", action, t.Symbol)
		return nil
	}

	conf := sig.Confidence
	res, err := d.Executor.ExecuteWithRetry(ctx, order.Request{
		Action:     action,
		Quantity:   qty,
		Price:      t.Price,
		Symbol:     t.Symbol,
		Strategy:   strategy,
		Confidence: &conf,
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, t.Symbol, err)
	}
	if !res.Submitted {
		log.Printf("strategy: %s %s dropped by %s gate", action, t.Symbol, res.Gate.Gate)
	}
	return nil
}

// SwitchStrategy makes name the live strategy, resumes halted live
// routing and records the audit.
func (d *Dispatcher) SwitchStrategy(ctx context.Context, name string, audit monitor.SwitchRecord) error {
	if d.factories[name] == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	d.mu.Lock()
	from := d.liveStrategy
	d.liveStrategy = name
	d.haltReason = ""
	symbol := d.liveSymbol
	d.mu.Unlock()

	if audit.From == "" {
		audit.From = from
	}
	audit.To = name
	if audit.Symbol == "" {
		audit.Symbol = symbol
	}
	if audit.Time.IsZero() {
		audit.Time = d.now()
	}

	if d.Switches != nil {
		if err := d.Switches.CreateStrategySwitch(ctx, db.StrategySwitch{
			Symbol:         audit.Symbol,
			From:           audit.From,
			To:             audit.To,
			Reason:         audit.Reason,
			Sharpe:         audit.Performance.Sharpe,
			MaxDrawdownPct: audit.Performance.MaxDrawdownPct,
			TotalReturnPct: audit.Performance.TotalReturnPct,
			WinRate:        audit.Performance.WinRate,
			CreatedAt:      audit.Time,
		}); err != nil {
			log.Printf("strategy: switch audit persist error: %v", err)
		}
	}
	d.Bus.Publish(events.EventStrategySwitch, audit)
	log.Printf("strategy: live strategy %s -> %s (%s)", audit.From, name, audit.Reason)
	return nil
}

// SetShadowSymbols replaces the shadow-mode set from a ranking, keeping at
// most MaxShadowStocks and never the live symbol. Lanes of dropped symbols
// are discarded.
func (d *Dispatcher) SetShadowSymbols(ranked []string) []string {
	next := make(map[string]struct{})
	d.mu.Lock()
	for _, s := range ranked {
		if len(next) >= d.opts.MaxShadowStocks {
			break
		}
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || s == d.liveSymbol {
			continue
		}
		next[s] = struct{}{}
	}
	var removed []string
	for s := range d.shadowSet {
		if _, keep := next[s]; !keep {
			removed = append(removed, s)
		}
	}
	d.shadowSet = next
	d.mu.Unlock()

	for _, s := range removed {
		d.dropLanes(s)
	}
	return d.ShadowSymbols()
}

// ResetAll clears every lane's strategy state and shadow portfolio.
func (d *Dispatcher) ResetAll() {
	var all []*lane
	d.lanes.Range(func(_ string, ln *lane) bool {
		all = append(all, ln)
		return true
	})
	for _, ln := range all {
		mu := d.symbolLock(ln.symbol)
		mu.Lock()
		ln.strategy.Reset()
		ln.shadow.Reset()
		mu.Unlock()
	}
	log.Printf("strategy: reset %d lanes", len(all))
}

func (d *Dispatcher) lane(symbol, name string) (*lane, error) {
	key := laneKey(symbol, name)
	if ln, ok := d.lanes.Get(key); ok {
		return ln, nil
	}
	s, err := d.factories[name](symbol)
	if err != nil {
		return nil, err
	}
	return d.lanes.GetOrCreate(key, func() *lane {
		return &lane{
			symbol:   symbol,
			strategy: s,
			shadow:   NewPortfolio(d.opts.ShadowEquity, d.opts.Mode, 1),
		}
	}), nil
}

func (d *Dispatcher) dropLanes(symbol string) {
	prefix := symbol + "|"
	var keys []string
	d.lanes.Range(func(k string, _ *lane) bool {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		return true
	})
	for _, k := range keys {
		d.lanes.Delete(k)
	}
}

func (d *Dispatcher) symbolLock(symbol string) *sync.Mutex {
	return d.locks.GetOrCreate(symbol, func() *sync.Mutex { return &sync.Mutex{} })
}

func laneKey(symbol, strategy string) string {
	return symbol + "|" + strategy
}
