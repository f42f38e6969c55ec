package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"time"

	"autotrader/internal/conditional"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/monitor"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"
	"autotrader/pkg/cache"
	"autotrader/pkg/db"
	"autotrader/pkg/market"
)

var ErrNoDatabase = errors.New("trade log not configured")

// Impl implements Service by composing the core modules.
type Impl struct {
	ledger      *ledger.Ledger
	prices      *cache.PriceCache
	executor    *order.Executor
	conditional *conditional.Engine
	dispatcher  *strategy.Dispatcher
	chain       *risk.Chain
	tracker     *risk.Tracker
	db          *db.Database
	bus         *events.Bus
	metrics     *monitor.SystemMetrics

	multiplier float64
	workers    int
	meta       SystemStatus
}

// Config holds the modules an Impl composes. Dispatcher, Chain, Tracker
// and DB are optional.
type Config struct {
	Ledger             *ledger.Ledger
	Prices             *cache.PriceCache
	Executor           *order.Executor
	Conditional        *conditional.Engine
	Dispatcher         *strategy.Dispatcher
	Chain              *risk.Chain
	Tracker            *risk.Tracker
	DB                 *db.Database
	Bus                *events.Bus
	Metrics            *monitor.SystemMetrics
	ContractMultiplier float64
	Workers            int
	Meta               SystemStatus
}

func NewImpl(cfg Config) *Impl {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = 1
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	return &Impl{
		ledger:      cfg.Ledger,
		prices:      cfg.Prices,
		executor:    cfg.Executor,
		conditional: cfg.Conditional,
		dispatcher:  cfg.Dispatcher,
		chain:       cfg.Chain,
		tracker:     cfg.Tracker,
		db:          cfg.DB,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		multiplier:  cfg.ContractMultiplier,
		workers:     cfg.Workers,
		meta:        cfg.Meta,
	}
}

// --- Tick path ---

// Start consumes price ticks from the bus. Ticks are sharded to workers by
// symbol so each symbol is processed in order while symbols run in
// parallel.
func (e *Impl) Start(ctx context.Context) {
	stream, unsub := e.bus.Subscribe(events.EventPriceTick, 1024)
	lanes := make([]chan market.Tick, e.workers)
	for i := range lanes {
		lanes[i] = make(chan market.Tick, 256)
		go e.worker(ctx, lanes[i])
	}

	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				t, ok := msg.(market.Tick)
				if !ok {
					continue
				}
				select {
				case lanes[shard(t.Symbol, len(lanes))] <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	log.Printf("engine: tick pipeline started with %d workers", e.workers)
}

func (e *Impl) worker(ctx context.Context, in <-chan market.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-in:
			e.OnTick(ctx, t)
		}
	}
}

func shard(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// OnTick runs one tick through the price cache, the conditional orders and
// the strategy dispatcher.
func (e *Impl) OnTick(ctx context.Context, t market.Tick) {
	t.Symbol = strings.ToUpper(t.Symbol)
	if t.Symbol == "" || t.Price <= 0 {
		return
	}
	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	timer := monitor.NewTimer(e.metrics.TickLatency)
	defer timer.Stop()
	e.metrics.IncrementTicks()

	e.prices.Set(t.Symbol, t.Price, t.Time)

	for range e.conditional.Evaluate(ctx, t.Symbol, t.Price) {
		e.metrics.IncrementTriggers()
	}

	if e.dispatcher != nil {
		if err := e.dispatcher.OnTick(ctx, strategy.Tick{Symbol: t.Symbol, Price: t.Price, Time: t.Time}); err != nil {
			e.metrics.IncrementErrors()
			log.Printf("engine: tick %s: %v", t.Symbol, err)
		}
	}
}

// --- Conditional orders ---

func (e *Impl) PlaceOCO(_ context.Context, symbol string, side conditional.Side, takeProfit, stopLoss float64) (string, error) {
	return e.conditional.PlaceOCO(strings.ToUpper(symbol), side, takeProfit, stopLoss)
}

func (e *Impl) PlaceTrailingStop(_ context.Context, symbol string, side conditional.Side, trail, reference float64) (string, error) {
	symbol = strings.ToUpper(symbol)
	if reference <= 0 {
		if p, ok := e.prices.Get(symbol); ok {
			reference = p
		}
	}
	return e.conditional.PlaceTrailingStop(symbol, side, trail, reference)
}

func (e *Impl) PlaceBracket(_ context.Context, symbol string, side conditional.Side, entry, takeProfit, stopLoss float64) (string, error) {
	return e.conditional.PlaceBracket(strings.ToUpper(symbol), side, entry, takeProfit, stopLoss)
}

func (e *Impl) CancelOrder(_ context.Context, id string) bool {
	return e.conditional.Cancel(id)
}

func (e *Impl) CancelAllForSymbol(_ context.Context, symbol string) int {
	return e.conditional.CancelAllForSymbol(strings.ToUpper(symbol))
}

func (e *Impl) EvaluateOrders(ctx context.Context, symbol string, price float64) []conditional.Trigger {
	return e.conditional.Evaluate(ctx, strings.ToUpper(symbol), price)
}

func (e *Impl) ListOrders(_ context.Context, symbol string) []OrderView {
	orders := e.conditional.Orders(strings.ToUpper(symbol))
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOrder(o))
	}
	return out
}

func viewOrder(o conditional.ManagedOrder) OrderView {
	h := o.Head()
	v := OrderView{ID: h.ID, Kind: o.Kind(), Symbol: h.Symbol, Side: h.Side, CreatedAt: h.CreatedAt}
	switch t := o.(type) {
	case conditional.OCO:
		v.TakeProfit, v.StopLoss = t.TakeProfit, t.StopLoss
	case conditional.TrailingStop:
		v.Trail, v.Peak, v.Stop = t.Trail, t.Peak, t.Stop
	case conditional.Bracket:
		v.Entry, v.TakeProfit, v.StopLoss = t.Entry, t.TakeProfit, t.StopLoss
	}
	return v
}

// --- Execution ---

func (e *Impl) ExecuteOrderWithRetry(ctx context.Context, req order.Request) (order.Result, error) {
	req.Symbol = strings.ToUpper(req.Symbol)
	return e.executor.ExecuteWithRetry(ctx, req)
}

func (e *Impl) FlattenPosition(ctx context.Context, reason, symbol string) (*events.Closed, error) {
	return e.executor.FlattenPosition(ctx, reason, strings.ToUpper(symbol))
}

// --- Positions ---

func (e *Impl) Position(symbol string) int64 { return e.ledger.Quantity(strings.ToUpper(symbol)) }

func (e *Impl) EntryPrice(symbol string) float64 { return e.ledger.EntryPrice(strings.ToUpper(symbol)) }

func (e *Impl) EntryTime(symbol string) *time.Time {
	return e.ledger.EntryTime(strings.ToUpper(symbol))
}

func (e *Impl) Positions(context.Context) []PositionView {
	open := e.ledger.Open()
	out := make([]PositionView, 0, len(open))
	for _, p := range open {
		v := PositionView{
			Symbol:     p.Symbol,
			Side:       p.Side(),
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			EntryTime:  p.EntryTime,
		}
		if price, ok := e.prices.Get(p.Symbol); ok {
			v.CurrentPrice = price
			if p.EntryPrice > 0 {
				v.UnrealizedPnL = order.RealizedPnL(p.EntryPrice, price, p.Quantity, e.multiplier)
			}
		}
		out = append(out, v)
	}
	return out
}

// --- Strategies ---

func (e *Impl) SwitchStrategy(ctx context.Context, name, reason string) error {
	if e.dispatcher == nil {
		return fmt.Errorf("strategy dispatcher not available")
	}
	if reason == "" {
		reason = "manual"
	}
	return e.dispatcher.SwitchStrategy(ctx, name, monitor.SwitchRecord{Reason: reason})
}

func (e *Impl) StrategyStatus(context.Context) StrategyStatus {
	if e.dispatcher == nil {
		return StrategyStatus{}
	}
	return StrategyStatus{
		LiveSymbol:    e.dispatcher.LiveSymbol(),
		LiveStrategy:  e.dispatcher.ActiveStrategy(),
		Strategies:    e.dispatcher.StrategyNames(),
		ShadowSymbols: e.dispatcher.ShadowSymbols(),
		Halted:        e.dispatcher.LiveHalted(),
	}
}

func (e *Impl) SetShadowSymbols(_ context.Context, ranked []string) []string {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.SetShadowSymbols(ranked)
}

// --- Risk and history ---

func (e *Impl) RiskMetrics(ctx context.Context) (*RiskMetrics, error) {
	m := &RiskMetrics{Policies: map[string]risk.FailurePolicy{}}
	if e.tracker != nil {
		stats, err := e.tracker.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("risk stats: %w", err)
		}
		m.Stats = stats
	}
	if e.chain != nil {
		m.Gates = e.chain.Stats()
		for _, g := range e.chain.Gates() {
			m.Policies[g] = e.chain.Policy(g)
		}
	}
	return m, nil
}

func (e *Impl) SetGatePolicy(_ context.Context, gate string, policy risk.FailurePolicy) error {
	if e.chain == nil {
		return fmt.Errorf("gate chain not available")
	}
	return e.chain.SetPolicy(gate, policy)
}

func (e *Impl) Trades(ctx context.Context, symbol string, limit int) ([]db.Trade, error) {
	if e.db == nil {
		return nil, ErrNoDatabase
	}
	return e.db.ListTrades(ctx, strings.ToUpper(symbol), limit)
}

func (e *Impl) StrategySwitches(ctx context.Context, limit int) ([]db.StrategySwitch, error) {
	if e.db == nil {
		return nil, ErrNoDatabase
	}
	return e.db.ListStrategySwitches(ctx, limit)
}

// --- System ---

func (e *Impl) Metrics() monitor.MetricsSnapshot { return e.metrics.GetSnapshot() }

func (e *Impl) SystemStatus(context.Context) *SystemStatus {
	s := e.meta
	s.Symbols = append([]string(nil), e.meta.Symbols...)
	s.ServerTime = time.Now()
	s.Metrics = e.metrics.GetSnapshot()
	return &s
}

var _ Service = (*Impl)(nil)
