// Package order submits admitted orders to the broker and keeps the
// position ledger in step with what the broker accepted.
package order

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/monitor"
	"autotrader/internal/risk"
	"autotrader/pkg/broker"
	"autotrader/pkg/cache"
	"autotrader/pkg/db"
)

// Config tunes submission and P&L.
type Config struct {
	MaxAttempts        int
	BaseBackoff        time.Duration // first wait; doubles per failed attempt
	ContractMultiplier float64
}

// DefaultConfig is three attempts with 1s then 2s between them.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: time.Second, ContractMultiplier: 1}
}

// Deps are the collaborators an Executor works with. Gates, Trades, PnL,
// Bus and Metrics are optional.
type Deps struct {
	Broker  Broker
	Gates   Gatekeeper
	Ledger  *ledger.Ledger
	Prices  PriceSource
	Trades  TradeSink
	PnL     PnLRecorder
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
}

// Executor runs the gate chain, submits with retry and applies fills.
type Executor struct {
	Deps
	cfg   Config
	sleep func(time.Duration)
	now   func() time.Time
	locks *cache.ShardedMap[*sync.Mutex]

	// OnFill runs after every applied fill.
	OnFill func(events.Fill)
}

// NewExecutor builds an executor.
func NewExecutor(deps Deps, cfg Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = 1
	}
	return &Executor{
		Deps:  deps,
		cfg:   cfg,
		sleep: time.Sleep,
		now:   time.Now,
		locks: cache.NewShardedMap[*sync.Mutex](),
	}
}

// SetSleep replaces the backoff sleeper.
func (e *Executor) SetSleep(fn func(time.Duration)) {
	e.sleep = fn
}

// ExecuteWithRetry validates the request, runs entry orders through the
// gate chain and submits to the broker. A gate rejection is not an error:
// the returned Result carries it and nothing is submitted. Exits skip the
// gates but must reduce the held position and are capped at its size.
func (e *Executor) ExecuteWithRetry(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.IsExit {
		unlock := e.LockSymbol(req.Symbol)
		defer unlock()
		if err := e.boundExit(&req); err != nil {
			return Result{}, err
		}
	}

	res := Result{Gate: risk.GateResult{Approved: true, Quantity: req.Quantity}}
	if !req.IsExit && e.Gates != nil {
		res.Gate = e.Gates.Evaluate(ctx, risk.Order{
			Symbol:     req.Symbol,
			Action:     req.Action,
			Quantity:   req.Quantity,
			Price:      req.Price,
			Strategy:   req.Strategy,
			Confidence: req.Confidence,
			Time:       e.now(),
		})
		if !res.Gate.Approved {
			e.reportRejection(req, res.Gate)
			return res, nil
		}
		req.Quantity = res.Gate.Quantity
	}

	fill, err := e.submit(ctx, req)
	if err != nil {
		return res, err
	}
	res.Submitted = true
	res.Fill = &fill
	return res, nil
}

// boundExit checks an exit against the ledger: the symbol must be open,
// the action must close it and the quantity is capped at what is held.
func (e *Executor) boundExit(req *Request) error {
	held := e.Ledger.Quantity(req.Symbol)
	if held == 0 {
		return fmt.Errorf("%w: exit on flat %s", ErrInvalidOrder, req.Symbol)
	}
	if req.Action != closingAction(held) {
		return fmt.Errorf("%w: %s exit does not reduce %s position %d", ErrInvalidOrder, req.Action, req.Symbol, held)
	}
	if req.Quantity > abs(held) {
		log.Printf("executor: exit %s %d %s capped to held %d", req.Action, req.Quantity, req.Symbol, abs(held))
		req.Quantity = abs(held)
	}
	return nil
}

func (e *Executor) reportRejection(req Request, gr risk.GateResult) {
	log.Printf("executor: %s %d %s rejected by %s gate: %s", req.Action, req.Quantity, req.Symbol, gr.Gate, gr.Reason)
	if e.Metrics != nil {
		e.Metrics.IncrementRejections()
	}
	e.Bus.Publish(events.EventGateRejected, events.Rejection{
		Symbol:   req.Symbol,
		Action:   req.Action,
		Quantity: req.Quantity,
		Gate:     gr.Gate,
		Reason:   gr.Reason,
		Strategy: req.Strategy,
		Time:     e.now(),
	})
}

// submit sends the order, retrying with exponential backoff, and applies
// the fill. Nothing is kept when every attempt fails.
func (e *Executor) submit(ctx context.Context, req Request) (events.Fill, error) {
	breq := broker.OrderRequest{
		Symbol:   req.Symbol,
		Action:   req.Action,
		Quantity: req.Quantity,
		Price:    req.Price,
		IsExit:   req.IsExit,
		Strategy: req.Strategy,
	}

	var (
		ack     broker.OrderAck
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		timer := e.startTimer()
		ack, lastErr = e.Broker.PlaceOrder(ctx, breq)
		timer()
		if lastErr == nil {
			break
		}
		log.Printf("executor: attempt %d/%d for %s %d %s failed: %v",
			attempt, e.cfg.MaxAttempts, req.Action, req.Quantity, req.Symbol, lastErr)
		if attempt < e.cfg.MaxAttempts {
			if e.Metrics != nil {
				e.Metrics.IncrementRetries()
			}
			e.sleep(e.cfg.BaseBackoff << (attempt - 1))
		}
	}
	if lastErr != nil {
		attempts := e.cfg.MaxAttempts
		if e.Metrics != nil {
			e.Metrics.IncrementAbandoned()
		}
		e.Bus.Publish(events.EventOrderFailed, events.Failure{
			Symbol:   req.Symbol,
			Action:   req.Action,
			Quantity: req.Quantity,
			Attempts: attempts,
			Error:    lastErr.Error(),
			Time:     e.now(),
		})
		return events.Fill{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
	}

	price := ack.FilledPrice
	if price <= 0 {
		price = req.Price
	}
	qty := ack.FilledQuantity
	if qty <= 0 || (req.IsExit && qty > req.Quantity) {
		qty = req.Quantity
	}
	fill := events.Fill{
		TradeID:  uuid.NewString(),
		Symbol:   req.Symbol,
		Action:   req.Action,
		Quantity: qty,
		Price:    price,
		IsExit:   req.IsExit,
		Strategy: req.Strategy,
		Attempts: attempt,
		Time:     e.now(),
	}
	e.apply(fill)

	if e.Trades != nil {
		if err := e.Trades.RecordTrade(ctx, db.Trade{
			ID:         fill.TradeID,
			Symbol:     fill.Symbol,
			Action:     fill.Action,
			Qty:        fill.Quantity,
			Price:      fill.Price,
			IsExit:     fill.IsExit,
			Strategy:   fill.Strategy,
			Attempts:   fill.Attempts,
			Confidence: req.Confidence,
			CreatedAt:  fill.Time,
		}); err != nil {
			log.Printf("executor: trade log error for %s: %v", fill.TradeID, err)
		}
	}
	if e.Metrics != nil {
		e.Metrics.IncrementFills()
	}
	e.Bus.Publish(events.EventOrderFilled, fill)
	if e.OnFill != nil {
		e.OnFill(fill)
	}
	log.Printf("executor: filled %s %d %s @ %.4f (attempt %d, exit=%t)",
		fill.Action, fill.Quantity, fill.Symbol, fill.Price, fill.Attempts, fill.IsExit)
	return fill, nil
}

// apply moves the ledger by the fill. Entries opening or flipping a
// position set a fresh entry; entries adding to it average the price.
func (e *Executor) apply(f events.Fill) {
	delta := f.Quantity
	if f.Action == ActionSell {
		delta = -delta
	}
	prevEntry := e.Ledger.Get(f.Symbol)
	next := e.Ledger.Adjust(f.Symbol, delta)
	prev := next - delta

	switch {
	case next == 0:
		e.Ledger.ClearEntry(f.Symbol)
	case f.IsExit:
		// exits never move the entry
	case prev == 0 || (prev > 0) != (next > 0):
		e.Ledger.RecordEntry(f.Symbol, f.Price, f.Time)
	case abs(next) > abs(prev):
		avg := weightedEntry(prevEntry.EntryPrice, prev, f.Price, delta)
		at := f.Time
		if prevEntry.EntryTime != nil {
			at = *prevEntry.EntryTime
		}
		e.Ledger.RecordEntry(f.Symbol, avg, at)
	}
}

func (e *Executor) startTimer() func() {
	if e.Metrics == nil {
		return func() {}
	}
	t := monitor.NewTimer(e.Metrics.OrderLatency)
	return func() { t.Stop() }
}

func (e *Executor) symbolLock(symbol string) *sync.Mutex {
	return e.locks.GetOrCreate(symbol, func() *sync.Mutex { return &sync.Mutex{} })
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// LockSymbol takes the symbol's flatten lock so other writers (such as
// reconciliation) cannot interleave with a close.
func (e *Executor) LockSymbol(symbol string) (unlock func()) {
	mu := e.symbolLock(symbol)
	mu.Lock()
	return mu.Unlock
}
