// Package conditional evaluates OCO, trailing-stop and bracket orders on
// every tick and flattens the position when one fires.
package conditional

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/events"
	"autotrader/pkg/cache"
)

// Flattener closes the whole position for a symbol.
type Flattener interface {
	Flatten(ctx context.Context, reason, symbol string) error
}

// Trigger describes an order that fired during an evaluation pass.
type Trigger struct {
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Kind    Kind    `json:"kind"`
	Reason  string  `json:"reason"`
	Price   float64 `json:"price"`
}

type slot struct {
	mu    sync.Mutex
	order ManagedOrder
}

// Engine owns the managed-order table.
type Engine struct {
	orders    *cache.ShardedMap[*slot]
	flattener Flattener
	bus       *events.Bus
	now       func() time.Time
}

// NewEngine builds an engine that closes positions through f.
func NewEngine(f Flattener, bus *events.Bus) *Engine {
	return &Engine{
		orders:    cache.NewShardedMap[*slot](),
		flattener: f,
		bus:       bus,
		now:       time.Now,
	}
}

func (e *Engine) header(symbol string, side Side) Header {
	return Header{ID: uuid.NewString(), Symbol: symbol, Side: side, CreatedAt: e.now()}
}

func (e *Engine) add(o ManagedOrder) string {
	h := o.Head()
	e.orders.Set(h.ID, &slot{order: o})
	log.Printf("conditional: placed %s %s %s %s", o.Kind(), h.ID, h.Symbol, h.Side)
	return h.ID
}

// PlaceOCO registers a one-cancels-other pair.
func (e *Engine) PlaceOCO(symbol string, side Side, takeProfit, stopLoss float64) (string, error) {
	if err := validateHeader(symbol, side); err != nil {
		return "", err
	}
	if err := validateLimits(side, takeProfit, stopLoss); err != nil {
		return "", err
	}
	return e.add(OCO{Header: e.header(symbol, side), TakeProfit: takeProfit, StopLoss: stopLoss}), nil
}

// PlaceTrailingStop registers a trailing stop anchored at reference.
func (e *Engine) PlaceTrailingStop(symbol string, side Side, trail, reference float64) (string, error) {
	if err := validateHeader(symbol, side); err != nil {
		return "", err
	}
	if trail <= 0 || trail >= 1 {
		return "", fmt.Errorf("%w: trail %.4f outside (0,1)", ErrInvalidOrder, trail)
	}
	if reference <= 0 {
		return "", fmt.Errorf("%w: reference price must be positive", ErrInvalidOrder)
	}
	return e.add(TrailingStop{
		Header:    e.header(symbol, side),
		Trail:     trail,
		Reference: reference,
		Peak:      reference,
		Stop:      trailingStopLevel(side, reference, trail),
	}), nil
}

// PlaceBracket registers a bracket around a known entry price.
func (e *Engine) PlaceBracket(symbol string, side Side, entry, takeProfit, stopLoss float64) (string, error) {
	if err := validateHeader(symbol, side); err != nil {
		return "", err
	}
	if entry <= 0 {
		return "", fmt.Errorf("%w: entry price must be positive", ErrInvalidOrder)
	}
	if err := validateLimits(side, takeProfit, stopLoss); err != nil {
		return "", err
	}
	if (side == Long && (entry <= stopLoss || entry >= takeProfit)) ||
		(side == Short && (entry >= stopLoss || entry <= takeProfit)) {
		return "", fmt.Errorf("%w: entry %.4f not between take profit %.4f and stop loss %.4f",
			ErrInvalidOrder, entry, takeProfit, stopLoss)
	}
	return e.add(Bracket{Header: e.header(symbol, side), Entry: entry, TakeProfit: takeProfit, StopLoss: stopLoss}), nil
}

// Cancel removes one order. It reports false when the id is unknown or the
// order already fired.
func (e *Engine) Cancel(id string) bool {
	return e.orders.Delete(id)
}

// CancelAllForSymbol removes every order on symbol and returns how many went.
func (e *Engine) CancelAllForSymbol(symbol string) int {
	n := 0
	e.orders.Range(func(id string, s *slot) bool {
		if s.snapshot().Head().Symbol == symbol && e.orders.Delete(id) {
			n++
		}
		return true
	})
	if n > 0 {
		log.Printf("conditional: cancelled %d orders on %s", n, symbol)
	}
	return n
}

// Get returns a copy of one order.
func (e *Engine) Get(id string) (ManagedOrder, bool) {
	s, ok := e.orders.Get(id)
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// Orders lists copies of the orders on symbol, oldest first. An empty symbol
// lists everything.
func (e *Engine) Orders(symbol string) []ManagedOrder {
	var out []ManagedOrder
	e.orders.Range(func(_ string, s *slot) bool {
		o := s.snapshot()
		if symbol == "" || o.Head().Symbol == symbol {
			out = append(out, o)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Head().CreatedAt.Before(out[j].Head().CreatedAt)
	})
	return out
}

// Evaluate runs every order on symbol against price. Fired orders are claimed
// after the pass; only the evaluation that wins the claim flattens.
func (e *Engine) Evaluate(ctx context.Context, symbol string, price float64) []Trigger {
	if symbol == "" || price <= 0 {
		return nil
	}

	var fired []Trigger
	e.orders.Range(func(id string, s *slot) bool {
		s.mu.Lock()
		if s.order.Head().Symbol != symbol {
			s.mu.Unlock()
			return true
		}
		next, reason, hit := s.order.evaluate(price)
		s.order = next
		s.mu.Unlock()
		if hit {
			fired = append(fired, Trigger{OrderID: id, Symbol: symbol, Kind: next.Kind(), Reason: reason, Price: price})
		}
		return true
	})

	claimed := fired[:0]
	for _, t := range fired {
		if !e.orders.Delete(t.OrderID) {
			continue
		}
		claimed = append(claimed, t)
		log.Printf("conditional: %s fired on %s at %.4f (%s)", t.Kind, t.Symbol, t.Price, t.Reason)
		e.bus.Publish(events.EventConditionalFire, t)
		if e.flattener == nil {
			continue
		}
		if err := e.flattener.Flatten(ctx, t.Reason, t.Symbol); err != nil {
			log.Printf("conditional: flatten %s after %s failed: %v", t.Symbol, t.Reason, err)
			e.bus.Publish(events.EventRiskAlert, events.NewAlert("conditional",
				fmt.Sprintf("%s fired on %s but flatten failed: %v", t.Reason, t.Symbol, err)))
		}
	}
	return claimed
}

// Len returns the number of live orders.
func (e *Engine) Len() int {
	return e.orders.Len()
}

func (s *slot) snapshot() ManagedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}
