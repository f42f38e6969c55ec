package broker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paperPosition struct {
	qty      int64
	avgPrice decimal.Decimal
	mark     decimal.Decimal
}

// Paper fills every order immediately at the request price.
type Paper struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	positions   map[string]*paperPosition
	slippageBps float64
	orders      int
}

// NewPaper creates a paper broker holding initialCash.
func NewPaper(initialCash float64, slippageBps float64) *Paper {
	return &Paper{
		cash:        decimal.NewFromFloat(initialCash),
		positions:   make(map[string]*paperPosition),
		slippageBps: slippageBps,
	}
}

// PlaceOrder fills the order in memory.
func (p *Paper) PlaceOrder(_ context.Context, o OrderRequest) (OrderAck, error) {
	if o.Quantity <= 0 || o.Price <= 0 {
		return OrderAck{}, fmt.Errorf("%w: quantity and price must be positive", ErrRejected)
	}
	buy := strings.EqualFold(o.Action, "BUY")
	if !buy && !strings.EqualFold(o.Action, "SELL") {
		return OrderAck{}, fmt.Errorf("%w: unknown action %q", ErrRejected, o.Action)
	}

	price := decimal.NewFromFloat(o.Price)
	if p.slippageBps > 0 {
		slip := decimal.NewFromFloat(p.slippageBps / 10000)
		if buy {
			price = price.Mul(decimal.NewFromInt(1).Add(slip))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(slip))
		}
	}
	qty := decimal.NewFromInt(o.Quantity)
	notional := price.Mul(qty)

	p.mu.Lock()
	defer p.mu.Unlock()

	if buy && !o.IsExit && notional.GreaterThan(p.cash) {
		return OrderAck{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficient, notional.StringFixed(2), p.cash.StringFixed(2))
	}

	signed := o.Quantity
	if buy {
		p.cash = p.cash.Sub(notional)
	} else {
		p.cash = p.cash.Add(notional)
		signed = -signed
	}
	p.apply(o.Symbol, signed, price)
	p.orders++

	fill, _ := price.Float64()
	log.Printf("paper: %s %d %s @ %.4f cash=%s", strings.ToUpper(o.Action), o.Quantity, o.Symbol, fill, p.cash.StringFixed(2))
	return OrderAck{
		OrderID:        uuid.NewString(),
		Status:         "filled",
		FilledPrice:    fill,
		FilledQuantity: o.Quantity,
	}, nil
}

func (p *Paper) apply(symbol string, signed int64, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &paperPosition{qty: signed, avgPrice: price, mark: price}
		return
	}
	pos.mark = price
	next := pos.qty + signed
	switch {
	case next == 0:
		delete(p.positions, symbol)
		return
	case pos.qty == 0 || (pos.qty > 0) != (next > 0):
		// opened or flipped through zero
		pos.avgPrice = price
	case (pos.qty > 0) == (signed > 0):
		// added to the same side
		total := pos.avgPrice.Mul(decimal.NewFromInt(abs(pos.qty))).Add(price.Mul(decimal.NewFromInt(abs(signed))))
		pos.avgPrice = total.Div(decimal.NewFromInt(abs(next)))
	}
	pos.qty = next
}

// Account reports cash and positions marked at the last fill price.
func (p *Paper) Account(context.Context) (Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.cash
	acct := Account{}
	for sym, pos := range p.positions {
		equity = equity.Add(pos.mark.Mul(decimal.NewFromInt(pos.qty)))
		avg, _ := pos.avgPrice.Float64()
		available := pos.qty
		if available < 0 {
			available = 0
		}
		acct.Positions = append(acct.Positions, Holding{Symbol: sym, Quantity: pos.qty, AvailableQuantity: available, AvgPrice: avg})
	}
	sort.Slice(acct.Positions, func(i, j int) bool { return acct.Positions[i].Symbol < acct.Positions[j].Symbol })
	acct.Cash, _ = p.cash.Float64()
	acct.Equity, _ = equity.Float64()
	acct.AvailableBalance = acct.Cash
	if acct.AvailableBalance < 0 {
		acct.AvailableBalance = 0
	}
	return acct, nil
}

// Signal always answers NEUTRAL; paper mode has no external signal service.
func (p *Paper) Signal(_ context.Context, symbol string) (Signal, error) {
	return Signal{Symbol: symbol, Direction: "NEUTRAL", Reason: "paper broker has no signal service"}, nil
}

// Orders returns how many orders were filled.
func (p *Paper) Orders() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orders
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
