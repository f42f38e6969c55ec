package strategy

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrader/internal/events"
	"autotrader/internal/order"
	"autotrader/pkg/db"
)

// applyShadow fills the lane's paper portfolio one unit at the tick price.
// Shadow fills never touch the broker or the gates.
func (d *Dispatcher) applyShadow(ctx context.Context, name string, ln *lane, t Tick, sig Signal) {
	pos := ln.shadow.Position(t.Symbol)

	switch {
	case sig.Exit:
		if pos.Quantity != 0 {
			d.closeShadow(ctx, name, ln, t, pos, sig.Reason)
		}
	case sig.Direction == Long:
		if pos.Quantity < 0 {
			d.closeShadow(ctx, name, ln, t, pos, sig.Reason)
			pos = Holding{}
		}
		if pos.Quantity == 0 {
			d.openShadow(ctx, name, ln, t, 1, sig.Reason)
		}
	case sig.Direction == Short:
		if pos.Quantity > 0 {
			d.closeShadow(ctx, name, ln, t, pos, sig.Reason)
			pos = Holding{}
		}
		if pos.Quantity == 0 && ln.shadow.Mode.AllowsShort() {
			d.openShadow(ctx, name, ln, t, -1, sig.Reason)
		}
	}
}

func (d *Dispatcher) openShadow(ctx context.Context, name string, ln *lane, t Tick, qty int64, reason string) {
	ln.shadow.SetPosition(t.Symbol, Holding{Quantity: qty, EntryPrice: t.Price, EntryTime: t.Time})
	action := order.ActionBuy
	if qty < 0 {
		action = order.ActionSell
	}
	d.logShadow(ctx, db.ShadowTrade{
		Strategy: name, Symbol: t.Symbol, Action: action, Qty: 1, Price: t.Price,
		Reason: reason, CreatedAt: t.Time,
	})
}

func (d *Dispatcher) closeShadow(ctx context.Context, name string, ln *lane, t Tick, pos Holding, reason string) {
	pnl, ret := shadowReturn(pos, t.Price)
	ln.shadow.SetPosition(t.Symbol, Holding{})
	ln.shadow.mu.Lock()
	ln.shadow.Equity += pnl
	ln.shadow.AvailableMargin = ln.shadow.Equity
	ln.shadow.mu.Unlock()

	action := order.ActionSell
	if pos.Quantity < 0 {
		action = order.ActionBuy
	}
	d.logShadow(ctx, db.ShadowTrade{
		Strategy: name, Symbol: t.Symbol, Action: action, Qty: abs(pos.Quantity), Price: t.Price,
		PnL: pnl, ReturnPct: ret, IsClose: true, Reason: reason, CreatedAt: t.Time,
	})
}

// shadowReturn is the P&L and percentage return of closing pos at price.
func shadowReturn(pos Holding, price float64) (float64, float64) {
	entry := decimal.NewFromFloat(pos.EntryPrice)
	diff := decimal.NewFromFloat(price).Sub(entry)
	pnl := diff.Mul(decimal.NewFromInt(pos.Quantity))
	var ret decimal.Decimal
	if !entry.IsZero() {
		ret = pnl.Div(entry.Mul(decimal.NewFromInt(abs(pos.Quantity)))).Mul(decimal.NewFromInt(100))
	}
	p, _ := pnl.Round(4).Float64()
	r, _ := ret.Round(4).Float64()
	return p, r
}

func (d *Dispatcher) logShadow(ctx context.Context, t db.ShadowTrade) {
	t.ID = uuid.NewString()
	if d.ShadowLog != nil {
		if err := d.ShadowLog.RecordShadowTrade(ctx, t); err != nil {
			log.Printf("strategy: shadow trade log error: %v", err)
		}
	}
	if d.Metrics != nil {
		d.Metrics.IncrementShadowTrades()
	}
	d.Bus.Publish(events.EventShadowTrade, t)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
