package order

import (
	"context"
	"errors"
	"fmt"
	"log"

	"autotrader/internal/events"
	"autotrader/internal/risk"
)

// Flatten closes whatever is open on symbol. It satisfies the conditional
// engine and drawdown monitor callbacks.
func (e *Executor) Flatten(ctx context.Context, reason, symbol string) error {
	_, err := e.FlattenPosition(ctx, reason, symbol)
	return err
}

// FlattenPosition closes the open position on symbol with an exit order at
// the latest cached price and records the realized P&L. A flat symbol is a
// no-op returning nil. Calls for the same symbol are serialized so a
// position is closed at most once.
func (e *Executor) FlattenPosition(ctx context.Context, reason, symbol string) (closed *events.Closed, err error) {
	mu := e.symbolLock(symbol)
	mu.Lock()
	defer mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			closed = nil
			err = fmt.Errorf("flatten %s panicked: %v", symbol, r)
		}
		if err != nil {
			e.flattenFailed(reason, symbol, err)
		}
	}()

	pos := e.Ledger.Get(symbol)
	if pos.IsFlat() {
		return nil, nil
	}

	price, ok := e.referencePrice(symbol)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoReferencePrice, symbol)
	}

	qty := abs(pos.Quantity)
	fill, err := e.submit(ctx, Request{
		Action:   closingAction(pos.Quantity),
		Quantity: qty,
		Price:    price,
		Symbol:   symbol,
		IsExit:   true,
		Strategy: reason,
	})
	if err != nil {
		return nil, err
	}

	closedQty := pos.Quantity
	if fill.Quantity < qty {
		closedQty = fill.Quantity
		if pos.Quantity < 0 {
			closedQty = -closedQty
		}
	}
	pnl := RealizedPnL(pos.EntryPrice, fill.Price, closedQty, e.cfg.ContractMultiplier)

	out := &events.Closed{
		Symbol:      symbol,
		Reason:      reason,
		Quantity:    closedQty,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill.Price,
		RealizedPnL: pnl,
		Time:        fill.Time,
	}
	if e.PnL != nil {
		if rerr := e.PnL.Record(ctx, risk.Realized{
			Symbol:     symbol,
			Reason:     reason,
			Quantity:   closedQty,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  fill.Price,
			PnL:        pnl,
			EntryTime:  pos.EntryTime,
			ClosedAt:   fill.Time,
		}); rerr != nil {
			log.Printf("executor: realized pnl persist error for %s: %v", symbol, rerr)
		}
		out.DailyPnL = e.PnL.DailyPnL()
		out.WeeklyPnL = e.PnL.WeeklyPnL()
	}
	if e.Metrics != nil {
		e.Metrics.IncrementFlattens()
	}
	e.Bus.Publish(events.EventPositionClosed, *out)
	log.Printf("executor: 🔻 flattened %s (%s) qty=%d entry=%.4f exit=%.4f pnl=%.2f daily=%.2f weekly=%.2f",
		symbol, reason, closedQty, pos.EntryPrice, fill.Price, pnl, out.DailyPnL, out.WeeklyPnL)

	if fill.Quantity < qty {
		return out, fmt.Errorf("%w: %s still holds %d", ErrFlattenIncomplete, symbol, e.Ledger.Quantity(symbol))
	}
	return out, nil
}

// FlattenAll closes every open position and joins the failures.
func (e *Executor) FlattenAll(ctx context.Context, reason string) error {
	var errs []error
	for _, p := range e.Ledger.Open() {
		if err := e.Flatten(ctx, reason, p.Symbol); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) referencePrice(symbol string) (float64, bool) {
	if e.Prices == nil {
		return 0, false
	}
	p, ok := e.Prices.Get(symbol)
	return p, ok && p > 0
}

func (e *Executor) flattenFailed(reason, symbol string, err error) {
	log.Printf("executor: ❌ flatten %s (%s) failed: %v", symbol, reason, err)
	if e.Metrics != nil {
		e.Metrics.IncrementErrors()
	}
	e.Bus.Publish(events.EventRiskAlert, events.NewAlert("executor",
		fmt.Sprintf("flatten %s (%s) failed: %v", symbol, reason, err)))
}
