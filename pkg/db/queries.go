package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReturnPoint is one closed shadow round trip.
type ReturnPoint struct {
	ReturnPct float64
	PnL       float64
	ClosedAt  time.Time
}

// ListTrades returns the most recent live fills, newest first.
func (d *Database) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, action, qty, price, is_exit, strategy, attempts, confidence, created_at
		FROM trades
		WHERE (? = '' OR symbol = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t      Trade
			isExit int
			conf   sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Action, &t.Qty, &t.Price, &isExit, &t.Strategy, &t.Attempts, &conf, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.IsExit = isExit == 1
		if conf.Valid {
			c := conf.Float64
			t.Confidence = &c
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StrategyReturns lists closed shadow round trips for strategy since the
// given time, oldest first.
func (d *Database) StrategyReturns(ctx context.Context, strategy string, since time.Time) ([]ReturnPoint, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT return_pct, pnl, created_at
		FROM shadow_trades
		WHERE strategy = ? AND is_close = 1 AND created_at >= ?
		ORDER BY created_at ASC
	`, strategy, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query strategy returns: %w", err)
	}
	defer rows.Close()

	var out []ReturnPoint
	for rows.Next() {
		var p ReturnPoint
		if err := rows.Scan(&p.ReturnPct, &p.PnL, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ShadowStrategies lists the strategies that traded in shadow since the given time.
func (d *Database) ShadowStrategies(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT DISTINCT strategy FROM shadow_trades WHERE created_at >= ? ORDER BY strategy
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query shadow strategies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStrategySwitches returns the audit trail, newest first.
func (d *Database) ListStrategySwitches(ctx context.Context, limit int) ([]StrategySwitch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, from_strategy, to_strategy, COALESCE(reason, ''),
		       COALESCE(sharpe, 0), COALESCE(max_drawdown_pct, 0), COALESCE(total_return_pct, 0),
		       COALESCE(win_rate, 0), created_at
		FROM strategy_switches
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query strategy switches: %w", err)
	}
	defer rows.Close()

	var out []StrategySwitch
	for rows.Next() {
		var s StrategySwitch
		if err := rows.Scan(&s.ID, &s.Symbol, &s.From, &s.To, &s.Reason, &s.Sharpe, &s.MaxDrawdownPct,
			&s.TotalReturnPct, &s.WinRate, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy switch: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRealizedPnL returns realized P&L rows closed since the given time, oldest first.
func (d *Database) ListRealizedPnL(ctx context.Context, since time.Time) ([]RealizedPnL, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, COALESCE(reason, ''), qty, entry_price, exit_price, pnl, entry_time, closed_at
		FROM realized_pnl
		WHERE closed_at >= ?
		ORDER BY closed_at ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query realized pnl: %w", err)
	}
	defer rows.Close()

	var out []RealizedPnL
	for rows.Next() {
		var (
			p     RealizedPnL
			entry sql.NullTime
		)
		if err := rows.Scan(&p.Symbol, &p.Reason, &p.Qty, &p.EntryPrice, &p.ExitPrice, &p.PnL, &entry, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan realized pnl: %w", err)
		}
		if entry.Valid {
			t := entry.Time
			p.EntryTime = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
