package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Trade is an immutable fill record from the live path.
type Trade struct {
	ID         string
	Symbol     string
	Action     string // BUY or SELL
	Qty        int64
	Price      float64
	IsExit     bool
	Strategy   string
	Attempts   int
	Confidence *float64
	CreatedAt  time.Time
}

// ShadowTrade is a synthetic fill from a paper portfolio. PnL and ReturnPct
// are only set on closing fills.
type ShadowTrade struct {
	ID        string
	Strategy  string
	Symbol    string
	Action    string
	Qty       int64
	Price     float64
	PnL       float64
	ReturnPct float64
	IsClose   bool
	Reason    string
	CreatedAt time.Time
}

// RealizedPnL records one flatten.
type RealizedPnL struct {
	Symbol     string
	Reason     string
	Qty        int64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	EntryTime  *time.Time
	ClosedAt   time.Time
}

// StrategySwitch is the audit row written whenever the live strategy changes.
type StrategySwitch struct {
	ID             int64
	Symbol         string
	From           string
	To             string
	Reason         string
	Sharpe         float64
	MaxDrawdownPct float64
	TotalReturnPct float64
	WinRate        float64
	CreatedAt      time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	return insertTrade(ctx, d.DB, t)
}

// CreateShadowTrade inserts a paper fill.
func (d *Database) CreateShadowTrade(ctx context.Context, t ShadowTrade) error {
	return insertShadowTrade(ctx, d.DB, t)
}

// InsertBatch writes trades and shadow trades in one transaction.
func (d *Database) InsertBatch(ctx context.Context, trades []Trade, shadows []ShadowTrade) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trades {
		if err := insertTrade(ctx, tx, t); err != nil {
			return fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
	}
	for _, t := range shadows {
		if err := insertShadowTrade(ctx, tx, t); err != nil {
			return fmt.Errorf("insert shadow trade %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func insertTrade(ctx context.Context, ex execer, t Trade) error {
	var conf sql.NullFloat64
	if t.Confidence != nil {
		conf = sql.NullFloat64{Float64: *t.Confidence, Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO trades (
			id, symbol, action, qty, price, is_exit, strategy, attempts, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Symbol, t.Action, t.Qty, t.Price, boolToInt(t.IsExit), t.Strategy, t.Attempts, conf, orNow(t.CreatedAt),
	)
	return err
}

func insertShadowTrade(ctx context.Context, ex execer, t ShadowTrade) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO shadow_trades (
			id, strategy, symbol, action, qty, price, pnl, return_pct, is_close, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Strategy, t.Symbol, t.Action, t.Qty, t.Price, t.PnL, t.ReturnPct, boolToInt(t.IsClose), t.Reason, orNow(t.CreatedAt),
	)
	return err
}

// CreateRealizedPnL appends a realized P&L row.
func (d *Database) CreateRealizedPnL(ctx context.Context, p RealizedPnL) error {
	var entry sql.NullTime
	if p.EntryTime != nil {
		entry = sql.NullTime{Time: p.EntryTime.UTC(), Valid: true}
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO realized_pnl (symbol, reason, qty, entry_price, exit_price, pnl, entry_time, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Symbol, p.Reason, p.Qty, p.EntryPrice, p.ExitPrice, p.PnL, entry, orNow(p.ClosedAt),
	)
	return err
}

// CreateStrategySwitch appends an audit row.
func (d *Database) CreateStrategySwitch(ctx context.Context, s StrategySwitch) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_switches (
			symbol, from_strategy, to_strategy, reason, sharpe, max_drawdown_pct, total_return_pct, win_rate, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.Symbol, s.From, s.To, s.Reason, s.Sharpe, s.MaxDrawdownPct, s.TotalReturnPct, s.WinRate, orNow(s.CreatedAt),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
