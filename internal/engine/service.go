// Package engine is the single entry point the command layer uses to
// drive the trading core.
package engine

import (
	"context"
	"time"

	"autotrader/internal/conditional"
	"autotrader/internal/events"
	"autotrader/internal/monitor"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/pkg/db"
)

// Service defines the trading core operations. The API layer only talks to
// the core through this interface.
type Service interface {
	// Conditional orders
	PlaceOCO(ctx context.Context, symbol string, side conditional.Side, takeProfit, stopLoss float64) (string, error)
	PlaceTrailingStop(ctx context.Context, symbol string, side conditional.Side, trail, reference float64) (string, error)
	PlaceBracket(ctx context.Context, symbol string, side conditional.Side, entry, takeProfit, stopLoss float64) (string, error)
	CancelOrder(ctx context.Context, id string) bool
	CancelAllForSymbol(ctx context.Context, symbol string) int
	EvaluateOrders(ctx context.Context, symbol string, price float64) []conditional.Trigger
	ListOrders(ctx context.Context, symbol string) []OrderView

	// Execution
	ExecuteOrderWithRetry(ctx context.Context, req order.Request) (order.Result, error)
	FlattenPosition(ctx context.Context, reason, symbol string) (*events.Closed, error)

	// Positions
	Position(symbol string) int64
	EntryPrice(symbol string) float64
	EntryTime(symbol string) *time.Time
	Positions(ctx context.Context) []PositionView

	// Strategies
	SwitchStrategy(ctx context.Context, name, reason string) error
	StrategyStatus(ctx context.Context) StrategyStatus
	SetShadowSymbols(ctx context.Context, ranked []string) []string

	// Risk and history
	RiskMetrics(ctx context.Context) (*RiskMetrics, error)
	SetGatePolicy(ctx context.Context, gate string, policy risk.FailurePolicy) error
	Trades(ctx context.Context, symbol string, limit int) ([]db.Trade, error)
	StrategySwitches(ctx context.Context, limit int) ([]db.StrategySwitch, error)

	// System
	Metrics() monitor.MetricsSnapshot
	SystemStatus(ctx context.Context) *SystemStatus
}
