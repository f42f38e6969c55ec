package engine

import (
	"time"

	"autotrader/internal/conditional"
	"autotrader/internal/monitor"
	"autotrader/internal/risk"
)

// PositionView is a ledger position marked to the latest price.
type PositionView struct {
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Quantity      int64      `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	EntryTime     *time.Time `json:"entry_time,omitempty"`
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
}

// OrderView flattens a managed order for display.
type OrderView struct {
	ID         string           `json:"id"`
	Kind       conditional.Kind `json:"kind"`
	Symbol     string           `json:"symbol"`
	Side       conditional.Side `json:"side"`
	TakeProfit float64          `json:"take_profit,omitempty"`
	StopLoss   float64          `json:"stop_loss,omitempty"`
	Entry      float64          `json:"entry,omitempty"`
	Trail      float64          `json:"trail,omitempty"`
	Peak       float64          `json:"peak,omitempty"`
	Stop       float64          `json:"stop,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// StrategyStatus describes the dispatcher.
type StrategyStatus struct {
	LiveSymbol    string   `json:"live_symbol"`
	LiveStrategy  string   `json:"live_strategy"`
	Strategies    []string `json:"strategies"`
	ShadowSymbols []string `json:"shadow_symbols"`
	Halted        string   `json:"halted,omitempty"`
}

// RiskMetrics are the tracker figures plus gate counters.
type RiskMetrics struct {
	Stats    risk.Stats                    `json:"stats"`
	Gates    risk.ChainStats               `json:"gates"`
	Policies map[string]risk.FailurePolicy `json:"policies"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	DryRun      bool                    `json:"dry_run"`
	UseMockFeed bool                    `json:"use_mock_feed"`
	Symbols     []string                `json:"symbols"`
	Version     string                  `json:"version"`
	ServerTime  time.Time               `json:"server_time"`
	Metrics     monitor.MetricsSnapshot `json:"metrics"`
}
