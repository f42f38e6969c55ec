package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderFilled     Event = "order.filled"
	EventOrderFailed     Event = "order.failed"
	EventGateRejected    Event = "order.gate_rejected"
	EventPositionClosed  Event = "position.closed"
	EventRiskAlert       Event = "risk_alert"
	EventStrategySwitch  Event = "strategy.switched"
	EventShadowTrade     Event = "strategy.shadow_trade"
	EventConditionalFire Event = "conditional.triggered"
)

// Fill is published after the broker accepted an order and the ledger moved.
type Fill struct {
	TradeID  string    `json:"trade_id"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"`
	IsExit   bool      `json:"is_exit"`
	Strategy string    `json:"strategy"`
	Attempts int       `json:"attempts"`
	Time     time.Time `json:"time"`
}

// Rejection is published when the admission gate chain vetoes an order.
type Rejection struct {
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Quantity int64     `json:"quantity"`
	Gate     string    `json:"gate"`
	Reason   string    `json:"reason"`
	Strategy string    `json:"strategy"`
	Time     time.Time `json:"time"`
}

// Failure is published when an order is abandoned after its last attempt.
type Failure struct {
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"`
	Quantity int64     `json:"quantity"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	Time     time.Time `json:"time"`
}

// Closed is published after a flatten completed.
type Closed struct {
	Symbol      string    `json:"symbol"`
	Reason      string    `json:"reason"`
	Quantity    int64     `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	DailyPnL    float64   `json:"daily_pnl"`
	WeeklyPnL   float64   `json:"weekly_pnl"`
	Time        time.Time `json:"time"`
}

// Alert is a human-readable message meant for an operator.
type Alert struct {
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// NewAlert stamps an alert with the current time.
func NewAlert(source, message string) Alert {
	return Alert{Source: source, Message: message, Time: time.Now()}
}
