package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autotrader/internal/events"
	"autotrader/internal/risk"
	"autotrader/pkg/broker"
	"autotrader/pkg/db"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrRetriesExhausted  = errors.New("broker submission retries exhausted")
	ErrNoReferencePrice  = errors.New("no reference price")
	ErrFlattenIncomplete = errors.New("flatten left a residual position")
)

// Request is an order handed to the execution engine.
type Request struct {
	Action     string   `json:"action"` // BUY or SELL
	Quantity   int64    `json:"quantity"`
	Price      float64  `json:"price"`
	Symbol     string   `json:"symbol"`
	IsExit     bool     `json:"is_exit"`
	Strategy   string   `json:"strategy"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Validate rejects malformed requests before anything is applied.
func (r *Request) Validate() error {
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))
	if r.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if r.Action != ActionBuy && r.Action != ActionSell {
		return fmt.Errorf("%w: action must be BUY or SELL, got %q", ErrInvalidOrder, r.Action)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, r.Quantity)
	}
	if r.Price <= 0 {
		return fmt.Errorf("%w: price must be positive, got %.4f", ErrInvalidOrder, r.Price)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidOrder, *r.Confidence)
	}
	return nil
}

// Result describes what happened to a request that passed validation.
type Result struct {
	Submitted bool            `json:"submitted"`
	Gate      risk.GateResult `json:"gate"`
	Fill      *events.Fill    `json:"fill,omitempty"`
}

// Gatekeeper runs the admission chain for entry orders.
type Gatekeeper interface {
	Evaluate(ctx context.Context, o risk.Order) risk.GateResult
}

// TradeSink receives immutable fill records.
type TradeSink interface {
	RecordTrade(ctx context.Context, t db.Trade) error
}

// PriceSource returns the latest market price for a symbol.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// PnLRecorder accumulates realized P&L.
type PnLRecorder interface {
	Record(ctx context.Context, r risk.Realized) error
	DailyPnL() float64
	WeeklyPnL() float64
}

// Broker is the submission side of the venue.
type Broker interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error)
}

func closingAction(qty int64) string {
	if qty > 0 {
		return ActionSell
	}
	return ActionBuy
}
