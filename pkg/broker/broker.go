// Package broker talks to the execution venue. Bridge is the HTTP broker
// bridge; Paper fills everything in memory for dry runs.
package broker

import (
	"context"
	"errors"
)

var (
	ErrRejected     = errors.New("order rejected by broker")
	ErrInsufficient = errors.New("insufficient buying power")
)

// OrderRequest is the body of POST /order.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"` // BUY or SELL
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	IsExit   bool    `json:"is_exit"`
	Strategy string  `json:"strategy"`
}

// OrderAck is the broker's answer to an accepted order.
type OrderAck struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	FilledPrice    float64 `json:"filled_price"`
	FilledQuantity int64   `json:"filled_quantity"`
	Message        string  `json:"message,omitempty"`
}

// Holding is one broker-side position.
type Holding struct {
	Symbol            string  `json:"symbol"`
	Quantity          int64   `json:"quantity"`
	AvailableQuantity int64   `json:"available_quantity"`
	AvgPrice          float64 `json:"avg_price"`
}

// Account is the GET /account snapshot.
type Account struct {
	Equity           float64   `json:"equity"`
	Cash             float64   `json:"cash"`
	AvailableBalance float64   `json:"available_balance"`
	Positions        []Holding `json:"positions"`
}

// Holding returns the broker position for symbol.
func (a Account) Holding(symbol string) (Holding, bool) {
	for _, h := range a.Positions {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// Signal is the GET /signal answer.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"` // LONG, SHORT or NEUTRAL
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Exit       bool    `json:"exit"`
}

// Broker is what the execution engine needs from a venue.
type Broker interface {
	Account(ctx context.Context) (Account, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
}

// SignalSource produces externally computed signals.
type SignalSource interface {
	Signal(ctx context.Context, symbol string) (Signal, error)
}
