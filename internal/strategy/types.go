package strategy

import (
	"errors"
	"time"
)

// Direction is what a strategy wants the position to be.
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrUnknownType     = errors.New("unknown strategy type")
)

// Signal is a decision emitted by a strategy.
type Signal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Exit       bool      `json:"exit"`
}

// Hold is the neutral signal.
func Hold(reason string) Signal {
	return Signal{Direction: Neutral, Reason: reason}
}

// Tick is one price observation.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Strategy turns ticks into signals. Implementations may keep windowed
// state; the dispatcher gives every (symbol, strategy) pair its own
// instance and never calls one concurrently.
type Strategy interface {
	Name() string
	Evaluate(p *Portfolio, t Tick) Signal
	Reset()
}

// Factory builds a fresh instance for a symbol.
type Factory func(symbol string) (Strategy, error)
