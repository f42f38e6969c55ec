package conditional

import (
	"errors"
	"fmt"
	"time"
)

// Side is the direction of the position an order protects.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Kind names the managed order variant.
type Kind string

const (
	KindOCO      Kind = "OCO"
	KindTrailing Kind = "TRAILING_STOP"
	KindBracket  Kind = "BRACKET"
)

// Flatten reasons handed to the execution engine.
const (
	ReasonOCOTakeProfit     = "OCO take profit"
	ReasonOCOStopLoss       = "OCO stop loss"
	ReasonTrailingStop      = "Trailing stop"
	ReasonBracketTakeProfit = "Bracket take profit"
	ReasonBracketStopLoss   = "Bracket stop loss"
)

var (
	ErrInvalidOrder = errors.New("invalid conditional order")
	ErrUnknownSide  = errors.New("side must be LONG or SHORT")
)

// Header carries the fields every managed order shares.
type Header struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	CreatedAt time.Time `json:"created_at"`
}

// Head returns the shared header.
func (h Header) Head() Header { return h }

// ManagedOrder is one of OCO, TrailingStop or Bracket. The set is closed:
// evaluate is unexported so no other package can add a variant.
type ManagedOrder interface {
	Head() Header
	Kind() Kind
	// evaluate returns the (possibly updated) order and the flatten reason
	// when the price triggers it.
	evaluate(price float64) (next ManagedOrder, reason string, fired bool)
}

// OCO is a take-profit and a stop-loss where the first hit cancels the other.
type OCO struct {
	Header
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

func (OCO) Kind() Kind { return KindOCO }

func (o OCO) evaluate(price float64) (ManagedOrder, string, bool) {
	if takeProfitHit(o.Side, price, o.TakeProfit) {
		return o, ReasonOCOTakeProfit, true
	}
	if stopHit(o.Side, price, o.StopLoss) {
		return o, ReasonOCOStopLoss, true
	}
	return o, "", false
}

// TrailingStop follows the best price seen since placement.
type TrailingStop struct {
	Header
	Trail     float64 `json:"trail"`     // fraction in (0,1)
	Reference float64 `json:"reference"` // price at placement
	Peak      float64 `json:"peak"`      // max for LONG, min for SHORT
	Stop      float64 `json:"stop"`
}

func (TrailingStop) Kind() Kind { return KindTrailing }

func (t TrailingStop) evaluate(price float64) (ManagedOrder, string, bool) {
	if t.Side == Long {
		if price > t.Peak {
			t.Peak = price
		}
	} else if price < t.Peak {
		t.Peak = price
	}
	t.Stop = trailingStopLevel(t.Side, t.Peak, t.Trail)
	if stopHit(t.Side, price, t.Stop) {
		return t, ReasonTrailingStop, true
	}
	return t, "", false
}

// Bracket behaves like OCO and keeps the entry price for the record.
type Bracket struct {
	Header
	Entry      float64 `json:"entry"`
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

func (Bracket) Kind() Kind { return KindBracket }

func (b Bracket) evaluate(price float64) (ManagedOrder, string, bool) {
	if takeProfitHit(b.Side, price, b.TakeProfit) {
		return b, ReasonBracketTakeProfit, true
	}
	if stopHit(b.Side, price, b.StopLoss) {
		return b, ReasonBracketStopLoss, true
	}
	return b, "", false
}

func takeProfitHit(side Side, price, target float64) bool {
	if side == Long {
		return price >= target
	}
	return price <= target
}

func stopHit(side Side, price, stop float64) bool {
	if side == Long {
		return price <= stop
	}
	return price >= stop
}

func trailingStopLevel(side Side, peak, trail float64) float64 {
	if side == Long {
		return peak * (1 - trail)
	}
	return peak * (1 + trail)
}

func validateHeader(symbol string, side Side) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if side != Long && side != Short {
		return fmt.Errorf("%w: %w (got %q)", ErrInvalidOrder, ErrUnknownSide, side)
	}
	return nil
}

// validateLimits checks that take-profit sits on the favourable side of the
// stop-loss and both are positive.
func validateLimits(side Side, takeProfit, stopLoss float64) error {
	if takeProfit <= 0 || stopLoss <= 0 {
		return fmt.Errorf("%w: prices must be positive (tp=%.4f sl=%.4f)", ErrInvalidOrder, takeProfit, stopLoss)
	}
	if side == Long && takeProfit <= stopLoss {
		return fmt.Errorf("%w: LONG take profit %.4f must be above stop loss %.4f", ErrInvalidOrder, takeProfit, stopLoss)
	}
	if side == Short && takeProfit >= stopLoss {
		return fmt.Errorf("%w: SHORT take profit %.4f must be below stop loss %.4f", ErrInvalidOrder, takeProfit, stopLoss)
	}
	return nil
}
