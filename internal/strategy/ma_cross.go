package strategy

import (
	"fmt"
	"math"

	"autotrader/internal/indicators"
)

// MACrossStrategy goes LONG when the fast MA crosses above the slow MA
// (golden cross) and SHORT when it crosses below (death cross).
type MACrossStrategy struct {
	name       string
	fastPeriod int
	slowPeriod int

	prices     *indicators.Window
	fastMA     float64
	slowMA     float64
	prevSignal Direction
}

// NewMACrossStrategy creates a new MA cross strategy.
func NewMACrossStrategy(name string, fastPeriod, slowPeriod int) (*MACrossStrategy, error) {
	if fastPeriod <= 0 || slowPeriod <= fastPeriod {
		return nil, fmt.Errorf("ma_cross: need 0 < fast < slow, got %d/%d", fastPeriod, slowPeriod)
	}
	if name == "" {
		name = fmt.Sprintf("ma_cross_%d_%d", fastPeriod, slowPeriod)
	}
	return &MACrossStrategy{
		name:       name,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		prices:     indicators.NewWindow(slowPeriod),
		prevSignal: Neutral,
	}, nil
}

func (s *MACrossStrategy) Name() string { return s.name }

func (s *MACrossStrategy) Reset() {
	s.prices.Reset()
	s.fastMA, s.slowMA = 0, 0
	s.prevSignal = Neutral
}

func (s *MACrossStrategy) Evaluate(_ *Portfolio, t Tick) Signal {
	s.prices.Push(t.Price)
	if !s.prices.Full() {
		return Hold("warming up")
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	s.fastMA = s.prices.SMA(s.fastPeriod)
	s.slowMA = s.prices.SMA(s.slowPeriod)
	if oldSlow == 0 {
		return Hold("warming up")
	}

	var sig Signal
	switch {
	case oldFast <= oldSlow && s.fastMA > s.slowMA:
		sig = Signal{Direction: Long, Reason: fmt.Sprintf("golden cross: MA%d(%.2f) > MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)}
	case oldFast >= oldSlow && s.fastMA < s.slowMA:
		sig = Signal{Direction: Short, Reason: fmt.Sprintf("death cross: MA%d(%.2f) < MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)}
	default:
		return Hold("no cross")
	}
	if sig.Direction == s.prevSignal {
		return Hold("repeat cross")
	}
	s.prevSignal = sig.Direction
	sig.Confidence = math.Min(1, 0.5+math.Abs(s.fastMA-s.slowMA)/s.slowMA*10)
	return sig
}
