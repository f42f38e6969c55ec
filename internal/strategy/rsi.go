package strategy

import (
	"fmt"

	"autotrader/internal/indicators"
)

// RSIStrategy goes LONG when RSI drops below the oversold level and SHORT
// above the overbought level.
type RSIStrategy struct {
	name       string
	period     int
	oversold   float64
	overbought float64

	prices     *indicators.Window
	prevSignal Direction
}

func NewRSIStrategy(name string, period int, oversold, overbought float64) (*RSIStrategy, error) {
	if period <= 0 || oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi: bad parameters period=%d oversold=%.1f overbought=%.1f", period, oversold, overbought)
	}
	if name == "" {
		name = fmt.Sprintf("rsi_%d", period)
	}
	return &RSIStrategy{
		name:       name,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prices:     indicators.NewWindow(period + 1),
		prevSignal: Neutral,
	}, nil
}

func (s *RSIStrategy) Name() string { return s.name }

func (s *RSIStrategy) Reset() {
	s.prices.Reset()
	s.prevSignal = Neutral
}

func (s *RSIStrategy) Evaluate(_ *Portfolio, t Tick) Signal {
	s.prices.Push(t.Price)
	if !s.prices.Full() {
		return Hold("warming up")
	}
	rsi := s.prices.RSI(s.period)

	var sig Signal
	switch {
	case rsi < s.oversold:
		sig = Signal{Direction: Long, Confidence: (s.oversold - rsi) / s.oversold, Reason: fmt.Sprintf("RSI %.1f < %.1f", rsi, s.oversold)}
	case rsi > s.overbought:
		sig = Signal{Direction: Short, Confidence: (rsi - s.overbought) / (100 - s.overbought), Reason: fmt.Sprintf("RSI %.1f > %.1f", rsi, s.overbought)}
	default:
		s.prevSignal = Neutral
		return Hold(fmt.Sprintf("RSI %.1f", rsi))
	}
	if sig.Direction == s.prevSignal {
		return Hold("already signalled")
	}
	s.prevSignal = sig.Direction
	return sig
}
