package strategy

import (
	"context"
	"log"
	"strings"
	"time"

	"autotrader/pkg/broker"
)

// BridgeStrategy asks the broker bridge's signal endpoint for a decision.
type BridgeStrategy struct {
	name    string
	source  broker.SignalSource
	timeout time.Duration
}

func NewBridgeStrategy(name string, source broker.SignalSource, timeout time.Duration) *BridgeStrategy {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &BridgeStrategy{name: name, source: source, timeout: timeout}
}

func (b *BridgeStrategy) Name() string { return b.name }

func (b *BridgeStrategy) Reset() {}

func (b *BridgeStrategy) Evaluate(_ *Portfolio, t Tick) Signal {
	if b.source == nil {
		return Hold("no bridge")
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	s, err := b.source.Signal(ctx, t.Symbol)
	if err != nil {
		log.Printf("strategy: bridge signal for %s failed: %v", t.Symbol, err)
		return Hold("bridge unavailable")
	}
	dir := Direction(strings.ToUpper(s.Direction))
	if dir != Long && dir != Short {
		dir = Neutral
	}
	return Signal{Direction: dir, Confidence: s.Confidence, Reason: s.Reason, Exit: s.Exit}
}
