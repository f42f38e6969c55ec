package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Gate is one independent admission check.
type Gate interface {
	Name() string
	// Check returns an error only when the gate could not decide, in which
	// case the chain applies the gate's failure policy.
	Check(ctx context.Context, o Order) (Verdict, error)
}

// DefaultPolicies keeps data gates open and the risk score closed.
func DefaultPolicies() map[string]FailurePolicy {
	return map[string]FailurePolicy{
		GateBlackout:     FailOpen,
		GateLiquidity:    FailOpen,
		GateCompliance:   FailOpen,
		GateFundamentals: FailOpen,
		GateRiskScore:    FailClosed,
	}
}

// ChainStats are cumulative chain counters.
type ChainStats struct {
	ChecksTotal       uint64 `json:"checks_total"`
	RejectionsTotal   uint64 `json:"rejections_total"`
	AdjustmentsTotal  uint64 `json:"adjustments_total"`
	FailOpenTotal     uint64 `json:"fail_open_total"`
	FailClosedTotal   uint64 `json:"fail_closed_total"`
	CheckLatencyNanos uint64 `json:"check_latency_nanos"`
}

// Chain runs gates in order and stops at the first rejection.
type Chain struct {
	gates []Gate

	mu       sync.RWMutex
	policies map[string]FailurePolicy

	checks, rejections, adjustments, failOpen, failClosed, latency atomic.Uint64
}

// NewChain builds a chain. Gates without a policy entry fail closed.
func NewChain(gates []Gate, policies map[string]FailurePolicy) *Chain {
	p := DefaultPolicies()
	for k, v := range policies {
		p[k] = v
	}
	return &Chain{gates: gates, policies: p}
}

// Policy returns the failure policy for a gate.
func (c *Chain) Policy(gate string) FailurePolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.policies[gate]; ok {
		return p
	}
	return FailClosed
}

// SetPolicy overrides the failure policy for a gate at runtime.
func (c *Chain) SetPolicy(gate string, p FailurePolicy) error {
	if p != FailOpen && p != FailClosed {
		return fmt.Errorf("%w %q", ErrInvalidPolicy, p)
	}
	c.mu.Lock()
	c.policies[gate] = p
	c.mu.Unlock()
	log.Printf("risk: %s failure policy set to %s", gate, p)
	return nil
}

// Gates returns the gate names in evaluation order.
func (c *Chain) Gates() []string {
	names := make([]string, len(c.gates))
	for i, g := range c.gates {
		names[i] = g.Name()
	}
	return names
}

// Evaluate runs the chain for an entry order.
func (c *Chain) Evaluate(ctx context.Context, o Order) GateResult {
	start := time.Now()
	c.checks.Add(1)
	defer func() { c.latency.Add(uint64(time.Since(start).Nanoseconds())) }()

	res := GateResult{Approved: true, Quantity: o.Quantity}
	if o.Time.IsZero() {
		o.Time = start
	}

	for _, g := range c.gates {
		o.Quantity = res.Quantity
		v, err := g.Check(ctx, o)
		if err != nil {
			if c.Policy(g.Name()) == FailOpen {
				c.failOpen.Add(1)
				log.Printf("risk: %s unavailable for %s, failing open: %v", g.Name(), o.Symbol, err)
				res.Notes = append(res.Notes, fmt.Sprintf("%s skipped: %v", g.Name(), err))
				continue
			}
			c.failClosed.Add(1)
			c.rejections.Add(1)
			return GateResult{
				Quantity: res.Quantity,
				Gate:     g.Name(),
				Reason:   fmt.Sprintf("%s gate unavailable: %v", g.Name(), err),
				Caution:  res.Caution,
				Notes:    res.Notes,
			}
		}
		if v.Caution {
			res.Caution = true
		}
		if !v.Approved {
			c.rejections.Add(1)
			return GateResult{
				Quantity: res.Quantity,
				Gate:     g.Name(),
				Reason:   v.Reason,
				Caution:  res.Caution,
				Notes:    res.Notes,
			}
		}
		if v.Quantity > 0 && v.Quantity < res.Quantity {
			c.adjustments.Add(1)
			res.Notes = append(res.Notes, fmt.Sprintf("%s reduced quantity %d -> %d", g.Name(), res.Quantity, v.Quantity))
			res.Quantity = v.Quantity
		}
		if v.Reason != "" {
			res.Notes = append(res.Notes, v.Reason)
		}
	}
	return res
}

// Stats returns the cumulative counters.
func (c *Chain) Stats() ChainStats {
	return ChainStats{
		ChecksTotal:       c.checks.Load(),
		RejectionsTotal:   c.rejections.Load(),
		AdjustmentsTotal:  c.adjustments.Load(),
		FailOpenTotal:     c.failOpen.Load(),
		FailClosedTotal:   c.failClosed.Load(),
		CheckLatencyNanos: c.latency.Load(),
	}
}
