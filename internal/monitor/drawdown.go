package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"autotrader/internal/events"
)

// ReasonDrawdownBreach is the flatten reason used on a breach.
const ReasonDrawdownBreach = "drawdown breach"

// SwitchRecord is the audit entry for a strategy failover.
type SwitchRecord struct {
	Symbol      string      `json:"symbol"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Reason      string      `json:"reason"`
	Performance Performance `json:"performance"`
	Time        time.Time   `json:"time"`
}

// StrategySwitcher owns the live strategy.
type StrategySwitcher interface {
	ActiveStrategy() string
	LiveSymbol() string
	StrategyNames() []string
	SwitchStrategy(ctx context.Context, name string, audit SwitchRecord) error
	HaltLive(reason string)
	LiveHalted() string
}

// Flattener closes the live position.
type Flattener interface {
	Flatten(ctx context.Context, reason, symbol string) error
}

// PerformanceSource yields rolling strategy performance.
type PerformanceSource interface {
	Performance(ctx context.Context, strategy string, window time.Duration) (Performance, error)
	Candidates(ctx context.Context, window time.Duration) ([]string, error)
}

// TradingHours limits the monitor to the exchange session.
type TradingHours struct {
	Open     string // "09:30"
	Close    string // "16:00"
	Location *time.Location
	Weekends bool
}

// Contains reports whether t falls inside the session. A zero value is
// always open.
func (h TradingHours) Contains(t time.Time) bool {
	if h.Open == "" || h.Close == "" {
		return true
	}
	if h.Location != nil {
		t = t.In(h.Location)
	}
	if !h.Weekends && (t.Weekday() == time.Saturday || t.Weekday() == time.Sunday) {
		return false
	}
	open, err1 := clockMinutes(h.Open)
	closing, err2 := clockMinutes(h.Close)
	if err1 != nil || err2 != nil {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	return now >= open && now < closing
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DrawdownConfig tunes the drawdown monitor.
type DrawdownConfig struct {
	ThresholdPct    float64
	Interval        time.Duration
	Lookback        time.Duration
	SelectionWindow time.Duration
	Hours           TradingHours
}

func DefaultDrawdownConfig() DrawdownConfig {
	return DrawdownConfig{
		ThresholdPct:    10,
		Interval:        5 * time.Minute,
		Lookback:        7 * 24 * time.Hour,
		SelectionWindow: 30 * 24 * time.Hour,
	}
}

// ErrNoAlternative means no strategy beats the breaching one.
var ErrNoAlternative = errors.New("no better alternative strategy")

// DrawdownMonitor periodically checks the active strategy's drawdown and
// fails over when it breaches the threshold.
type DrawdownMonitor struct {
	cfg      DrawdownConfig
	perf     PerformanceSource
	switcher StrategySwitcher
	flatten  Flattener
	bus      *events.Bus
	now      func() time.Time
}

func NewDrawdownMonitor(cfg DrawdownConfig, perf PerformanceSource, sw StrategySwitcher, fl Flattener, bus *events.Bus) *DrawdownMonitor {
	def := DefaultDrawdownConfig()
	if cfg.ThresholdPct <= 0 {
		cfg.ThresholdPct = def.ThresholdPct
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.SelectionWindow <= 0 {
		cfg.SelectionWindow = def.SelectionWindow
	}
	return &DrawdownMonitor{cfg: cfg, perf: perf, switcher: sw, flatten: fl, bus: bus, now: time.Now}
}

// Start runs Check on every interval inside trading hours.
func (m *DrawdownMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !m.cfg.Hours.Contains(m.now()) {
					continue
				}
				if _, err := m.Check(ctx); err != nil {
					log.Printf("drawdown: check error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("drawdown: monitor started (interval %v, threshold %.2f%%)", m.cfg.Interval, m.cfg.ThresholdPct)
}

// Check evaluates the active strategy once. It returns the switch record
// when a failover happened, nil when the strategy is healthy or live
// routing is halted.
func (m *DrawdownMonitor) Check(ctx context.Context) (*SwitchRecord, error) {
	active := m.switcher.ActiveStrategy()
	if active == "" || m.switcher.LiveHalted() != "" {
		return nil, nil
	}
	perf, err := m.perf.Performance(ctx, active, m.cfg.Lookback)
	if err != nil {
		return nil, err
	}
	if perf.MaxDrawdownPct <= m.cfg.ThresholdPct {
		return nil, nil
	}

	m.alert(fmt.Sprintf("%s drawdown %.2f%% over %v exceeds %.2f%%",
		active, perf.MaxDrawdownPct, m.cfg.Lookback, m.cfg.ThresholdPct))

	symbol := m.switcher.LiveSymbol()
	var flattenErr error
	if symbol != "" {
		if flattenErr = m.flatten.Flatten(ctx, ReasonDrawdownBreach, symbol); flattenErr != nil {
			flattenErr = fmt.Errorf("flatten %s: %w", symbol, flattenErr)
		}
	}

	best, ok, err := m.BestAlternative(ctx, active)
	if err != nil {
		return nil, errors.Join(flattenErr, err)
	}
	if !ok {
		m.switcher.HaltLive(fmt.Sprintf("%s %s, awaiting operator", active, ReasonDrawdownBreach))
		m.alert(fmt.Sprintf("%s breached drawdown and no alternative beats it; live trading halted, manual intervention required", active))
		return nil, errors.Join(flattenErr, ErrNoAlternative)
	}

	rec := SwitchRecord{
		Symbol:      symbol,
		From:        active,
		To:          best.Strategy,
		Reason:      fmt.Sprintf("%s: %.2f%% > %.2f%%", ReasonDrawdownBreach, perf.MaxDrawdownPct, m.cfg.ThresholdPct),
		Performance: best,
		Time:        m.now(),
	}
	if err := m.switcher.SwitchStrategy(ctx, best.Strategy, rec); err != nil {
		return nil, errors.Join(flattenErr, fmt.Errorf("switch to %s: %w", best.Strategy, err))
	}
	log.Printf("drawdown: 🔁 switched %s -> %s (sharpe %.2f)", active, best.Strategy, best.Sharpe)
	return &rec, flattenErr
}

// BestAlternative picks the strategy with the highest Sharpe over the
// selection window, excluding current. It must beat current's Sharpe.
func (m *DrawdownMonitor) BestAlternative(ctx context.Context, current string) (Performance, bool, error) {
	seen := make(map[string]bool)
	var names []string
	for _, n := range m.switcher.StrategyNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	extra, err := m.perf.Candidates(ctx, m.cfg.SelectionWindow)
	if err != nil {
		return Performance{}, false, err
	}
	for _, n := range extra {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	base, err := m.perf.Performance(ctx, current, m.cfg.SelectionWindow)
	if err != nil {
		return Performance{}, false, err
	}

	var (
		best  Performance
		found bool
	)
	for _, n := range names {
		if n == current {
			continue
		}
		p, err := m.perf.Performance(ctx, n, m.cfg.SelectionWindow)
		if err != nil {
			log.Printf("drawdown: skip %s: %v", n, err)
			continue
		}
		if p.Trades == 0 || p.Sharpe <= base.Sharpe {
			continue
		}
		if !found || p.Sharpe > best.Sharpe {
			best, found = p, true
		}
	}
	return best, found, nil
}

func (m *DrawdownMonitor) alert(msg string) {
	log.Printf("drawdown: ⚠️ %s", msg)
	m.bus.Publish(events.EventRiskAlert, events.NewAlert("drawdown", msg))
}
