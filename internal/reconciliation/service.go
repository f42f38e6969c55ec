// Package reconciliation compares the position ledger with the broker's
// view and optionally syncs the ledger to it.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/pkg/broker"
)

// AccountSource returns the broker-side holdings.
type AccountSource interface {
	Account(ctx context.Context) (broker.Account, error)
}

// SymbolLocker serializes ledger writes with the flatten path.
type SymbolLocker interface {
	LockSymbol(symbol string) (unlock func())
}

// Service handles periodic reconciliation.
type Service struct {
	source   AccountSource
	ledger   *ledger.Ledger
	locker   SymbolLocker
	bus      *events.Bus
	interval time.Duration
	autoSync bool

	mu   sync.Mutex
	last *Report
	now  func() time.Time
}

// Report contains reconciliation results.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	PositionDiffs []PositionDiff `json:"position_diffs"`
	HasDiffs      bool           `json:"has_diffs"`
	SyncedCount   int            `json:"synced_count"`
}

// PositionDiff represents a position difference.
type PositionDiff struct {
	Symbol    string `json:"symbol"`
	LocalQty  int64  `json:"local_qty"`
	BrokerQty int64  `json:"broker_qty"`
	Synced    bool   `json:"synced"`
}

func NewService(source AccountSource, l *ledger.Ledger, locker SymbolLocker, bus *events.Bus, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{source: source, ledger: l, locker: locker, bus: bus, interval: interval, now: time.Now}
}

// SetAutoSync enables or disables ledger sync on mismatch.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
	log.Printf("reconciliation: auto-sync %v", enabled)
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					log.Printf("reconciliation: ❌ %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("reconciliation: started (interval %v)", s.interval)
}

// Reconcile compares every symbol either side knows about.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: s.now()}
	if s.source == nil {
		s.last = report
		return report, nil
	}

	acct, err := s.source.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch broker account: %w", err)
	}

	remote := make(map[string]broker.Holding, len(acct.Positions))
	symbols := make(map[string]struct{})
	for _, h := range acct.Positions {
		remote[h.Symbol] = h
		symbols[h.Symbol] = struct{}{}
	}
	for _, p := range s.ledger.Open() {
		symbols[p.Symbol] = struct{}{}
	}
	sorted := make([]string, 0, len(symbols))
	for sym := range symbols {
		sorted = append(sorted, sym)
	}
	sort.Strings(sorted)

	for _, sym := range sorted {
		local := s.ledger.Quantity(sym)
		h := remote[sym]
		if local == h.Quantity {
			continue
		}
		diff := PositionDiff{Symbol: sym, LocalQty: local, BrokerQty: h.Quantity}
		if s.autoSync {
			diff.Synced = s.sync(sym, h)
			if diff.Synced {
				report.SyncedCount++
			}
		}
		report.PositionDiffs = append(report.PositionDiffs, diff)
	}
	report.HasDiffs = len(report.PositionDiffs) > 0
	s.last = report
	s.handleReport(report)
	return report, nil
}

// LastReport returns the most recent report, nil before the first run.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) sync(symbol string, h broker.Holding) bool {
	if s.locker != nil {
		unlock := s.locker.LockSymbol(symbol)
		defer unlock()
	}
	before := s.ledger.Quantity(symbol)
	s.ledger.Set(symbol, h.Quantity)
	switch {
	case h.Quantity == 0:
		s.ledger.ClearEntry(symbol)
	case before == 0 || (before > 0) != (h.Quantity > 0):
		price := h.AvgPrice
		if price <= 0 {
			price = s.ledger.EntryPrice(symbol)
		}
		s.ledger.RecordEntry(symbol, price, s.now())
	}
	log.Printf("reconciliation: 🔄 synced %s %d -> %d", symbol, before, h.Quantity)
	return true
}

func (s *Service) handleReport(r *Report) {
	if !r.HasDiffs {
		log.Printf("reconciliation: ✅ all positions match")
		return
	}
	for _, d := range r.PositionDiffs {
		status := "not synced"
		if d.Synced {
			status = "synced"
		}
		log.Printf("reconciliation: ⚠️ %s local=%d broker=%d [%s]", d.Symbol, d.LocalQty, d.BrokerQty, status)
	}
	s.bus.Publish(events.EventRiskAlert, events.NewAlert("reconciliation",
		fmt.Sprintf("%d position mismatches (%d synced)", len(r.PositionDiffs), r.SyncedCount)))
}
