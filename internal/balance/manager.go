package balance

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"autotrader/pkg/broker"
)

// AccountSource fetches the broker-side account.
type AccountSource interface {
	Account(ctx context.Context) (broker.Account, error)
}

// PriceLookup returns the latest market price for a symbol.
type PriceLookup func(symbol string) (float64, bool)

// Manager caches the broker account for a short TTL so sizing on the tick
// path does not hit the bridge on every signal.
type Manager struct {
	source AccountSource
	ttl    time.Duration
	marks  PriceLookup
	now    func() time.Time

	mu       sync.RWMutex
	account  broker.Account
	lastSync time.Time
	synced   bool

	fetchMu sync.Mutex
}

// NewManager creates a cached view over source.
func NewManager(source AccountSource, ttl time.Duration, marks PriceLookup) *Manager {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Manager{source: source, ttl: ttl, marks: marks, now: time.Now}
}

// Start refreshes the cache periodically until ctx is done.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if err := m.Sync(ctx); err != nil {
		log.Printf("balance: initial sync failed: %v", err)
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil {
					log.Printf("❌ balance sync error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the account from the broker unconditionally.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return fmt.Errorf("balance: no account source configured")
	}
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	acct, err := m.source.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	m.mu.Lock()
	m.account = acct
	m.lastSync = m.now()
	m.synced = true
	m.mu.Unlock()
	return nil
}

// Snapshot returns the cached account, refreshing it when older than the TTL.
// A failed refresh falls back to the stale copy if there is one.
func (m *Manager) Snapshot(ctx context.Context) (broker.Account, error) {
	m.mu.RLock()
	acct, last, ok := m.account, m.lastSync, m.synced
	m.mu.RUnlock()
	if ok && m.now().Sub(last) < m.ttl {
		return acct, nil
	}
	if err := m.Sync(ctx); err != nil {
		if ok {
			log.Printf("balance: refresh failed, using %s old snapshot: %v", m.now().Sub(last).Round(time.Millisecond), err)
			return acct, nil
		}
		return broker.Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account, nil
}

// Invalidate forces the next read to go to the broker.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.lastSync = time.Time{}
	m.mu.Unlock()
}

// Available returns the cached available balance.
func (m *Manager) Available(ctx context.Context) (float64, error) {
	acct, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return acct.AvailableBalance, nil
}

// MaxBuyQuantity is how many whole units the available balance affords at price.
func (m *Manager) MaxBuyQuantity(ctx context.Context, price float64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("balance: price must be positive")
	}
	avail, err := m.Available(ctx)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(avail / price)), nil
}

// AvailableShares returns the broker's sellable quantity for symbol.
func (m *Manager) AvailableShares(ctx context.Context, symbol string) (int64, error) {
	acct, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	h, _ := acct.Holding(symbol)
	return h.AvailableQuantity, nil
}

// Equity returns the broker-reported account equity.
func (m *Manager) Equity(ctx context.Context) (float64, error) {
	acct, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return acct.Equity, nil
}

// Holdings maps each broker position to its absolute notional, marked at the
// latest price when one is known.
func (m *Manager) Holdings(ctx context.Context) (map[string]float64, error) {
	acct, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(acct.Positions))
	for _, h := range acct.Positions {
		price := h.AvgPrice
		if m.marks != nil {
			if p, ok := m.marks(h.Symbol); ok {
				price = p
			}
		}
		out[h.Symbol] = math.Abs(float64(h.Quantity)) * price
	}
	return out, nil
}

// LastSync reports when the cache was last refreshed.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}
