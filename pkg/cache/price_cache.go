package cache

import "time"

// PriceCache keeps the latest traded price per symbol.
type PriceCache struct {
	items *ShardedMap[priceEntry]
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// NewPriceCache creates an empty price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{items: NewShardedMap[priceEntry]()}
}

// Set stores a price for a symbol observed at ts.
func (c *PriceCache) Set(symbol string, price float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	c.items.Set(symbol, priceEntry{price: price, updatedAt: ts})
}

// Get retrieves a price for a symbol.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	entry, ok := c.items.Get(symbol)
	return entry.price, ok
}

// GetWithAge retrieves price and its age.
func (c *PriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	entry, ok := c.items.Get(symbol)
	if !ok {
		return 0, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Cleanup removes entries older than maxAge.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	c.items.Range(func(sym string, entry priceEntry) bool {
		if entry.updatedAt.Before(cutoff) && c.items.Delete(sym) {
			removed++
		}
		return true
	})
	return removed
}

// GetAll returns all cached prices (for debugging/admin).
func (c *PriceCache) GetAll() map[string]float64 {
	result := make(map[string]float64)
	c.items.Range(func(sym string, entry priceEntry) bool {
		result[sym] = entry.price
		return true
	})
	return result
}

// CacheStats provides cache statistics.
type CacheStats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
}

// Stats returns cache statistics.
func (c *PriceCache) Stats() CacheStats {
	counts := c.items.ShardCounts()
	stats := CacheStats{ShardCounts: counts}
	for _, n := range counts {
		stats.TotalItems += n
	}
	return stats
}
