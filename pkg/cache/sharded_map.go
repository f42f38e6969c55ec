package cache

import (
	"hash/fnv"
	"sync"
)

const numShards = 16

// ShardedMap is a string-keyed concurrent map split across fixed shards, each
// guarded by its own RWMutex. There is no map-wide lock.
type ShardedMap[V any] struct {
	shards [numShards]*shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewShardedMap creates an empty sharded map.
func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := 0; i < numShards; i++ {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

// getShard returns the shard for the given key.
func (m *ShardedMap[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%numShards]
}

// Get returns the value stored for key.
func (m *ShardedMap[V]) Get(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores v under key, replacing any previous value.
func (m *ShardedMap[V]) Set(key string, v V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.items[key] = v
	s.mu.Unlock()
}

// GetOrCreate returns the existing value for key, or stores and returns the
// value produced by create. create runs under the shard lock and must not block.
func (m *ShardedMap[V]) GetOrCreate(key string, create func() V) V {
	s := m.getShard(key)
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Check again in case another goroutine created it
	if v, ok := s.items[key]; ok {
		return v
	}
	v = create()
	s.items[key] = v
	return v
}

// Delete removes key and reports whether it was present. Exactly one of any
// number of concurrent Delete calls for the same key observes true.
func (m *ShardedMap[V]) Delete(key string) bool {
	_, ok := m.LoadAndDelete(key)
	return ok
}

// LoadAndDelete removes key and returns the value it held.
func (m *ShardedMap[V]) LoadAndDelete(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return v, ok
}

// Range calls fn for every entry until fn returns false. Each shard is
// snapshotted before fn runs, so fn may safely call back into the map.
func (m *ShardedMap[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]string, 0, len(s.items))
		vals := make([]V, 0, len(s.items))
		for k, v := range s.items {
			keys = append(keys, k)
			vals = append(vals, v)
		}
		s.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], vals[i]) {
				return
			}
		}
	}
}

// Len returns total items across all shards.
func (m *ShardedMap[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// ShardCounts reports the number of entries per shard.
func (m *ShardedMap[V]) ShardCounts() [numShards]int {
	var counts [numShards]int
	for i, s := range m.shards {
		s.mu.RLock()
		counts[i] = len(s.items)
		s.mu.RUnlock()
	}
	return counts
}
