// Package persistence buffers fills on the hot path and writes them to
// sqlite in batches.
package persistence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"autotrader/pkg/db"
)

// BatchStore is the transactional sink a BatchWriter flushes into.
type BatchStore interface {
	InsertBatch(ctx context.Context, trades []db.Trade, shadows []db.ShadowTrade) error
}

// BatchWriter batches trade-log writes so the tick path never waits on disk.
type BatchWriter struct {
	store       BatchStore
	trades      []db.Trade
	shadows     []db.ShadowTrade
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	metrics     BatchWriterMetrics
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer with specified parameters.
// maxSize: max records before auto-flush
// interval: time-based flush interval
func NewBatchWriter(store BatchStore, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		store:       store,
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// RecordTrade queues a live fill.
func (bw *BatchWriter) RecordTrade(_ context.Context, t db.Trade) error {
	bw.mu.Lock()
	bw.trades = append(bw.trades, t)
	shouldFlush := len(bw.trades)+len(bw.shadows) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		go bw.Flush()
	}
	return nil
}

// RecordShadowTrade queues a paper fill.
func (bw *BatchWriter) RecordShadowTrade(_ context.Context, t db.ShadowTrade) error {
	bw.mu.Lock()
	bw.shadows = append(bw.shadows, t)
	shouldFlush := len(bw.trades)+len(bw.shadows) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		go bw.Flush()
	}
	return nil
}

// Flush immediately writes all buffered records.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.trades) == 0 && len(bw.shadows) == 0 {
		bw.mu.Unlock()
		return nil
	}
	trades, shadows := bw.trades, bw.shadows
	bw.trades, bw.shadows = nil, nil
	bw.mu.Unlock()

	return bw.executeBatch(trades, shadows)
}

func (bw *BatchWriter) executeBatch(trades []db.Trade, shadows []db.ShadowTrade) error {
	n := len(trades) + len(shadows)
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(n))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.store.InsertBatch(ctx, trades, shadows); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		log.Printf("❌ BatchWriter: batch of %d failed, rolled back: %v", n, err)
		return err
	}

	bw.mu.Lock()
	bw.metrics.LastBatchSize = n
	bw.metrics.LastFlushTime = time.Now()
	bw.mu.Unlock()
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Printf("⚠️ BatchWriter: background flush error: %v", err)
			}
		case <-bw.done:
			if err := bw.Flush(); err != nil {
				log.Printf("⚠️ BatchWriter: final flush error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of queued records.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.trades) + len(bw.shadows)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.mu.Lock()
	lastSize, lastFlush := bw.metrics.LastBatchSize, bw.metrics.LastFlushTime
	bw.mu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		LastBatchSize: lastSize,
		LastFlushTime: lastFlush,
	}
}

// Close flushes what is left and stops the background loop.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
