package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall system performance.
type SystemMetrics struct {
	// Latency histograms
	OrderLatency    *LatencyHistogram // broker submission, per attempt
	TickLatency     *LatencyHistogram // full tick pipeline
	StrategyLatency *LatencyHistogram // one strategy evaluation
	APILatency      *LatencyHistogram

	// Counters
	ticksProcessed      uint64
	signalsGenerated    uint64
	ordersFilled        uint64
	orderRetries        uint64
	ordersAbandoned     uint64
	gateRejections      uint64
	flattens            uint64
	conditionalTriggers uint64
	shadowTrades        uint64
	errorsCount         uint64
	apiRequests         uint64
	apiErrors           uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:    NewLatencyHistogram(1000),
		TickLatency:     NewLatencyHistogram(1000),
		StrategyLatency: NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementTicks()        { atomic.AddUint64(&m.ticksProcessed, 1) }
func (m *SystemMetrics) IncrementSignals()      { atomic.AddUint64(&m.signalsGenerated, 1) }
func (m *SystemMetrics) IncrementFills()        { atomic.AddUint64(&m.ordersFilled, 1) }
func (m *SystemMetrics) IncrementRetries()      { atomic.AddUint64(&m.orderRetries, 1) }
func (m *SystemMetrics) IncrementAbandoned()    { atomic.AddUint64(&m.ordersAbandoned, 1) }
func (m *SystemMetrics) IncrementRejections()   { atomic.AddUint64(&m.gateRejections, 1) }
func (m *SystemMetrics) IncrementFlattens()     { atomic.AddUint64(&m.flattens, 1) }
func (m *SystemMetrics) IncrementTriggers()     { atomic.AddUint64(&m.conditionalTriggers, 1) }
func (m *SystemMetrics) IncrementShadowTrades() { atomic.AddUint64(&m.shadowTrades, 1) }
func (m *SystemMetrics) IncrementErrors()       { atomic.AddUint64(&m.errorsCount, 1) }
func (m *SystemMetrics) IncrementAPI()          { atomic.AddUint64(&m.apiRequests, 1) }
func (m *SystemMetrics) IncrementAPIErrors()    { atomic.AddUint64(&m.apiErrors, 1) }

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	OrderLatency        LatencyStats `json:"order_latency"`
	TickLatency         LatencyStats `json:"tick_latency"`
	StrategyLatency     LatencyStats `json:"strategy_latency"`
	APILatency          LatencyStats `json:"api_latency"`
	TicksProcessed      uint64       `json:"ticks_processed"`
	SignalsGenerated    uint64       `json:"signals_generated"`
	OrdersFilled        uint64       `json:"orders_filled"`
	OrderRetries        uint64       `json:"order_retries"`
	OrdersAbandoned     uint64       `json:"orders_abandoned"`
	GateRejections      uint64       `json:"gate_rejections"`
	Flattens            uint64       `json:"flattens"`
	ConditionalTriggers uint64       `json:"conditional_triggers"`
	ShadowTrades        uint64       `json:"shadow_trades"`
	ErrorsCount         uint64       `json:"errors_count"`
	APIRequests         uint64       `json:"api_requests"`
	APIErrors           uint64       `json:"api_errors"`
	GoroutineCount      int          `json:"goroutine_count"`
	HeapAlloc           uint64       `json:"heap_alloc_bytes"`
	HeapSys             uint64       `json:"heap_sys_bytes"`
	Timestamp           time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		OrderLatency:        m.OrderLatency.Stats(),
		TickLatency:         m.TickLatency.Stats(),
		StrategyLatency:     m.StrategyLatency.Stats(),
		APILatency:          m.APILatency.Stats(),
		TicksProcessed:      atomic.LoadUint64(&m.ticksProcessed),
		SignalsGenerated:    atomic.LoadUint64(&m.signalsGenerated),
		OrdersFilled:        atomic.LoadUint64(&m.ordersFilled),
		OrderRetries:        atomic.LoadUint64(&m.orderRetries),
		OrdersAbandoned:     atomic.LoadUint64(&m.ordersAbandoned),
		GateRejections:      atomic.LoadUint64(&m.gateRejections),
		Flattens:            atomic.LoadUint64(&m.flattens),
		ConditionalTriggers: atomic.LoadUint64(&m.conditionalTriggers),
		ShadowTrades:        atomic.LoadUint64(&m.shadowTrades),
		ErrorsCount:         atomic.LoadUint64(&m.errorsCount),
		APIRequests:         atomic.LoadUint64(&m.apiRequests),
		APIErrors:           atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:      runtime.NumGoroutine(),
		HeapAlloc:           memStats.HeapAlloc,
		HeapSys:             memStats.HeapSys,
		Timestamp:           time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
