package tangguh

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsState backs GetMetrics. It is always on: the snapshot counters are
// part of the client contract, independent of Prometheus being wired up.
type metricsState struct {
	mu            sync.Mutex
	totalRequests uint64
	successful    uint64
	failed        uint64
	cached        uint64
	totalLatency  time.Duration
	completed     uint64
}

func (m *metricsState) recordRequest() {
	m.mu.Lock()
	m.totalRequests++
	m.mu.Unlock()
}

func (m *metricsState) recordCached() {
	m.mu.Lock()
	m.cached++
	m.mu.Unlock()
}

func (m *metricsState) recordSuccess(latency time.Duration) {
	m.mu.Lock()
	m.successful++
	m.totalLatency += latency
	m.completed++
	m.mu.Unlock()
}

func (m *metricsState) recordFailure() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *metricsState) snapshot(active, queued int) RequestMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := RequestMetrics{
		TotalRequests: m.totalRequests,
		Successful:    m.successful,
		Failed:        m.failed,
		Cached:        m.cached,
		Active:        active,
		Queued:        queued,
	}
	if m.completed > 0 {
		snap.AvgLatencyMs = float64(m.totalLatency.Milliseconds()) / float64(m.completed)
	}
	return snap
}

// MetricsCollector provides Prometheus metrics for the request lifecycle
// and reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	queueDepth       prometheus.Gauge

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	connectionState *prometheus.GaugeVec
	reconnectsTotal prometheus.Counter
	probeLatency    prometheus.Histogram
	dedupHits       *prometheus.CounterVec
	circuitState    prometheus.Gauge
	errorsTotal     *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_requests_total",
				Help: "Total number of RPC requests by terminal outcome",
			},
			[]string{"method", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tangguh_request_duration_seconds",
				Help:    "Duration of RPC requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		requestsInFlight: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_requests_in_flight",
				Help: "Number of RPC requests currently in flight",
			},
		),
		queueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_queue_depth",
				Help: "Number of requests waiting in the dispatch queue",
			},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"method"},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_cache_size",
				Help: "Current number of entries in the response cache",
			},
		),
		connectionState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tangguh_connection_state",
				Help: "Connection supervisor state (1 for the active state)",
			},
			[]string{"state"},
		),
		reconnectsTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "tangguh_reconnects_total",
				Help: "Total number of scheduled reconnect attempts",
			},
		),
		probeLatency: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tangguh_probe_latency_seconds",
				Help:    "Health probe round-trip latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		dedupHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_deduplication_hits_total",
				Help: "Total number of calls coalesced onto an in-flight twin",
			},
			[]string{"method"},
		),
		circuitState: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records a terminal outcome and its duration.
func (mc *MetricsCollector) RecordRequest(method, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, outcome).Inc()
	mc.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart() {
	if mc == nil {
		return
	}

	mc.requestsInFlight.Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd() {
	if mc == nil {
		return
	}

	mc.requestsInFlight.Dec()
}

// RecordQueueDepth sets the dispatch queue gauge.
func (mc *MetricsCollector) RecordQueueDepth(depth int) {
	if mc == nil {
		return
	}

	mc.queueDepth.Set(float64(depth))
}

// RecordRetry increments the retry counter.
func (mc *MetricsCollector) RecordRetry(method string) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(method).Inc()
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(method string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(method).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(method string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(method).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.Set(float64(size))
}

// RecordConnectionState marks the active supervisor state.
func (mc *MetricsCollector) RecordConnectionState(state ConnectionState) {
	if mc == nil {
		return
	}

	for s := StateDisconnected; s <= StateConnectedFallback; s++ {
		v := 0.0
		if s == state {
			v = 1.0
		}
		mc.connectionState.WithLabelValues(s.String()).Set(v)
	}
}

// RecordReconnect increments the scheduled reconnect counter.
func (mc *MetricsCollector) RecordReconnect() {
	if mc == nil {
		return
	}

	mc.reconnectsTotal.Inc()
}

// RecordProbeLatency observes one health probe round trip.
func (mc *MetricsCollector) RecordProbeLatency(d time.Duration) {
	if mc == nil {
		return
	}

	mc.probeLatency.Observe(d.Seconds())
}

// RecordDeduplicationHit increments the coalesced-call counter.
func (mc *MetricsCollector) RecordDeduplicationHit(method string) {
	if mc == nil {
		return
	}

	mc.dedupHits.WithLabelValues(method).Inc()
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	if mc == nil {
		return
	}

	mc.circuitState.Set(float64(state))
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method).Inc()
}
