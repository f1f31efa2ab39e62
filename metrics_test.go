package tangguh

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsStateSnapshot(t *testing.T) {
	m := &metricsState{}

	m.recordRequest()
	m.recordRequest()
	m.recordRequest()
	m.recordSuccess(100 * time.Millisecond)
	m.recordSuccess(300 * time.Millisecond)
	m.recordFailure()
	m.recordCached()

	snap := m.snapshot(1, 2)
	if snap.TotalRequests != 3 {
		t.Errorf("Expected 3 total, got %d", snap.TotalRequests)
	}
	if snap.Successful != 2 {
		t.Errorf("Expected 2 successful, got %d", snap.Successful)
	}
	if snap.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", snap.Failed)
	}
	if snap.Cached != 1 {
		t.Errorf("Expected 1 cached, got %d", snap.Cached)
	}
	if snap.Active != 1 || snap.Queued != 2 {
		t.Errorf("Expected active=1 queued=2, got active=%d queued=%d", snap.Active, snap.Queued)
	}
	if snap.AvgLatencyMs != 200 {
		t.Errorf("Expected average latency 200ms, got %.1f", snap.AvgLatencyMs)
	}
}

func TestMetricsStateEmptySnapshot(t *testing.T) {
	m := &metricsState{}
	snap := m.snapshot(0, 0)
	if snap.AvgLatencyMs != 0 {
		t.Errorf("Expected zero average with no completions, got %.1f", snap.AvgLatencyMs)
	}
}

func TestMetricsCollectorCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("rates.spot", "success", 50*time.Millisecond)
	mc.RecordRequest("rates.spot", "success", 70*time.Millisecond)
	mc.RecordRequest("rates.spot", "failed", 10*time.Millisecond)
	mc.RecordRetry("rates.spot")
	mc.RecordCacheHit("rates.spot")
	mc.RecordCacheMiss("rates.spot")
	mc.RecordDeduplicationHit("rates.spot")
	mc.RecordError(ErrorTypeTransport, "rates.spot")

	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("rates.spot", "success")); got != 2 {
		t.Errorf("Expected 2 successes, got %f", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("rates.spot", "failed")); got != 1 {
		t.Errorf("Expected 1 failure, got %f", got)
	}
	if got := testutil.ToFloat64(mc.retriesTotal.WithLabelValues("rates.spot")); got != 1 {
		t.Errorf("Expected 1 retry, got %f", got)
	}
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("rates.spot")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %f", got)
	}
	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("rates.spot")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %f", got)
	}
	if got := testutil.ToFloat64(mc.dedupHits.WithLabelValues("rates.spot")); got != 1 {
		t.Errorf("Expected 1 dedup hit, got %f", got)
	}
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeTransport, "rates.spot")); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}

func TestMetricsCollectorGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequestStart()
	mc.RecordRequestStart()
	mc.RecordRequestEnd()
	if got := testutil.ToFloat64(mc.requestsInFlight); got != 1 {
		t.Errorf("Expected 1 in flight, got %f", got)
	}

	mc.RecordQueueDepth(7)
	if got := testutil.ToFloat64(mc.queueDepth); got != 7 {
		t.Errorf("Expected queue depth 7, got %f", got)
	}

	mc.RecordCacheSize(42)
	if got := testutil.ToFloat64(mc.cacheSize); got != 42 {
		t.Errorf("Expected cache size 42, got %f", got)
	}

	mc.RecordCircuitBreakerState(StateOpen)
	if got := testutil.ToFloat64(mc.circuitState); got != 1 {
		t.Errorf("Expected breaker state 1, got %f", got)
	}
}

func TestMetricsCollectorConnectionStateOneHot(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordConnectionState(StateConnectedStreaming)
	mc.RecordConnectionState(StateConnectedFallback)

	if got := testutil.ToFloat64(mc.connectionState.WithLabelValues(StateConnectedFallback.String())); got != 1 {
		t.Errorf("Expected active state gauge 1, got %f", got)
	}
	if got := testutil.ToFloat64(mc.connectionState.WithLabelValues(StateConnectedStreaming.String())); got != 0 {
		t.Errorf("Expected previous state gauge 0, got %f", got)
	}
}

func TestMetricsCollectorReconnects(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordReconnect()
	mc.RecordReconnect()
	if got := testutil.ToFloat64(mc.reconnectsTotal); got != 2 {
		t.Errorf("Expected 2 reconnects, got %f", got)
	}
}

func TestMetricsCollectorNilSafe(t *testing.T) {
	var mc *MetricsCollector

	// None of these may panic on a nil collector.
	mc.RecordRequest("m", "success", time.Second)
	mc.RecordRequestStart()
	mc.RecordRequestEnd()
	mc.RecordQueueDepth(1)
	mc.RecordRetry("m")
	mc.RecordCacheHit("m")
	mc.RecordCacheMiss("m")
	mc.RecordCacheSize(1)
	mc.RecordConnectionState(StateDisconnected)
	mc.RecordReconnect()
	mc.RecordProbeLatency(time.Millisecond)
	mc.RecordDeduplicationHit("m")
	mc.RecordCircuitBreakerState(StateClosed)
	mc.RecordError(ErrorTypeTransport, "m")
}
