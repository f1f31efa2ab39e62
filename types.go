package tangguh

import (
	"context"
	"encoding/json"
	"time"
)

// Protocol identifies which transport currently serves requests.
type Protocol string

const (
	// ProtocolStreaming is the persistent full-duplex socket.
	ProtocolStreaming Protocol = "streaming"
	// ProtocolFallback is the stateless request/response channel.
	ProtocolFallback Protocol = "fallback"
	// ProtocolNone means no transport is usable.
	ProtocolNone Protocol = "none"
)

// ConnectionState enumerates the connection supervisor's state machine.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnectingStreaming
	StateConnectedStreaming
	StateReconnectingStreaming
	StateConnectedFallback
)

// String returns the state name for logs and metrics labels.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnectingStreaming:
		return "connecting_streaming"
	case StateConnectedStreaming:
		return "connected_streaming"
	case StateReconnectingStreaming:
		return "reconnecting_streaming"
	case StateConnectedFallback:
		return "connected_fallback"
	default:
		return "unknown"
	}
}

// ConnectionStatus is a point-in-time view of the transport layer. It is
// mutated only by the connection supervisor; callers receive copies.
type ConnectionStatus struct {
	Connected         bool
	State             ConnectionState
	Protocol          Protocol
	LatencyMs         float64
	ReconnectAttempts int
	LastConnectedAt   time.Time
	LastError         string
}

// StreamEvents carries the callbacks a StreamTransport fires while open.
// OnMessage delivers a correlated response (result or remote error);
// OnClose fires exactly once when the connection drops, with the cause.
type StreamEvents struct {
	OnMessage func(id string, result json.RawMessage, err error)
	OnClose   func(err error)
}

// StreamTransport is the persistent streaming socket contract. Open dials
// and starts delivering events; Send transmits one correlated request.
// Implementations deliver each response at most once per attempt.
type StreamTransport interface {
	Open(ctx context.Context, url string, events StreamEvents) error
	Send(ctx context.Context, id, method string, params json.RawMessage) error
	Close() error
}

// CallTransport is the fallback request/response contract: one round trip,
// no persistent connection.
type CallTransport interface {
	Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// ReconnectConfig controls the supervisor's backoff between reconnect
// attempts: delay[n] = min(InitialDelay * Multiplier^n, MaxDelay).
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// RequestOptions overrides client-wide defaults for a single call.
// The zero value means "use the client defaults".
type RequestOptions struct {
	// Priority orders the call in the dispatch queue; higher drains sooner.
	// Must be below the client's configured priority levels.
	Priority int
	// Timeout bounds the whole call including queue time; 0 uses the
	// client default.
	Timeout time.Duration
	// TTL overrides the cache TTL for the response; 0 uses the default.
	TTL time.Duration
	// NoCache bypasses the cache entirely: no lookup, no population.
	NoCache bool
	// MaxRetries caps transport-level retries; 0 uses the client default
	// and a negative value disables retries for this call.
	MaxRetries int
}

// CacheStats summarizes cache effectiveness for observers.
type CacheStats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// RequestMetrics is a snapshot of the client's internal counters. Counters
// are monotonic for the lifetime of the client; Active and Queued are
// current gauges.
type RequestMetrics struct {
	TotalRequests uint64
	Successful    uint64
	Failed        uint64
	Cached        uint64
	AvgLatencyMs  float64
	Active        int
	Queued        int
}

// Logger is the minimal structured logging interface used for debug output.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig gates per-concern debug logging so insight never means noise.
type DebugConfig struct {
	Enabled       bool
	LogRequests   bool
	LogCache      bool
	LogRetries    bool
	LogQueue      bool
	LogConnection bool
	RequestIDGen  func() string
}

// Option represents a configuration option.
type Option func(*Client)

// CacheKeyFunc derives the cache/dedup key from an opaque call.
type CacheKeyFunc func(method string, params json.RawMessage) string

// RetryPolicy decides whether a failed attempt should be retried and after
// what delay. attempt is the number of retries already performed.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) (time.Duration, bool)
}
