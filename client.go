package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is a resilient RPC client that layers transport failover,
// reconnection backoff, priority dispatch with bounded retries, response
// caching, de-duplication and metrics around two interchangeable
// transports. It is safe for concurrent use; construct one per remote
// endpoint and pass it around explicitly.
type Client struct {
	// configuration, fixed after New
	serverURL       string
	fallbackURL     string
	enableReconnect bool
	reconnectCfg    ReconnectConfig
	timeout         time.Duration
	maxRetries      int
	priorityLevels  int
	cacheTTL        time.Duration
	cacheMaxEntries int
	probeInterval   time.Duration
	probeMethod     string
	dialTimeout     time.Duration

	stream       StreamTransport
	fallback     CallTransport
	cache        Cache
	cacheKeyFunc CacheKeyFunc
	retryPolicy  RetryPolicy
	breaker      *CircuitBreaker
	dedup        *dedupTracker
	logger       Logger
	debug        *DebugConfig
	collector    *MetricsCollector
	metrics      *metricsState
	idGen        func() string

	sup *connSupervisor

	mu       sync.Mutex
	queue    *dispatchQueue
	inflight map[string]*pendingCall
	draining bool
	closed   bool

	validationError error
}

// New constructs a Client using the provided functional options and starts
// its connection supervisor. A best effort validation is performed; call
// IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		reconnectCfg: ReconnectConfig{
			MaxAttempts:  10,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   1.5,
		},
		enableReconnect: true,
		timeout:         30 * time.Second,
		maxRetries:      3,
		priorityLevels:  3,
		cacheTTL:        5 * time.Minute,
		cacheMaxEntries: 256,
		probeMethod:     "ping",
		dialTimeout:     10 * time.Second,
		cacheKeyFunc:    DefaultCacheKeyFunc,
		metrics:         &metricsState{},
		queue:           newDispatchQueue(),
		inflight:        make(map[string]*pendingCall),
	}

	for _, option := range options {
		option(client)
	}

	if client.stream == nil && client.serverURL != "" {
		client.stream = NewWebSocketTransport()
	}
	if client.fallback == nil && client.fallbackURL != "" {
		client.fallback = NewHTTPTransport(client.fallbackURL)
	}
	if client.retryPolicy == nil {
		client.retryPolicy = NewDefaultRetryPolicy(100*time.Millisecond, 2*time.Second, 2.0, 0.1)
	}
	// WithRequestIDGenerator wins over the debug-config generator.
	if client.idGen == nil && client.debug != nil && client.debug.RequestIDGen != nil {
		client.idGen = client.debug.RequestIDGen
	}
	if client.idGen == nil {
		client.idGen = uuid.NewString
	}
	if !client.enableReconnect {
		client.reconnectCfg.MaxAttempts = 0
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.sup = newConnSupervisor(client)
	client.sup.start()

	return client
}

// Request issues an RPC with default options: default priority, timeout,
// retries and caching. Params are opaque bytes owned by the caller.
func (c *Client) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	return c.RequestWith(ctx, method, params, RequestOptions{})
}

// RequestWith issues an RPC with per-call overrides. Every call resolves or
// rejects exactly once with the result, a typed error, or a timeout; it
// never hangs indefinitely.
func (c *Client) RequestWith(ctx context.Context, method string, params json.RawMessage, opts RequestOptions) (json.RawMessage, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}

	if opts.Priority < 0 || opts.Priority >= c.priorityLevels {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("priority %d outside [0,%d)", opts.Priority, c.priorityLevels),
			Method:    method,
			Timestamp: time.Now(),
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	maxRetries := c.maxRetries
	if opts.MaxRetries > 0 {
		maxRetries = opts.MaxRetries
	} else if opts.MaxRetries < 0 {
		maxRetries = 0
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cacheTTL
	}

	key := c.cacheKeyFunc(method, params)
	useCache := c.cache != nil && !opts.NoCache

	if useCache {
		if value, ok := c.cache.Get(key); ok {
			c.metrics.recordCached()
			c.collector.RecordCacheHit(method)
			c.debugLog(c.debugCache(), "cache hit", "method", method, "key", key)
			return value, nil
		}
		c.collector.RecordCacheMiss(method)
		c.debugLog(c.debugCache(), "cache miss", "method", method, "key", key)
	}

	var entry *dedupEntry
	owner := true
	if c.dedup != nil && !opts.NoCache {
		entry, owner = c.dedup.getOrCreate(key)
		if !owner {
			c.collector.RecordDeduplicationHit(method)
			c.debugLog(c.debugRequests(), "coalesced onto in-flight call", "method", method, "key", key)
			return entry.wait(ctx)
		}
	}

	c.metrics.recordRequest()
	c.collector.RecordRequestStart()
	defer c.collector.RecordRequestEnd()

	if c.sup.exhausted() {
		err := &ClientError{
			Type:      ErrorTypeNoConnection,
			Message:   "no connection available",
			Cause:     ErrNoConnection,
			Method:    method,
			Timestamp: time.Now(),
		}
		c.metrics.recordFailure()
		c.collector.RecordError(ErrorTypeNoConnection, method)
		if entry != nil {
			c.dedup.complete(key, nil, err)
		}
		return nil, err
	}

	call := &pendingCall{
		id:         c.idGen(),
		method:     method,
		params:     params,
		priority:   opts.Priority,
		enqueuedAt: time.Now(),
		maxRetries: maxRetries,
		timeout:    timeout,
		useCache:   useCache,
		cacheKey:   key,
		cacheTTL:   ttl,
		done:       make(chan struct{}),
		index:      -1,
	}
	call.timer = time.AfterFunc(timeout, func() {
		c.expireCall(call)
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.timer.Stop()
		if entry != nil {
			c.dedup.complete(key, nil, ErrClientClosed)
		}
		return nil, ErrClientClosed
	}
	c.queue.push(call)
	depth := c.queue.len()
	c.mu.Unlock()

	c.collector.RecordQueueDepth(depth)
	c.debugLog(c.debugQueue(), "enqueued", "id", call.id, "method", method, "priority", call.priority, "depth", depth)
	c.triggerDrain()

	select {
	case <-call.done:
	case <-ctx.Done():
		c.cancelCall(call, ctx.Err())
		<-call.done
	}

	if entry != nil {
		c.dedup.complete(key, call.result, call.err)
	}
	return call.result, call.err
}

// triggerDrain starts the single-flight drain loop when there is work and
// no drain is already running.
func (c *Client) triggerDrain() {
	c.mu.Lock()
	if c.draining || c.closed || c.queue.len() == 0 {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.mu.Unlock()

	go c.drainLoop()
}

// drainLoop pops the highest-priority call and transmits it over the
// currently active transport, suspending until each attempt concludes. It
// stops when the queue empties or no transport is usable; queued calls stay
// put for the next trigger.
func (c *Client) drainLoop() {
	for {
		c.mu.Lock()
		if c.closed || c.queue.len() == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}

		if c.breaker != nil && !c.breaker.Allow() {
			c.draining = false
			wake := c.breaker.RecoveryTimeout()
			c.collector.RecordCircuitBreakerState(c.breaker.State())
			c.mu.Unlock()
			c.debugLog(c.debugQueue(), "drain paused, circuit open", "wake", wake)
			time.AfterFunc(wake, c.triggerDrain)
			return
		}

		proto, ok := c.sup.usable()
		if !ok {
			c.draining = false
			c.mu.Unlock()
			return
		}

		call := c.queue.pop()
		if call.completed() {
			// Expired or cancelled while queued.
			c.mu.Unlock()
			continue
		}
		c.inflight[call.id] = call
		attempt := make(chan struct{})
		call.attemptCh = attempt
		depth := c.queue.len()
		c.mu.Unlock()

		c.collector.RecordQueueDepth(depth)
		c.dispatch(call, proto, attempt)
	}
}

// dispatch transmits one call over the chosen transport and waits for the
// attempt to conclude: a correlated response, a transport error, or the
// call's own timeout.
func (c *Client) dispatch(call *pendingCall, proto Protocol, attempt <-chan struct{}) {
	c.debugLog(c.debugRequests(), "dispatching", "id", call.id, "method", call.method, "protocol", proto, "retry", call.retryCount)

	switch proto {
	case ProtocolStreaming:
		ctx, cancel := context.WithTimeout(context.Background(), call.timeout)
		err := c.sup.sendStreaming(ctx, call.id, call.method, call.params)
		cancel()
		if err != nil {
			c.attemptFailed(call, &ClientError{
				Type:       ErrorTypeTransport,
				Message:    "streaming send failed",
				Cause:      err,
				RequestID:  call.id,
				Method:     call.method,
				Attempt:    call.retryCount,
				MaxRetries: call.maxRetries,
				Timestamp:  time.Now(),
			})
		}
		<-attempt

	case ProtocolFallback:
		ctx, cancel := context.WithTimeout(context.Background(), call.timeout)
		result, err := c.sup.callFallback(ctx, call.method, call.params)
		cancel()
		if err != nil {
			errType := ErrorTypeTransport
			var callErr *CallError
			if errors.As(err, &callErr) {
				errType = ErrorTypeCall
			}
			c.attemptFailed(call, &ClientError{
				Type:       errType,
				Message:    "fallback call failed",
				Cause:      err,
				RequestID:  call.id,
				Method:     call.method,
				Attempt:    call.retryCount,
				MaxRetries: call.maxRetries,
				Timestamp:  time.Now(),
			})
			return
		}
		c.breakerSuccess()
		c.finish(call, result, nil)
	}
}

// handleMessage correlates a streaming response back to its caller.
// Responses with no matching in-flight call (late arrivals after a timeout,
// or duplicates) are discarded, never re-surfaced.
func (c *Client) handleMessage(id string, result json.RawMessage, err error) {
	c.mu.Lock()
	call, ok := c.inflight[id]
	c.mu.Unlock()

	if !ok {
		c.debugLog(c.debugRequests(), "discarding uncorrelated response", "id", id)
		return
	}
	if call.canceled.Load() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.signalAttemptLocked(call)
		c.mu.Unlock()
		c.debugLog(c.debugRequests(), "discarding late response", "id", id)
		return
	}

	if err != nil {
		c.attemptFailed(call, &ClientError{
			Type:       ErrorTypeCall,
			Message:    "remote call error",
			Cause:      err,
			RequestID:  call.id,
			Method:     call.method,
			Attempt:    call.retryCount,
			MaxRetries: call.maxRetries,
			Timestamp:  time.Now(),
		})
		return
	}
	c.breakerSuccess()
	c.finish(call, result, nil)
}

// streamDown fails whatever attempt is currently suspended on the streaming
// transport so it can retry on the transport active after recovery. Calls
// still queued are untouched. Each attempt is consumed under the lock so a
// transport error arriving concurrently cannot settle the same attempt a
// second time.
func (c *Client) streamDown(cause error) {
	c.mu.Lock()
	var victims []*pendingCall
	for _, call := range c.inflight {
		if call.attemptCh != nil {
			delete(c.inflight, call.id)
			c.signalAttemptLocked(call)
			victims = append(victims, call)
		}
	}
	c.mu.Unlock()

	for _, call := range victims {
		c.settleAttempt(call, &ClientError{
			Type:       ErrorTypeTransport,
			Message:    "streaming connection lost",
			Cause:      cause,
			RequestID:  call.id,
			Method:     call.method,
			Attempt:    call.retryCount,
			MaxRetries: call.maxRetries,
			Timestamp:  time.Now(),
		})
	}
}

// attemptFailed reports one failed transmission attempt. The open attempt is
// consumed under the lock; only the first failure path to observe it (a
// transport error or the supervisor's drop handling, whichever wins the
// race) proceeds to settlement, so a call is never retried twice for one
// attempt.
func (c *Client) attemptFailed(call *pendingCall, cerr *ClientError) {
	c.mu.Lock()
	if call.attemptCh == nil {
		// Already settled: finish, streamDown or a racing failure report
		// got here first.
		c.mu.Unlock()
		return
	}
	delete(c.inflight, call.id)
	c.signalAttemptLocked(call)
	c.mu.Unlock()

	c.settleAttempt(call, cerr)
}

// settleAttempt routes a consumed failed attempt through the retry policy:
// either re-enqueue at the back of the call's priority band, or reject the
// caller terminally. A call that already completed is left alone.
func (c *Client) settleAttempt(call *pendingCall, cerr *ClientError) {
	if call.completed() {
		return
	}

	if cerr.Type == ErrorTypeTransport {
		c.breakerFailure()
	}

	delay, retry := c.retryPolicy.ShouldRetry(cerr, call.retryCount)
	if retry && call.retryCount < call.maxRetries {
		call.retryCount++
		c.collector.RecordRetry(call.method)
		c.debugLog(c.debugRetries(), "retrying", "id", call.id, "method", call.method,
			"attempt", call.retryCount, "maxRetries", call.maxRetries, "delay", delay)

		if delay > 0 {
			time.AfterFunc(delay, func() { c.requeue(call) })
		} else {
			c.requeue(call)
		}
		return
	}

	var ferr error = cerr
	if retry {
		// Retryable failure, but the budget is spent: terminal exhaustion.
		ferr = &ClientError{
			Type:       ErrorTypeExhausted,
			Message:    "retries exhausted",
			Cause:      cerr,
			RequestID:  call.id,
			Method:     call.method,
			Attempt:    call.retryCount,
			MaxRetries: call.maxRetries,
			Timestamp:  time.Now(),
		}
	}
	c.finish(call, nil, ferr)
}

// requeue puts a retrying call back into the queue unless it completed or
// the client closed in the meantime.
func (c *Client) requeue(call *pendingCall) {
	c.mu.Lock()
	if c.closed || call.completed() {
		c.mu.Unlock()
		return
	}
	c.queue.push(call)
	c.mu.Unlock()
	c.triggerDrain()
}

// finish is the single terminal path for a call: it fires the completion
// handle at most once, updates metrics, and populates the cache on success.
func (c *Client) finish(call *pendingCall, result json.RawMessage, err error) {
	first := call.complete(result, err)

	c.mu.Lock()
	c.queue.remove(call)
	delete(c.inflight, call.id)
	c.signalAttemptLocked(call)
	depth := c.queue.len()
	c.mu.Unlock()
	c.collector.RecordQueueDepth(depth)

	if !first {
		return
	}

	latency := time.Since(call.enqueuedAt)
	if err == nil {
		c.metrics.recordSuccess(latency)
		c.collector.RecordRequest(call.method, "success", latency)
		if call.useCache && c.cache != nil {
			c.cache.Set(call.cacheKey, result, call.cacheTTL)
			c.collector.RecordCacheSize(c.cache.Len())
		}
		c.debugLog(c.debugRequests(), "resolved", "id", call.id, "method", call.method, "latency", latency)
	} else {
		c.metrics.recordFailure()
		c.collector.RecordRequest(call.method, "failure", latency)
		c.collector.RecordError(errorTypeOf(err), call.method)
		c.debugLog(c.debugRequests(), "rejected", "id", call.id, "method", call.method, "error", err)
	}
}

// expireCall force-rejects a call whose deadline elapsed, whether it is
// still queued or already in flight. A late transport response afterwards
// is discarded.
func (c *Client) expireCall(call *pendingCall) {
	call.canceled.Store(true)
	c.finish(call, nil, &ClientError{
		Type:       ErrorTypeTimeout,
		Message:    "request timed out",
		Cause:      ErrTimeout,
		RequestID:  call.id,
		Method:     call.method,
		Attempt:    call.retryCount,
		MaxRetries: call.maxRetries,
		Timestamp:  time.Now(),
		Duration:   call.timeout,
	})
}

// cancelCall rejects a call whose caller's context was cancelled.
func (c *Client) cancelCall(call *pendingCall, cause error) {
	call.canceled.Store(true)
	c.finish(call, nil, &ClientError{
		Type:      ErrorTypeCanceled,
		Message:   "request canceled",
		Cause:     cause,
		RequestID: call.id,
		Method:    call.method,
		Timestamp: time.Now(),
	})
}

func (c *Client) signalAttemptLocked(call *pendingCall) {
	if call.attemptCh != nil {
		close(call.attemptCh)
		call.attemptCh = nil
	}
}

func (c *Client) breakerFailure() {
	if c.breaker == nil {
		return
	}
	c.mu.Lock()
	c.breaker.RecordFailure()
	state := c.breaker.State()
	c.mu.Unlock()
	c.collector.RecordCircuitBreakerState(state)
}

func (c *Client) breakerSuccess() {
	if c.breaker == nil {
		return
	}
	c.mu.Lock()
	c.breaker.RecordSuccess()
	state := c.breaker.State()
	c.mu.Unlock()
	c.collector.RecordCircuitBreakerState(state)
}

// probeRequest is the supervisor's lightweight health round trip: highest
// priority, cache bypass, no retries.
func (c *Client) probeRequest(ctx context.Context) error {
	_, err := c.RequestWith(ctx, c.probeMethod, nil, RequestOptions{
		Priority:   c.priorityLevels - 1,
		NoCache:    true,
		MaxRetries: -1,
	})
	return err
}

// GetConnectionStatus returns a copy of the supervisor's current status.
func (c *Client) GetConnectionStatus() ConnectionStatus {
	return c.sup.currentStatus()
}

// GetMetrics returns a snapshot of the request counters and gauges.
func (c *Client) GetMetrics() RequestMetrics {
	c.mu.Lock()
	active := len(c.inflight)
	queued := c.queue.len()
	c.mu.Unlock()
	return c.metrics.snapshot(active, queued)
}

// GetCacheStats returns cache size and hit/miss counters.
func (c *Client) GetCacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats()
}

// ClearCache removes all cached responses (manual invalidation).
func (c *Client) ClearCache() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
	c.collector.RecordCacheSize(0)
}

// Reconnect forces a fresh connection attempt, resetting the backoff
// budget.
func (c *Client) Reconnect() {
	c.sup.requestReconnect()
}

// Close shuts the client down: queued calls are rejected, the supervisor
// stops and the streaming transport closes. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	abandoned := c.queue.drainAll()
	c.mu.Unlock()

	for _, call := range abandoned {
		call.canceled.Store(true)
		c.finish(call, nil, &ClientError{
			Type:      ErrorTypeCanceled,
			Message:   "client closed",
			Cause:     ErrClientClosed,
			RequestID: call.id,
			Method:    call.method,
			Timestamp: time.Now(),
		})
	}

	c.sup.stop()
	return nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func (c *Client) debugLog(enabled bool, msg string, keysAndValues ...interface{}) {
	if c.debug == nil || !c.debug.Enabled || !enabled || c.logger == nil {
		return
	}
	c.logger.Debug(msg, keysAndValues...)
}

func (c *Client) debugRequests() bool   { return c.debug != nil && c.debug.LogRequests }
func (c *Client) debugCache() bool      { return c.debug != nil && c.debug.LogCache }
func (c *Client) debugRetries() bool    { return c.debug != nil && c.debug.LogRetries }
func (c *Client) debugQueue() bool      { return c.debug != nil && c.debug.LogQueue }
func (c *Client) debugConnection() bool { return c.debug != nil && c.debug.LogConnection }

func errorTypeOf(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return "Unknown"
}
