package tangguh

import (
	"fmt"
	"time"
)

// WithServerURL sets the streaming transport endpoint.
func WithServerURL(url string) Option {
	return func(c *Client) {
		c.serverURL = url
	}
}

// WithFallbackURL sets the request/response fallback endpoint.
func WithFallbackURL(url string) Option {
	return func(c *Client) {
		c.fallbackURL = url
	}
}

// WithStreamTransport plugs in a custom streaming transport implementation.
func WithStreamTransport(t StreamTransport) Option {
	return func(c *Client) {
		c.stream = t
	}
}

// WithCallTransport plugs in a custom fallback transport implementation.
func WithCallTransport(t CallTransport) Option {
	return func(c *Client) {
		c.fallback = t
	}
}

// WithReconnect sets the reconnection backoff parameters.
func WithReconnect(cfg ReconnectConfig) Option {
	return func(c *Client) {
		c.reconnectCfg = cfg
		c.enableReconnect = cfg.MaxAttempts > 0
	}
}

// WithoutReconnection disables automatic reconnection; only a manual
// Reconnect() will re-dial.
func WithoutReconnection() Option {
	return func(c *Client) {
		c.enableReconnect = false
	}
}

// WithCache enables response caching with the default LRU cache.
func WithCache(maxEntries int, ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheMaxEntries = maxEntries
		c.cacheTTL = ttl
		c.cache = NewLRUCache(maxEntries)
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithCacheKeyFunc sets a custom cache key function.
func WithCacheKeyFunc(fn CacheKeyFunc) Option {
	return func(c *Client) {
		c.cacheKeyFunc = fn
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets the default maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithPriorityLevels sets how many distinct priorities the dispatch queue
// recognizes; valid call priorities are [0, levels).
func WithPriorityLevels(levels int) Option {
	return func(c *Client) {
		c.priorityLevels = levels
	}
}

// WithRetryPolicy sets a custom retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRetryBackoff configures the default retry policy's delay curve.
func WithRetryBackoff(initial, max time.Duration, multiplier, jitter float64) Option {
	return func(c *Client) {
		c.retryPolicy = NewDefaultRetryPolicy(initial, max, multiplier, jitter)
	}
}

// WithCircuitBreaker enables the circuit breaker with the given config.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breaker = NewCircuitBreaker(config)
	}
}

// WithDeduplication enables coalescing of concurrent identical calls.
func WithDeduplication() Option {
	return func(c *Client) {
		c.dedup = newDedupTracker()
	}
}

// WithHealthProbe enables periodic health probing using the given method at
// the given interval.
func WithHealthProbe(interval time.Duration, method string) Option {
	return func(c *Client) {
		c.probeInterval = interval
		if method != "" {
			c.probeMethod = method
		}
	}
}

// WithDialTimeout bounds a single streaming connect attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.collector = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.collector = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a plain stderr logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithZerolog enables debug logging through a console zerolog logger at the
// given level.
func WithZerolog(level string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewConsoleZerologLogger(level)
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating correlation
// ids. The default produces UUIDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.idGen = gen
	}
}

// DefaultDebugConfig returns a debug configuration with every concern
// enabled but the master switch off.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:   true,
		LogCache:      true,
		LogRetries:    true,
		LogQueue:      true,
		LogConnection: true,
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateTransportConfig()...)
	errs = append(errs, c.validateReconnectConfig()...)
	errs = append(errs, c.validateRequestConfig()...)
	errs = append(errs, c.validateCacheConfig()...)
	errs = append(errs, c.validateCircuitBreakerConfig()...)
	errs = append(errs, c.validateDebugConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errs []string

	if c.stream == nil && c.fallback == nil {
		errs = append(errs, "at least one transport must be configured")
	}

	return errs
}

func (c *Client) validateReconnectConfig() []string {
	var errs []string

	if !c.enableReconnect {
		return errs
	}
	if c.reconnectCfg.MaxAttempts < 0 {
		errs = append(errs, "reconnect MaxAttempts must be non-negative")
	}
	if c.reconnectCfg.InitialDelay <= 0 {
		errs = append(errs, "reconnect InitialDelay must be positive")
	}
	if c.reconnectCfg.MaxDelay < c.reconnectCfg.InitialDelay {
		errs = append(errs, "reconnect MaxDelay must be greater than or equal to InitialDelay")
	}
	if c.reconnectCfg.Multiplier < 1 {
		errs = append(errs, "reconnect Multiplier must be at least 1")
	}
	if c.reconnectCfg.Jitter < 0 || c.reconnectCfg.Jitter > 1 {
		errs = append(errs, "reconnect Jitter must be between 0 and 1")
	}

	return errs
}

func (c *Client) validateRequestConfig() []string {
	var errs []string

	if c.maxRetries < 0 {
		errs = append(errs, "maxRetries must be non-negative")
	}
	if c.timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if c.priorityLevels < 1 {
		errs = append(errs, "priorityLevels must be at least 1")
	}
	if c.dialTimeout <= 0 {
		errs = append(errs, "dialTimeout must be positive")
	}

	return errs
}

func (c *Client) validateCacheConfig() []string {
	var errs []string

	if c.cache != nil && c.cacheTTL <= 0 {
		errs = append(errs, "cacheTTL must be positive when cache is enabled")
	}
	if c.cache != nil && c.cacheMaxEntries < 1 {
		errs = append(errs, "cache maxEntries must be at least 1")
	}

	return errs
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var errs []string

	if c.breaker != nil {
		if c.breaker.config.FailureThreshold <= 0 {
			errs = append(errs, "circuitBreaker FailureThreshold must be positive")
		}
		if c.breaker.config.RecoveryTimeout <= 0 {
			errs = append(errs, "circuitBreaker RecoveryTimeout must be positive")
		}
		if c.breaker.config.SuccessThreshold <= 0 {
			errs = append(errs, "circuitBreaker SuccessThreshold must be positive")
		}
	}

	return errs
}

func (c *Client) validateDebugConfig() []string {
	var errs []string

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		errs = append(errs, "logger must be set when debug is enabled")
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.maxRetries > 100 {
		errs = append(errs, "maxRetries > 100 may cause excessive resource usage")
	}
	if c.timeout > 10*time.Minute {
		errs = append(errs, "timeout > 10m may cause requests to hang for too long")
	}
	if c.enableReconnect && c.reconnectCfg.MaxDelay > 1*time.Hour {
		errs = append(errs, "reconnect MaxDelay > 1h may cause extremely long outages")
	}
	if c.cache != nil && c.cacheTTL > 24*time.Hour {
		errs = append(errs, "cacheTTL > 24h may cause stale data issues")
	}

	return errs
}
