// Package tangguh provides a resilient RPC client core with composable
// reliability primitives:
//
//   - Dual transports: a persistent streaming socket with a request/response
//     fallback, failing over transparently
//   - Reconnection with exponential backoff + ceiling
//   - Priority-ordered dispatch queue with bounded retries
//   - In-memory response caching (per-entry TTL + LRU eviction)
//   - Request de-duplication (merges concurrent identical in-flight calls)
//   - Circuit breaker (open / half-open / closed states)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Every call resolves or rejects exactly once, never hangs
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via pluggable transports, cache, retry policy & metrics
//
// Typical usage:
//
//	client := tangguh.New(
//	    tangguh.WithServerURL("wss://rpc.example.com/ws"),
//	    tangguh.WithFallbackURL("https://rpc.example.com/call"),
//	    tangguh.WithCache(128, 5*time.Minute),
//	    tangguh.WithMaxRetries(3),
//	)
//	defer client.Close()
//	result, err := client.Request(ctx, "ledger.head", nil)
//
// Method names and params are opaque to the core: callers marshal their own
// payloads and decode the returned bytes. The client adds at-most-N-retries
// semantics above the transports; idempotency stays with the caller.
package tangguh
