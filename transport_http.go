package tangguh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding the fallback endpoint, which is
// typically rate-limited server-side; denying locally is cheaper than a 429
// round trip.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter refilling one token per refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed / rl.refillRate)
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

type httpCallRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type httpCallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
}

// HTTPTransport implements CallTransport with one JSON POST per call: the
// stateless fallback channel used while the streaming socket is down.
type HTTPTransport struct {
	url        string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewHTTPTransport creates a fallback transport for the given endpoint.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewHTTPTransportWithLimiter adds a client-side token bucket in front of
// the endpoint.
func NewHTTPTransportWithLimiter(url string, maxTokens int, refillRate time.Duration) *HTTPTransport {
	t := NewHTTPTransport(url)
	t.limiter = NewRateLimiter(maxTokens, refillRate)
	return t
}

// Call performs a single round trip. Remote application errors come back as
// *CallError; everything else is a transport error.
func (t *HTTPTransport) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if t.limiter != nil && !t.limiter.Allow() {
		return nil, ErrRateLimited
	}

	body, err := json.Marshal(httpCallRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	const maxResponseSize = 10 * 1024 * 1024
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback endpoint returned %d", resp.StatusCode)
	}

	var out httpCallResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, &CallError{Code: out.Error.Code, Message: out.Error.Message}
	}
	return out.Result, nil
}
