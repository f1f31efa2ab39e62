package tangguh

import (
	"errors"
	"fmt"
	"time"
)

// Error type constants classify a ClientError. They map the failure
// taxonomy: transport errors are recovered internally, call errors belong
// to one caller, timeouts are call-scoped, exhaustion is terminal.
const (
	ErrorTypeTransport    = "Transport"
	ErrorTypeCall         = "Call"
	ErrorTypeTimeout      = "Timeout"
	ErrorTypeExhausted    = "Exhausted"
	ErrorTypeNoConnection = "NoConnection"
	ErrorTypeCanceled     = "Canceled"
	ErrorTypeCircuitOpen  = "CircuitOpen"
	ErrorTypeValidation   = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrTimeout is returned when a call misses its deadline.
	ErrTimeout = errors.New("tangguh: request timeout")

	// ErrRetriesExhausted is returned once a call has been retried the
	// configured maximum number of times.
	ErrRetriesExhausted = errors.New("tangguh: retries exhausted")

	// ErrNoConnection is returned when every transport is exhausted or
	// disabled and a call cannot be queued usefully.
	ErrNoConnection = errors.New("tangguh: no connection available")

	// ErrClientClosed is returned for calls issued after Close.
	ErrClientClosed = errors.New("tangguh: client closed")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("tangguh: circuit open")

	// ErrRateLimited is returned when the fallback transport denies a
	// round trip due to client-side rate limiting.
	ErrRateLimited = errors.New("tangguh: rate limited")
)

// CallError is a remote-reported application error carried back verbatim to
// the caller that issued the offending request.
type CallError struct {
	Code    int
	Message string
}

// Error implements error interface.
func (e *CallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// ClientError represents an error from the client with diagnostic context.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrRetriesExhausted:
		return e.Type == ErrorTypeExhausted
	case ErrNoConnection:
		return e.Type == ErrorTypeNoConnection
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	}
	return false
}

// IsRetryable reports whether an error represents a transient failure the
// client may retry: transport failures and open-circuit rejections. Remote
// call errors, timeouts and exhaustion are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeTransport, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return false
	}
	// Raw transport errors arrive unwrapped from Send/Call failures.
	return true
}

// IsTerminal reports whether an error means "definitely failed" as opposed
// to "retry yourself": exhaustion and no-connection conditions.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) || errors.Is(err, ErrNoConnection) {
		return true
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrorTypeExhausted || clientErr.Type == ErrorTypeNoConnection
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
