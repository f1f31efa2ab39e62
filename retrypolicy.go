package tangguh

import (
	"time"

	internalbackoff "github.com/ArtemioPadilla/tangguh/internal/backoff"
)

// BackoffStrategy selects the delay curve used between call retries.
type BackoffStrategy int

const (
	// Exponential grows delays as initial * multiplier^attempt with jitter.
	Exponential BackoffStrategy = iota
	// DecorrelatedJitter randomizes within a widening window (AWS style).
	DecorrelatedJitter
)

// DefaultRetryPolicy retries transient transport failures with exponential
// backoff. Remote call errors, timeouts and cancellations never retry: the
// remote already answered, or the caller's deadline already decided.
type DefaultRetryPolicy struct {
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	calculator        *internalbackoff.Calculator
}

// NewDefaultRetryPolicy creates the standard policy with the given delay
// parameters.
func NewDefaultRetryPolicy(initialBackoff, maxBackoff time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		initialBackoff:    initialBackoff,
		maxBackoff:        maxBackoff,
		backoffMultiplier: multiplier,
		jitter:            jitter,
		calculator:        internalbackoff.NewExponentialCalculator(),
	}
}

// NewDefaultRetryPolicyWithStrategy creates a policy with a specific backoff
// strategy.
func NewDefaultRetryPolicyWithStrategy(initialBackoff, maxBackoff time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *DefaultRetryPolicy {
	policy := NewDefaultRetryPolicy(initialBackoff, maxBackoff, multiplier, jitter)
	switch strategy {
	case DecorrelatedJitter:
		policy.calculator = internalbackoff.NewDecorrelatedJitterCalculator()
	default:
		policy.calculator = internalbackoff.NewExponentialCalculator()
	}
	return policy
}

// ShouldRetry implements the RetryPolicy interface. The per-call retry cap
// is enforced by the client; the policy only judges the error kind and
// computes the delay.
func (p *DefaultRetryPolicy) ShouldRetry(err error, attempt int) (time.Duration, bool) {
	if !IsRetryable(err) {
		return 0, false
	}
	return p.calculator.Calculate(attempt, p.initialBackoff, p.maxBackoff, p.backoffMultiplier, p.jitter), true
}
