package backoff

import (
	"time"
)

// Calculator provides backoff calculation using a configurable strategy.
// It centralizes the delay math shared by reconnection and call retries.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the backoff duration for the given attempt and
// parameters, delegating to the configured strategy.
func (c *Calculator) Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, initialDelay, maxDelay, multiplier, jitter)
}

// SetStrategy updates the backoff strategy used by this calculator.
func (c *Calculator) SetStrategy(strategy Strategy) {
	c.strategy = strategy
}

// NewExponentialCalculator returns a calculator using the exponential
// strategy, the library default.
func NewExponentialCalculator() *Calculator {
	return NewCalculator(ExponentialStrategy{})
}

// NewDecorrelatedJitterCalculator returns a calculator using decorrelated
// jitter for smoother tail latencies.
func NewDecorrelatedJitterCalculator() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
