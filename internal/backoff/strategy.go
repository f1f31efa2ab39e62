package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the backoff duration for the given attempt number
	// and parameters.
	Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialStrategy implements plain exponential backoff with a ceiling
// and optional uniform jitter: min(initial * multiplier^attempt, max).
type ExponentialStrategy struct{}

// Calculate implements the Strategy interface.
func (s ExponentialStrategy) Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Limit the exponent to keep the multiplication finite.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(initialDelay) * pow(multiplier, attempt))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+jitterAmount > maxDelay {
			delay = maxDelay
		} else {
			delay += jitterAmount
		}
	}
	return delay
}

// DecorrelatedJitterStrategy implements decorrelated jitter: a random delay
// between the base and min(cap, base * 3^attempt). It trades the exact
// exponential curve for smoother tail latencies.
type DecorrelatedJitterStrategy struct{}

// Calculate implements the Strategy interface.
func (s DecorrelatedJitterStrategy) Calculate(attempt int, initialDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return initialDelay
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initialDelay)
	upper := base * pow(3.0, attempt)

	maxFloat := float64(maxDelay)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
