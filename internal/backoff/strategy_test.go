package backoff

import (
	"testing"
	"time"
)

func TestExponentialStrategyGrowth(t *testing.T) {
	s := ExponentialStrategy{}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 1500 * time.Millisecond},
		{2, 2250 * time.Millisecond},
		{3, 3375 * time.Millisecond},
	}

	for _, tt := range tests {
		got := s.Calculate(tt.attempt, time.Second, 30*time.Second, 1.5, 0)
		if got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestExponentialStrategyCap(t *testing.T) {
	s := ExponentialStrategy{}

	for attempt := 9; attempt < 40; attempt++ {
		got := s.Calculate(attempt, time.Second, 30*time.Second, 1.5, 0)
		if got > 30*time.Second {
			t.Errorf("attempt %d: delay %v exceeds cap", attempt, got)
		}
	}

	// 1.5^9 is about 38.4, so attempt 9 must already be capped.
	if got := s.Calculate(9, time.Second, 30*time.Second, 1.5, 0); got != 30*time.Second {
		t.Errorf("Expected capped delay 30s, got %v", got)
	}
}

func TestExponentialStrategyNegativeAttempt(t *testing.T) {
	s := ExponentialStrategy{}
	if got := s.Calculate(-3, time.Second, 30*time.Second, 2.0, 0); got != time.Second {
		t.Errorf("Expected initial delay for negative attempt, got %v", got)
	}
}

func TestExponentialStrategyJitterBounds(t *testing.T) {
	s := ExponentialStrategy{}

	for i := 0; i < 100; i++ {
		got := s.Calculate(2, time.Second, 30*time.Second, 2.0, 0.5)
		base := 4 * time.Second
		if got < base || got > base+base/2 {
			t.Fatalf("Jittered delay %v outside [%v, %v]", got, base, base+base/2)
		}
	}
}

func TestExponentialStrategyJitterNeverExceedsMax(t *testing.T) {
	s := ExponentialStrategy{}

	for i := 0; i < 100; i++ {
		got := s.Calculate(20, time.Second, 5*time.Second, 2.0, 1.0)
		if got > 5*time.Second {
			t.Fatalf("Jittered delay %v exceeds max", got)
		}
	}
}

func TestDecorrelatedJitterStrategyFirstAttempt(t *testing.T) {
	s := DecorrelatedJitterStrategy{}
	if got := s.Calculate(0, time.Second, 30*time.Second, 2.0, 0); got != time.Second {
		t.Errorf("Expected initial delay on attempt 0, got %v", got)
	}
}

func TestDecorrelatedJitterStrategyBounds(t *testing.T) {
	s := DecorrelatedJitterStrategy{}

	for i := 0; i < 100; i++ {
		got := s.Calculate(5, 100*time.Millisecond, 10*time.Second, 2.0, 0)
		if got < 100*time.Millisecond || got > 10*time.Second {
			t.Fatalf("Delay %v outside [100ms, 10s]", got)
		}
	}
}

func TestClampJitter(t *testing.T) {
	if got := clampJitter(-0.5); got != 0 {
		t.Errorf("Expected 0 for negative jitter, got %f", got)
	}
	if got := clampJitter(1.5); got != 1 {
		t.Errorf("Expected 1 for jitter above 1, got %f", got)
	}
	if got := clampJitter(0.3); got != 0.3 {
		t.Errorf("Expected 0.3 unchanged, got %f", got)
	}
}
