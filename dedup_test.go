package tangguh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDedupTrackerOwnership(t *testing.T) {
	dt := newDedupTracker()

	_, owner := dt.getOrCreate("key")
	if !owner {
		t.Fatal("Expected first caller to own the call")
	}
	_, owner = dt.getOrCreate("key")
	if owner {
		t.Error("Expected second caller to follow, not own")
	}
	_, owner = dt.getOrCreate("other")
	if !owner {
		t.Error("Expected distinct key to create a new owner")
	}
}

func TestDedupTrackerFollowersShareResult(t *testing.T) {
	dt := newDedupTracker()

	_, owner := dt.getOrCreate("key")
	if !owner {
		t.Fatal("Expected ownership")
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		entry, owner := dt.getOrCreate("key")
		if owner {
			t.Fatal("Expected follower entry")
		}
		wg.Add(1)
		go func(i int, entry *dedupEntry) {
			defer wg.Done()
			results[i], errs[i] = entry.wait(context.Background())
		}(i, entry)
	}

	dt.complete("key", json.RawMessage(`"shared"`), nil)
	wg.Wait()

	for i := 0; i < 5; i++ {
		if errs[i] != nil {
			t.Errorf("follower %d: unexpected error %v", i, errs[i])
		}
		if string(results[i]) != `"shared"` {
			t.Errorf("follower %d: expected shared result, got %s", i, results[i])
		}
	}
}

func TestDedupTrackerPropagatesError(t *testing.T) {
	dt := newDedupTracker()

	dt.getOrCreate("key")
	entry, _ := dt.getOrCreate("key")

	failure := errors.New("remote unavailable")
	dt.complete("key", nil, failure)

	_, err := entry.wait(context.Background())
	if !errors.Is(err, failure) {
		t.Errorf("Expected owner's error, got %v", err)
	}
}

func TestDedupTrackerWaitCancellation(t *testing.T) {
	dt := newDedupTracker()

	dt.getOrCreate("key")
	entry, _ := dt.getOrCreate("key")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := entry.wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDedupTrackerKeyReclaimed(t *testing.T) {
	dt := newDedupTracker()

	dt.getOrCreate("key")
	dt.complete("key", json.RawMessage(`1`), nil)

	// The entry lingers briefly, then the key becomes available again.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, owner := dt.getOrCreate("key"); owner {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected key to be reclaimed after completion")
}

func TestDedupTrackerCompleteUnknownKey(t *testing.T) {
	dt := newDedupTracker()
	// Must not panic.
	dt.complete("missing", nil, nil)
}
