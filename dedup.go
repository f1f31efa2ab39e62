package tangguh

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// dedupEntry represents an in-flight call shared between callers.
type dedupEntry struct {
	result  json.RawMessage
	err     error
	done    chan struct{}
	mu      sync.Mutex
	waiters int
}

// dedupTracker coalesces concurrent identical calls onto a single round
// trip: the first caller owns the transmission, later callers wait for its
// outcome. Keys match the cache keys, so "identical" means same method and
// params.
type dedupTracker struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

func newDedupTracker() *dedupTracker {
	return &dedupTracker{
		entries: make(map[string]*dedupEntry),
	}
}

// getOrCreate returns an existing entry (owner=false) or creates a new one
// (owner=true).
func (dt *dedupTracker) getOrCreate(key string) (*dedupEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &dedupEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	dt.entries[key] = entry
	return entry, true
}

// complete finalizes an entry and releases waiters. The entry lingers
// briefly so racing followers still observe the outcome before the key is
// reclaimed.
func (dt *dedupTracker) complete(key string, result json.RawMessage, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	dt.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.result = result
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, func() {
		dt.mu.Lock()
		delete(dt.entries, key)
		dt.mu.Unlock()
	})
}

// wait blocks until the owning call completes or the context cancels.
func (entry *dedupEntry) wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		result := entry.result
		err := entry.err
		entry.mu.Unlock()
		return result, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
