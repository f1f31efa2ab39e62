package tangguh

import (
	"container/heap"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// pendingCall is one queued or in-flight request. Its completion handle
// (complete) fires at most once; late transport responses after a timeout
// or cancellation are discarded, never re-surfaced.
type pendingCall struct {
	id         string
	method     string
	params     json.RawMessage
	priority   int
	enqueuedAt time.Time
	retryCount int
	maxRetries int
	timeout    time.Duration
	useCache   bool
	cacheKey   string
	cacheTTL   time.Duration

	seq   uint64 // FIFO tiebreak within a priority band, renewed on re-enqueue
	index int    // heap index, -1 while not queued

	once     sync.Once
	done     chan struct{}
	result   json.RawMessage
	err      error
	canceled atomic.Bool
	timer    *time.Timer

	// attemptCh is non-nil while the drain loop waits on the current
	// transmission attempt; closing it resumes the drain.
	attemptCh chan struct{}
}

// complete resolves or rejects the call. It reports whether this invocation
// was the first; only the first updates metrics and cache.
func (p *pendingCall) complete(result json.RawMessage, err error) bool {
	first := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		if p.timer != nil {
			p.timer.Stop()
		}
		close(p.done)
		first = true
	})
	return first
}

func (p *pendingCall) completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// dispatchQueue holds calls awaiting transmission ordered by descending
// priority, FIFO within equal priority. It is not locked internally: the
// owning Client serializes access.
type dispatchQueue struct {
	heap    callHeap
	nextSeq uint64
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{}
}

// push inserts preserving the priority/FIFO invariant. Re-enqueued retries
// receive a fresh sequence number, placing them at the back of their band
// so they cannot starve waiting peers.
func (q *dispatchQueue) push(call *pendingCall) {
	q.nextSeq++
	call.seq = q.nextSeq
	heap.Push(&q.heap, call)
}

// pop removes and returns the highest-priority call, or nil when empty.
func (q *dispatchQueue) pop() *pendingCall {
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*pendingCall)
}

// remove deletes a call that is still queued, reporting whether it was.
func (q *dispatchQueue) remove(call *pendingCall) bool {
	if call.index < 0 || call.index >= len(q.heap) || q.heap[call.index] != call {
		return false
	}
	heap.Remove(&q.heap, call.index)
	return true
}

func (q *dispatchQueue) len() int {
	return len(q.heap)
}

// drainAll empties the queue, returning every held call (used at Close).
func (q *dispatchQueue) drainAll() []*pendingCall {
	calls := make([]*pendingCall, 0, len(q.heap))
	for q.len() > 0 {
		calls = append(calls, q.pop())
	}
	return calls
}

type callHeap []*pendingCall

func (h callHeap) Len() int { return len(h) }

func (h callHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h callHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *callHeap) Push(x interface{}) {
	call := x.(*pendingCall)
	call.index = len(*h)
	*h = append(*h, call)
}

func (h *callHeap) Pop() interface{} {
	old := *h
	n := len(old)
	call := old[n-1]
	old[n-1] = nil
	call.index = -1
	*h = old[:n-1]
	return call
}
