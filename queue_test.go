package tangguh

import (
	"fmt"
	"testing"
	"time"
)

func newTestCall(id string, priority int) *pendingCall {
	return &pendingCall{
		id:         id,
		method:     "test",
		priority:   priority,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
		index:      -1,
	}
}

func TestDispatchQueuePriorityOrdering(t *testing.T) {
	q := newDispatchQueue()

	q.push(newTestCall("low", 1))
	q.push(newTestCall("high", 3))
	q.push(newTestCall("mid", 2))

	var order []string
	for q.len() > 0 {
		order = append(order, q.pop().id)
	}

	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("Expected pop %d to be %s, got %s", i, id, order[i])
		}
	}
}

func TestDispatchQueueFIFOWithinPriority(t *testing.T) {
	q := newDispatchQueue()

	for i := 0; i < 5; i++ {
		q.push(newTestCall(fmt.Sprintf("call-%d", i), 1))
	}

	for i := 0; i < 5; i++ {
		call := q.pop()
		want := fmt.Sprintf("call-%d", i)
		if call.id != want {
			t.Errorf("Expected %s, got %s", want, call.id)
		}
	}
}

func TestDispatchQueueRetryGoesToBackOfBand(t *testing.T) {
	q := newDispatchQueue()

	first := newTestCall("first", 1)
	second := newTestCall("second", 1)
	q.push(first)
	q.push(second)

	// A retried call re-enters at the back of its priority band.
	popped := q.pop()
	if popped != first {
		t.Fatalf("Expected first, got %s", popped.id)
	}
	q.push(first)

	if call := q.pop(); call != second {
		t.Errorf("Expected second to drain before the retried call, got %s", call.id)
	}
	if call := q.pop(); call != first {
		t.Errorf("Expected retried call last, got %s", call.id)
	}
}

func TestDispatchQueueHigherPriorityStillWins(t *testing.T) {
	q := newDispatchQueue()

	q.push(newTestCall("low", 0))
	q.push(newTestCall("high", 5))

	if call := q.pop(); call.id != "high" {
		t.Errorf("Expected high, got %s", call.id)
	}
}

func TestDispatchQueueRemove(t *testing.T) {
	q := newDispatchQueue()

	a := newTestCall("a", 1)
	b := newTestCall("b", 2)
	c := newTestCall("c", 3)
	q.push(a)
	q.push(b)
	q.push(c)

	if !q.remove(b) {
		t.Fatal("Expected remove to find queued call")
	}
	if q.remove(b) {
		t.Error("Expected second remove to report not queued")
	}
	if q.len() != 2 {
		t.Errorf("Expected 2 entries after remove, got %d", q.len())
	}

	if call := q.pop(); call != c {
		t.Errorf("Expected c, got %s", call.id)
	}
	if call := q.pop(); call != a {
		t.Errorf("Expected a, got %s", call.id)
	}
}

func TestDispatchQueuePopEmpty(t *testing.T) {
	q := newDispatchQueue()
	if call := q.pop(); call != nil {
		t.Errorf("Expected nil from empty queue, got %v", call)
	}
}

func TestDispatchQueueDrainAll(t *testing.T) {
	q := newDispatchQueue()
	q.push(newTestCall("a", 1))
	q.push(newTestCall("b", 2))

	calls := q.drainAll()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 drained calls, got %d", len(calls))
	}
	if q.len() != 0 {
		t.Errorf("Expected empty queue after drainAll, got %d", q.len())
	}
	if calls[0].id != "b" {
		t.Errorf("Expected priority order in drainAll, got %s first", calls[0].id)
	}
}

func TestPendingCallCompleteOnce(t *testing.T) {
	call := newTestCall("once", 1)

	if !call.complete([]byte(`"ok"`), nil) {
		t.Fatal("Expected first complete to report true")
	}
	if call.complete(nil, fmt.Errorf("late")) {
		t.Error("Expected second complete to report false")
	}
	if call.err != nil {
		t.Errorf("Expected result to stick, got err %v", call.err)
	}
	if !call.completed() {
		t.Error("Expected completed() to report true")
	}

	select {
	case <-call.done:
	default:
		t.Error("Expected done channel to be closed")
	}
}
