package changeq

import (
	"sync"

	"github.com/roach88/itemsync/internal/entity"
)

// eventType distinguishes loop events.
type eventType int

const (
	// eventRequest carries a caller's mutation request.
	eventRequest eventType = iota + 1
	// eventNotified carries the outcome of a notification attempt.
	eventNotified
	// eventJobDone carries a resolved store job.
	eventJobDone
	// eventEndAtomic ends an atomic operation.
	eventEndAtomic
	// eventQuery runs a read-only function on the loop (IsChangeInProgress, Flush).
	eventQuery
)

func (t eventType) String() string {
	switch t {
	case eventRequest:
		return "request"
	case eventNotified:
		return "notified"
	case eventJobDone:
		return "job_done"
	case eventEndAtomic:
		return "end_atomic"
	case eventQuery:
		return "query"
	default:
		return "unknown"
	}
}

// event is the single envelope type processed by the loop.
type event struct {
	typ eventType

	record  *ChangeRecord // eventRequest; ownership passes to the loop
	ref     recordRef     // eventNotified, eventJobDone
	outcome entity.Outcome
	entity  entity.Entity
	err     error
	op      AtomicOpID
	query   func()
}

// eventQueue is a thread-safe unbounded FIFO.
//
// Job callbacks and notification goroutines enqueue from arbitrary goroutines
// while the Run loop dequeues. The signal channel (buffer 1) coalesces wakeups
// and lets the loop wait on it together with ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	// Clear the slot so the backing array does not pin records and errors.
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns the wakeup channel. It is closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes the loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
