package store

import "sync/atomic"

// Clock is the monotonic logical clock that stamps journal rows.
//
// Every job gets a strictly increasing seq, so the journal has one
// deterministic order regardless of wall time or goroutine scheduling.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock that continues after start.
// Open uses it to resume from the last journaled seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
