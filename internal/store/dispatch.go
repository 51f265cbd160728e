package store

import (
	"fmt"
	"slices"
	"sync"
)

// Dispatcher decides when a store job does its work.
type Dispatcher interface {
	// Dispatch schedules run for the job stamped seq.
	Dispatch(seq int64, run func())
}

// AsyncDispatcher runs every job on its own goroutine.
type AsyncDispatcher struct{}

// Dispatch implements Dispatcher.
func (AsyncDispatcher) Dispatch(_ int64, run func()) {
	go run()
}

// ManualDispatcher holds jobs until released.
//
// Release runs the job on the caller's goroutine, so the job's completion
// callbacks have fired by the time Release returns.
//
// Thread-safety: safe for concurrent use.
type ManualDispatcher struct {
	mu   sync.Mutex
	held map[int64]func()
}

// NewManualDispatcher creates an empty dispatcher.
func NewManualDispatcher() *ManualDispatcher {
	return &ManualDispatcher{held: make(map[int64]func())}
}

// Dispatch implements Dispatcher.
func (d *ManualDispatcher) Dispatch(seq int64, run func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held[seq] = run
}

// Pending returns the held job seqs in ascending order.
func (d *ManualDispatcher) Pending() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	seqs := make([]int64, 0, len(d.held))
	for seq := range d.held {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}

// Release runs the held job seq.
func (d *ManualDispatcher) Release(seq int64) error {
	d.mu.Lock()
	run, ok := d.held[seq]
	delete(d.held, seq)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("release job %d: %w", seq, ErrNotFound)
	}
	run()
	return nil
}

// ReleaseAll runs every held job in seq order, including jobs dispatched
// while releasing.
func (d *ManualDispatcher) ReleaseAll() int {
	released := 0
	for {
		pending := d.Pending()
		if len(pending) == 0 {
			return released
		}
		for _, seq := range pending {
			if d.Release(seq) == nil {
				released++
			}
		}
	}
}
