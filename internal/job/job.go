// Package job models one asynchronous round trip against the entity store.
//
// A Job resolves exactly once with an entity snapshot or an error. Callers
// subscribe with Then; callbacks run on the goroutine that resolves the job,
// or immediately on the subscriber's goroutine if the job already resolved.
// The coordinator relies on this to enqueue completions before Resolve
// returns, which keeps completion ordering deterministic under test.
package job

import (
	"errors"
	"sync"

	"github.com/roach88/itemsync/internal/entity"
)

// ErrAlreadyResolved is returned by Resolve on the second and later calls.
var ErrAlreadyResolved = errors.New("job already resolved")

// Kind names the store operation a job performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindModify Kind = "modify"
	KindDelete Kind = "delete"
)

// Job is a single store request awaiting its response.
type Job struct {
	mu        sync.Mutex
	kind      Kind
	resolved  bool
	entity    entity.Entity
	err       error
	callbacks []func(entity.Entity, error)
	done      chan struct{}
}

// New creates an unresolved job of the given kind.
func New(kind Kind) *Job {
	return &Job{kind: kind, done: make(chan struct{})}
}

// Failed returns a job already resolved with err.
// Stores use it for requests they can reject without doing any work.
func Failed(kind Kind, err error) *Job {
	j := New(kind)
	_ = j.Resolve(entity.Entity{}, err)
	return j
}

// Kind returns the store operation this job performs.
func (j *Job) Kind() Kind {
	return j.kind
}

// Resolve settles the job and runs subscribed callbacks in subscription order.
// Only the first call has an effect.
func (j *Job) Resolve(e entity.Entity, err error) error {
	j.mu.Lock()
	if j.resolved {
		j.mu.Unlock()
		return ErrAlreadyResolved
	}
	j.resolved = true
	j.entity = e
	j.err = err
	callbacks := j.callbacks
	j.callbacks = nil
	close(j.done)
	j.mu.Unlock()

	for _, fn := range callbacks {
		fn(e, err)
	}
	return nil
}

// Then registers fn to run once the job resolves.
func (j *Job) Then(fn func(entity.Entity, error)) {
	j.mu.Lock()
	if !j.resolved {
		j.callbacks = append(j.callbacks, fn)
		j.mu.Unlock()
		return
	}
	e, err := j.entity, j.err
	j.mu.Unlock()
	fn(e, err)
}

// Done is closed when the job resolves.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the resolved snapshot and error.
// Before resolution it returns the zero entity and a nil error; check Done first.
func (j *Job) Result() (entity.Entity, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entity, j.err
}

// Resolved reports whether Resolve has been called.
func (j *Job) Resolved() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resolved
}
