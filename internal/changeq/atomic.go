package changeq

import (
	"sync/atomic"

	"github.com/roach88/itemsync/internal/entity"
)

// AtomicOpID correlates several entity changes started as one user action.
// Zero means "not part of an atomic operation".
type AtomicOpID uint64

// Counter is the monotonic generator for atomic operation ids.
//
// Ids are never reused, even after the operation ends.
// Safe for concurrent use; BeginAtomicOperation does not go through the loop.
type Counter struct {
	seq atomic.Uint64
}

// NewCounter creates a counter whose first id is 1.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter that continues after start.
func NewCounterAt(start uint64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next id.
func (c *Counter) Next() AtomicOpID {
	return AtomicOpID(c.seq.Add(1))
}

// Current returns the last id handed out.
func (c *Counter) Current() AtomicOpID {
	return AtomicOpID(c.seq.Load())
}

// atomicOp is the tracker entry for one operation.
type atomicOp struct {
	outcome    entity.Outcome
	attempting bool
	waiters    []recordRef
	ended      bool
}

// AtomicTracker remembers the notification outcome per atomic operation and
// serializes notification attempts within one operation, so every later
// change in the group sees the decision the first one produced.
//
// Not safe for concurrent use; owned by the coordinator loop.
type AtomicTracker struct {
	counter *Counter
	ops     map[AtomicOpID]*atomicOp
}

// NewAtomicTracker creates a tracker drawing ids from counter.
func NewAtomicTracker(counter *Counter) *AtomicTracker {
	if counter == nil {
		counter = NewCounter()
	}
	return &AtomicTracker{counter: counter, ops: make(map[AtomicOpID]*atomicOp)}
}

// Begin allocates a fresh id. The entry itself is created lazily.
func (t *AtomicTracker) Begin() AtomicOpID {
	return t.counter.Next()
}

// End forgets the recorded outcome for id. Safe to call for unknown ids.
// An entry with attempts still outstanding is kept until they drain.
func (t *AtomicTracker) End(id AtomicOpID) {
	op, ok := t.ops[id]
	if !ok {
		return
	}
	op.outcome = entity.OutcomeNone
	op.ended = true
	t.releaseIfIdle(id, op)
}

// RecordOutcome stores o for id unless an outcome is already recorded.
// NotNeeded carries no user decision and is never recorded.
// Returns the outcome in effect for the group afterwards.
func (t *AtomicTracker) RecordOutcome(id AtomicOpID, o entity.Outcome) entity.Outcome {
	if id == 0 {
		return o
	}
	op := t.entry(id)
	if op.ended {
		return o
	}
	if op.outcome == entity.OutcomeNone && o != entity.NotNeeded && o != entity.OutcomeNone {
		op.outcome = o
	}
	return op.outcome
}

// LookupOutcome returns the recorded outcome for id.
func (t *AtomicTracker) LookupOutcome(id AtomicOpID) (entity.Outcome, bool) {
	op, ok := t.ops[id]
	if !ok || op.outcome == entity.OutcomeNone {
		return entity.OutcomeNone, false
	}
	return op.outcome, true
}

// acquire claims the attempt turn for id. If another attempt is outstanding
// the ref is queued and acquire returns false.
func (t *AtomicTracker) acquire(id AtomicOpID, ref recordRef) bool {
	if id == 0 {
		return true
	}
	op := t.entry(id)
	if op.attempting {
		op.waiters = append(op.waiters, ref)
		return false
	}
	op.attempting = true
	return true
}

// handOff ends the current attempt for id and returns the next queued ref,
// which now holds the turn.
func (t *AtomicTracker) handOff(id AtomicOpID) (recordRef, bool) {
	op, ok := t.ops[id]
	if !ok || id == 0 {
		return recordRef{}, false
	}
	if len(op.waiters) > 0 {
		next := op.waiters[0]
		op.waiters = op.waiters[1:]
		return next, true
	}
	op.attempting = false
	t.releaseIfIdle(id, op)
	return recordRef{}, false
}

func (t *AtomicTracker) entry(id AtomicOpID) *atomicOp {
	op, ok := t.ops[id]
	if !ok {
		op = &atomicOp{}
		t.ops[id] = op
	}
	return op
}

func (t *AtomicTracker) releaseIfIdle(id AtomicOpID, op *atomicOp) {
	if op.ended && !op.attempting && len(op.waiters) == 0 {
		delete(t.ops, id)
	}
}

// Len returns the number of live entries.
func (t *AtomicTracker) Len() int {
	return len(t.ops)
}
