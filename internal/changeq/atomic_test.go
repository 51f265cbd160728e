package changeq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/entity"
)

func TestCounter_NeverReuses(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, AtomicOpID(1), c.Next())
	assert.Equal(t, AtomicOpID(2), c.Next())
	assert.Equal(t, AtomicOpID(2), c.Current())

	resumed := NewCounterAt(40)
	assert.Equal(t, AtomicOpID(41), resumed.Next())
}

func TestAtomicTracker_FirstOutcomeWins(t *testing.T) {
	tr := NewAtomicTracker(nil)
	op := tr.Begin()

	_, ok := tr.LookupOutcome(op)
	assert.False(t, ok)

	assert.Equal(t, entity.NotNeeded, tr.RecordOutcome(op, entity.NotNeeded))
	_, ok = tr.LookupOutcome(op)
	assert.False(t, ok, "not-needed carries no decision")

	assert.Equal(t, entity.CanceledByUser, tr.RecordOutcome(op, entity.CanceledByUser))
	assert.Equal(t, entity.CanceledByUser, tr.RecordOutcome(op, entity.Succeeded))

	got, ok := tr.LookupOutcome(op)
	require.True(t, ok)
	assert.Equal(t, entity.CanceledByUser, got)
}

func TestAtomicTracker_ZeroIDIsNotTracked(t *testing.T) {
	tr := NewAtomicTracker(nil)
	assert.Equal(t, entity.Succeeded, tr.RecordOutcome(0, entity.Succeeded))
	_, ok := tr.LookupOutcome(0)
	assert.False(t, ok)
	assert.True(t, tr.acquire(0, recordRef{}))
	assert.True(t, tr.acquire(0, recordRef{}))
	assert.Equal(t, 0, tr.Len())
}

func TestAtomicTracker_EndForgetsOutcome(t *testing.T) {
	tr := NewAtomicTracker(nil)
	op := tr.Begin()
	tr.RecordOutcome(op, entity.Succeeded)

	tr.End(op)
	_, ok := tr.LookupOutcome(op)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())

	tr.End(op)
	tr.End(12345)
}

func TestAtomicTracker_SerializesAttempts(t *testing.T) {
	tr := NewAtomicTracker(nil)
	op := tr.Begin()

	first := recordRef{requestID: "a"}
	second := recordRef{requestID: "b"}
	third := recordRef{requestID: "c"}

	assert.True(t, tr.acquire(op, first))
	assert.False(t, tr.acquire(op, second))
	assert.False(t, tr.acquire(op, third))

	next, ok := tr.handOff(op)
	require.True(t, ok)
	assert.Equal(t, "b", next.requestID)

	next, ok = tr.handOff(op)
	require.True(t, ok)
	assert.Equal(t, "c", next.requestID)

	_, ok = tr.handOff(op)
	assert.False(t, ok)

	assert.True(t, tr.acquire(op, recordRef{requestID: "d"}))
}

func TestAtomicTracker_EndKeepsEntryWhileAttemptsDrain(t *testing.T) {
	tr := NewAtomicTracker(nil)
	op := tr.Begin()

	require.True(t, tr.acquire(op, recordRef{requestID: "a"}))
	tr.End(op)
	assert.Equal(t, 1, tr.Len())

	// Outcomes arriving after End are not remembered.
	tr.RecordOutcome(op, entity.Succeeded)
	_, ok := tr.LookupOutcome(op)
	assert.False(t, ok)

	_, ok = tr.handOff(op)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}
