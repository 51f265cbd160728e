package changeq

import (
	"github.com/roach88/itemsync/internal/entity"
	"github.com/roach88/itemsync/internal/job"
)

// Request is a caller's mutation request.
type Request struct {
	Action    entity.Action
	Previous  entity.Entity
	Requested entity.Entity
	AtomicOp  AtomicOpID
	UI        UIContext
}

// ChangeRecord is one accepted request. It is owned by exactly one place at a
// time: a slot's current, pending or deleting field, or the adds table.
// Promotion moves the record; nothing else keeps a reference to it.
type ChangeRecord struct {
	RequestID string
	ID        entity.ID
	Action    entity.Action
	Previous  entity.Entity
	Requested entity.Entity
	UI        UIContext
	AtomicOp  AtomicOpID

	// SuppressNotification is set when the user canceled the notification.
	SuppressNotification bool

	stage   recordStage
	kind    job.Kind
	verdict chan error // non-nil while a caller waits for acceptance
}

type recordStage int

const (
	stageQueued      recordStage = iota
	stageWaitingTurn             // another attempt in the same atomic operation is outstanding
	stageNotifying
	stageRunning
)

func (r *ChangeRecord) ref() recordRef {
	return recordRef{kind: r.kind, id: r.ID, requestID: r.RequestID}
}

// answer delivers the acceptance verdict to a waiting caller, once.
func (r *ChangeRecord) answer(err error) {
	if r.verdict == nil {
		return
	}
	r.verdict <- err
	r.verdict = nil
}

// recordRef names a record without holding a pointer to it.
// Events and waiter lists carry refs; the loop resolves them on use.
type recordRef struct {
	kind      job.Kind
	id        entity.ID
	requestID string
}

// slot is the per-entity queue state.
type slot struct {
	current  *ChangeRecord // modification in flight
	pending  *ChangeRecord // most recent not-yet-started modification
	deleting *ChangeRecord // delete in flight

	// gone is set when the delete completed while current was still running.
	gone bool
}

func (s *slot) empty() bool {
	return s.current == nil && s.pending == nil && s.deleting == nil
}

func (s *slot) busy() bool {
	return !s.empty()
}

// slotTable is the process-wide QueueSlot map. Entries are created lazily
// and removed as soon as they empty.
type slotTable struct {
	slots map[entity.ID]*slot
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[entity.ID]*slot)}
}

func (t *slotTable) get(id entity.ID) *slot {
	return t.slots[id]
}

func (t *slotTable) getOrCreate(id entity.ID) *slot {
	s, ok := t.slots[id]
	if !ok {
		s = &slot{}
		t.slots[id] = s
	}
	return s
}

// release removes the slot for id if nothing references it anymore.
func (t *slotTable) release(id entity.ID) {
	if s, ok := t.slots[id]; ok && s.empty() {
		delete(t.slots, id)
	}
}

func (t *slotTable) len() int {
	return len(t.slots)
}
