package changeq

import "github.com/roach88/itemsync/internal/entity"

// RevisionTable maps entity ids to the highest revision observed from a
// completed store response. Used to repair writes that carry an outdated
// revision from a slow-to-refresh cache.
type RevisionTable struct {
	revs map[entity.ID]entity.Revision
}

// NewRevisionTable creates an empty table.
func NewRevisionTable() *RevisionTable {
	return &RevisionTable{revs: make(map[entity.ID]entity.Revision)}
}

// Observe records rev for id. The tracked value never decreases; it returns
// false when rev is older than what is already known.
func (t *RevisionTable) Observe(id entity.ID, rev entity.Revision) bool {
	if cur, ok := t.revs[id]; ok && cur > rev {
		return false
	}
	t.revs[id] = rev
	return true
}

// Get returns the tracked revision for id.
func (t *RevisionTable) Get(id entity.ID) (entity.Revision, bool) {
	rev, ok := t.revs[id]
	return rev, ok
}

// Forget drops id once the entity is gone from the store.
func (t *RevisionTable) Forget(id entity.ID) {
	delete(t.revs, id)
}

// Repair raises e's revision to the tracked one if the tracked one is newer.
// Returns true if e was modified.
func (t *RevisionTable) Repair(e *entity.Entity) bool {
	rev, ok := t.revs[e.ID]
	if !ok || rev <= e.Revision {
		return false
	}
	e.Revision = rev
	return true
}

// Len returns the number of tracked ids.
func (t *RevisionTable) Len() int {
	return len(t.revs)
}

// DeletionSet holds ids whose delete was accepted but has not completed.
type DeletionSet struct {
	ids map[entity.ID]struct{}
}

// NewDeletionSet creates an empty set.
func NewDeletionSet() *DeletionSet {
	return &DeletionSet{ids: make(map[entity.ID]struct{})}
}

// Mark adds id to the set.
func (d *DeletionSet) Mark(id entity.ID) {
	d.ids[id] = struct{}{}
}

// Clear removes id. Called from the delete completion, success or not, so an
// id can never get stuck.
func (d *DeletionSet) Clear(id entity.ID) {
	delete(d.ids, id)
}

// Contains reports whether id is being deleted.
func (d *DeletionSet) Contains(id entity.ID) bool {
	_, ok := d.ids[id]
	return ok
}

// Len returns the number of ids being deleted.
func (d *DeletionSet) Len() int {
	return len(d.ids)
}
