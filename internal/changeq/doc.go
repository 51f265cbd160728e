// Package changeq coordinates create/modify/delete requests for store entities.
//
// The coordinator guarantees that at most one modification of a given entity
// is in flight at a time. Newer edits supersede queued older ones, multi-entity
// operations share one notification decision through atomic operation ids, and
// revision drift from a slow client-side cache is repaired before each write.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All coordinator state (queue slots, revision table, deletion set, atomic
// operation tracker) is owned by the goroutine running Coordinator.Run. Public
// operations are safe from any goroutine: they enqueue an event and wait for
// the loop's verdict. Store jobs and notification attempts run elsewhere and
// resume the loop by enqueueing a completion event, so the tables need no locks.
//
// Per-Entity Slot States:
//
//	Idle                 no current, no pending
//	InFlight             current change outstanding (notification step or store job)
//	InFlightWithPending  as above, plus one queued change (last writer wins)
//	Canceling            delete requested; pending discarded, delete job started
//
// A slot is removed once its last outstanding job completes and nothing is queued.
//
// Ordering:
// Completions for different entities arrive in any order. For one entity,
// modification jobs start strictly in request order (current, then promoted
// pending) and never overlap. A delete is the one job allowed to start while
// an edit is still outstanding; the edit is reported but has no further effect.
//
// Rejections are synchronous and returned as *RejectError. Store job failures
// are asynchronous and reported through the Listener; they are never retried.
package changeq
