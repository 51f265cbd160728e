// Package store provides the SQLite-backed entity store used by the change
// coordinator.
//
// The store holds:
//   - Collections: containers with per-collection create/edit/delete rights
//   - Entities: revisioned snapshots with a canonical JSON payload
//   - Jobs: a journal of every store request and its result
//
// # Store Semantics
//
// Create, Modify and Delete return a *job.Job immediately and do the work
// through a Dispatcher. AsyncDispatcher runs each job on its own goroutine;
// ManualDispatcher holds jobs until the caller releases them, which lets
// tests and scenarios complete jobs in any order.
//
// Modify is optimistic: the write succeeds only if the stored revision still
// equals the request's revision, and bumps it by one. A mismatch yields a
// *ConflictError matching ErrRevisionConflict. Delete does not check the
// revision.
//
// # Logical Time
//
// Journal rows are ordered by seq from a monotonic Clock that resumes from
// the highest stored seq on Open. All journal queries ORDER BY seq ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
