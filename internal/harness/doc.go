// Package harness runs YAML scenarios against a real coordinator.
//
// Each scenario seeds a fresh SQLite store from a CUE workspace, starts a
// changeq.Coordinator wired to that store, a policy notifier and a trace
// recorder, executes its steps, and evaluates assertions over the trace and
// the store tables.
//
// # Scenario Format
//
//	name: delete_during_edit
//	description: "A delete overtakes an edit that is still running"
//	workspace: ../workspace
//	notify:
//	  policy: send
//	steps:
//	  - op: change
//	    entity: 10
//	    payload: { title: "oat milk" }
//	    expect: { case: accepted }
//	  - op: delete
//	    entity: 10
//	  - op: release
//	    job: 2
//	  - op: release
//	    job: 1
//	assertions:
//	  - type: trace_contains
//	    event: entity_gone
//	    args: { entity: 10, detail: "reason=deleted-while-in-flight" }
//	  - type: final_state
//	    table: entities
//	    where: { id: 10 }
//	    absent: true
//
// # Steps
//
//   - add, change, delete, delete_many: requests; the verdict is traced and
//     checked against expect.case ("accepted" or a reject code)
//   - begin, end: open and close a named atomic operation
//   - release, release_all: complete held store jobs by journal seq
//   - forget: make the client cache forget an entity
//   - fail_sends: make the next notification sends fail
//
// # Assertion Types
//
//   - trace_contains: an event matching a type or "type:entity" key has the given fields
//   - trace_order: events appear in the specified order
//   - trace_count: an event appears exactly N times
//   - final_state: a row in a store table (entities, jobs, collections) has the given values
//
// # Deterministic Testing
//
// Store jobs are held by a store.ManualDispatcher until a release step,
// request ids come from changeq.SequenceGenerator, and the coordinator is
// flushed after every step. Identical scenarios therefore produce identical
// traces, which are compared against golden files with goldie.
package harness
