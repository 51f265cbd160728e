// Package workspace compiles CUE workspace definitions into store fixtures.
//
// A workspace declares collections with their rights and the entities that
// exist before a session starts:
//
//	collection: tasks: {
//		id:         1
//		can_create: true
//		can_edit:   true
//		can_delete: true
//	}
//
//	entity: milk: {
//		id:         10
//		collection: "tasks"
//		kind:       "todo"
//		revision:   3
//		payload: title: "buy milk"
//	}
//
// Omitted rights default to true, revision defaults to 1, and payload
// values must be strings, ints, bools, lists or structs. Floats are rejected
// so payloads stay canonically encodable.
package workspace
