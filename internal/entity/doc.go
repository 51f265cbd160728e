// Package entity defines the data model shared by the change coordinator and
// its collaborators.
//
// An Entity is one calendar or mail item held by the remote store. The store
// owns its ID and Revision; the coordinator only carries them. Payloads are
// compared semantically through RFC 8785 canonical JSON so that two snapshots
// that differ only in key order or Unicode normalization count as the same edit.
//
// # Payload Values
//
// Payload values are restricted to the types canonical JSON can represent
// without ambiguity:
//   - string (NFC normalized at serialization)
//   - int, int64
//   - bool
//   - []any of the above
//   - map[string]any / Payload of the above
//
// Floats and nil are rejected, matching the store's deterministic encoding.
package entity
