package entity

import (
	"reflect"
	"slices"
	"unicode/utf16"
)

// Payload is the entity body as a generic field map.
// Use SortedKeys() for deterministic iteration.
type Payload map[string]any

// Clone deep-copies nested maps and lists.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.Clone()
	case map[string]any:
		return Payload(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs above the BMP.
func (p Payload) SortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// SamePayload reports whether two payloads are semantically identical.
//
// Payloads are compared through their canonical encoding, so key order and
// Unicode normalization differences are ignored and int/int64 compare equal.
// Payloads that cannot be canonicalized fall back to reflect.DeepEqual.
func SamePayload(a, b Payload) bool {
	ca, errA := MarshalCanonical(a)
	cb, errB := MarshalCanonical(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ca) == string(cb)
}

// SameSnapshot reports whether requested is a no-op relative to previous:
// same placement, same sharing flags and a semantically identical payload.
// Revisions are ignored; they are store bookkeeping, not user edits.
func SameSnapshot(previous, requested Entity) bool {
	return previous.Collection == requested.Collection &&
		previous.Kind == requested.Kind &&
		previous.Shared == requested.Shared &&
		previous.Organizer == requested.Organizer &&
		SamePayload(previous.Payload, requested.Payload)
}
