package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/itemsync/internal/entity"
)

// marshalPayload converts a payload to canonical JSON TEXT plus its digest.
func marshalPayload(p entity.Payload) (string, string, error) {
	if p == nil {
		p = entity.Payload{}
	}
	data, err := entity.MarshalCanonical(p)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	digest, err := entity.PayloadDigest(p)
	if err != nil {
		return "", "", err
	}
	return string(data), digest, nil
}

// unmarshalPayload parses canonical JSON TEXT back into a payload.
// Numbers are decoded with UseNumber and narrowed to int64 so large
// integers survive the round trip.
func unmarshalPayload(data string) (entity.Payload, error) {
	if data == "" || data == "{}" {
		return entity.Payload{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	v, err := fromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v.(entity.Payload), nil
}

func fromJSON(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(entity.Payload, len(val))
		for k, elem := range val {
			conv, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			conv, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return n, nil
	case string, bool:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value %T", v)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
