package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const FieldEntityID = "entity_id"

// Entity is a JSON object keyed within its topic by entity_id.
type Entity map[string]any

func (e Entity) ID() string {
	if e == nil {
		return ""
	}
	id, _ := e[FieldEntityID].(string)
	return id
}

func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, inner := range x {
			out[k] = cloneValue(inner)
		}
		return out
	case Entity:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, inner := range x {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Matches reports whether every prop equals the entity's field. A slice
// prop value matches when the field equals any of its elements.
func (e Entity) Matches(props map[string]any) bool {
	for name, want := range props {
		got, ok := e[name]
		if !ok {
			return false
		}
		got = normalizeJSON(got)
		if alts, isList := normalizeJSON(want).([]any); isList {
			found := false
			for _, alt := range alts {
				if reflect.DeepEqual(got, alt) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, normalizeJSON(want)) {
			return false
		}
	}
	return true
}

// normalizeJSON maps a Go value onto the shapes encoding/json decodes into,
// so 10 and 10.0 compare equal.
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// EntityOf converts a typed record into its entity form.
func EntityOf(v any) (Entity, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode entity: %v", ErrValidation, err)
	}
	var out Entity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: entity is not an object: %v", ErrValidation, err)
	}
	return out, nil
}

// DecodeEntity converts an entity into a typed record.
func DecodeEntity[T any](e Entity) (T, error) {
	var out T
	raw, err := json.Marshal(e)
	if err != nil {
		return out, fmt.Errorf("%w: encode entity: %v", ErrIntegrity, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode entity %s: %v", ErrIntegrity, e.ID(), err)
	}
	return out, nil
}
