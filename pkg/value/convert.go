package value

import (
	"encoding/json"
	"fmt"
)

// FromAny converts native Go data into a Value.
//
// Supported inputs:
//   - nil -> Null
//   - bool -> Bool
//   - all int, uint and float kinds, json.Number -> Number
//   - string -> String
//   - []any, []string, []Value -> List
//   - map[string]any, map[string]string, map[string]Value -> Map
//   - Value (returned unchanged)
//
// Anything else fails with an error naming the Go type.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid json number %q: %w", val.String(), err)
		}
		return Number(f), nil
	case []Value:
		return List(val...), nil
	case []string:
		items := make([]Value, len(val))
		for i, s := range val {
			items[i] = String(s)
		}
		return Value{kind: KindList, list: items}, nil
	case []any:
		items := make([]Value, len(val))
		for i, item := range val {
			conv, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("list index %d: %w", i, err)
			}
			items[i] = conv
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]Value:
		return Map(val), nil
	case map[string]string:
		fields := make(map[string]Value, len(val))
		for k, s := range val {
			fields[k] = String(s)
		}
		return Value{kind: KindMap, m: fields}, nil
	case map[string]any:
		fields := make(map[string]Value, len(val))
		for k, item := range val {
			conv, err := FromAny(item)
			if err != nil {
				return Null(), fmt.Errorf("map key %q: %w", k, err)
			}
			fields[k] = conv
		}
		return Value{kind: KindMap, m: fields}, nil
	}
	if f, ok := toFloat64(v); ok {
		return Number(f), nil
	}
	return Null(), fmt.Errorf("unsupported property type %T", v)
}

// MustFromAny is FromAny that panics on error. Intended for literals in tests
// and examples.
func MustFromAny(v any) Value {
	out, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return out
}

// Any converts v back to native Go data: nil, bool, float64, string,
// []any or map[string]any.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Any()
		}
		return out
	}
	return nil
}

// toFloat64 converts the numeric Go kinds to float64. Strings are not
// accepted: "5" stays a String.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// MarshalJSON encodes v as plain JSON. Map keys are emitted in sorted order.
// NaN and infinite numbers cannot be represented and fail.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
