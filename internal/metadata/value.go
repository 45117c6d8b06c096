// Package metadata models per-document metadata as a closed set of value
// shapes and flattens it into a representation every index store accepts.
package metadata

import (
	"encoding/json"
	"fmt"
	"math"
)

// Value is one of String, Number, Bool, List or Map.
type Value interface {
	isValue()
}

type (
	String string
	Number float64
	Bool   bool
	List   []Value
	Map    map[string]Value
)

func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (List) isValue()   {}
func (Map) isValue()    {}

// FromJSON decodes a JSON object into a Map. Null members are dropped.
func FromJSON(data []byte) (Map, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("metadata is not an object")
	}
	v, _ := FromAny(raw)
	return v.(Map), nil
}

// FromAny converts the output of encoding/json (or equivalent plain Go values)
// into a Value. It reports false for nil and for types it cannot represent.
func FromAny(v any) (Value, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case float64:
		return Number(t), true
	case float32:
		return Number(t), true
	case int:
		return Number(t), true
	case int64:
		return Number(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String()), true
		}
		return Number(f), true
	case []any:
		list := make(List, 0, len(t))
		for _, item := range t {
			if iv, ok := FromAny(item); ok {
				list = append(list, iv)
			}
		}
		return list, true
	case map[string]any:
		m := make(Map, len(t))
		for k, item := range t {
			if iv, ok := FromAny(item); ok {
				m[k] = iv
			}
		}
		return m, true
	case Value:
		return t, true
	default:
		return nil, false
	}
}

// plain turns a Value back into encoding/json friendly Go values.
func plain(v Value) any {
	switch t := v.(type) {
	case String:
		return string(t)
	case Number:
		return numberValue(t)
	case Bool:
		return bool(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	default:
		return nil
	}
}

// numberValue keeps integral numbers as int64 so stores do not receive 1.0
// for what the producer sent as 1.
func numberValue(n Number) any {
	f := float64(n)
	if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
		return int64(f)
	}
	return f
}
