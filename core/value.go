package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Kind enumerates the shapes a Value can take.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a schema-less JSON-like value used for the open metadata maps
// (eligibility, application info, additional info). The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Get returns the member stored under key when v is an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	member, ok := v.obj[key]
	return member, ok
}

// Equal reports deep structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	case KindObject:
		return maps.EqualFunc(v.obj, o.obj, Value.Equal)
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindObject:
		obj := make(map[string]Value, len(v.obj))
		for k, item := range v.obj {
			obj[k] = item.Clone()
		}
		return Value{kind: KindObject, obj: obj}
	}
	return v
}

// Canonical returns a stable textual encoding. Object keys are sorted,
// so structurally equal values always produce the same string.
func (v Value) Canonical() string {
	data, err := json.Marshal(v)
	if err != nil {
		return v.kind.String()
	}
	return string(data)
}

// Interface converts the value back into plain Go types.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(n), nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = parsed
		}
		return Array(arr...), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = parsed
		}
		return Object(obj), nil
	case map[any]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[fmt.Sprint(k)] = parsed
		}
		return Object(obj), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// MapFromAny converts a decoded object into an open metadata map.
func MapFromAny(raw map[string]any) (map[string]Value, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]Value, len(raw))
	for k, item := range raw {
		parsed, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = parsed
	}
	return out, nil
}
