package ir

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
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
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged-variant attribute value. Attribute trees
// are built from these rather than bare interface values so equality and
// diffing have one well-defined meaning.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

func Null() Value            { return Value{kind: KindNull} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Int(n int) Value        { return Value{kind: KindNumber, n: float64(n)} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func Map(m map[string]Value) Value {
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() bool            { return v.b }
func (v Value) AsNumber() float64       { return v.n }
func (v Value) AsString() string        { return v.s }
func (v Value) AsList() []Value         { return v.list }
func (v Value) AsMap() map[string]Value { return v.m }

// Equal reports deep structural equality. Values of different kinds are
// never equal; map key order is irrelevant, list order is not.
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
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, val := range v.m {
			other, ok := o.m[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Interface converts the value back to plain Go types, suitable for
// handing to codecs and provider SDKs.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// GoString renders a compact debug representation.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindNumber:
		return fmt.Sprintf("%g", v.n)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.GoString()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.m[k].GoString())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "unknown"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromAny converts plain Go values (as produced by JSON or YAML decoding
// or a config evaluator) into a Value. Unsupported types are an error.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(x), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			m[k] = v
		}
		return Map(m), nil
	case map[any]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return Null(), fmt.Errorf("unsupported map key type %T", k)
			}
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			m[ks] = v
		}
		return Map(m), nil
	case Value:
		return x, nil
	default:
		return Null(), fmt.Errorf("unsupported attribute type %T", raw)
	}
}

// MustFromAny is FromAny for statically known literals; it panics on
// unsupported types.
func MustFromAny(raw any) Value {
	v, err := FromAny(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Attrs is the attribute map of a resource or record.
type Attrs map[string]Value

// AttrsFromAny converts a plain decoded map into Attrs.
func AttrsFromAny(raw map[string]any) (Attrs, error) {
	attrs := make(Attrs, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// Interface converts the attributes back to plain Go maps.
func (a Attrs) Interface() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.Interface()
	}
	return out
}

// Equal reports whether both attribute maps hold equal values for the
// same keys.
func (a Attrs) Equal(o Attrs) bool {
	if len(a) != len(o) {
		return false
	}
	for k, v := range a {
		other, ok := o[k]
		if !ok || !v.Equal(other) {
			return false
		}
	}
	return true
}

// Copy returns a shallow copy; values themselves are immutable.
func (a Attrs) Copy() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SortedKeys returns the attribute names in lexical order.
func (a Attrs) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
