// Package types defines the core knowledge-graph data model: entities,
// relationships, and the dynamic value type used for their free-form fields.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind identifies the concrete shape held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value is a tagged-variant representing the heterogeneous content stored in
// Entity.Content and EntityRelationship.Properties. We use an explicit variant
// rather than Go's dynamic `any` so that encode/decode, equality, and
// stringification (used by search) are all defined in one place instead of
// scattered type-switches.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

func NullValue() Value           { return Value{kind: KindNull} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value     { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Int() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool)   { return v.f, v.kind == KindFloat }
func (v Value) String() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) List() ([]Value, bool)    { return v.list, v.kind == KindList }
func (v Value) Map() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Text renders the value as a string for substring search, regardless of kind.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindList:
		var buf bytes.Buffer
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(item.Text())
		}
		return buf.String()
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(k)
			buf.WriteByte(' ')
			buf.WriteString(v.m[k].Text())
		}
		return buf.String()
	default:
		return ""
	}
}

// Equal reports whether two values carry the same kind and content. Lists
// compare by order; maps compare by key set and per-key equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := other.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the Value as plain JSON (null/bool/number/string/array/object).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("types: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes plain JSON into the appropriate Value variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(x)
	case float64:
		if x == float64(int64(x)) {
			return IntValue(int64(x))
		}
		return FloatValue(x)
	case string:
		return StringValue(x)
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = fromAny(item)
		}
		return ListValue(items...)
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			m[k] = fromAny(item)
		}
		return MapValue(m)
	default:
		return NullValue()
	}
}

// ValueMap is a convenience alias for the free-form content/properties maps.
type ValueMap map[string]Value

// Keys returns the sorted key set, used by search scoring.
func (m ValueMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
