// Package value implements the typed setting value and its storage codec.
package value

import (
	"sort"
	"strconv"
)

// Kind enumerates the shapes a setting value can take.
type Kind int

const (
	// KindNull is the zero value, an absent payload.
	KindNull Kind = iota
	// KindBool is a boolean scalar.
	KindBool
	// KindInt is a 64-bit integer scalar.
	KindInt
	// KindFloat is a 64-bit floating point scalar.
	KindFloat
	// KindString is a string scalar.
	KindString
	// KindList is an ordered list of values.
	KindList
	// KindObject is a string-keyed record of values.
	KindObject
)

// String returns the kind name used in logs and validation errors.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged union over the supported setting payload shapes.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps an ordered list of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Object wraps a string-keyed record of values.
func Object(fields map[string]Value) Value {
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload if the value is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsInt returns the integer payload if the value is an int.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsFloat returns the float payload. An int converts losslessly.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string payload if the value is a string.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsList returns the list payload if the value is a list.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// AsObject returns the record payload if the value is an object.
func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Field returns the named field of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]

	return f, ok
}

// FieldNames returns the sorted field names of an object value.
func (v Value) FieldNames() []string {
	if v.kind != KindObject {
		return nil
	}

	names := make([]string, 0, len(v.obj))
	for name := range v.obj {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Equal reports deep structural equality.
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
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for name, f := range v.obj {
			of, ok := other.obj[name]
			if !ok || !f.Equal(of) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// IsScalar reports whether the value is a scalar shape.
func (v Value) IsScalar() bool {
	switch v.kind {
	case KindBool, KindInt, KindFloat, KindString:
		return true
	default:
		return false
	}
}
