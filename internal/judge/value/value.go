// Package value models language-neutral test data: scalars, arrays and
// string-keyed objects, plus the single-line encoding every harness emits.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind enumerates the shapes a Value can take.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
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
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field is one key of an object. Objects keep insertion order for rendering;
// equality ignores it.
type Field struct {
	Key   string
	Value Value
}

// Value is an immutable semantic value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	i      int64
	f      float64
	s      string
	items  []Value
	fields []Field
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, items: append([]Value{}, items...)} }

// Object builds an object from fields. A repeated key keeps the last value.
func Object(fields ...Field) Value {
	out := make([]Field, 0, len(fields))
	index := make(map[string]int, len(fields))
	for _, f := range fields {
		if i, ok := index[f.Key]; ok {
			out[i].Value = f.Value
			continue
		}
		index[f.Key] = len(out)
		out = append(out, f)
	}
	return Value{kind: KindObject, fields: out}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) BoolValue() bool { return v.b }
func (v Value) IntValue() int64 { return v.i }
func (v Value) FloatValue() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}
func (v Value) StringValue() string { return v.s }
func (v Value) Items() []Value { return v.items }
func (v Value) Fields() []Field { return v.fields }
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	case KindString:
		return len(v.s)
	}
	return 0
}

// Get returns the value stored under key in an object.
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// IsNumber reports whether v is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// Equal is structural equality with exact numbers. Arrays compare in order,
// objects by key set. An int and a float are equal when numerically equal.
func Equal(a, b Value) bool {
	return EqualWithin(a, b, 0)
}

// EqualWithin is Equal with a tolerance applied when either side is a float.
// The tolerance is relative to the larger magnitude and never below tol itself.
func EqualWithin(a, b Value, tol float64) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.i == b.i
		}
		return floatsEqual(a.FloatValue(), b.FloatValue(), tol)
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !EqualWithin(a.items[i], b.items[i], tol) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for _, f := range a.fields {
			other, ok := b.Get(f.Key)
			if !ok || !EqualWithin(f.Value, other, tol) {
				return false
			}
		}
		return true
	}
	return false
}

func floatsEqual(x, y, tol float64) bool {
	if x == y {
		return true
	}
	if tol <= 0 || math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	diff := math.Abs(x - y)
	scale := math.Max(1, math.Max(math.Abs(x), math.Abs(y)))
	return diff <= tol*scale
}

// SortedKeys returns object keys in lexical order.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.fields))
	for _, f := range v.fields {
		keys = append(keys, f.Key)
	}
	sort.Strings(keys)
	return keys
}

// PlainString renders scalars without quoting and everything else in the
// shared encoding. Used for string fallbacks and diagnostics.
func (v Value) PlainString() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	}
	out, err := Encode(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return out
}

func (v Value) String() string { return v.PlainString() }

// FromAny converts decoded JSON/YAML data (maps, slices, numbers, strings,
// bools, nil) into a Value.
func FromAny(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for i, item := range x {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, iv)
		}
		return Value{kind: KindArray, items: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			fv, err := FromAny(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			fields = append(fields, Field{Key: k, Value: fv})
		}
		return Value{kind: KindObject, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", in)
	}
}
