package value

import (
	"fmt"
	"strings"
)

// TypeKind is the top-level shape of a semantic type.
type TypeKind int

const (
	TypeInt TypeKind = iota
	TypeFloat
	TypeBool
	TypeString
	TypeList
	TypeMap
)

// Type is a parsed semantic type string such as "int[][]" or
// "map<string,float[]>". Elem is set for lists and maps.
type Type struct {
	Kind TypeKind
	Elem *Type
}

// ParseType parses a semantic type string.
func ParseType(s string) (Type, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if raw == "" {
		return Type{}, fmt.Errorf("empty type")
	}
	if strings.HasSuffix(raw, "[]") {
		elem, err := ParseType(strings.TrimSuffix(raw, "[]"))
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: TypeList, Elem: &elem}, nil
	}
	if strings.HasPrefix(raw, "map<") && strings.HasSuffix(raw, ">") {
		inner := raw[len("map<") : len(raw)-1]
		key, rest, ok := strings.Cut(inner, ",")
		if !ok || key != "string" {
			return Type{}, fmt.Errorf("unsupported map type %q: keys must be string", s)
		}
		elem, err := ParseType(rest)
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: TypeMap, Elem: &elem}, nil
	}
	switch raw {
	case "int", "integer", "long":
		return Type{Kind: TypeInt}, nil
	case "float", "double", "number":
		return Type{Kind: TypeFloat}, nil
	case "bool", "boolean":
		return Type{Kind: TypeBool}, nil
	case "string", "str":
		return Type{Kind: TypeString}, nil
	}
	return Type{}, fmt.Errorf("unknown type %q", s)
}

// MustParseType panics on malformed input. Intended for tests and constants.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the canonical form of the type.
func (t Type) String() string {
	switch t.Kind {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeList:
		return t.Elem.String() + "[]"
	case TypeMap:
		return "map<string," + t.Elem.String() + ">"
	}
	return "?"
}

// Conforms checks that v has the shape declared by t. Ints are accepted where
// floats are declared. The returned error names the offending path.
func Conforms(v Value, t Type) error {
	return conforms(v, t, "$")
}

func conforms(v Value, t Type, path string) error {
	mismatch := func() error {
		return fmt.Errorf("%s: expected %s, got %s", path, t, v.Kind())
	}
	switch t.Kind {
	case TypeInt:
		if v.Kind() != KindInt {
			return mismatch()
		}
	case TypeFloat:
		if !v.IsNumber() {
			return mismatch()
		}
	case TypeBool:
		if v.Kind() != KindBool {
			return mismatch()
		}
	case TypeString:
		if v.Kind() != KindString {
			return mismatch()
		}
	case TypeList:
		if v.Kind() != KindArray {
			return mismatch()
		}
		for i, item := range v.Items() {
			if err := conforms(item, *t.Elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case TypeMap:
		if v.Kind() != KindObject {
			return mismatch()
		}
		for _, f := range v.Fields() {
			if err := conforms(f.Value, *t.Elem, path+"."+f.Key); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown type", path)
	}
	return nil
}
