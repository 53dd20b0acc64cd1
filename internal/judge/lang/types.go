package lang

import (
	"fmt"

	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

// TypeSyntax maps semantic types to source syntax for one language.
// List and Map are fmt patterns receiving the element type.
type TypeSyntax struct {
	Scalars map[value.TypeKind]string
	// Boxed replaces Scalars inside generic containers (Java collections).
	Boxed map[value.TypeKind]string
	List  string
	Map   string
}

var typeTables = map[Language]TypeSyntax{
	Python: {
		Scalars: map[value.TypeKind]string{
			value.TypeInt: "int", value.TypeFloat: "float", value.TypeBool: "bool", value.TypeString: "str",
		},
		List: "list[%s]",
		Map:  "dict[str, %s]",
	},
	JavaScript: {
		Scalars: map[value.TypeKind]string{
			value.TypeInt: "number", value.TypeFloat: "number", value.TypeBool: "boolean", value.TypeString: "string",
		},
		List: "%s[]",
		Map:  "Object<string, %s>",
	},
	Java: {
		Scalars: map[value.TypeKind]string{
			value.TypeInt: "int", value.TypeFloat: "double", value.TypeBool: "boolean", value.TypeString: "String",
		},
		Boxed: map[value.TypeKind]string{
			value.TypeInt: "Integer", value.TypeFloat: "Double", value.TypeBool: "Boolean", value.TypeString: "String",
		},
		List: "%s[]",
		Map:  "Map<String, %s>",
	},
	Cpp: {
		Scalars: map[value.TypeKind]string{
			value.TypeInt: "int", value.TypeFloat: "double", value.TypeBool: "bool", value.TypeString: "string",
		},
		List: "vector<%s>",
		Map:  "unordered_map<string, %s>",
	},
	Go: {
		Scalars: map[value.TypeKind]string{
			value.TypeInt: "int", value.TypeFloat: "float64", value.TypeBool: "bool", value.TypeString: "string",
		},
		List: "[]%s",
		Map:  "map[string]%s",
	},
}

// Syntax returns the type table of l.
func Syntax(l Language) (TypeSyntax, error) {
	table, ok := typeTables[l]
	if !ok {
		return TypeSyntax{}, appErr.Newf(appErr.LanguageNotSupported, "no type mapping for language %q", l)
	}
	return table, nil
}

// TypeName renders t in the syntax of l.
func TypeName(l Language, t value.Type) (string, error) {
	table, err := Syntax(l)
	if err != nil {
		return "", err
	}
	return table.render(t, false)
}

func (s TypeSyntax) render(t value.Type, boxed bool) (string, error) {
	switch t.Kind {
	case value.TypeList:
		// Java arrays hold primitives, so only maps force boxing.
		elem, err := s.render(*t.Elem, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(s.List, elem), nil
	case value.TypeMap:
		elem, err := s.render(*t.Elem, s.Boxed != nil)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(s.Map, elem), nil
	}
	if boxed {
		if name, ok := s.Boxed[t.Kind]; ok {
			return name, nil
		}
	}
	name, ok := s.Scalars[t.Kind]
	if !ok {
		return "", fmt.Errorf("no syntax for type %s", t)
	}
	return name, nil
}
