// Package template renders per-language starter stubs from a function descriptor.
package template

import (
	"fmt"
	"strings"

	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

const placeholder = "write your solution here"

type param struct {
	name     string
	typeName string
	semantic value.Type
}

type signature struct {
	name       string
	params     []param
	returnType string
	returns    value.Type
}

// Generate returns a stub for desc in language l. The stub compiles as-is:
// languages that reject a missing return get a zero-value return.
func Generate(desc model.FunctionDescriptor, l lang.Language) (string, error) {
	if _, err := lang.Syntax(l); err != nil {
		return "", err
	}
	if err := desc.Validate(); err != nil {
		return "", err
	}
	sig, err := resolve(desc, l)
	if err != nil {
		return "", err
	}
	switch l {
	case lang.Python:
		return python(sig), nil
	case lang.JavaScript:
		return javascript(sig), nil
	case lang.Java:
		return java(sig), nil
	case lang.Cpp:
		return cpp(sig), nil
	case lang.Go:
		return golang(sig), nil
	}
	return "", appErr.Newf(appErr.LanguageNotSupported, "no template for language %q", l)
}

func resolve(desc model.FunctionDescriptor, l lang.Language) (signature, error) {
	sig := signature{name: desc.Name}
	for _, p := range desc.Params {
		t, err := value.ParseType(p.Type)
		if err != nil {
			return signature{}, appErr.ValidationError("params", err.Error())
		}
		name, err := lang.TypeName(l, t)
		if err != nil {
			return signature{}, err
		}
		sig.params = append(sig.params, param{name: p.Name, typeName: name, semantic: t})
	}
	ret, err := value.ParseType(desc.ReturnType)
	if err != nil {
		return signature{}, appErr.ValidationError("returnType", err.Error())
	}
	retName, err := lang.TypeName(l, ret)
	if err != nil {
		return signature{}, err
	}
	sig.returnType = retName
	sig.returns = ret
	return sig, nil
}

func python(sig signature) string {
	parts := make([]string, 0, len(sig.params))
	for _, p := range sig.params {
		parts = append(parts, fmt.Sprintf("%s: %s", p.name, p.typeName))
	}
	return fmt.Sprintf("def %s(%s) -> %s:\n    # %s\n    pass\n",
		sig.name, strings.Join(parts, ", "), sig.returnType, placeholder)
}

func javascript(sig signature) string {
	var b strings.Builder
	b.WriteString("/**\n")
	names := make([]string, 0, len(sig.params))
	for _, p := range sig.params {
		fmt.Fprintf(&b, " * @param {%s} %s\n", p.typeName, p.name)
		names = append(names, p.name)
	}
	fmt.Fprintf(&b, " * @return {%s}\n */\n", sig.returnType)
	fmt.Fprintf(&b, "function %s(%s) {\n  // %s\n}\n", sig.name, strings.Join(names, ", "), placeholder)
	return b.String()
}

func java(sig signature) string {
	parts := make([]string, 0, len(sig.params))
	for _, p := range sig.params {
		parts = append(parts, fmt.Sprintf("%s %s", p.typeName, p.name))
	}
	return fmt.Sprintf("import java.util.*;\n\nclass Solution {\n    public %s %s(%s) {\n        // %s\n        return %s;\n    }\n}\n",
		sig.returnType, sig.name, strings.Join(parts, ", "), placeholder, javaZero(sig.returns))
}

func javaZero(t value.Type) string {
	switch t.Kind {
	case value.TypeInt:
		return "0"
	case value.TypeFloat:
		return "0.0"
	case value.TypeBool:
		return "false"
	default:
		return "null"
	}
}

func cpp(sig signature) string {
	parts := make([]string, 0, len(sig.params))
	for _, p := range sig.params {
		parts = append(parts, fmt.Sprintf("%s %s", cppParamType(p), p.name))
	}
	return fmt.Sprintf("%s %s(%s) {\n    // %s\n    return {};\n}\n",
		sig.returnType, sig.name, strings.Join(parts, ", "), placeholder)
}

// Containers and strings are taken by reference like most judge platforms do.
func cppParamType(p param) string {
	switch p.semantic.Kind {
	case value.TypeList, value.TypeMap, value.TypeString:
		return p.typeName + "&"
	}
	return p.typeName
}

func golang(sig signature) string {
	parts := make([]string, 0, len(sig.params))
	for _, p := range sig.params {
		parts = append(parts, fmt.Sprintf("%s %s", p.name, p.typeName))
	}
	return fmt.Sprintf("package main\n\nfunc %s(%s) %s {\n\t// %s\n\treturn %s\n}\n",
		sig.name, strings.Join(parts, ", "), sig.returnType, placeholder, goZero(sig.returns))
}

func goZero(t value.Type) string {
	switch t.Kind {
	case value.TypeInt, value.TypeFloat:
		return "0"
	case value.TypeBool:
		return "false"
	case value.TypeString:
		return `""`
	default:
		return "nil"
	}
}
