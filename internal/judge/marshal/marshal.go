// Package marshal renders semantic test inputs as language literals.
package marshal

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

// Marshal returns one literal expression per descriptor parameter, in order.
func Marshal(input map[string]value.Value, desc model.FunctionDescriptor, l lang.Language) ([]string, error) {
	if _, err := lang.Syntax(l); err != nil {
		return nil, err
	}
	literals := make([]string, 0, len(desc.Params))
	for _, p := range desc.Params {
		t, err := value.ParseType(p.Type)
		if err != nil {
			return nil, marshalError(p.Name, err)
		}
		v, ok := input[p.Name]
		if !ok {
			return nil, marshalError(p.Name, fmt.Errorf("missing input value"))
		}
		lit, err := Literal(v, t, l)
		if err != nil {
			return nil, marshalError(p.Name, err)
		}
		literals = append(literals, lit)
	}
	return literals, nil
}

// Literal renders v, which must conform to t, in the syntax of l.
func Literal(v value.Value, t value.Type, l lang.Language) (string, error) {
	if err := value.Conforms(v, t); err != nil {
		return "", err
	}
	r := renderer{lang: l}
	return r.render(v, t)
}

func marshalError(param string, err error) error {
	return appErr.Wrapf(err, appErr.MarshalFailed, "parameter %s: %v", param, err).
		WithDetail("parameter", param)
}

type renderer struct {
	lang lang.Language
}

func (r renderer) render(v value.Value, t value.Type) (string, error) {
	switch t.Kind {
	case value.TypeInt:
		return r.integer(v.IntValue())
	case value.TypeFloat:
		return value.FormatFloat(v.FloatValue())
	case value.TypeBool:
		return r.boolean(v.BoolValue()), nil
	case value.TypeString:
		return r.str(v.StringValue()), nil
	case value.TypeList:
		return r.list(v, t)
	case value.TypeMap:
		return r.object(v, t)
	}
	return "", fmt.Errorf("unsupported type %s", t)
}

func (r renderer) integer(i int64) (string, error) {
	switch r.lang {
	case lang.Java, lang.Cpp:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return "", fmt.Errorf("integer %d does not fit a 32-bit int", i)
		}
	case lang.JavaScript:
		if i > 1<<53 || i < -(1<<53) {
			return "", fmt.Errorf("integer %d is not exactly representable as a number", i)
		}
	}
	return strconv.FormatInt(i, 10), nil
}

func (r renderer) boolean(b bool) string {
	if r.lang == lang.Python {
		if b {
			return "True"
		}
		return "False"
	}
	return strconv.FormatBool(b)
}

func (r renderer) str(s string) string {
	switch r.lang {
	case lang.Go:
		return strconv.Quote(s)
	case lang.Java, lang.Cpp:
		return cQuote(s)
	default:
		// JSON string literals are valid Python and JavaScript literals.
		return value.QuoteString(s)
	}
}

// cQuote escapes for Java and C++. Control characters use 3-digit octal
// escapes: Java resolves \u escapes before lexing and C++ \x is greedy.
func cQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03o`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (r renderer) list(v value.Value, t value.Type) (string, error) {
	items := make([]string, 0, v.Len())
	for _, item := range v.Items() {
		lit, err := r.render(item, *t.Elem)
		if err != nil {
			return "", err
		}
		items = append(items, lit)
	}
	joined := strings.Join(items, ", ")
	switch r.lang {
	case lang.Java:
		name, err := lang.TypeName(r.lang, t)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("new %s{%s}", name, joined), nil
	case lang.Cpp, lang.Go:
		name, err := lang.TypeName(r.lang, t)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s{%s}", name, joined), nil
	default:
		return "[" + joined + "]", nil
	}
}

func (r renderer) object(v value.Value, t value.Type) (string, error) {
	type entry struct{ key, val string }
	entries := make([]entry, 0, v.Len())
	for _, f := range v.Fields() {
		lit, err := r.render(f.Value, *t.Elem)
		if err != nil {
			return "", err
		}
		entries = append(entries, entry{key: r.str(f.Key), val: lit})
	}
	name, err := lang.TypeName(r.lang, t)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(entries))
	switch r.lang {
	case lang.Java:
		impl := "Hash" + name
		if len(entries) == 0 {
			return fmt.Sprintf("new %s()", impl), nil
		}
		for _, e := range entries {
			parts = append(parts, fmt.Sprintf("put(%s, %s);", e.key, e.val))
		}
		return fmt.Sprintf("new %s() {{ %s }}", impl, strings.Join(parts, " ")), nil
	case lang.Cpp:
		for _, e := range entries {
			parts = append(parts, fmt.Sprintf("{%s, %s}", e.key, e.val))
		}
		return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ", ")), nil
	case lang.Go:
		for _, e := range entries {
			parts = append(parts, fmt.Sprintf("%s: %s", e.key, e.val))
		}
		return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ", ")), nil
	default:
		for _, e := range entries {
			parts = append(parts, fmt.Sprintf("%s: %s", e.key, e.val))
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	}
}
