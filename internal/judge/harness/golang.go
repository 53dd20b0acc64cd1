package harness

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"
)

const goDriver = `package main

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
)

const _harnessCaseCount = {{CASE_COUNT}}

func main() {
	os.Exit(_harnessMain())
}

func _harnessMain() int {
	index := -1
	if len(os.Args) > 1 {
		if n, err := strconv.Atoi(os.Args[1]); err == nil && n >= 0 && n < _harnessCaseCount {
			index = n
		}
	}
	if index < 0 {
		fmt.Fprintln(os.Stderr, "harness: invalid case index")
		return {{EXIT_BAD_INDEX}}
	}
	stdout := os.Stdout
	os.Stdout = os.Stderr
	result, err := _harnessCall(index)
	var b strings.Builder
	if err == nil {
		err = _harnessEncode(&b, reflect.ValueOf(result))
	}
	os.Stdout = stdout
	if err != nil {
		fmt.Fprintln(os.Stderr, strings.ReplaceAll(err.Error(), "\n", " "))
		return {{EXIT_THROWN}}
	}
	b.WriteByte('\n')
	if _, err := stdout.WriteString(b.String()); err != nil {
		return {{EXIT_THROWN}}
	}
	return 0
}

func _harnessCall(index int) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return _harnessRun(index), nil
}

func _harnessRun(index int) any {
	switch index {
{{CASES}}	}
	panic(fmt.Sprintf("no case %d", index))
}

func _harnessEncode(b *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		b.WriteString("null")
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			b.WriteString("null")
			return nil
		}
		return _harnessEncode(b, v.Elem())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot encode non-finite number %v", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, v.Type().Bits())
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		b.WriteString(s)
	case reflect.String:
		_harnessQuote(b, v.String())
	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := _harnessEncode(b, v.Index(i)); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("cannot encode map with %s keys", v.Type().Key())
		}
		b.WriteByte('{')
		iter := v.MapRange()
		first := true
		for iter.Next() {
			if !first {
				b.WriteByte(',')
			}
			first = false
			_harnessQuote(b, iter.Key().String())
			b.WriteByte(':')
			if err := _harnessEncode(b, iter.Value()); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("cannot encode value of type %s", v.Type())
	}
	return nil
}

func _harnessQuote(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			if r < 0x20 {
				fmt.Fprintf(b, "\\u%04x", r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
`

func golang(in *input) []File {
	var cases strings.Builder
	for i := range in.cases {
		decls, names := typedLocals(in, i, "var %[2]s %[1]s = %[3]s")
		body := append(decls, fmt.Sprintf("return %s(%s)", in.fn, strings.Join(names, ", ")))
		fmt.Fprintf(&cases, "\tcase %d:\n%s", i, indent(body, "\t\t"))
	}
	driver := fill(goDriver,
		"CASE_COUNT", fmt.Sprint(len(in.cases)),
		"CASES", cases.String(),
		"EXIT_BAD_INDEX", fmt.Sprint(ExitBadIndex),
		"EXIT_THROWN", fmt.Sprint(ExitThrown),
	)
	return []File{
		{Name: in.spec.SourceFile, Content: goSource(in.source)},
		{Name: in.spec.MainFile, Content: driver},
	}
}

// goSource prepends a package clause when the submission has none.
func goSource(src string) string {
	if _, err := parser.ParseFile(token.NewFileSet(), "", src, parser.PackageClauseOnly); err == nil {
		return src
	}
	return "package main\n\n" + src
}
