// Package harness composes a runnable program from a submission and the
// marshalled inputs of every test case.
//
// The composed program takes the case index as its first argument, calls the
// user function with that case's literals and prints the result in the shared
// encoding as one line on stdout. Anything the user prints goes to stderr.
// A thrown error prints one diagnostic line on stderr and exits with code 1;
// a bad case index exits with code 2.
package harness

import (
	"fmt"
	"strings"

	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

// Exit codes of a composed program besides 0.
const (
	ExitThrown   = 1
	ExitBadIndex = 2
)

// File is one source file of a composed program.
type File struct {
	Name    string
	Content string
}

// Program is a composed submission ready to be written to a scratch directory.
type Program struct {
	Language  lang.Language
	Files     []File
	CaseCount int
}

// File returns the content of the named file.
func (p *Program) File(name string) (string, bool) {
	for _, f := range p.Files {
		if f.Name == name {
			return f.Content, true
		}
	}
	return "", false
}

// Compose builds a program using the built-in file layout of language l.
func Compose(source string, l lang.Language, desc model.FunctionDescriptor, cases [][]string) (*Program, error) {
	spec, ok := lang.DefaultSpecs()[l]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", l)
	}
	return ComposeSpec(source, spec, desc, cases)
}

// ComposeSpec builds a program laid out according to spec.
func ComposeSpec(source string, spec lang.Spec, desc model.FunctionDescriptor, cases [][]string) (*Program, error) {
	if _, err := lang.Syntax(spec.ID); err != nil {
		return nil, err
	}
	in, err := newInput(source, spec, desc, cases)
	if err != nil {
		return nil, err
	}
	var files []File
	switch spec.ID {
	case lang.Python:
		files = python(in)
	case lang.JavaScript:
		files = javascript(in)
	case lang.Java:
		files = java(in)
	case lang.Cpp:
		files = cpp(in)
	case lang.Go:
		files = golang(in)
	default:
		return nil, appErr.Newf(appErr.LanguageNotSupported, "no harness for language %q", spec.ID)
	}
	return &Program{Language: spec.ID, Files: files, CaseCount: len(cases)}, nil
}

type typedParam struct {
	name     string
	typeName string
	semantic value.Type
}

type input struct {
	source  string
	spec    lang.Spec
	fn      string
	params  []typedParam
	ret     value.Type
	retName string
	cases   [][]string
}

func newInput(source string, spec lang.Spec, desc model.FunctionDescriptor, cases [][]string) (*input, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	in := &input{source: source, spec: spec, fn: desc.Name, cases: cases}
	for _, p := range desc.Params {
		t, err := value.ParseType(p.Type)
		if err != nil {
			return nil, appErr.ValidationError("params", err.Error())
		}
		name, err := lang.TypeName(spec.ID, t)
		if err != nil {
			return nil, err
		}
		in.params = append(in.params, typedParam{name: p.Name, typeName: name, semantic: t})
	}
	ret, err := value.ParseType(desc.ReturnType)
	if err != nil {
		return nil, appErr.ValidationError("returnType", err.Error())
	}
	in.ret = ret
	if in.retName, err = lang.TypeName(spec.ID, ret); err != nil {
		return nil, err
	}
	for i, c := range cases {
		if len(c) != len(desc.Params) {
			return nil, appErr.Newf(appErr.MarshalFailed,
				"case %d has %d literals, function %s takes %d", i, len(c), desc.Name, len(desc.Params))
		}
	}
	return in, nil
}

// terminated returns source as submitted, plus a newline when its last line
// is unterminated, so appended code starts on a fresh line.
func terminated(source string) string {
	if source == "" || strings.HasSuffix(source, "\n") {
		return source
	}
	return source + "\n"
}

// fill substitutes {{KEY}} markers in a driver skeleton.
func fill(skeleton string, pairs ...string) string {
	args := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		args = append(args, "{{"+pairs[i]+"}}", pairs[i+1])
	}
	return strings.NewReplacer(args...).Replace(skeleton)
}

func indent(lines []string, prefix string) string {
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(prefix)
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// typedLocals declares one local per argument so that by-reference
// parameters bind to lvalues.
func typedLocals(in *input, caseIdx int, format string) ([]string, []string) {
	decls := make([]string, 0, len(in.params))
	names := make([]string, 0, len(in.params))
	for i, p := range in.params {
		name := fmt.Sprintf("arg%d", i)
		decls = append(decls, fmt.Sprintf(format, p.typeName, name, in.cases[caseIdx][i]))
		names = append(names, name)
	}
	return decls, names
}
