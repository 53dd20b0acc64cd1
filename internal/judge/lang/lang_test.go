package lang

import (
	"context"
	"testing"

	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

func TestParseAliases(t *testing.T) {
	t.Parallel()
	cases := map[string]Language{"py": Python, "Node": JavaScript, "c++": Cpp, "golang": Go, " java ": Java}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := Parse("cobol"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestEveryLanguageHasTablesAndSpecs(t *testing.T) {
	t.Parallel()
	specs := DefaultSpecs()
	for _, l := range All() {
		if !l.Valid() {
			t.Fatalf("%s has no type table", l)
		}
		spec, ok := specs[l]
		if !ok || spec.RunCmdTpl == "" || spec.MainFile == "" {
			t.Fatalf("%s has an incomplete command spec", l)
		}
		if spec.CompileEnabled && spec.CompileCmdTpl == "" {
			t.Fatalf("%s enables compile without a command", l)
		}
	}
}

func TestTypeName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		lang Language
		typ  string
		want string
	}{
		{Python, "int[][]", "list[list[int]]"},
		{Python, "map<string,float>", "dict[str, float]"},
		{JavaScript, "string[]", "string[]"},
		{Java, "int[]", "int[]"},
		{Java, "map<string,int>", "Map<String, Integer>"},
		{Java, "map<string,int[]>", "Map<String, int[]>"},
		{Cpp, "map<string,string[]>", "unordered_map<string, vector<string>>"},
		{Go, "map<string,float[]>", "map[string][]float64"},
	}
	for _, tc := range cases {
		got, err := TypeName(tc.lang, value.MustParseType(tc.typ))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.lang, tc.typ, err)
		}
		if got != tc.want {
			t.Fatalf("%s %s: expected %q, got %q", tc.lang, tc.typ, tc.want, got)
		}
	}
	if _, err := TypeName(Language("ruby"), value.MustParseType("int")); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
}

func TestRegistryOverrides(t *testing.T) {
	t.Parallel()
	reg := NewRegistry([]Spec{
		{ID: Python, RunCmdTpl: "pypy3 {main}", TimeMultiplier: 1.2},
		{ID: Language("ruby"), RunCmdTpl: "ruby {main}"},
	})
	spec, err := reg.GetLanguageSpec(context.Background(), Python)
	if err != nil {
		t.Fatalf("get python: %v", err)
	}
	if spec.RunCmdTpl != "pypy3 {main}" || spec.TimeMultiplier != 1.2 || spec.MainFile != "main.py" {
		t.Fatalf("unexpected merged spec %+v", spec)
	}
	if _, err := reg.GetLanguageSpec(context.Background(), Language("ruby")); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected ruby to stay unsupported, got %v", err)
	}
}
