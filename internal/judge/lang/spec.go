package lang

import (
	"context"

	appErr "codearena/pkg/errors"
)

// Spec describes how a language is laid out on disk, compiled and run.
// Command templates expand {src} (all program files), {main}, {bin} and {dir}
// before being split with shell quoting rules.
type Spec struct {
	ID               Language `yaml:"id"`
	SourceFile       string   `yaml:"sourceFile"`
	MainFile         string   `yaml:"mainFile"`
	BinaryFile       string   `yaml:"binaryFile"`
	CompileEnabled   bool     `yaml:"compileEnabled"`
	CompileCmdTpl    string   `yaml:"compileCmd"`
	RunCmdTpl        string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	TimeMultiplier   float64  `yaml:"timeMultiplier"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier"`
}

// SplitSource reports whether the submitted source lives in its own file
// next to the generated entry point.
func (s Spec) SplitSource() bool {
	return s.SourceFile != "" && s.SourceFile != s.MainFile
}

var baseEnv = []string{
	"PATH=/usr/local/bin:/usr/bin:/bin",
	"LANG=C.UTF-8",
	"HOME={dir}",
}

// DefaultSpecs returns the built-in command table.
func DefaultSpecs() map[Language]Spec {
	return map[Language]Spec{
		Python: {
			ID:             Python,
			SourceFile:     "main.py",
			MainFile:       "main.py",
			RunCmdTpl:      "python3 -I -B {main}",
			Env:            append(append([]string{}, baseEnv...), "PYTHONIOENCODING=utf-8"),
			TimeMultiplier: 2,
		},
		JavaScript: {
			ID:             JavaScript,
			SourceFile:     "main.js",
			MainFile:       "main.js",
			RunCmdTpl:      "node --stack-size=65500 {main}",
			Env:            append([]string{}, baseEnv...),
			TimeMultiplier: 1.5,
		},
		Java: {
			ID:               Java,
			SourceFile:       "Solution.java",
			MainFile:         "Main.java",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 -nowarn -d {dir} {src}",
			RunCmdTpl:        "java -Xss64m -XX:+UseSerialGC -cp {dir} Main",
			Env:              append([]string{}, baseEnv...),
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
		},
		Cpp: {
			ID:             Cpp,
			SourceFile:     "main.cpp",
			MainFile:       "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -O2 -std=c++17 -pipe -o {bin} {main}",
			RunCmdTpl:      "{bin}",
			Env:            append([]string{}, baseEnv...),
		},
		Go: {
			ID:             Go,
			SourceFile:     "solution.go",
			MainFile:       "main.go",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "go build -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			Env: append(append([]string{}, baseEnv...),
				"GOCACHE={dir}/.gocache",
				"GOPATH={dir}/.gopath",
				"CGO_ENABLED=0",
			),
		},
	}
}

// Registry resolves language specs: built-ins overlaid with configured overrides.
type Registry struct {
	specs map[Language]Spec
}

// NewRegistry creates a registry. Overrides for unknown languages are ignored
// because every language also needs a type table and literal rules.
func NewRegistry(overrides []Spec) *Registry {
	specs := DefaultSpecs()
	for _, o := range overrides {
		base, ok := specs[o.ID]
		if !ok {
			continue
		}
		specs[o.ID] = merge(base, o)
	}
	return &Registry{specs: specs}
}

func merge(base, o Spec) Spec {
	if o.SourceFile != "" {
		base.SourceFile = o.SourceFile
	}
	if o.MainFile != "" {
		base.MainFile = o.MainFile
	}
	if o.BinaryFile != "" {
		base.BinaryFile = o.BinaryFile
	}
	if o.CompileCmdTpl != "" {
		base.CompileCmdTpl = o.CompileCmdTpl
		base.CompileEnabled = true
	}
	if o.RunCmdTpl != "" {
		base.RunCmdTpl = o.RunCmdTpl
	}
	if len(o.Env) > 0 {
		base.Env = o.Env
	}
	if o.TimeMultiplier > 0 {
		base.TimeMultiplier = o.TimeMultiplier
	}
	if o.MemoryMultiplier > 0 {
		base.MemoryMultiplier = o.MemoryMultiplier
	}
	return base
}

// GetLanguageSpec returns the spec for id.
func (r *Registry) GetLanguageSpec(ctx context.Context, id Language) (Spec, error) {
	if id == "" {
		return Spec{}, appErr.ValidationError("language", "required")
	}
	spec, ok := r.specs[id]
	if !ok {
		return Spec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id)
	}
	return spec, nil
}
