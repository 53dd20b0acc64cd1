// Package lang is the closed set of supported runtimes. Adding a language
// means adding its type table, literal rules and command spec here.
package lang

import (
	"strings"

	appErr "codearena/pkg/errors"
)

// Language identifies a supported runtime.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Java       Language = "java"
	Cpp        Language = "cpp"
	Go         Language = "go"
)

var aliases = map[string]Language{
	"python":     Python,
	"python3":    Python,
	"py":         Python,
	"javascript": JavaScript,
	"js":         JavaScript,
	"node":       JavaScript,
	"java":       Java,
	"cpp":        Cpp,
	"c++":        Cpp,
	"cxx":        Cpp,
	"go":         Go,
	"golang":     Go,
}

// All returns every supported language in a stable order.
func All() []Language {
	return []Language{Python, JavaScript, Java, Cpp, Go}
}

// Parse resolves a language id or alias.
func Parse(id string) (Language, error) {
	l, ok := aliases[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return "", appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id)
	}
	return l, nil
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	_, ok := typeTables[l]
	return ok
}

func (l Language) String() string { return string(l) }
