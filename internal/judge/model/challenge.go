package model

import (
	"fmt"

	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

// Parameter is one typed argument of the function under test.
type Parameter struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// FunctionDescriptor is the language-neutral signature a challenge publishes.
type FunctionDescriptor struct {
	Name       string      `json:"name" yaml:"name"`
	Params     []Parameter `json:"params" yaml:"params"`
	ReturnType string      `json:"returnType" yaml:"returnType"`
}

// Validate checks names and that every type string parses.
func (d FunctionDescriptor) Validate() error {
	if !isIdentifier(d.Name) {
		return appErr.ValidationError("name", "must be an identifier")
	}
	seen := make(map[string]struct{}, len(d.Params))
	for i, p := range d.Params {
		if !isIdentifier(p.Name) {
			return appErr.ValidationError(fmt.Sprintf("params[%d].name", i), "must be an identifier")
		}
		if _, dup := seen[p.Name]; dup {
			return appErr.ValidationError(fmt.Sprintf("params[%d].name", i), "duplicate parameter")
		}
		seen[p.Name] = struct{}{}
		if _, err := value.ParseType(p.Type); err != nil {
			return appErr.ValidationError(fmt.Sprintf("params[%d].type", i), err.Error())
		}
	}
	if _, err := value.ParseType(d.ReturnType); err != nil {
		return appErr.ValidationError("returnType", err.Error())
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// TestCase is one input/expected-output pair. Limits of zero fall back to
// the challenge defaults.
type TestCase struct {
	ID             string                 `json:"id" yaml:"id"`
	Input          map[string]value.Value `json:"input" yaml:"input"`
	ExpectedOutput value.Value            `json:"expectedOutput" yaml:"expectedOutput"`
	IsHidden       bool                   `json:"isHidden" yaml:"isHidden"`
	Weight         int                    `json:"weight" yaml:"weight"`
	TimeLimitMs    int64                  `json:"timeLimitMs,omitempty" yaml:"timeLimitMs"`
	MemoryLimitMb  int64                  `json:"memoryLimitMb,omitempty" yaml:"memoryLimitMb"`
}

// EffectiveWeight applies the default weight of 1.
func (tc TestCase) EffectiveWeight() int {
	if tc.Weight <= 0 {
		return 1
	}
	return tc.Weight
}

// Challenge is the read-only judging view of a challenge owned elsewhere.
type Challenge struct {
	ID            string             `json:"id" yaml:"id"`
	Title         string             `json:"title" yaml:"title"`
	Function      FunctionDescriptor `json:"function" yaml:"function"`
	TestCases     []TestCase         `json:"testCases" yaml:"testCases"`
	MaxPoints     int                `json:"maxPoints" yaml:"maxPoints"`
	TimeLimitMs   int64              `json:"timeLimitMs" yaml:"timeLimitMs"`
	MemoryLimitMb int64              `json:"memoryLimitMb" yaml:"memoryLimitMb"`
	// TimeBonusPct in [0,1] scales the time bonus; zero disables it.
	TimeBonusPct float64 `json:"timeBonusPct" yaml:"timeBonusPct"`
}

// Validate rejects challenges that cannot be judged.
func (c Challenge) Validate() error {
	if c.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if err := c.Function.Validate(); err != nil {
		return err
	}
	if len(c.TestCases) == 0 {
		return appErr.ValidationError("testCases", "at least one test case is required")
	}
	if c.MaxPoints < 0 {
		return appErr.ValidationError("maxPoints", "must not be negative")
	}
	if c.TimeBonusPct < 0 || c.TimeBonusPct > 1 {
		return appErr.ValidationError("timeBonusPct", "must be within [0,1]")
	}
	for i, tc := range c.TestCases {
		if tc.Weight < 0 {
			return appErr.ValidationError(fmt.Sprintf("testCases[%d].weight", i), "must be positive")
		}
	}
	return nil
}

// CaseID returns the id of the i-th test case, synthesising one when unset.
func (c Challenge) CaseID(i int) string {
	if id := c.TestCases[i].ID; id != "" {
		return id
	}
	return fmt.Sprintf("%s-%d", c.ID, i+1)
}
