// Package compare decides whether a harness run produced the expected value.
package compare

import (
	"strings"
	"unicode/utf8"

	"codearena/internal/judge/value"
)

const defaultMaxActualBytes = 4096

// Options tunes comparison.
type Options struct {
	// FloatTolerance is the relative tolerance applied when either side is a
	// float. Zero means exact.
	FloatTolerance float64
	// MaxActualBytes caps Outcome.Actual. Zero uses the default.
	MaxActualBytes int
}

// Outcome is the verdict for one test case.
type Outcome struct {
	Passed bool
	// Ambiguous is set when stdout was not in the shared encoding and the
	// verdict came from string comparison.
	Ambiguous bool
	// Actual is the trimmed program output, truncated for storage.
	Actual string
}

// Compare decodes stdout and compares it structurally against expected.
// Arrays are ordered, object keys are unordered and an int equals a float of
// the same numeric value.
func Compare(stdout string, expected value.Value, opts Options) Outcome {
	actual := strings.TrimSpace(stdout)
	out := Outcome{Actual: truncate(actual, opts.maxActual())}

	decoded, err := value.Decode(actual)
	if err == nil {
		out.Passed = value.EqualWithin(decoded, expected, opts.FloatTolerance)
		return out
	}

	out.Ambiguous = true
	if actual == expected.PlainString() {
		out.Passed = true
		return out
	}
	if encoded, err := value.Encode(expected); err == nil && actual == encoded {
		out.Passed = true
	}
	return out
}

func (o Options) maxActual() int {
	if o.MaxActualBytes <= 0 {
		return defaultMaxActualBytes
	}
	return o.MaxActualBytes
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
