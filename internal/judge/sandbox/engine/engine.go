// Package engine runs one process under the sandbox limits.
package engine

import (
	"context"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}
