package service

import (
	"context"

	"codearena/internal/judge/harness"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/runner"
	"codearena/internal/judge/sandbox/spec"
)

// Executor compiles and runs composed programs.
type Executor interface {
	Prepare(ctx context.Context, submissionID string, program *harness.Program) (Session, error)
	Kill(ctx context.Context, submissionID string) error
}

// Session is one compiled program in its scratch directory.
type Session interface {
	Compile() result.CompileResult
	Run(ctx context.Context, caseIndex int, limits spec.ResourceLimit) (result.RunResult, error)
	Limits(override spec.ResourceLimit) spec.ResourceLimit
	Close() error
}

// RunnerExecutor adapts *runner.Runner to Executor.
type RunnerExecutor struct {
	Runner *runner.Runner
}

func (e RunnerExecutor) Prepare(ctx context.Context, submissionID string, program *harness.Program) (Session, error) {
	s, err := e.Runner.Prepare(ctx, submissionID, program)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e RunnerExecutor) Kill(ctx context.Context, submissionID string) error {
	return e.Runner.Kill(ctx, submissionID)
}
