package repository

import (
	"context"
	"time"

	"codearena/internal/judge/model"
)

// SubmissionStore is the source of truth for submissions and verdicts.
type SubmissionStore interface {
	// Create inserts a pending submission. A duplicate id is a Conflict.
	Create(ctx context.Context, sub *model.Submission) error

	// Get returns SubmissionNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.Submission, error)

	// MarkRunning moves pending to running. It reports false when the
	// submission already left pending, so a submission runs at most once.
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)

	// Finish writes the terminal verdict. It reports false when the
	// submission is already terminal.
	Finish(ctx context.Context, sub *model.Submission) (bool, error)

	// ListUnfinished returns pending and running submissions, oldest first.
	ListUnfinished(ctx context.Context) ([]*model.Submission, error)
}
