package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"codearena/internal/judge/model"
	"codearena/internal/judge/sandbox/result"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

// Verdict is the read model of a submission.
type Verdict struct {
	SubmissionID    string                 `json:"submissionId"`
	ChallengeID     string                 `json:"challengeId"`
	CompetitionID   string                 `json:"competitionId,omitempty"`
	UserID          string                 `json:"userId"`
	Language        string                 `json:"language"`
	Status          model.Status           `json:"status"`
	Score           int                    `json:"score"`
	MaxPoints       int                    `json:"maxPoints"`
	PassedTestCases int                    `json:"passedTestCases"`
	TotalTestCases  int                    `json:"totalTestCases"`
	ExecutionTimeMs int64                  `json:"executionTimeMs"`
	MemoryUsedMb    float64                `json:"memoryUsedMb"`
	ErrorKind       result.ErrorKind       `json:"errorKind,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
	SourceCode      string                 `json:"sourceCode,omitempty"`
	TestCaseResults []model.TestCaseResult `json:"testCaseResults"`
	SubmittedAt     time.Time              `json:"submittedAt"`
	FinishedAt      *time.Time             `json:"finishedAt,omitempty"`
}

// NewVerdict builds the read model for viewerID. Non-owners never see the
// source code or the output and diagnostics of hidden cases.
func NewVerdict(sub *model.Submission, viewerID string) Verdict {
	owner := viewerID != "" && viewerID == sub.UserID
	v := Verdict{
		SubmissionID:    sub.ID,
		ChallengeID:     sub.ChallengeID,
		CompetitionID:   sub.CompetitionID,
		UserID:          sub.UserID,
		Language:        string(sub.Language),
		Status:          sub.Status,
		Score:           sub.Score,
		MaxPoints:       sub.MaxPoints,
		PassedTestCases: sub.Passed(),
		TotalTestCases:  len(sub.Results),
		ExecutionTimeMs: sub.TotalTimeMs(),
		MemoryUsedMb:    sub.PeakMemoryMb(),
		ErrorKind:       sub.ErrorKind,
		ErrorMessage:    sub.ErrorMessage,
		SubmittedAt:     sub.SubmittedAt,
		TestCaseResults: make([]model.TestCaseResult, 0, len(sub.Results)),
	}
	if !sub.FinishedAt.IsZero() {
		t := sub.FinishedAt
		v.FinishedAt = &t
	}
	if owner {
		v.SourceCode = sub.SourceCode
	}
	for _, r := range sub.Results {
		if r.Hidden && !owner {
			r.ActualOutput = ""
			if r.ErrorMessage != nil {
				r.ErrorMessage = strPtr(string(r.ErrorKind))
			}
		}
		v.TestCaseResults = append(v.TestCaseResults, r)
	}
	return v
}

// GetStatus returns the verdict read model. The Redis snapshot is tried
// first; the store answers on a miss.
func (s *Service) GetStatus(ctx context.Context, submissionID, viewerID string) (Verdict, error) {
	if submissionID == "" {
		return Verdict{}, appErr.ValidationError("submission_id", "required")
	}
	if s.statusRepo != nil {
		if sub, err := s.statusRepo.Get(ctx, submissionID); err == nil {
			return NewVerdict(sub, viewerID), nil
		} else if !appErr.Is(err, appErr.NotFound) {
			logger.Warn(ctx, "load cached status failed", zap.String("submission_id", submissionID), zap.Error(err))
		}
	}
	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return Verdict{}, err
	}
	if sub.Status.Terminal() {
		s.saveStatus(ctx, sub)
	}
	return NewVerdict(sub, viewerID), nil
}

func (s *Service) saveStatus(ctx context.Context, sub *model.Submission) {
	if s.statusRepo == nil {
		return
	}
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	if err := s.statusRepo.Save(ctxStatus, sub); err != nil {
		logger.Warn(ctx, "update status cache failed", zap.String("submission_id", sub.ID), zap.Error(err))
	}
}

// afterFinish runs the best-effort side effects of a terminal submission.
// Failures are logged; the store already holds the verdict.
func (s *Service) afterFinish(ctx context.Context, sub *model.Submission) {
	s.saveStatus(ctx, sub)

	ctxSide := ctx
	if s.sideEffectTimeout > 0 {
		var cancel context.CancelFunc
		ctxSide, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
		defer cancel()
	}
	if s.competition != nil && sub.CompetitionID != "" && sub.Status != model.StatusCancelled {
		if err := s.competition.RecordSubmission(ctxSide, sub); err != nil {
			logger.Warn(ctx, "update competition failed",
				zap.String("submission_id", sub.ID),
				zap.String("competition_id", sub.CompetitionID),
				zap.Error(err),
			)
		}
	}
	if s.archive != nil {
		if err := s.archive.Put(ctxSide, sub); err != nil {
			logger.Warn(ctx, "archive verdict failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalStatus(ctxSide, sub); err != nil {
			logger.Warn(ctx, "publish verdict failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
}
