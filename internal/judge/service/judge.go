package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"codearena/internal/judge/compare"
	"codearena/internal/judge/harness"
	"codearena/internal/judge/marshal"
	"codearena/internal/judge/model"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const maxDiagnosticBytes = 1024

// Judge runs sub to a terminal status. It returns nil without doing anything
// when sub already left pending.
func (s *Service) Judge(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	started := s.now().UTC()
	won, err := s.store.MarkRunning(ctx, sub.ID, started)
	if err != nil {
		return err
	}
	if !won {
		logger.Info(ctx, "submission already claimed", zap.String("submission_id", sub.ID))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.register(sub, cancel)
	defer func() {
		s.unregister(sub.ID)
		cancel()
	}()

	running := *sub
	running.Status = model.StatusRunning
	running.StartedAt = started
	s.saveStatus(ctx, &running)

	final := s.evaluate(runCtx, &running)
	final.FinishedAt = s.now().UTC()
	if runCtx.Err() != nil && ctx.Err() == nil {
		// Cancel raced with the last case; report what the caller asked for.
		final.Status = model.StatusCancelled
		final.ErrorKind = result.KindCancelled
	}

	applied, err := s.store.Finish(ctx, final)
	if err != nil {
		return err
	}
	if !applied {
		logger.Warn(ctx, "submission finalized concurrently", zap.String("submission_id", sub.ID))
		return nil
	}
	logger.Info(ctx, "submission judged",
		zap.String("submission_id", final.ID),
		zap.String("status", string(final.Status)),
		zap.Int("score", final.Score),
		zap.Int("passed", final.Passed()),
		zap.Int("total", len(final.Results)),
	)
	s.afterFinish(ctx, final)
	return nil
}

// evaluate produces the terminal submission. The session scratch directory
// is removed before it returns.
func (s *Service) evaluate(ctx context.Context, sub *model.Submission) *model.Submission {
	out := *sub
	out.Results = nil

	ch, err := s.getChallenge(ctx, sub.ChallengeID)
	if err != nil {
		return s.abort(&out, nil, result.KindSystemError, err)
	}
	out.MaxPoints = ch.MaxPoints

	langSpec, err := s.langs.GetLanguageSpec(ctx, sub.Language)
	if err != nil {
		return s.abort(&out, ch, result.KindUnsupportedLanguage, err)
	}
	literals := make([][]string, len(ch.TestCases))
	for i, tc := range ch.TestCases {
		if literals[i], err = marshal.Marshal(tc.Input, ch.Function, sub.Language); err != nil {
			return s.abort(&out, ch, result.KindMarshalError, err)
		}
	}
	program, err := harness.ComposeSpec(sub.SourceCode, langSpec, ch.Function, literals)
	if err != nil {
		kind := result.KindMarshalError
		if appErr.Is(err, appErr.LanguageNotSupported) {
			kind = result.KindUnsupportedLanguage
		}
		return s.abort(&out, ch, kind, err)
	}

	session, err := s.executor.Prepare(ctx, sub.ID, program)
	if err != nil {
		if ctx.Err() != nil || appErr.Is(err, appErr.JudgeCancelled) {
			return s.abort(&out, ch, result.KindCancelled, err)
		}
		return s.abort(&out, ch, result.KindSystemError, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn(ctx, "remove scratch dir failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}()

	if compiled := session.Compile(); !compiled.OK {
		out.Status = model.StatusCompileError
		out.ErrorKind = result.KindCompileError
		out.ErrorMessage = truncate(compiled.Log, maxDiagnosticBytes*8)
		out.Results = failAll(ch, 0, result.KindCompileError)
		return &out
	}

	var elapsed int64
	for i, tc := range ch.TestCases {
		if ctx.Err() != nil {
			out.Results = append(out.Results, failAll(ch, i, result.KindCancelled)...)
			break
		}
		override := spec.ResourceLimit{
			WallTimeMs: firstPositive(tc.TimeLimitMs, ch.TimeLimitMs),
			MemoryMB:   firstPositive(tc.MemoryLimitMb, ch.MemoryLimitMb),
		}
		res, runErr := session.Run(ctx, i, override)
		r := s.caseResult(ch, i, res, runErr, session.Limits(override))
		elapsed += r.ExecutionTimeMs
		out.Results = append(out.Results, r)
		if r.ErrorKind == result.KindCancelled {
			out.Results = append(out.Results, failAll(ch, i+1, result.KindCancelled)...)
			break
		}
	}

	out.Status, out.ErrorKind = verdict(ch, out.Results)
	out.Score = score(ch, out.Results, elapsed)
	if out.Status == model.StatusSystemError {
		out.ErrorMessage = firstError(out.Results)
	}
	return &out
}

func (s *Service) caseResult(ch *model.Challenge, i int, res result.RunResult, runErr error, limits spec.ResourceLimit) model.TestCaseResult {
	tc := ch.TestCases[i]
	r := model.TestCaseResult{
		TestCaseID:      ch.CaseID(i),
		ExecutionTimeMs: res.ElapsedMs,
		MemoryUsedMb:    float64(res.MemoryKB) / 1024,
		Hidden:          tc.IsHidden,
	}
	if runErr != nil {
		kind := result.KindSystemError
		if res.Cancelled || errors.Is(runErr, context.Canceled) || appErr.Is(runErr, appErr.JudgeCancelled) {
			kind = result.KindCancelled
		}
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(fmt.Sprintf("%s: %v", kind, runErr))
		return r
	}

	kind := result.Classify(res, limits.MemoryMB)
	switch kind {
	case result.KindNone:
		outcome := compare.Compare(res.Stdout, tc.ExpectedOutput, s.compareOpts)
		r.ActualOutput = outcome.Actual
		if outcome.Passed {
			r.Passed = true
			return r
		}
		r.ErrorKind = result.KindWrongAnswer
		if outcome.Ambiguous {
			r.ErrorKind = result.KindComparisonAmbiguous
		}
		r.ErrorMessage = strPtr(mismatchMessage(ch, i, outcome.Actual))
	case result.KindTimeout:
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(fmt.Sprintf("time limit of %d ms exceeded", limits.WallTimeMs))
	case result.KindMemoryExceeded:
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(fmt.Sprintf("memory limit of %d MB exceeded", limits.MemoryMB))
	case result.KindOutputTooLarge:
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(fmt.Sprintf("output exceeded %d bytes", limits.OutputBytes))
	case result.KindRuntimeCrash:
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(crashMessage(res))
	default:
		r.ErrorKind = kind
		r.ErrorMessage = strPtr(string(kind))
	}
	return r
}

// abort ends a submission before or instead of execution. Every case is
// recorded failed with kind as its message.
func (s *Service) abort(sub *model.Submission, ch *model.Challenge, kind result.ErrorKind, err error) *model.Submission {
	sub.Status = model.StatusSystemError
	if kind == result.KindCancelled {
		sub.Status = model.StatusCancelled
	}
	sub.ErrorKind = kind
	sub.ErrorMessage = err.Error()
	sub.Score = 0
	if ch != nil {
		sub.Results = failAll(ch, 0, kind)
	}
	return sub
}

func failAll(ch *model.Challenge, from int, kind result.ErrorKind) []model.TestCaseResult {
	if from >= len(ch.TestCases) {
		return nil
	}
	out := make([]model.TestCaseResult, 0, len(ch.TestCases)-from)
	for i := from; i < len(ch.TestCases); i++ {
		out = append(out, model.TestCaseResult{
			TestCaseID:   ch.CaseID(i),
			ErrorKind:    kind,
			ErrorMessage: strPtr(string(kind)),
			Hidden:       ch.TestCases[i].IsHidden,
		})
	}
	return out
}

// verdict applies status precedence: accepted when every case passed, then
// time limit if any case timed out, then the first failure in case order.
func verdict(ch *model.Challenge, results []model.TestCaseResult) (model.Status, result.ErrorKind) {
	var first result.ErrorKind
	timedOut := false
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
			continue
		}
		if first == result.KindNone {
			first = r.ErrorKind
		}
		if r.ErrorKind == result.KindTimeout {
			timedOut = true
		}
	}
	if passed == len(ch.TestCases) {
		return model.StatusAccepted, result.KindNone
	}
	if first == result.KindCancelled {
		return model.StatusCancelled, first
	}
	if timedOut {
		return model.StatusTimeLimitExceeded, result.KindTimeout
	}
	return model.StatusForKind(first), first
}

// score is floor(sum(w*passed)/sum(w)*maxPoints) plus the time bonus, capped
// at maxPoints.
func score(ch *model.Challenge, results []model.TestCaseResult, elapsedMs int64) int {
	var total, earned int
	for i, tc := range ch.TestCases {
		w := tc.EffectiveWeight()
		total += w
		if i < len(results) && results[i].Passed {
			earned += w
		}
	}
	if total == 0 || ch.MaxPoints <= 0 {
		return 0
	}
	base := int(math.Floor(float64(earned) / float64(total) * float64(ch.MaxPoints)))
	bonus := 0
	if ch.TimeBonusPct > 0 && ch.TimeLimitMs > 0 && base > 0 {
		remaining := math.Max(0, float64(ch.TimeLimitMs-elapsedMs)/float64(ch.TimeLimitMs))
		bonus = int(math.Floor(float64(base) * ch.TimeBonusPct * remaining))
	}
	if base+bonus > ch.MaxPoints {
		return ch.MaxPoints
	}
	return base + bonus
}

func mismatchMessage(ch *model.Challenge, i int, actual string) string {
	tc := ch.TestCases[i]
	var args []string
	for _, p := range ch.Function.Params {
		v, ok := tc.Input[p.Name]
		if !ok {
			continue
		}
		enc, err := value.Encode(v)
		if err != nil {
			enc = v.PlainString()
		}
		args = append(args, p.Name+" = "+enc)
	}
	expected, err := value.Encode(tc.ExpectedOutput)
	if err != nil {
		expected = tc.ExpectedOutput.PlainString()
	}
	return truncate(fmt.Sprintf("input: %s; expected %s, got %s", strings.Join(args, ", "), expected, actual), maxDiagnosticBytes)
}

func crashMessage(res result.RunResult) string {
	stderr := strings.TrimSpace(res.Stderr)
	if res.ExitCode == harness.ExitBadIndex {
		return "harness rejected the case index"
	}
	if stderr == "" {
		return fmt.Sprintf("process exited with code %d", res.ExitCode)
	}
	// The diagnostic is the tail; user prints come first.
	if len(stderr) > maxDiagnosticBytes {
		start := len(stderr) - maxDiagnosticBytes
		for start < len(stderr) && !utf8.RuneStart(stderr[start]) {
			start++
		}
		stderr = "..." + stderr[start:]
	}
	return stderr
}

func firstError(results []model.TestCaseResult) string {
	for _, r := range results {
		if !r.Passed && r.ErrorMessage != nil {
			return *r.ErrorMessage
		}
	}
	return ""
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func strPtr(s string) *string { return &s }
