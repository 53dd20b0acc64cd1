package service

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"codearena/internal/judge/harness"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/repository"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/runner"
	"codearena/internal/judge/sandbox/spec"
	"codearena/internal/judge/value"
	appErr "codearena/pkg/errors"
)

type mapSource map[string]*model.Challenge

func (m mapSource) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	c, ok := m[id]
	if !ok {
		return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
	}
	return c, nil
}

func twoSum() *model.Challenge {
	return &model.Challenge{
		ID:    "two-sum",
		Title: "Two Sum",
		Function: model.FunctionDescriptor{
			Name:       "twoSum",
			Params:     []model.Parameter{{Name: "nums", Type: "int[]"}, {Name: "target", Type: "int"}},
			ReturnType: "int[]",
		},
		TestCases: []model.TestCase{
			{
				Input:          map[string]value.Value{"nums": value.Array(value.Int(2), value.Int(7), value.Int(11), value.Int(15)), "target": value.Int(9)},
				ExpectedOutput: value.Array(value.Int(0), value.Int(1)),
				Weight:         1,
			},
			{
				Input:          map[string]value.Value{"nums": value.Array(value.Int(3), value.Int(2), value.Int(4)), "target": value.Int(6)},
				ExpectedOutput: value.Array(value.Int(1), value.Int(2)),
				Weight:         1,
				IsHidden:       true,
			},
		},
		MaxPoints:   100,
		TimeLimitMs: 1000,
	}
}

// scriptedExecutor hands out sessions whose runs are scripted per case.
type scriptedExecutor struct {
	mu       sync.Mutex
	compile  result.CompileResult
	runs     map[int]result.RunResult
	runErrs  map[int]error
	prepErr  error
	block    chan struct{}
	sessions []*scriptedSession
	programs []*harness.Program
	killed   []string
}

type scriptedSession struct {
	e      *scriptedExecutor
	closed bool
	ran    []int
}

func newScripted() *scriptedExecutor {
	return &scriptedExecutor{
		compile: result.CompileResult{OK: true},
		runs:    map[int]result.RunResult{},
		runErrs: map[int]error{},
	}
}

func (e *scriptedExecutor) Prepare(ctx context.Context, id string, p *harness.Program) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prepErr != nil {
		return nil, e.prepErr
	}
	s := &scriptedSession{e: e}
	e.sessions = append(e.sessions, s)
	e.programs = append(e.programs, p)
	return s, nil
}

func (e *scriptedExecutor) Kill(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = append(e.killed, id)
	return nil
}

func (s *scriptedSession) Compile() result.CompileResult { return s.e.compile }

func (s *scriptedSession) Run(ctx context.Context, i int, limits spec.ResourceLimit) (result.RunResult, error) {
	if s.e.block != nil {
		select {
		case <-s.e.block:
		case <-ctx.Done():
			return result.RunResult{Cancelled: true}, nil
		}
	}
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.ran = append(s.ran, i)
	return s.e.runs[i], s.e.runErrs[i]
}

func (s *scriptedSession) Limits(override spec.ResourceLimit) spec.ResourceLimit {
	return spec.ResourceLimit{WallTimeMs: 1000, MemoryMB: 256}.Merge(override)
}

func (s *scriptedSession) Close() error {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	s.closed = true
	return nil
}

type recordingUpdater struct {
	mu       sync.Mutex
	subs     []*model.Submission
	admitErr error
}

func (r *recordingUpdater) AdmitSubmission(ctx context.Context, competitionID, userID, challengeID string) error {
	return r.admitErr
}

func (r *recordingUpdater) RecordSubmission(ctx context.Context, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	return nil
}

func newTestService(t *testing.T, executor Executor, ch *model.Challenge, mutate func(*Config)) (*Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	cfg := Config{
		Store:          store,
		Challenges:     mapSource{ch.ID: ch},
		Languages:      lang.NewRegistry(nil),
		Executor:       executor,
		WorkerPoolSize: 1,
		QueueSize:      1,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, store
}

func pendingSubmission(t *testing.T, store *repository.MemoryStore, id string) *model.Submission {
	t.Helper()
	sub := &model.Submission{
		ID:          id,
		ChallengeID: "two-sum",
		UserID:      "alice",
		SourceCode:  "def twoSum(nums, target):\n    return [0, 1]\n",
		Language:    lang.Python,
		Status:      model.StatusPending,
		SubmittedAt: time.Now(),
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	return sub
}

func judgeAndLoad(t *testing.T, svc *Service, store *repository.MemoryStore, sub *model.Submission) *model.Submission {
	t.Helper()
	if err := svc.Judge(context.Background(), sub); err != nil {
		t.Fatalf("judge: %v", err)
	}
	got, err := store.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestJudgeAcceptsCorrectSubmission(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]\n", ElapsedMs: 20, MemoryKB: 2048}
	fake.runs[1] = result.RunResult{Stdout: "[1, 2]\n", ElapsedMs: 30, MemoryKB: 4096}
	updater := &recordingUpdater{}
	svc, store := newTestService(t, fake, twoSum(), func(c *Config) { c.Competition = updater })
	sub := pendingSubmission(t, store, "a")
	sub.CompetitionID = "comp"

	got := judgeAndLoad(t, svc, store, sub)
	if got.Status != model.StatusAccepted || got.Score != 100 {
		t.Fatalf("expected accepted with 100, got %s %d", got.Status, got.Score)
	}
	if got.Passed() != 2 || got.TotalTimeMs() != 50 || got.PeakMemoryMb() != 4 {
		t.Fatalf("unexpected aggregates %+v", got.Results)
	}
	if got.Results[0].TestCaseID != "two-sum-1" || !got.Results[1].Hidden {
		t.Fatalf("unexpected case ids %+v", got.Results)
	}
	if len(fake.sessions) != 1 || !fake.sessions[0].closed {
		t.Fatalf("expected exactly one compiled session, closed after judging")
	}
	if p := fake.programs[0]; p.CaseCount != 2 {
		t.Fatalf("expected both cases composed into one program, got %d", p.CaseCount)
	}
	if len(updater.subs) != 1 || updater.subs[0].Score != 100 {
		t.Fatalf("expected competition update, got %+v", updater.subs)
	}
}

func TestJudgePartialSubmissionIsWrongAnswer(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]"}
	fake.runs[1] = result.RunResult{Stdout: "[2,1]"}
	svc, store := newTestService(t, fake, twoSum(), nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "b"))
	if got.Status != model.StatusWrongAnswer || got.Score != 50 {
		t.Fatalf("expected wrong_answer with 50, got %s %d", got.Status, got.Score)
	}
	msg := got.Results[1].ErrorMessage
	if msg == nil || !strings.Contains(*msg, "expected [1,2], got [2,1]") || !strings.Contains(*msg, "target = 6") {
		t.Fatalf("expected diagnostic with input and expected value, got %v", msg)
	}
}

func TestJudgeTimeoutTakesPrecedence(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[9,9]"}
	fake.runs[1] = result.RunResult{TimedOut: true, ElapsedMs: 1000}
	svc, store := newTestService(t, fake, twoSum(), nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "c"))
	if got.Status != model.StatusTimeLimitExceeded || got.ErrorKind != result.KindTimeout {
		t.Fatalf("expected time_limit_exceeded, got %s %s", got.Status, got.ErrorKind)
	}
	if got.Results[1].Passed || got.Results[1].ErrorKind != result.KindTimeout {
		t.Fatalf("unexpected timeout case %+v", got.Results[1])
	}
}

func TestJudgeFirstFailureKindWins(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{ExitCode: harness.ExitThrown, Stderr: "print noise\nValueError: boom"}
	fake.runs[1] = result.RunResult{Stdout: "[0,0]"}
	svc, store := newTestService(t, fake, twoSum(), nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "d"))
	if got.Status != model.StatusRuntimeError || got.Score != 0 {
		t.Fatalf("expected runtime_error, got %s %d", got.Status, got.Score)
	}
	if msg := got.Results[0].ErrorMessage; msg == nil || !strings.Contains(*msg, "ValueError: boom") {
		t.Fatalf("expected stderr diagnostic, got %v", msg)
	}
}

func TestJudgeCompileErrorShortCircuits(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.compile = result.CompileResult{OK: false, Log: "main.go:3: undefined: x"}
	svc, store := newTestService(t, fake, twoSum(), nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "e"))
	if got.Status != model.StatusCompileError || !strings.Contains(got.ErrorMessage, "undefined: x") {
		t.Fatalf("expected compile_error with log, got %s %q", got.Status, got.ErrorMessage)
	}
	if len(fake.sessions[0].ran) != 0 {
		t.Fatalf("expected no case to run after compile failure")
	}
	for _, r := range got.Results {
		if r.Passed || r.ErrorKind != result.KindCompileError || *r.ErrorMessage != "CompileError" {
			t.Fatalf("expected every case failed with CompileError, got %+v", r)
		}
	}
}

func TestJudgeMarshalErrorIsSystemError(t *testing.T) {
	t.Parallel()
	ch := twoSum()
	ch.TestCases[1].Input["target"] = value.String("six")
	fake := newScripted()
	svc, store := newTestService(t, fake, ch, nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "f"))
	if got.Status != model.StatusSystemError || got.ErrorKind != result.KindMarshalError {
		t.Fatalf("expected system_error with MarshalError, got %s %s", got.Status, got.ErrorKind)
	}
	if len(fake.sessions) != 0 {
		t.Fatalf("expected nothing to execute")
	}
	if len(got.Results) != 2 || *got.Results[0].ErrorMessage != "MarshalError" {
		t.Fatalf("expected every case recorded with the kind, got %+v", got.Results)
	}
}

func TestJudgeSystemErrorIsPerCase(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]"}
	fake.runErrs[1] = appErr.New(appErr.JudgeSystemError).WithMessage("engine down")
	svc, store := newTestService(t, fake, twoSum(), nil)

	got := judgeAndLoad(t, svc, store, pendingSubmission(t, store, "g"))
	if got.Status != model.StatusSystemError || got.Score != 50 {
		t.Fatalf("expected system_error with 50, got %s %d", got.Status, got.Score)
	}
	if !strings.Contains(got.ErrorMessage, "engine down") {
		t.Fatalf("expected system error surfaced, got %q", got.ErrorMessage)
	}
}

func TestJudgeRunsAtMostOnce(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]"}
	fake.runs[1] = result.RunResult{Stdout: "[1,2]"}
	svc, store := newTestService(t, fake, twoSum(), nil)
	sub := pendingSubmission(t, store, "h")

	judgeAndLoad(t, svc, store, sub)
	judgeAndLoad(t, svc, store, sub)
	if len(fake.sessions) != 1 {
		t.Fatalf("expected one judgement, got %d", len(fake.sessions))
	}
}

func TestScoreTimeBonus(t *testing.T) {
	t.Parallel()
	ch := twoSum()
	ch.TimeBonusPct = 0.5
	all := []model.TestCaseResult{{Passed: true}, {Passed: true}}
	half := []model.TestCaseResult{{Passed: true}, {}}

	if got := score(ch, all, 0); got != 100 {
		t.Fatalf("expected bonus capped at max points, got %d", got)
	}
	ch.MaxPoints = 200
	ch.TestCases[0].Weight = 3
	// base floor(3/4*200)=150, bonus floor(150*0.5*0.5)=37
	if got := score(ch, half, 500); got != 187 {
		t.Fatalf("expected 187, got %d", got)
	}
	if got := score(ch, half, 5000); got != 150 {
		t.Fatalf("expected no bonus past the limit, got %d", got)
	}
}

func waitRunning(t *testing.T, svc *Service, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		svc.runMu.Lock()
		_, running := svc.running[id]
		svc.runMu.Unlock()
		if running {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("judgement never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelRunningSubmission(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.block = make(chan struct{})
	svc, store := newTestService(t, fake, twoSum(), nil)
	sub := pendingSubmission(t, store, "i")

	done := make(chan error, 1)
	go func() { done <- svc.Judge(context.Background(), sub) }()
	waitRunning(t, svc, sub.ID)
	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("judge: %v", err)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if !fake.sessions[0].closed {
		t.Fatalf("expected scratch session closed")
	}
	if len(fake.killed) != 1 {
		t.Fatalf("expected sandbox kill, got %v", fake.killed)
	}
	if err := svc.Cancel(context.Background(), sub.ID); !appErr.Is(err, appErr.SubmissionFinalized) {
		t.Fatalf("expected SubmissionFinalized, got %v", err)
	}
}

func TestCancelPendingSubmission(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	svc, store := newTestService(t, fake, twoSum(), nil)
	sub := pendingSubmission(t, store, "j")

	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	judgeAndLoad(t, svc, store, sub)
	if len(fake.sessions) != 0 {
		t.Fatalf("cancelled submission must not run")
	}
}

func TestCancelCompetitionStopsItsRuns(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.block = make(chan struct{})
	updater := &recordingUpdater{}
	svc, store := newTestService(t, fake, twoSum(), func(c *Config) { c.Competition = updater })
	sub := pendingSubmission(t, store, "k")
	sub.CompetitionID = "c1"

	done := make(chan error, 1)
	go func() { done <- svc.Judge(context.Background(), sub) }()
	waitRunning(t, svc, sub.ID)

	if n := svc.CancelCompetition(context.Background(), "other"); n != 0 {
		t.Fatalf("expected no runs of another competition, got %d", n)
	}
	if n := svc.CancelCompetition(context.Background(), "c1"); n != 1 {
		t.Fatalf("expected one run cancelled, got %d", n)
	}
	if err := <-done; err != nil {
		t.Fatalf("judge: %v", err)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(updater.subs) != 0 {
		t.Fatalf("cancelled runs must not reach the competition")
	}
}

func TestSubmitChecksCompetitionAdmission(t *testing.T) {
	t.Parallel()
	req := SubmitRequest{UserID: "alice", ChallengeID: "two-sum", CompetitionID: "c1", Language: "python", SourceCode: "pass"}

	svc, _ := newTestService(t, newScripted(), twoSum(), nil)
	if _, err := svc.Submit(context.Background(), req); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable without a competition port, got %v", err)
	}

	denied := &recordingUpdater{admitErr: appErr.New(appErr.CompetitionNotStarted)}
	svc, _ = newTestService(t, newScripted(), twoSum(), func(c *Config) { c.Competition = denied })
	if _, err := svc.Submit(context.Background(), req); !appErr.Is(err, appErr.CompetitionNotStarted) {
		t.Fatalf("expected CompetitionNotStarted, got %v", err)
	}

	svc, _ = newTestService(t, newScripted(), twoSum(), func(c *Config) { c.Competition = &recordingUpdater{} })
	if id, err := svc.Submit(context.Background(), req); err != nil || id == "" {
		t.Fatalf("expected admitted submission, got %q %v", id, err)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, newScripted(), twoSum(), func(c *Config) { c.MaxSourceBytes = 16 })
	ctx := context.Background()
	base := SubmitRequest{UserID: "alice", ChallengeID: "two-sum", Language: "python", SourceCode: "pass"}

	cases := []struct {
		name string
		req  func(SubmitRequest) SubmitRequest
		code appErr.ErrorCode
	}{
		{"language", func(r SubmitRequest) SubmitRequest { r.Language = "cobol"; return r }, appErr.LanguageNotSupported},
		{"size", func(r SubmitRequest) SubmitRequest { r.SourceCode = strings.Repeat("x", 17); return r }, appErr.CodeTooLarge},
		{"challenge", func(r SubmitRequest) SubmitRequest { r.ChallengeID = "nope"; return r }, appErr.ChallengeNotFound},
		{"source", func(r SubmitRequest) SubmitRequest { r.SourceCode = "  "; return r }, appErr.ValidationFailed},
	}
	for _, tc := range cases {
		if _, err := svc.Submit(ctx, tc.req(base)); !appErr.Is(err, tc.code) {
			t.Fatalf("%s: expected code %d, got %v", tc.name, tc.code, err)
		}
	}
}

func TestSubmitQueueFull(t *testing.T) {
	t.Parallel()
	svc, store := newTestService(t, newScripted(), twoSum(), nil)
	ctx := context.Background()
	req := SubmitRequest{UserID: "alice", ChallengeID: "two-sum", Language: "py", SourceCode: "pass"}

	// Workers are not started: pool 1 plus queue 1 accepts two.
	for i := 0; i < 2; i++ {
		req.SourceCode += " "
		id, err := svc.Submit(ctx, req)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if got, _ := store.Get(ctx, id); got.Status != model.StatusPending {
			t.Fatalf("expected pending, got %s", got.Status)
		}
	}
	req.SourceCode += " "
	if _, err := svc.Submit(ctx, req); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
}

func TestSubmitJudgesAsynchronously(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]"}
	fake.runs[1] = result.RunResult{Stdout: "[1,2]"}
	svc, _ := newTestService(t, fake, twoSum(), nil)
	svc.Start()
	ctx := context.Background()

	id, err := svc.Submit(ctx, SubmitRequest{UserID: "alice", ChallengeID: "two-sum", Language: "python", SourceCode: "pass"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := svc.GetStatus(ctx, id, "alice")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if v.Status.Terminal() {
			if v.Status != model.StatusAccepted || v.Score != 100 || v.PassedTestCases != 2 {
				t.Fatalf("unexpected verdict %+v", v)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("submission never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseFailsQueuedSubmissions(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	svc, store := newTestService(t, fake, twoSum(), nil)
	ctx := context.Background()
	req := SubmitRequest{UserID: "alice", ChallengeID: "two-sum", Language: "python", SourceCode: "pass"}

	// Workers are not started, so both submissions stay queued.
	var ids []string
	for i := 0; i < 2; i++ {
		req.SourceCode += " "
		id, err := svc.Submit(ctx, req)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	svc.Close()

	for _, id := range ids {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.StatusSystemError || got.ErrorKind != result.KindSystemError {
			t.Fatalf("expected system_error, got %s/%s", got.Status, got.ErrorKind)
		}
		if len(got.Results) != 2 || got.Results[0].Passed || got.FinishedAt.IsZero() {
			t.Fatalf("expected every case recorded failed, got %+v", got.Results)
		}
	}
	if len(fake.sessions) != 0 {
		t.Fatalf("queued submissions must not run after close")
	}
	if _, err := svc.Submit(ctx, req); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable after close, got %v", err)
	}
}

func TestStartRecoversUnfinishedSubmissions(t *testing.T) {
	t.Parallel()
	fake := newScripted()
	fake.runs[0] = result.RunResult{Stdout: "[0,1]"}
	fake.runs[1] = result.RunResult{Stdout: "[1,2]"}
	svc, store := newTestService(t, fake, twoSum(), nil)
	ctx := context.Background()

	queued := pendingSubmission(t, store, "left-pending")
	stale := pendingSubmission(t, store, "left-running")
	if ok, err := store.MarkRunning(ctx, stale.ID, time.Now().Add(-time.Hour)); err != nil || !ok {
		t.Fatalf("mark stale running: %v %v", ok, err)
	}
	fresh := pendingSubmission(t, store, "running-elsewhere")
	if ok, err := store.MarkRunning(ctx, fresh.ID, time.Now()); err != nil || !ok {
		t.Fatalf("mark fresh running: %v %v", ok, err)
	}

	svc.Start()
	deadline := time.Now().Add(5 * time.Second)
	for {
		a, _ := store.Get(ctx, queued.ID)
		b, _ := store.Get(ctx, stale.ID)
		if a.Status.Terminal() && b.Status.Terminal() {
			if a.Status != model.StatusAccepted {
				t.Fatalf("expected requeued submission accepted, got %s", a.Status)
			}
			if b.Status != model.StatusSystemError {
				t.Fatalf("expected stale run failed, got %s", b.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unfinished submissions never recovered: %s %s", a.Status, b.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got, _ := store.Get(ctx, fresh.ID); got.Status != model.StatusRunning {
		t.Fatalf("expected a recent run to be left alone, got %s", got.Status)
	}
}

func TestVerdictRedactsHiddenCasesForOthers(t *testing.T) {
	t.Parallel()
	msg := "input: nums = [3,2,4], target = 6; expected [1,2], got [2,1]"
	sub := &model.Submission{
		ID:         "s",
		UserID:     "alice",
		SourceCode: "secret",
		Status:     model.StatusWrongAnswer,
		Results: []model.TestCaseResult{
			{TestCaseID: "1", Passed: true, ActualOutput: "[0,1]"},
			{TestCaseID: "2", ActualOutput: "[2,1]", ErrorMessage: &msg, ErrorKind: result.KindWrongAnswer, Hidden: true},
		},
	}
	other := NewVerdict(sub, "bob")
	if other.SourceCode != "" {
		t.Fatalf("source leaked to non-owner")
	}
	hidden := other.TestCaseResults[1]
	if hidden.ActualOutput != "" || *hidden.ErrorMessage != "WrongAnswer" {
		t.Fatalf("hidden case leaked: %+v", hidden)
	}
	if other.TestCaseResults[0].ActualOutput != "[0,1]" {
		t.Fatalf("visible case must stay visible")
	}
	if *sub.Results[1].ErrorMessage != msg {
		t.Fatalf("redaction must not mutate the submission")
	}

	owner := NewVerdict(sub, "alice")
	if owner.SourceCode != "secret" || *owner.TestCaseResults[1].ErrorMessage != msg {
		t.Fatalf("owner must see everything")
	}
	if anon := NewVerdict(sub, ""); anon.SourceCode != "" {
		t.Fatalf("anonymous viewer is not the owner")
	}
}

func TestJudgeTimeoutEndToEnd(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("sandbox engine requires linux")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	t.Parallel()
	eng, err := engine.NewEngine(engine.Config{AllowNetwork: true})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	root := t.TempDir()
	registry := lang.NewRegistry(nil)
	r, err := runner.NewRunner(eng, registry, runner.Config{WorkRoot: root, MaxTimeLimitMs: 5000}, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	ch := twoSum()
	ch.TestCases[0].TimeLimitMs = 300
	svc, store := newTestService(t, RunnerExecutor{Runner: r}, ch, nil)
	sub := pendingSubmission(t, store, "slow")
	sub.SourceCode = "import time\n\ndef twoSum(nums, target):\n    if target == 9:\n        time.sleep(10)\n    return [1, 2]\n"

	got := judgeAndLoad(t, svc, store, sub)
	if got.Results[0].Passed || got.Results[0].ErrorKind != result.KindTimeout {
		t.Fatalf("expected first case to time out, got %+v", got.Results[0])
	}
	if msg := got.Results[0].ErrorMessage; msg == nil || *msg != "time limit of 300 ms exceeded" {
		t.Fatalf("expected the case limit in the diagnostic, got %v", msg)
	}
	if !got.Results[1].Passed {
		t.Fatalf("expected second case to pass, got %+v", got.Results[1])
	}
	if got.Status != model.StatusTimeLimitExceeded {
		t.Fatalf("expected time_limit_exceeded, got %s", got.Status)
	}
	entries, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read work root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dirs removed, found %d", len(entries))
	}
}
