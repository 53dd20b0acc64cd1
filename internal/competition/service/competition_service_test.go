package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codearena/internal/competition"
	"codearena/internal/competition/repository"
	"codearena/internal/feed"
	"codearena/internal/judge/model"
	"codearena/internal/leaderboard"
	appErr "codearena/pkg/errors"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *recordingFeed) Publish(ctx context.Context, ev feed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingFeed) types() []feed.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type countingJudge struct {
	mu        sync.Mutex
	cancelled []string
}

func (j *countingJudge) CancelCompetition(ctx context.Context, id string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = append(j.cancelled, id)
	return 0
}

type fixture struct {
	svc   *Service
	clock *clock
	feed  *recordingFeed
	judge *countingJudge
}

func newFixture(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(), feed: &recordingFeed{}, judge: &countingJudge{}}
	svc, err := NewService(Config{
		Store:         store,
		Feed:          f.feed,
		Judge:         f.judge,
		UpdateRetries: 50,
		Now:           f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

// started creates a competition of alice and bob and starts it.
func (f *fixture) started(t *testing.T) *competition.Competition {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum", TimeLimitMinutes: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c, err = f.svc.Start(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}

func (f *fixture) record(t *testing.T, competitionID, userID, subID string, score int, at time.Time) {
	t.Helper()
	sub := &model.Submission{
		ID:            subID,
		CompetitionID: competitionID,
		ChallengeID:   "two-sum",
		UserID:        userID,
		Status:        model.StatusAccepted,
		Score:         score,
		SubmittedAt:   at,
	}
	if err := f.svc.RecordSubmission(context.Background(), sub); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()

	c, err := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum", Invitees: []string{"bob", "alice", "bob", "carol"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(c.Participants) != 3 || c.Status != competition.StatusPending {
		t.Fatalf("unexpected roster %+v", c.Participants)
	}
	if c.MaxParticipants != defaultMaxParticipants || c.TimeLimitMinutes != defaultTimeLimitMinutes {
		t.Fatalf("expected defaults, got %d/%d", c.MaxParticipants, c.TimeLimitMinutes)
	}

	if _, err := f.svc.Invite(ctx, c.ID, "bob", "dave"); !appErr.Is(err, appErr.CompetitionAccessDenied) {
		t.Fatalf("expected CompetitionAccessDenied, got %v", err)
	}
	if _, err := f.svc.Invite(ctx, c.ID, "alice", "bob"); !appErr.Is(err, appErr.AlreadyRegistered) {
		t.Fatalf("expected AlreadyRegistered, got %v", err)
	}
	if _, err := f.svc.Respond(ctx, c.ID, "dave", true); !appErr.Is(err, appErr.InvitationMissing) {
		t.Fatalf("expected InvitationMissing, got %v", err)
	}
	if _, err := f.svc.Respond(ctx, c.ID, "carol", false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	c, err = f.svc.Respond(ctx, c.ID, "bob", true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if p, _ := c.Participant("bob"); p.Status != competition.ParticipantAccepted {
		t.Fatalf("expected accepted, got %s", p.Status)
	}
	if _, err := f.svc.Respond(ctx, c.ID, "bob", false); !appErr.Is(err, appErr.InvitationMissing) {
		t.Fatalf("expected answered invitation to be gone, got %v", err)
	}

	if _, err := f.svc.Start(ctx, c.ID, "alice"); !appErr.Is(err, appErr.CompetitionNotEnoughJoin) {
		t.Fatalf("expected CompetitionNotEnoughJoin, got %v", err)
	}
	c, err = f.svc.Join(ctx, c.ID, "bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p, _ := c.Participant("bob"); p.Status != competition.ParticipantActive || p.JoinedAt == nil {
		t.Fatalf("expected bob active, got %+v", p)
	}
	if _, err := f.svc.Join(ctx, c.ID, "bob"); !appErr.Is(err, appErr.AlreadyRegistered) {
		t.Fatalf("expected AlreadyRegistered, got %v", err)
	}

	if _, err := f.svc.Start(ctx, c.ID, "bob"); !appErr.Is(err, appErr.CompetitionAccessDenied) {
		t.Fatalf("expected only the creator to start, got %v", err)
	}
	c, err = f.svc.Start(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.Status != competition.StatusActive || c.ActualStartTime == nil || !c.ActualStartTime.Equal(f.clock.Now()) {
		t.Fatalf("unexpected started competition %+v", c)
	}
	if _, err := f.svc.Start(ctx, c.ID, "alice"); !appErr.Is(err, appErr.CompetitionInvalidState) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, "dave"); !appErr.Is(err, appErr.CompetitionInvalidState) {
		t.Fatalf("expected join after start to fail, got %v", err)
	}

	want := []feed.EventType{feed.EventParticipantJoined, feed.EventParticipantJoined, feed.EventCompetitionStarted}
	got := f.feed.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	past := f.clock.Now().Add(-time.Minute)

	cases := []struct {
		name string
		req  CreateRequest
		code appErr.ErrorCode
	}{
		{"no creator", CreateRequest{ChallengeID: "x"}, appErr.ValidationFailed},
		{"no challenge", CreateRequest{CreatorID: "a"}, appErr.ValidationFailed},
		{"one seat", CreateRequest{CreatorID: "a", ChallengeID: "x", MaxParticipants: 1}, appErr.ValidationFailed},
		{"negative limit", CreateRequest{CreatorID: "a", ChallengeID: "x", TimeLimitMinutes: -1}, appErr.ValidationFailed},
		{"start in past", CreateRequest{CreatorID: "a", ChallengeID: "x", ScheduledStartTime: &past}, appErr.ValidationFailed},
		{"too many invitees", CreateRequest{CreatorID: "a", ChallengeID: "x", MaxParticipants: 2, Invitees: []string{"b", "c"}}, appErr.CompetitionFull},
	}
	for _, tc := range cases {
		if _, err := f.svc.Create(ctx, tc.req); !appErr.Is(err, tc.code) {
			t.Fatalf("%s: expected %d, got %v", tc.name, tc.code, err)
		}
	}
}

func TestRosterNeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	c, err := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum", MaxParticipants: 2, Invitees: []string{"bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Invite(ctx, c.ID, "alice", "carol"); !appErr.Is(err, appErr.CompetitionFull) {
		t.Fatalf("expected CompetitionFull on invite, got %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, "carol"); !appErr.Is(err, appErr.CompetitionFull) {
		t.Fatalf("expected CompetitionFull on join, got %v", err)
	}
	// An invitee keeps a seat and can still join.
	if _, err := f.svc.Join(ctx, c.ID, "bob"); err != nil {
		t.Fatalf("invitee join: %v", err)
	}
}

func TestScoreIsMonotonic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	c := f.started(t)
	start := *c.ActualStartTime

	steps := []struct {
		score     int
		at        time.Duration
		wantScore int
		wantAt    time.Duration
	}{
		{50, 5 * time.Minute, 50, 5 * time.Minute},
		{30, 6 * time.Minute, 50, 5 * time.Minute},
		{50, 7 * time.Minute, 50, 5 * time.Minute},
		// A late-arriving judgement of an earlier equal submission takes its time.
		{50, 2 * time.Minute, 50, 2 * time.Minute},
		{80, 9 * time.Minute, 80, 9 * time.Minute},
		{0, 10 * time.Minute, 80, 9 * time.Minute},
	}
	for i, step := range steps {
		f.record(t, c.ID, "bob", fmt.Sprintf("s%d", i), step.score, start.Add(step.at))
		got, _ := f.svc.Get(context.Background(), c.ID)
		p, _ := got.Participant("bob")
		if p.Score != step.wantScore || !p.SubmissionTime.Equal(start.Add(step.wantAt)) {
			t.Fatalf("step %d: expected %d at %v, got %d at %v", i, step.wantScore, step.wantAt, p.Score, p.SubmissionTime.Sub(start))
		}
	}
	got, _ := f.svc.Get(context.Background(), c.ID)
	if p, _ := got.Participant("bob"); p.BestSubmissionID != "s4" {
		t.Fatalf("expected best submission s4, got %s", p.BestSubmissionID)
	}

	var updates int
	for _, typ := range f.feed.types() {
		if typ == feed.EventSubmissionUpdate {
			updates++
		}
	}
	if updates != len(steps) {
		t.Fatalf("expected one submissionUpdate per record, got %d", updates)
	}
}

func TestRecordIgnoresSubmissionsOutsideWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	pending, err := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.record(t, pending.ID, "alice", "p1", 100, f.clock.Now())
	if got, _ := f.svc.Get(ctx, pending.ID); got.Participants[0].Score != 0 {
		t.Fatalf("pending competition must not score")
	}

	c := f.started(t)
	deadline := *c.Deadline()
	f.record(t, c.ID, "bob", "late", 100, deadline)
	f.record(t, c.ID, "mallory", "stranger", 100, deadline.Add(-time.Minute))
	got, _ := f.svc.Get(ctx, c.ID)
	if p, _ := got.Participant("bob"); p.Score != 0 {
		t.Fatalf("submission at the deadline must be ignored, got %d", p.Score)
	}
	if _, ok := got.Participant("mallory"); ok {
		t.Fatalf("non-participant must not be added")
	}
	if got.Version != c.Version {
		t.Fatalf("ignored submissions must not write, version %d -> %d", c.Version, got.Version)
	}
}

func TestAdmitSubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()

	pending, _ := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum"})
	if err := f.svc.AdmitSubmission(ctx, pending.ID, "alice", "two-sum"); !appErr.Is(err, appErr.CompetitionNotStarted) {
		t.Fatalf("expected CompetitionNotStarted, got %v", err)
	}
	c := f.started(t)
	if err := f.svc.AdmitSubmission(ctx, c.ID, "bob", "two-sum"); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}
	if err := f.svc.AdmitSubmission(ctx, c.ID, "bob", "other"); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected challenge mismatch, got %v", err)
	}
	if err := f.svc.AdmitSubmission(ctx, c.ID, "carol", "two-sum"); !appErr.Is(err, appErr.NotRegistered) {
		t.Fatalf("expected NotRegistered, got %v", err)
	}
	if err := f.svc.AdmitSubmission(ctx, "nope", "bob", "two-sum"); !appErr.Is(err, appErr.CompetitionNotFound) {
		t.Fatalf("expected CompetitionNotFound, got %v", err)
	}
	f.clock.Advance(31 * time.Minute)
	if err := f.svc.AdmitSubmission(ctx, c.ID, "bob", "two-sum"); !appErr.Is(err, appErr.CompetitionEnded) {
		t.Fatalf("expected CompetitionEnded past the deadline, got %v", err)
	}
}

func TestTieBreakByEarlierSubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	c := f.started(t)
	start := *c.ActualStartTime

	f.record(t, c.ID, "bob", "b1", 80, start.Add(4*time.Minute))
	f.record(t, c.ID, "alice", "a1", 80, start.Add(9*time.Minute))

	done, err := f.svc.Complete(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.WinnerID != "bob" || done.Status != competition.StatusCompleted || done.ActualEndTime == nil {
		t.Fatalf("expected bob to win a completed competition, got %+v", done)
	}
	board, err := f.svc.Leaderboard(ctx, c.ID, leaderboard.ViewFinal)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].UserID != "bob" || board[0].Rank != 1 || board[1].Rank != 2 {
		t.Fatalf("unexpected board %+v", board)
	}
	if board[0].TimeTakenSeconds != 240 {
		t.Fatalf("expected 240s taken, got %d", board[0].TimeTakenSeconds)
	}

	// Completion is idempotent and later judgements cannot move the result.
	f.record(t, c.ID, "alice", "a2", 100, start.Add(10*time.Minute))
	again, err := f.svc.Complete(ctx, c.ID, "")
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if again.WinnerID != "bob" || !again.ActualEndTime.Equal(*done.ActualEndTime) || again.Version != done.Version {
		t.Fatalf("expected stored result unchanged, got %+v", again)
	}
	if len(f.judge.cancelled) == 0 || f.judge.cancelled[0] != c.ID {
		t.Fatalf("expected running judgements cancelled, got %v", f.judge.cancelled)
	}
}

func TestAutoCompleteWhenAllSubmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	c := f.started(t)
	f.record(t, c.ID, "alice", "a1", 40, c.ActualStartTime.Add(time.Minute))

	if _, err := f.svc.MarkSubmitted(ctx, c.ID, "carol"); !appErr.Is(err, appErr.NotRegistered) {
		t.Fatalf("expected NotRegistered, got %v", err)
	}
	got, err := f.svc.MarkSubmitted(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got.Status != competition.StatusActive {
		t.Fatalf("expected still active with bob working, got %s", got.Status)
	}
	if err := f.svc.AdmitSubmission(ctx, c.ID, "alice", "two-sum"); !appErr.Is(err, appErr.CompetitionInvalidState) {
		t.Fatalf("expected submitted participant to be refused, got %v", err)
	}
	got, err = f.svc.MarkSubmitted(ctx, c.ID, "bob")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got.Status != competition.StatusCompleted || got.WinnerID != "alice" {
		t.Fatalf("expected auto completion won by alice, got %+v", got)
	}
	types := f.feed.types()
	if types[len(types)-1] != feed.EventCompetitionEnded {
		t.Fatalf("expected competitionEnded last, got %v", types)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	c := f.started(t)

	if _, err := f.svc.Cancel(ctx, c.ID, "bob"); !appErr.Is(err, appErr.CompetitionAccessDenied) {
		t.Fatalf("expected CompetitionAccessDenied, got %v", err)
	}
	got, err := f.svc.Cancel(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != competition.StatusCancelled || got.ActualEndTime != nil || got.WinnerID != "" {
		t.Fatalf("unexpected cancelled competition %+v", got)
	}
	if _, err := f.svc.Cancel(ctx, c.ID, "alice"); err != nil {
		t.Fatalf("expected repeated cancel to succeed, got %v", err)
	}
	if _, err := f.svc.Complete(ctx, c.ID, "alice"); !appErr.Is(err, appErr.CompetitionInvalidState) {
		t.Fatalf("expected CompetitionInvalidState, got %v", err)
	}
}

func TestTickStartsAndCompletes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	at := f.clock.Now().Add(10 * time.Minute)

	lonely, _ := f.svc.Create(ctx, CreateRequest{CreatorID: "carol", ChallengeID: "two-sum", ScheduledStartTime: &at})
	c, err := f.svc.Create(ctx, CreateRequest{CreatorID: "alice", ChallengeID: "two-sum", TimeLimitMinutes: 5, ScheduledStartTime: &at})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Join(ctx, c.ID, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.svc.Tick(ctx, f.clock.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got, _ := f.svc.Get(ctx, c.ID); got.Status != competition.StatusPending {
		t.Fatalf("expected pending before schedule, got %s", got.Status)
	}

	f.clock.Advance(10 * time.Minute)
	_ = f.svc.Tick(ctx, f.clock.Now())
	if got, _ := f.svc.Get(ctx, c.ID); got.Status != competition.StatusActive {
		t.Fatalf("expected scheduled start, got %s", got.Status)
	}
	if got, _ := f.svc.Get(ctx, lonely.ID); got.Status != competition.StatusPending {
		t.Fatalf("expected lone competition to wait for players, got %s", got.Status)
	}

	f.clock.Advance(5 * time.Minute)
	_ = f.svc.Tick(ctx, f.clock.Now())
	got, _ := f.svc.Get(ctx, c.ID)
	if got.Status != competition.StatusCompleted || got.ActualEndTime == nil {
		t.Fatalf("expected deadline completion, got %+v", got)
	}
}

func TestConcurrentRecordsAcrossReplicas(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := repository.NewRedisStore(client)

	a := newFixture(t, store)
	b := newFixture(t, store)
	c := a.started(t)
	start := *c.ActualStartTime

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		f := a
		if i%2 == 1 {
			f = b
		}
		wg.Add(1)
		go func(i int, f *fixture) {
			defer wg.Done()
			sub := &model.Submission{
				ID:            fmt.Sprintf("s%d", i),
				CompetitionID: c.ID,
				ChallengeID:   "two-sum",
				UserID:        "bob",
				Status:        model.StatusWrongAnswer,
				Score:         (i * 7) % 50,
				SubmittedAt:   start.Add(time.Duration(40-i) * time.Second),
			}
			if err := f.svc.RecordSubmission(context.Background(), sub); err != nil {
				t.Errorf("record %d: %v", i, err)
			}
		}(i, f)
	}
	wg.Wait()

	// Only i=7 reaches the top score of 49.
	got, err := a.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p, _ := got.Participant("bob")
	if p.Score != 49 || p.BestSubmissionID != "s7" || !p.SubmissionTime.Equal(start.Add(33*time.Second)) {
		t.Fatalf("expected 49 from s7, got %d from %s at %v", p.Score, p.BestSubmissionID, p.SubmissionTime)
	}
	if a.svc.locks.size() != 0 || b.svc.locks.size() != 0 {
		t.Fatalf("expected per-competition locks released")
	}
}
