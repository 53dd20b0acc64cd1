package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codearena/internal/judge/challenge"
	"codearena/internal/judge/compare"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/model"
	"codearena/internal/judge/repository"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/runner"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const (
	defaultMaxSourceBytes    = 64 * 1024
	defaultStaleRunningAfter = 10 * time.Minute
)

// CompetitionUpdater gates competition submissions at intake and receives
// every finished one.
type CompetitionUpdater interface {
	// AdmitSubmission fails unless userID may submit to the running competition.
	AdmitSubmission(ctx context.Context, competitionID, userID, challengeID string) error
	RecordSubmission(ctx context.Context, sub *model.Submission) error
}

// ArchiveWriter stores final verdicts for the long term.
type ArchiveWriter interface {
	Put(ctx context.Context, sub *model.Submission) error
}

// SubmitRequest is one intake of user code.
type SubmitRequest struct {
	UserID        string
	ChallengeID   string
	CompetitionID string
	Language      string
	SourceCode    string
}

// Service orchestrates judging of submissions.
type Service struct {
	store       repository.SubmissionStore
	challenges  challenge.Source
	langs       runner.LanguageResolver
	executor    Executor
	statusRepo  *repository.StatusRepository
	idempotency *repository.IdempotencyGuard
	archive     ArchiveWriter
	publisher   repository.StatusEventPublisher
	competition CompetitionUpdater

	compareOpts       compare.Options
	maxSourceBytes    int
	challengeTimeout  time.Duration
	statusTimeout     time.Duration
	sideEffectTimeout time.Duration
	staleRunning      time.Duration
	workers           int
	now               func() time.Time

	// sem bounds pending plus running submissions; jobs never blocks on send.
	sem  chan struct{}
	jobs chan *model.Submission

	runMu   sync.Mutex
	running map[string]runEntry

	// intake is held shared by Submit while it enqueues and exclusively by
	// Close while it stops intake, so nothing lands in jobs after the drain.
	intake    sync.RWMutex
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// Config holds service dependencies and settings.
type Config struct {
	Store      repository.SubmissionStore
	Challenges challenge.Source
	Languages  runner.LanguageResolver
	Executor   Executor

	// Optional collaborators.
	StatusRepo  *repository.StatusRepository
	Idempotency *repository.IdempotencyGuard
	Archive     ArchiveWriter
	Publisher   repository.StatusEventPublisher
	Competition CompetitionUpdater

	FloatTolerance   float64
	MaxActualBytes   int
	MaxSourceBytes   int
	ChallengeTimeout time.Duration
	StatusTimeout    time.Duration
	// SideEffectTimeout bounds cache, archive, publish and competition updates.
	SideEffectTimeout time.Duration
	// StaleRunningAfter is how long a running submission may go unfinished
	// before Start fails it as abandoned by a dead worker.
	StaleRunningAfter time.Duration

	WorkerPoolSize int
	// QueueSize is how many accepted submissions may wait for a worker.
	QueueSize int

	Now func() time.Time
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("submission store is required")
	}
	if cfg.Challenges == nil {
		return nil, fmt.Errorf("challenge source is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	maxSource := cfg.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = defaultMaxSourceBytes
	}
	staleRunning := cfg.StaleRunningAfter
	if staleRunning <= 0 {
		staleRunning = defaultStaleRunningAfter
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	capacity := poolSize + queueSize
	return &Service{
		store:             cfg.Store,
		challenges:        cfg.Challenges,
		langs:             cfg.Languages,
		executor:          cfg.Executor,
		statusRepo:        cfg.StatusRepo,
		idempotency:       cfg.Idempotency,
		archive:           cfg.Archive,
		publisher:         cfg.Publisher,
		competition:       cfg.Competition,
		compareOpts:       compare.Options{FloatTolerance: cfg.FloatTolerance, MaxActualBytes: cfg.MaxActualBytes},
		maxSourceBytes:    maxSource,
		challengeTimeout:  cfg.ChallengeTimeout,
		statusTimeout:     cfg.StatusTimeout,
		sideEffectTimeout: cfg.SideEffectTimeout,
		staleRunning:      staleRunning,
		workers:           poolSize,
		now:               now,
		sem:               make(chan struct{}, capacity),
		jobs:              make(chan *model.Submission, capacity),
		running:           make(map[string]runEntry),
		stop:              make(chan struct{}),
	}, nil
}

// Start launches the worker pool and recovers submissions a previous
// process left unfinished.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
		s.wg.Add(1)
		go s.recoverUnfinished()
	})
}

// Close stops accepting work, cancels running judgements, waits for the
// workers to return and fails every submission still queued.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.intake.Lock()
		close(s.stop)
		s.intake.Unlock()

		s.runMu.Lock()
		for _, e := range s.running {
			e.cancel()
		}
		s.runMu.Unlock()
		s.wg.Wait()
		s.drainQueue()
	})
}

// drainQueue finishes queued submissions that no worker will pick up.
func (s *Service) drainQueue() {
	ctx := context.Background()
	for {
		select {
		case sub := <-s.jobs:
			s.abandon(ctx, sub, "judge service stopped before the submission ran")
			s.releaseSlot()
		default:
			return
		}
	}
}

// recoverUnfinished requeues pending submissions and fails running ones whose
// worker is gone. Running submissions younger than staleRunning may still be
// judged by another replica and are left alone.
func (s *Service) recoverUnfinished() {
	defer s.wg.Done()
	ctx := context.Background()
	subs, err := s.store.ListUnfinished(ctx)
	if err != nil {
		logger.Error(ctx, "list unfinished submissions failed", zap.Error(err))
		return
	}
	requeued, failed := 0, 0
	for _, sub := range subs {
		switch sub.Status {
		case model.StatusRunning:
			if s.now().Sub(sub.StartedAt) < s.staleRunning {
				continue
			}
			if s.abandon(ctx, sub, "judge worker stopped while the submission was running") {
				failed++
			}
		case model.StatusPending:
			select {
			case <-s.stop:
				return
			case s.sem <- struct{}{}:
			}
			s.jobs <- sub
			requeued++
		}
	}
	if requeued > 0 || failed > 0 {
		logger.Info(ctx, "unfinished submissions recovered", zap.Int("requeued", requeued), zap.Int("failed", failed))
	}
}

// abandon finishes sub as a system error without judging it and reports
// whether the verdict was written.
func (s *Service) abandon(ctx context.Context, sub *model.Submission, reason string) bool {
	var ch *model.Challenge
	if c, err := s.getChallenge(ctx, sub.ChallengeID); err == nil {
		ch = c
	}
	final := *sub
	s.abort(&final, ch, result.KindSystemError, errors.New(reason))
	if ch != nil {
		final.MaxPoints = ch.MaxPoints
	}
	final.FinishedAt = s.now().UTC()
	applied, err := s.store.Finish(ctx, &final)
	if err != nil {
		logger.Error(ctx, "fail abandoned submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return false
	}
	if !applied {
		return false
	}
	logger.Warn(ctx, "submission abandoned", zap.String("submission_id", sub.ID), zap.String("reason", reason))
	s.afterFinish(ctx, &final)
	return true
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case sub := <-s.jobs:
			ctx := context.Background()
			if err := s.Judge(ctx, sub); err != nil {
				logger.Error(ctx, "judge submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
			}
			s.releaseSlot()
		}
	}
}

// Submit validates and accepts a submission. Judging happens asynchronously;
// the returned id is already queryable as pending.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.UserID == "" {
		return "", appErr.ValidationError("user_id", "required")
	}
	if req.ChallengeID == "" {
		return "", appErr.ValidationError("challenge_id", "required")
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return "", appErr.ValidationError("source_code", "required")
	}
	if len(req.SourceCode) > s.maxSourceBytes {
		return "", appErr.Newf(appErr.CodeTooLarge, "source code exceeds %d bytes", s.maxSourceBytes)
	}
	language, err := lang.Parse(req.Language)
	if err != nil {
		return "", err
	}
	if _, err := s.langs.GetLanguageSpec(ctx, language); err != nil {
		return "", err
	}
	if _, err := s.getChallenge(ctx, req.ChallengeID); err != nil {
		return "", err
	}
	if req.CompetitionID != "" {
		if s.competition == nil {
			return "", appErr.New(appErr.ServiceUnavailable).WithMessage("competitions are not enabled")
		}
		if err := s.competition.AdmitSubmission(ctx, req.CompetitionID, req.UserID, req.ChallengeID); err != nil {
			return "", err
		}
	}

	s.intake.RLock()
	defer s.intake.RUnlock()
	select {
	case <-s.stop:
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("judge service is shutting down")
	default:
	}
	if !s.tryAcquireSlot() {
		return "", appErr.New(appErr.JudgeQueueFull).WithMessage("worker pool is full")
	}
	queued := false
	defer func() {
		if !queued {
			s.releaseSlot()
		}
	}()

	sub := &model.Submission{
		ID:            uuid.NewString(),
		ChallengeID:   req.ChallengeID,
		CompetitionID: req.CompetitionID,
		UserID:        req.UserID,
		SourceCode:    req.SourceCode,
		Language:      language,
		Status:        model.StatusPending,
		SubmittedAt:   s.now().UTC(),
	}
	key := repository.IntakeKey{
		UserID:        req.UserID,
		ChallengeID:   req.ChallengeID,
		CompetitionID: req.CompetitionID,
		Language:      language,
		SourceCode:    req.SourceCode,
	}
	id, fresh, err := s.idempotency.Claim(ctx, key, sub.ID)
	if err != nil {
		// The guard is an optimisation; intake goes on without it.
		logger.Warn(ctx, "idempotency claim failed", zap.Error(err))
		id, fresh = sub.ID, true
	}
	if !fresh {
		logger.Info(ctx, "duplicate submission collapsed", zap.String("submission_id", id))
		return id, nil
	}
	if err := s.store.Create(ctx, sub); err != nil {
		_ = s.idempotency.Release(ctx, key)
		return "", err
	}
	s.saveStatus(ctx, sub)

	s.jobs <- sub
	queued = true
	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", sub.ID),
		zap.String("challenge_id", sub.ChallengeID),
		zap.String("language", string(sub.Language)),
	)
	return sub.ID, nil
}

// Cancel stops a pending or running submission. A running judgement ends as
// cancelled once its scratch directory is gone.
func (s *Service) Cancel(ctx context.Context, submissionID string) error {
	s.runMu.Lock()
	e, ok := s.running[submissionID]
	s.runMu.Unlock()
	if ok {
		s.stopRun(ctx, submissionID, e)
		return nil
	}

	sub, err := s.store.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Status.Terminal() {
		return appErr.New(appErr.SubmissionFinalized).WithDetail("submission_id", submissionID)
	}
	if sub.Status == model.StatusRunning {
		// Running on another replica or between MarkRunning and registration.
		return appErr.New(appErr.Conflict).WithMessage("submission is running elsewhere")
	}
	sub.Status = model.StatusCancelled
	sub.ErrorKind = result.KindCancelled
	sub.FinishedAt = s.now().UTC()
	applied, err := s.store.Finish(ctx, sub)
	if err != nil {
		return err
	}
	if !applied {
		return appErr.New(appErr.SubmissionFinalized).WithDetail("submission_id", submissionID)
	}
	s.afterFinish(ctx, sub)
	return nil
}

// CancelCompetition stops every judgement of competitionID running on this
// replica and returns how many were signalled. Pending submissions of the
// competition are left to the workers, which skip recording them once the
// competition is over.
func (s *Service) CancelCompetition(ctx context.Context, competitionID string) int {
	if competitionID == "" {
		return 0
	}
	targets := make(map[string]runEntry)
	s.runMu.Lock()
	for id, e := range s.running {
		if e.competitionID == competitionID {
			targets[id] = e
		}
	}
	s.runMu.Unlock()
	for id, e := range targets {
		s.stopRun(ctx, id, e)
	}
	if len(targets) > 0 {
		logger.Info(ctx, "competition judgements cancelled",
			zap.String("competition_id", competitionID), zap.Int("count", len(targets)))
	}
	return len(targets)
}

func (s *Service) stopRun(ctx context.Context, submissionID string, e runEntry) {
	e.cancel()
	if err := s.executor.Kill(ctx, submissionID); err != nil {
		logger.Warn(ctx, "kill submission failed", zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (s *Service) tryAcquireSlot() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

type runEntry struct {
	cancel        context.CancelFunc
	competitionID string
}

func (s *Service) register(sub *model.Submission, cancel context.CancelFunc) {
	s.runMu.Lock()
	s.running[sub.ID] = runEntry{cancel: cancel, competitionID: sub.CompetitionID}
	s.runMu.Unlock()
}

func (s *Service) unregister(id string) {
	s.runMu.Lock()
	delete(s.running, id)
	s.runMu.Unlock()
}

func (s *Service) getChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	ctxRPC := ctx
	if s.challengeTimeout > 0 {
		var cancel context.CancelFunc
		ctxRPC, cancel = context.WithTimeout(ctx, s.challengeTimeout)
		defer cancel()
	}
	return s.challenges.GetChallenge(ctxRPC, id)
}
