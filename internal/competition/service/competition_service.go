// Package service runs the competition lifecycle.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codearena/internal/competition"
	"codearena/internal/competition/repository"
	"codearena/internal/feed"
	"codearena/internal/judge/challenge"
	"codearena/internal/judge/model"
	"codearena/internal/leaderboard"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
	"codearena/pkg/utils/logger"
)

const (
	defaultMaxParticipants  = 10
	defaultTimeLimitMinutes = 60
	defaultUpdateRetries    = 5
	minActiveToStart        = 2
)

// JudgeCanceller stops in-flight judgements once a competition is over.
type JudgeCanceller interface {
	CancelCompetition(ctx context.Context, competitionID string) int
}

// JudgeCancellerFunc adapts a function to JudgeCanceller.
type JudgeCancellerFunc func(ctx context.Context, competitionID string) int

func (f JudgeCancellerFunc) CancelCompetition(ctx context.Context, competitionID string) int {
	return f(ctx, competitionID)
}

// Config holds service dependencies and settings.
type Config struct {
	Store repository.Store

	// Optional collaborators.
	Feed       feed.Publisher
	Judge      JudgeCanceller
	Challenges challenge.Source

	DefaultMaxParticipants  int
	DefaultTimeLimitMinutes int
	// UpdateRetries bounds version conflicts absorbed per operation.
	UpdateRetries int
	EventTimeout  time.Duration

	Now func() time.Time
}

// Service owns competition state transitions. Every mutation runs under a
// per-competition lock and is stored with a version compare-and-set, so
// replicas sharing the Redis store stay consistent.
type Service struct {
	store      repository.Store
	feed       feed.Publisher
	judge      JudgeCanceller
	challenges challenge.Source

	maxParticipants  int
	timeLimitMinutes int
	retries          int
	eventTimeout     time.Duration
	now              func() time.Time

	locks *keyedMutex
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("competition store is required")
	}
	s := &Service{
		store:            cfg.Store,
		feed:             cfg.Feed,
		judge:            cfg.Judge,
		challenges:       cfg.Challenges,
		maxParticipants:  cfg.DefaultMaxParticipants,
		timeLimitMinutes: cfg.DefaultTimeLimitMinutes,
		retries:          cfg.UpdateRetries,
		eventTimeout:     cfg.EventTimeout,
		now:              cfg.Now,
		locks:            newKeyedMutex(),
	}
	if s.feed == nil {
		s.feed = feed.Nop{}
	}
	if s.maxParticipants < minActiveToStart {
		s.maxParticipants = defaultMaxParticipants
	}
	if s.timeLimitMinutes <= 0 {
		s.timeLimitMinutes = defaultTimeLimitMinutes
	}
	if s.retries <= 0 {
		s.retries = defaultUpdateRetries
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CreateRequest describes a new competition. The creator joins as an active
// participant; invitees start as invited.
type CreateRequest struct {
	CreatorID          string
	ChallengeID        string
	MaxParticipants    int
	TimeLimitMinutes   int
	ScheduledStartTime *time.Time
	Invitees           []string
}

// Create registers a pending competition.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*competition.Competition, error) {
	if req.CreatorID == "" {
		return nil, appErr.ValidationError("creator_id", "required")
	}
	if req.ChallengeID == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = s.maxParticipants
	}
	if maxParticipants < minActiveToStart {
		return nil, appErr.ValidationError("max_participants", fmt.Sprintf("must be at least %d", minActiveToStart))
	}
	timeLimit := req.TimeLimitMinutes
	if timeLimit == 0 {
		timeLimit = s.timeLimitMinutes
	}
	if timeLimit < 0 {
		return nil, appErr.ValidationError("time_limit_minutes", "must be positive")
	}
	now := s.now().UTC()
	if req.ScheduledStartTime != nil && !req.ScheduledStartTime.After(now) {
		return nil, appErr.ValidationError("scheduled_start_time", "must be in the future")
	}
	if s.challenges != nil {
		if _, err := s.challenges.GetChallenge(ctx, req.ChallengeID); err != nil {
			return nil, err
		}
	}

	c := &competition.Competition{
		ID:               uuid.NewString(),
		ChallengeID:      req.ChallengeID,
		CreatorID:        req.CreatorID,
		Status:           competition.StatusPending,
		MaxParticipants:  maxParticipants,
		TimeLimitMinutes: timeLimit,
		CreatedAt:        now,
		Participants: []competition.Participant{{
			UserID:   req.CreatorID,
			Status:   competition.ParticipantActive,
			JoinedAt: &now,
		}},
	}
	if req.ScheduledStartTime != nil {
		t := req.ScheduledStartTime.UTC()
		c.ScheduledStartTime = &t
	}
	for _, userID := range req.Invitees {
		if userID == "" {
			continue
		}
		if _, ok := c.Participant(userID); ok {
			continue
		}
		if len(c.Participants) >= maxParticipants {
			return nil, appErr.New(appErr.CompetitionFull).WithDetail("max_participants", maxParticipants)
		}
		c.Participants = append(c.Participants, competition.Participant{UserID: userID, Status: competition.ParticipantInvited})
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, appErr.Wrapf(err, appErr.CompetitionCreateFailed, "store competition failed")
	}
	logger.Info(ctx, "competition created",
		zap.String("competition_id", c.ID),
		zap.String("challenge_id", c.ChallengeID),
		zap.Int("invitees", len(c.Participants)-1),
	)
	s.emit(ctx, feed.ParticipantJoined(c.ID, c.CreatorID, now))
	return c, nil
}

// Get returns a competition snapshot.
func (s *Service) Get(ctx context.Context, id string) (*competition.Competition, error) {
	return s.store.Get(ctx, id)
}

// Leaderboard ranks the competition's participants for view.
func (s *Service) Leaderboard(ctx context.Context, id string, view leaderboard.View) ([]leaderboard.Ranking, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return standings(c, view), nil
}

// Invite adds userID as invited. Only the creator invites, and only while
// registration is open.
func (s *Service) Invite(ctx context.Context, id, actorID, userID string) (*competition.Competition, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	return s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if actorID != c.CreatorID {
			return false, nil, appErr.New(appErr.CompetitionAccessDenied).WithMessage("only the creator can invite")
		}
		if c.Status != competition.StatusPending {
			return false, nil, invalidState(c, "invite")
		}
		if _, ok := c.Participant(userID); ok {
			return false, nil, appErr.New(appErr.AlreadyRegistered).WithDetail("user_id", userID)
		}
		if len(c.Participants) >= c.MaxParticipants {
			return false, nil, appErr.New(appErr.CompetitionFull).WithDetail("max_participants", c.MaxParticipants)
		}
		c.Participants = append(c.Participants, competition.Participant{UserID: userID, Status: competition.ParticipantInvited})
		return true, nil, nil
	})
}

// Respond accepts or declines a pending invitation.
func (s *Service) Respond(ctx context.Context, id, userID string, accept bool) (*competition.Competition, error) {
	return s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if c.Status != competition.StatusPending {
			return false, nil, invalidState(c, "respond")
		}
		p, ok := c.Participant(userID)
		if !ok || p.Status != competition.ParticipantInvited {
			return false, nil, appErr.New(appErr.InvitationMissing).WithDetail("user_id", userID)
		}
		if accept {
			p.Status = competition.ParticipantAccepted
		} else {
			p.Status = competition.ParticipantDeclined
		}
		return true, nil, nil
	})
}

// Join enters userID as an active participant. Invited, accepted and
// declined users take their existing roster slot; others need free capacity.
func (s *Service) Join(ctx context.Context, id, userID string) (*competition.Competition, error) {
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}
	return s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if c.Status != competition.StatusPending {
			return false, nil, invalidState(c, "join")
		}
		p, ok := c.Participant(userID)
		switch {
		case ok && p.Status == competition.ParticipantActive:
			return false, nil, appErr.New(appErr.AlreadyRegistered).WithDetail("user_id", userID)
		case ok:
			p.Status = competition.ParticipantActive
			p.JoinedAt = &now
		case len(c.Participants) >= c.MaxParticipants:
			return false, nil, appErr.New(appErr.CompetitionFull).WithDetail("max_participants", c.MaxParticipants)
		default:
			c.Participants = append(c.Participants, competition.Participant{
				UserID:   userID,
				Status:   competition.ParticipantActive,
				JoinedAt: &now,
			})
		}
		return true, []feed.Event{feed.ParticipantJoined(c.ID, userID, now)}, nil
	})
}

// Start moves a pending competition to active. actorID "" is the scheduler;
// anyone else must be the creator.
func (s *Service) Start(ctx context.Context, id, actorID string) (*competition.Competition, error) {
	return s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if actorID != "" && actorID != c.CreatorID {
			return false, nil, appErr.New(appErr.CompetitionAccessDenied).WithMessage("only the creator can start")
		}
		if c.Status != competition.StatusPending {
			return false, nil, invalidState(c, "start")
		}
		if c.ActiveCount() < minActiveToStart {
			return false, nil, appErr.New(appErr.CompetitionNotEnoughJoin).WithDetail("active", c.ActiveCount())
		}
		c.Status = competition.StatusActive
		c.ActualStartTime = &now
		return true, []feed.Event{feed.CompetitionStarted(c.ID, now)}, nil
	})
}

// AdmitSubmission checks that userID may submit to the competition now.
func (s *Service) AdmitSubmission(ctx context.Context, id, userID, challengeID string) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case c.Status == competition.StatusPending:
		return appErr.New(appErr.CompetitionNotStarted).WithDetail("competition_id", id)
	case c.Status.Terminal():
		return appErr.New(appErr.CompetitionEnded).WithDetail("competition_id", id)
	}
	if d := c.Deadline(); d != nil && !s.now().Before(*d) {
		return appErr.New(appErr.CompetitionEnded).WithDetail("competition_id", id)
	}
	if challengeID != c.ChallengeID {
		return appErr.New(appErr.InvalidParams).WithMessage("challenge does not belong to the competition")
	}
	p, ok := c.Participant(userID)
	if !ok || p.Status != competition.ParticipantActive {
		return appErr.New(appErr.NotRegistered).WithDetail("user_id", userID)
	}
	if p.Submitted {
		return appErr.New(appErr.CompetitionInvalidState).WithMessage("participant already submitted")
	}
	return nil
}

// RecordSubmission folds a finished judgement into the participant's best
// score. The update is max(current, new); on equal scores the earlier
// submission time wins, so arrival order never matters. Submissions made
// after the deadline or outside an active competition are ignored.
func (s *Service) RecordSubmission(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.CompetitionID == "" {
		return appErr.ValidationError("competition_id", "required")
	}
	_, err := s.mutate(ctx, sub.CompetitionID, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if c.Status != competition.StatusActive {
			logger.Debug(ctx, "submission outside active competition ignored",
				zap.String("competition_id", c.ID), zap.String("submission_id", sub.ID))
			return false, nil, nil
		}
		if d := c.Deadline(); d != nil && !sub.SubmittedAt.Before(*d) {
			logger.Debug(ctx, "submission after deadline ignored",
				zap.String("competition_id", c.ID), zap.String("submission_id", sub.ID))
			return false, nil, nil
		}
		p, ok := c.Participant(sub.UserID)
		if !ok || p.Status != competition.ParticipantActive {
			return false, nil, nil
		}
		changed := improves(p, sub.Score, sub.SubmittedAt)
		if changed {
			at := sub.SubmittedAt.UTC()
			p.Score = sub.Score
			p.SubmissionTime = &at
			p.BestSubmissionID = sub.ID
		}
		ev := feed.SubmissionUpdate(c.ID, p.UserID, p.Score, string(sub.Status), now)
		return changed, []feed.Event{ev}, nil
	})
	return err
}

// MarkSubmitted records that userID is done. The competition completes once
// every active participant has submitted.
func (s *Service) MarkSubmitted(ctx context.Context, id, userID string) (*competition.Competition, error) {
	c, err := s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if c.Status != competition.StatusActive {
			return false, nil, invalidState(c, "submit")
		}
		p, ok := c.Participant(userID)
		if !ok || p.Status != competition.ParticipantActive {
			return false, nil, appErr.New(appErr.NotRegistered).WithDetail("user_id", userID)
		}
		if p.Submitted {
			return false, nil, nil
		}
		p.Submitted = true
		if !c.AllSubmitted() {
			return true, nil, nil
		}
		return true, complete(c, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.afterEnd(ctx, c)
	return c, nil
}

// Complete ends an active competition. actorID "" is the scheduler. Calling
// it on a completed competition returns the stored result unchanged.
func (s *Service) Complete(ctx context.Context, id, actorID string) (*competition.Competition, error) {
	c, err := s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if actorID != "" && actorID != c.CreatorID {
			return false, nil, appErr.New(appErr.CompetitionAccessDenied).WithMessage("only the creator can end")
		}
		switch c.Status {
		case competition.StatusCompleted:
			return false, nil, nil
		case competition.StatusActive:
			return true, complete(c, now), nil
		default:
			return false, nil, invalidState(c, "complete")
		}
	})
	if err != nil {
		return nil, err
	}
	s.afterEnd(ctx, c)
	return c, nil
}

// Cancel aborts a pending or active competition. No winner is declared.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*competition.Competition, error) {
	c, err := s.mutate(ctx, id, func(c *competition.Competition, now time.Time) (bool, []feed.Event, error) {
		if actorID != c.CreatorID {
			return false, nil, appErr.New(appErr.CompetitionAccessDenied).WithMessage("only the creator can cancel")
		}
		switch c.Status {
		case competition.StatusCancelled:
			return false, nil, nil
		case competition.StatusCompleted:
			return false, nil, invalidState(c, "cancel")
		}
		c.Status = competition.StatusCancelled
		return true, []feed.Event{feed.CompetitionEnded(c.ID, "", now)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.afterEnd(ctx, c)
	return c, nil
}

// Tick starts competitions whose scheduled start has passed and completes
// those past their deadline. Per-competition failures are logged.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list open competitions failed")
	}
	for _, c := range open {
		switch c.Status {
		case competition.StatusPending:
			if c.ScheduledStartTime == nil || now.Before(*c.ScheduledStartTime) {
				continue
			}
			if _, err := s.Start(ctx, c.ID, ""); err != nil {
				// Not enough participants yet; retried on the next tick.
				logger.Debug(ctx, "scheduled start deferred", zap.String("competition_id", c.ID), zap.Error(err))
			}
		case competition.StatusActive:
			if d := c.Deadline(); d == nil || now.Before(*d) {
				continue
			}
			if _, err := s.Complete(ctx, c.ID, ""); err != nil {
				logger.Warn(ctx, "deadline completion failed", zap.String("competition_id", c.ID), zap.Error(err))
			}
		}
	}
	return nil
}

type mutation func(c *competition.Competition, now time.Time) (changed bool, events []feed.Event, err error)

// mutate applies fn to the latest stored competition and writes it back.
// Version conflicts from other replicas re-run fn on a fresh read.
func (s *Service) mutate(ctx context.Context, id string, fn mutation) (*competition.Competition, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 0; attempt < s.retries; attempt++ {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, events, err := fn(c, s.now().UTC())
		if err != nil {
			return nil, err
		}
		if changed {
			err := s.store.Update(ctx, c)
			if pkgrepo.IsConflictError(err) {
				logger.Debug(ctx, "competition version conflict", zap.String("competition_id", id), zap.Int("attempt", attempt+1))
				continue
			}
			if err != nil {
				return nil, appErr.Wrapf(err, appErr.DatabaseError, "update competition failed")
			}
		}
		for _, ev := range events {
			s.emit(ctx, ev)
		}
		return c, nil
	}
	return nil, appErr.New(appErr.Conflict).WithMessage("competition is being updated concurrently")
}

// afterEnd stops judgements that can no longer count.
func (s *Service) afterEnd(ctx context.Context, c *competition.Competition) {
	if s.judge == nil || !c.Status.Terminal() {
		return
	}
	s.judge.CancelCompetition(ctx, c.ID)
}

func (s *Service) emit(ctx context.Context, ev feed.Event) {
	ctxPub := context.WithoutCancel(ctx)
	if s.eventTimeout > 0 {
		var cancel context.CancelFunc
		ctxPub, cancel = context.WithTimeout(ctxPub, s.eventTimeout)
		defer cancel()
	}
	if err := s.feed.Publish(ctxPub, ev); err != nil {
		logger.Warn(ctx, "publish feed event failed",
			zap.String("competition_id", ev.CompetitionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// complete freezes an active competition and returns its end event.
func complete(c *competition.Competition, now time.Time) []feed.Event {
	c.Status = competition.StatusCompleted
	c.ActualEndTime = &now
	recompute(c)
	return []feed.Event{feed.CompetitionEnded(c.ID, c.WinnerID, now)}
}

// recompute derives the stored ranking outcome. The winner is fixed the first
// time the competition is seen completed and never rewritten.
func recompute(c *competition.Competition) {
	if c.Status != competition.StatusCompleted || c.WinnerID != "" {
		return
	}
	c.WinnerID = leaderboard.Winner(c.Participants, c.ActualStartTime)
}

func standings(c *competition.Competition, view leaderboard.View) []leaderboard.Ranking {
	return leaderboard.Rank(c.Participants, view, c.ActualStartTime)
}

func improves(p *competition.Participant, score int, at time.Time) bool {
	if score > p.Score {
		return true
	}
	if score < p.Score || score == 0 {
		return false
	}
	return p.SubmissionTime == nil || at.Before(*p.SubmissionTime)
}

func invalidState(c *competition.Competition, op string) error {
	return appErr.Newf(appErr.CompetitionInvalidState, "cannot %s a %s competition", op, c.Status)
}
