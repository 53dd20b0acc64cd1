package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

// MemoryStore keeps submissions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*model.Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*model.Submission)}
}

func (s *MemoryStore) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return appErr.New(appErr.Conflict).WithDetail("submission_id", sub.ID)
	}
	s.subs[sub.ID] = clone(sub)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
	}
	return clone(sub), nil
}

func (s *MemoryStore) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return false, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", id)
	}
	if sub.Status != model.StatusPending {
		return false, nil
	}
	sub.Status = model.StatusRunning
	sub.StartedAt = at
	return true, nil
}

func (s *MemoryStore) Finish(ctx context.Context, sub *model.Submission) (bool, error) {
	if sub == nil || !sub.Status.Terminal() {
		return false, appErr.New(appErr.InvalidParams).WithMessage("finish requires a terminal status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subs[sub.ID]
	if !ok {
		return false, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", sub.ID)
	}
	if cur.Status.Terminal() {
		return false, nil
	}
	s.subs[sub.ID] = clone(sub)
	return true, nil
}

func (s *MemoryStore) ListUnfinished(ctx context.Context) ([]*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Submission
	for _, sub := range s.subs {
		if !sub.Status.Terminal() {
			out = append(out, clone(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func clone(sub *model.Submission) *model.Submission {
	cp := *sub
	cp.Results = append([]model.TestCaseResult(nil), sub.Results...)
	return &cp
}

var _ SubmissionStore = (*MemoryStore)(nil)
