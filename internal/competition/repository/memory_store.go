package repository

import (
	"context"
	"sort"
	"sync"

	"codearena/internal/competition"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

// MemoryStore keeps competitions in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*competition.Competition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*competition.Competition)}
}

func (s *MemoryStore) Create(ctx context.Context, c *competition.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c.ID]; ok {
		return pkgrepo.ErrAlreadyExists
	}
	c.Version = 1
	s.items[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*competition.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok {
		return nil, appErr.New(appErr.CompetitionNotFound).WithDetail("competition_id", id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, c *competition.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[c.ID]
	if !ok {
		return appErr.New(appErr.CompetitionNotFound).WithDetail("competition_id", c.ID)
	}
	if cur.Version != c.Version {
		return pkgrepo.ErrConflict
	}
	c.Version++
	s.items[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) ListOpen(ctx context.Context) ([]*competition.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*competition.Competition, 0)
	for _, c := range s.items {
		if !c.Status.Terminal() {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
