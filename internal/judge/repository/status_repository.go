package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository caches the verdict read model in Redis. The submission
// store stays the source of truth; a miss here is never authoritative.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns the cached submission or NotFound.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if r == nil || r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return nil, appErr.New(appErr.NotFound).WithMessage("submission status not cached")
	}
	var sub model.Submission
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return &sub, nil
}

// Save stores the submission snapshot.
func (r *StatusRepository) Save(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r == nil || r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+sub.ID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
