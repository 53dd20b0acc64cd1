package challenge

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"codearena/internal/common/cache"
	"codearena/internal/judge/model"
	"codearena/pkg/utils/logger"
)

const cacheKeyPrefix = "judge:challenge:"

// CachedSource keeps fetched challenges in a shared cache.
type CachedSource struct {
	next  Source
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedSource wraps next. A nil cache disables caching.
func NewCachedSource(next Source, c cache.Cache, ttl time.Duration) Source {
	if c == nil || ttl <= 0 {
		return next
	}
	return &CachedSource{next: next, cache: c, ttl: ttl}
}

// GetChallenge implements Source.
func (s *CachedSource) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	return cache.GetWithCached(ctx, s.cache, cacheKeyPrefix+id, cache.JitterTTL(s.ttl),
		func(c *model.Challenge) string {
			data, err := json.Marshal(c)
			if err != nil {
				logger.Warn(ctx, "encode challenge for cache failed", zap.String("challenge_id", id), zap.Error(err))
				return ""
			}
			return string(data)
		},
		func(data string) (*model.Challenge, error) {
			var c model.Challenge
			if err := json.Unmarshal([]byte(data), &c); err != nil {
				return nil, err
			}
			return &c, nil
		},
		func(ctx context.Context) (*model.Challenge, error) {
			return s.next.GetChallenge(ctx, id)
		},
	)
}
