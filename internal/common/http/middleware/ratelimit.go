package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"codearena/internal/common/cache"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/response"
)

// RateLimiter enforces fixed-window counters in Redis.
type RateLimiter struct {
	cache        cache.BasicOps
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, redisTimeout time.Duration) *RateLimiter {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimiter{cache: cacheClient, redisTimeout: redisTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests past max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l == nil || l.cache == nil || max <= 0 || window <= 0 {
		return nil
	}
	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// INCR on a key that lost its expiry would count forever.
		if ttl, ttlErr := l.cache.TTL(ctxCache, key); ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded, retry within %s", window))
	}
	return nil
}

// RateLimitPolicy bounds hits per window on one route.
type RateLimitPolicy struct {
	Window  time.Duration `yaml:"window"`
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
}

// RateLimitMiddleware applies policy to routeKey. Place it after
// AuthMiddleware so the user counter sees the caller.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("arena:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window); err != nil {
				abortWithError(c, err)
				return
			}
		}
		if userID := UserID(c); policy.UserMax > 0 && userID != "" {
			key := fmt.Sprintf("arena:rate:user:%s:%s", userID, routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.UserMax, policy.Window); err != nil {
				abortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
