package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// GetWithCached implements cache-aside: a hit is decoded with unmarshal, a
// miss or undecodable entry calls fn and stores the marshalled result.
// Cache failures never fail the read. An empty marshal result is not stored.
func GetWithCached[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
		if result, err := unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if encoded := marshal(data); encoded != "" {
		_ = cache.Set(ctx, key, encoded, ttl)
	}
	return data, nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not
// expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
