package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface shared by the judge and competition layers.
type Cache interface {
	BasicOps
	SetOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" and no error for a missing key
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; a zero ttl never expires
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// SetOps defines unordered set operations
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// LockOps defines best-effort lease locks
type LockOps interface {
	// TryLock acquires key for ttl with owner as the lease token
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Unlock releases key only while owner still holds it
	Unlock(ctx context.Context, key, owner string) error
}
