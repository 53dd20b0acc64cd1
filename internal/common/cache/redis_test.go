package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func TestRedisCacheBasicOps(t *testing.T) {
	t.Parallel()
	c, mr := newTestCache(t)
	ctx := context.Background()

	if v, err := c.Get(ctx, "missing"); err != nil || v != "" {
		t.Fatalf("expected empty miss, got %q %v", v, err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := c.SetNX(ctx, "k", "other", time.Minute); err != nil || ok {
		t.Fatalf("expected SetNX to keep the existing value, got %v %v", ok, err)
	}
	if v, _ := c.Get(ctx, "k"); v != "v" {
		t.Fatalf("expected v, got %q", v)
	}
	mr.FastForward(2 * time.Minute)
	if n, _ := c.Exists(ctx, "k"); n != 0 {
		t.Fatalf("expected key to expire")
	}

	if err := c.SAdd(ctx, "s", "a", "b"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := c.SRem(ctx, "s", "a"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	members, err := c.SMembers(ctx, "s")
	if err != nil || len(members) != 1 || members[0] != "b" {
		t.Fatalf("unexpected members %v %v", members, err)
	}
}

func TestRedisCacheLockOwnership(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()

	if ok, err := c.TryLock(ctx, "lock", "a", time.Second); err != nil || !ok {
		t.Fatalf("expected lock acquired, got %v %v", ok, err)
	}
	if ok, _ := c.TryLock(ctx, "lock", "b", time.Second); ok {
		t.Fatalf("expected second owner to be refused")
	}
	if err := c.Unlock(ctx, "lock", "b"); err != nil {
		t.Fatalf("unlock by non-owner: %v", err)
	}
	if v, _ := c.Get(ctx, "lock"); v != "a" {
		t.Fatalf("expected lock still held by a, got %q", v)
	}
	if err := c.Unlock(ctx, "lock", "a"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := c.TryLock(ctx, "lock", "b", time.Second); !ok {
		t.Fatalf("expected lock free after release")
	}
}

func TestGetWithCached(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "fresh", nil
	}
	identity := func(s string) string { return s }
	parse := func(s string) (string, error) { return s, nil }

	for i := 0; i < 2; i++ {
		got, err := GetWithCached(ctx, c, "key", time.Minute, identity, parse, fetch)
		if err != nil || got != "fresh" {
			t.Fatalf("unexpected result %q %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	boom := errors.New("boom")
	_, err := GetWithCached(ctx, c, "other", time.Minute, identity, parse, func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestJitterTTL(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		got := JitterTTL(time.Minute)
		if got > time.Minute || got < 54*time.Second {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if JitterTTL(0) != 0 {
		t.Fatalf("expected zero ttl unchanged")
	}
}
