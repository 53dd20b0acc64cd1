package repository

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"codearena/internal/common/cache"
	"codearena/internal/judge/lang"
	appErr "codearena/pkg/errors"
)

const idempotencyKeyPrefix = "judge:idem:"

// IntakeKey identifies a submission by content.
type IntakeKey struct {
	UserID        string
	ChallengeID   string
	CompetitionID string
	Language      lang.Language
	SourceCode    string
}

// Digest hashes the key fields with length prefixes so field boundaries
// cannot be shifted.
func (k IntakeKey) Digest() string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{k.UserID, k.ChallengeID, k.CompetitionID, string(k.Language), k.SourceCode} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyGuard remembers the first submission id per intake digest.
type IdempotencyGuard struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewIdempotencyGuard(c cache.Cache, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{cache: c, ttl: ttl}
}

// Claim records submissionID for key. When an identical submission was seen
// within the ttl it returns that id and false.
func (g *IdempotencyGuard) Claim(ctx context.Context, key IntakeKey, submissionID string) (string, bool, error) {
	if g == nil || g.cache == nil || g.ttl <= 0 {
		return submissionID, true, nil
	}
	redisKey := idempotencyKeyPrefix + key.Digest()
	ok, err := g.cache.SetNX(ctx, redisKey, submissionID, g.ttl)
	if err != nil {
		return "", false, appErr.Wrapf(err, appErr.CacheError, "claim idempotency key failed")
	}
	if ok {
		return submissionID, true, nil
	}
	existing, err := g.cache.Get(ctx, redisKey)
	if err != nil {
		return "", false, appErr.Wrapf(err, appErr.CacheError, "load idempotency key failed")
	}
	if existing == "" {
		// Expired between SetNX and Get.
		return submissionID, true, nil
	}
	return existing, false, nil
}

// Release forgets key, used when intake fails after a successful claim.
func (g *IdempotencyGuard) Release(ctx context.Context, key IntakeKey) error {
	if g == nil || g.cache == nil || g.ttl <= 0 {
		return nil
	}
	return g.cache.Del(ctx, idempotencyKeyPrefix+key.Digest())
}
