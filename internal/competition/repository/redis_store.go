package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"codearena/internal/competition"
	appErr "codearena/pkg/errors"
	pkgrepo "codearena/pkg/repository"
)

const (
	competitionKeyPrefix = "competition:"
	openSetKey           = "competition:open"
	maxWatchRetries      = 3
)

// RedisStore keeps each competition as one JSON value. Updates run in
// WATCH/MULTI so the version check and the write are atomic.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(id string) string { return competitionKeyPrefix + id }

func (s *RedisStore) Create(ctx context.Context, c *competition.Competition) error {
	c.Version = 1
	data, err := json.Marshal(c)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode competition failed")
	}
	ok, err := s.client.SetNX(ctx, key(c.ID), data, 0).Result()
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store competition failed")
	}
	if !ok {
		return pkgrepo.ErrAlreadyExists
	}
	if err := s.client.SAdd(ctx, openSetKey, c.ID).Err(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "index competition failed")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*competition.Competition, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, appErr.New(appErr.CompetitionNotFound).WithDetail("competition_id", id)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load competition failed")
	}
	return decode(data)
}

func (s *RedisStore) Update(ctx context.Context, c *competition.Competition) error {
	k := key(c.ID)
	expected := c.Version
	next := c.Clone()
	next.Version = expected + 1
	data, err := json.Marshal(next)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "encode competition failed")
	}

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return appErr.New(appErr.CompetitionNotFound).WithDetail("competition_id", c.ID)
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return pkgrepo.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			if next.Status.Terminal() {
				pipe.SRem(ctx, openSetKey, c.ID)
			} else {
				pipe.SAdd(ctx, openSetKey, c.ID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			// Someone wrote between WATCH and EXEC; re-read and re-check.
			continue
		}
		break
	}
	switch {
	case err == nil:
		c.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return pkgrepo.ErrConflict
	case errors.Is(err, pkgrepo.ErrConflict), appErr.Is(err, appErr.CompetitionNotFound):
		return err
	default:
		return appErr.Wrapf(err, appErr.CacheError, "update competition failed")
	}
}

func (s *RedisStore) ListOpen(ctx context.Context) ([]*competition.Competition, error) {
	ids, err := s.client.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list competitions failed")
	}
	sort.Strings(ids)
	out := make([]*competition.Competition, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if appErr.Is(err, appErr.CompetitionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

func decode(data []byte) (*competition.Competition, error) {
	var c competition.Competition
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode competition failed")
	}
	return &c, nil
}

var _ Store = (*RedisStore)(nil)
