// Package challenge loads the judging view of challenges from the system
// that owns them.
package challenge

import (
	"context"

	"codearena/internal/judge/model"
)

// Source resolves a challenge by id. Implementations return an error with
// code ChallengeNotFound for unknown ids.
type Source interface {
	GetChallenge(ctx context.Context, id string) (*model.Challenge, error)
}
