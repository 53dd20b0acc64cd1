// Package repository persists competitions behind one storage port.
package repository

import (
	"context"

	"codearena/internal/competition"
)

// Store is the competition storage port. Update is a compare-and-set on
// Version: it fails with pkg/repository.ErrConflict when the stored version
// differs from c.Version, and bumps c.Version on success.
type Store interface {
	Create(ctx context.Context, c *competition.Competition) error
	Get(ctx context.Context, id string) (*competition.Competition, error)
	Update(ctx context.Context, c *competition.Competition) error
	// ListOpen returns every pending or active competition.
	ListOpen(ctx context.Context) ([]*competition.Competition, error)
}
