package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/tilegrid/internal/grid"
)

// OwnerMapRepository stores ownership map snapshots.
type OwnerMapRepository struct {
	pool *pgxpool.Pool
}

// NewOwnerMapRepository creates a new owner map repository
func NewOwnerMapRepository(pool *pgxpool.Pool) *OwnerMapRepository {
	return &OwnerMapRepository{pool: pool}
}

// Save appends a snapshot. Snapshots are never updated in place.
func (r *OwnerMapRepository) Save(ctx context.Context, s grid.OwnerSnapshot) error {
	if len(s.Owners) != s.Nx*s.Ny {
		return fmt.Errorf("saving owner map %dx%d with %d owners: %w",
			s.Nx, s.Ny, len(s.Owners), grid.ErrIncompleteAssignment)
	}

	owners := make([]int32, len(s.Owners))
	for k, rank := range s.Owners {
		owners[k] = int32(rank)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO owner_maps (version, nx, ny, owners) VALUES ($1, $2, $3, $4)`,
		s.Version, s.Nx, s.Ny, owners,
	)
	if err != nil {
		return fmt.Errorf("saving owner map version %d: %w", s.Version, err)
	}

	slog.Debug("owner map saved", "version", s.Version, "nx", s.Nx, "ny", s.Ny)
	return nil
}

// Latest returns the most recently saved snapshot for an nx×ny grid.
// Returns nil, nil if none exists.
func (r *OwnerMapRepository) Latest(ctx context.Context, nx, ny int) (*grid.OwnerSnapshot, error) {
	var (
		version int64
		owners  []int32
	)
	err := r.pool.QueryRow(ctx,
		`SELECT version, owners FROM owner_maps
		 WHERE nx = $1 AND ny = $2
		 ORDER BY id DESC LIMIT 1`, nx, ny,
	).Scan(&version, &owners)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading latest owner map %dx%d: %w", nx, ny, err)
	}

	s := &grid.OwnerSnapshot{
		Version: version,
		Nx:      nx,
		Ny:      ny,
		Owners:  make([]int, len(owners)),
	}
	for k, rank := range owners {
		s.Owners[k] = int(rank)
	}
	return s, nil
}
