package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/udisondev/tilegrid/internal/config"
	"github.com/udisondev/tilegrid/internal/grid"
	"github.com/udisondev/tilegrid/internal/partition"
)

// ownerStore persists ownership maps between runs.
type ownerStore interface {
	Save(ctx context.Context, s grid.OwnerSnapshot) error
	Latest(ctx context.Context, nx, ny int) (*grid.OwnerSnapshot, error)
}

// rankSummary is what one rank ends up holding after a run.
type rankSummary struct {
	MapVersion int64
	Local      int
	Boundary   int
	Virtual    int
}

// runRank drives one rank through a full cycle: the coordinator decides the
// ownership map, every rank receives it, builds the tiles it owns and
// exchanges boundary tiles with its neighbours. store may be nil.
func runRank(ctx context.Context, cfg config.Node, comm grid.Communicator, store ownerStore) (rankSummary, error) {
	node, err := grid.NewNode(cfg.Grid.Nx, cfg.Grid.Ny, comm)
	if err != nil {
		return rankSummary{}, fmt.Errorf("creating grid node: %w", err)
	}
	if err := node.SetExtents(cfg.Grid.Xmin, cfg.Grid.Xmax, cfg.Grid.Ymin, cfg.Grid.Ymax); err != nil {
		return rankSummary{}, fmt.Errorf("setting grid extents: %w", err)
	}

	if node.IsCoordinator() {
		if err := populate(ctx, node, cfg.Grid.Policy, store); err != nil {
			return rankSummary{}, err
		}
	}

	if err := node.BroadcastOwnerMap(ctx); err != nil {
		return rankSummary{}, err
	}
	slog.Info("owner map ready", "rank", node.Rank(), "version", node.OwnerMapVersion())

	if err := buildOwnedTiles(node); err != nil {
		return rankSummary{}, err
	}

	if err := node.AnalyzeBoundaries(); err != nil {
		return rankSummary{}, err
	}
	if err := node.SendTiles(ctx); err != nil {
		return rankSummary{}, fmt.Errorf("exchanging boundary tiles: %w", err)
	}
	node.ClearSendQueue()
	if _, err := node.RecvTiles(ctx); err != nil {
		return rankSummary{}, fmt.Errorf("exchanging boundary tiles: %w", err)
	}

	return rankSummary{
		MapVersion: node.OwnerMapVersion(),
		Local:      len(node.LocalTileIDs(false)),
		Boundary:   len(node.BoundaryTileIDs(false)),
		Virtual:    len(node.VirtualTileIDs(false)),
	}, nil
}

// populate fills the coordinator's map from the latest stored snapshot, or
// from the configured policy when there is none or it no longer fits.
// A restored map keeps its stored version; a policy map replacing a stored
// one gets the next version, so saved versions keep increasing across runs.
func populate(ctx context.Context, node *grid.Node, policy string, store ownerStore) error {
	var stored *grid.OwnerSnapshot
	if store != nil {
		snap, err := store.Latest(ctx, node.Nx(), node.Ny())
		if err != nil {
			return fmt.Errorf("loading stored owner map: %w", err)
		}
		if snap != nil {
			err := node.PopulateOwnerMapVersion(snap.Assignment(), snap.Version)
			if err == nil {
				slog.Info("owner map restored", "stored_version", snap.Version)
				return nil
			}
			slog.Warn("stored owner map rejected, using policy", "stored_version", snap.Version, "error", err)
			stored = snap
		}
	}

	a, err := partition.ByName(policy, node.Nx(), node.Ny(), node.Size())
	if err != nil {
		return fmt.Errorf("partitioning grid: %w", err)
	}
	if stored != nil {
		err = node.PopulateOwnerMapVersion(a, stored.Version+1)
	} else {
		err = node.PopulateOwnerMap(a)
	}
	if err != nil {
		return fmt.Errorf("populating owner map: %w", err)
	}
	slog.Info("owner map populated", "policy", policy, "version", node.OwnerMapVersion())

	if store == nil {
		return nil
	}
	snap, err := node.OwnerSnapshot()
	if err != nil {
		return err
	}
	if err := store.Save(ctx, snap); err != nil {
		return fmt.Errorf("saving owner map: %w", err)
	}
	return nil
}

// buildOwnedTiles registers a tile for every cell the map assigns to this rank.
func buildOwnedTiles(node *grid.Node) error {
	for j := range node.Ny() {
		for i := range node.Nx() {
			owner, err := node.Owner(i, j)
			if err != nil {
				return err
			}
			if owner != node.Rank() {
				continue
			}

			mins, maxs, err := node.TileBounds(i, j)
			if err != nil {
				return err
			}
			tile := grid.NewTileAt(i, j)
			tile.SetMins(mins)
			tile.SetMaxs(maxs)
			if err := node.AddTile(tile, grid.Index{I: i, J: j}); err != nil {
				return err
			}
		}
	}
	return nil
}
