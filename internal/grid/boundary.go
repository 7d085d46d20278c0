package grid

import (
	"fmt"
	"log/slog"
	"slices"
)

// wrap folds a coordinate into [0, n) with periodic boundaries.
func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// Neighbors returns the 3×3 neighbourhood of idx, excluding idx itself.
// Both axes wrap periodically, so on very small grids the same cell may
// appear more than once.
func (n *Node) Neighbors(idx Index) []Index {
	out := make([]Index, 0, 8)
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			if di == 0 && dj == 0 {
				continue
			}
			out = append(out, Index{I: wrap(idx.I+di, n.nx), J: wrap(idx.J+dj, n.ny)})
		}
	}
	return out
}

// VirtualNeighborhood returns the owner rank of every neighbour of tile id
// that is not held locally by this rank. Neighbours the map assigns to this
// rank are skipped. Requires a broadcast ownership map.
func (n *Node) VirtualNeighborhood(id TileID) ([]int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.virtualNeighborhoodLocked(id)
}

func (n *Node) virtualNeighborhoodLocked(id TileID) ([]int, error) {
	t, ok := n.tiles[id]
	if !ok {
		return nil, fmt.Errorf("neighbourhood of tile %d: %w", id, ErrNotFound)
	}

	var owners []int
	for _, nb := range n.Neighbors(t.index) {
		nid := TileID(nb.J*n.nx + nb.I)
		if nt, ok := n.tiles[nid]; ok && nt.Communication.Local {
			continue
		}
		owner, err := n.ownerLocked(nb.I, nb.J)
		if err != nil {
			return nil, fmt.Errorf("neighbourhood of tile %d: %w", id, err)
		}
		if owner == n.rank {
			slog.Warn("neighbour mapped to this rank is not held locally",
				"rank", n.rank, "tile", id, "neighbour", nb, "map_version", n.owners.version)
			continue
		}
		owners = append(owners, owner)
	}
	return owners, nil
}

// AnalyzeBoundaries updates the halo counters of every local tile that has
// neighbours owned elsewhere and queues it for SendTiles.
//
// TopVirtualOwner is the most frequent neighbour owner; ties resolve to the
// smaller rank so every rank derives the same value.
func (n *Node) AnalyzeBoundaries() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]TileID, 0, len(n.tiles))
	for id, t := range n.tiles {
		if t.Communication.Local {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	for _, id := range ids {
		owners, err := n.virtualNeighborhoodLocked(id)
		if err != nil {
			return fmt.Errorf("analyzing boundaries: %w", err)
		}
		if len(owners) == 0 {
			continue
		}

		slices.Sort(owners)
		top, best := owners[0], 0
		for k := 0; k < len(owners); {
			run := k
			for run < len(owners) && owners[run] == owners[k] {
				run++
			}
			if run-k > best {
				top, best = owners[k], run-k
			}
			k = run
		}
		distinct := slices.Compact(slices.Clone(owners))

		cm := &n.tiles[id].Communication
		cm.TopVirtualOwner = top
		cm.Communications = len(distinct)
		cm.NumberOfVirtualNeighbors = len(owners)
		cm.VirtualOwners = distinct

		if !slices.Contains(n.sendQueue, id) {
			n.sendQueue = append(n.sendQueue, id)
		}
	}
	return nil
}

// SendQueue returns the ids queued for the next SendTiles, in queue order.
func (n *Node) SendQueue() []TileID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.sendQueue)
}

// ClearSendQueue empties the send queue. Call it only after SendTiles succeeded.
func (n *Node) ClearSendQueue() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendQueue = n.sendQueue[:0]
}
