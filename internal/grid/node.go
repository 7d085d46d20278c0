// Package grid implements a rectilinear 2D tile grid decomposed across ranks:
// global tile addressing, the replicated ownership map, the local tile
// registry and the tile transfer protocol.
package grid

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Coordinator is the rank that populates and broadcasts the ownership map.
const Coordinator = 0

// Communicator is the message-passing capability a Node runs on.
// Send returns once the transport accepted the payload; Receive blocks until
// a payload from src with the given tag arrives or ctx is done. Delivery is
// FIFO per (src, dest, tag). Broadcast is collective and returns root's
// payload on every rank.
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, dest, tag int, payload []byte) error
	Receive(ctx context.Context, src, tag int) ([]byte, error)
	Broadcast(ctx context.Context, root int, payload []byte) ([]byte, error)
}

// Node is one rank's view of the global grid.
type Node struct {
	nx, ny int
	rank   int
	size   int
	comm   Communicator

	mu         sync.RWMutex
	mins, maxs [2]float64
	hasExtents bool
	tiles      map[TileID]*Tile
	owners     ownerMap
	sendQueue  []TileID
}

// NewNode creates an nx×ny grid bound to comm. Rank and world size are taken
// from comm once and never change.
func NewNode(nx, ny int, comm Communicator) (*Node, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("grid dimensions %dx%d must be positive: %w", nx, ny, ErrOutOfRange)
	}
	if comm == nil {
		return nil, fmt.Errorf("creating node: nil communicator")
	}
	return &Node{
		nx:     nx,
		ny:     ny,
		rank:   comm.Rank(),
		size:   comm.Size(),
		comm:   comm,
		tiles:  make(map[TileID]*Tile),
		owners: newOwnerMap(nx, ny),
	}, nil
}

// Nx returns the number of cells along x.
func (n *Node) Nx() int { return n.nx }

// Ny returns the number of cells along y.
func (n *Node) Ny() int { return n.ny }

// Rank returns this process's rank.
func (n *Node) Rank() int { return n.rank }

// Size returns the number of ranks.
func (n *Node) Size() int { return n.size }

// IsCoordinator reports whether this rank populates the ownership map.
func (n *Node) IsCoordinator() bool { return n.rank == Coordinator }

// SetExtents sets the physical bounding box of the grid.
func (n *Node) SetExtents(xmin, xmax, ymin, ymax float64) error {
	if !(xmin < xmax) || !(ymin < ymax) {
		return fmt.Errorf("x [%g, %g], y [%g, %g]: %w", xmin, xmax, ymin, ymax, ErrInvalidExtent)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mins = [2]float64{xmin, ymin}
	n.maxs = [2]float64{xmax, ymax}
	n.hasExtents = true
	return nil
}

// Xmin returns the lower x extent.
func (n *Node) Xmin() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.mins[0]
}

// Xmax returns the upper x extent.
func (n *Node) Xmax() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxs[0]
}

// Ymin returns the lower y extent.
func (n *Node) Ymin() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.mins[1]
}

// Ymax returns the upper y extent.
func (n *Node) Ymax() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxs[1]
}

// CellID returns the tile id of cell (i, j).
func (n *Node) CellID(i, j int) (TileID, error) {
	return ToID(i, j, n.nx, n.ny)
}

// TileBounds returns the physical box of cell (i, j) assuming uniform spacing.
func (n *Node) TileBounds(i, j int) (mins, maxs [2]float64, err error) {
	if !IsValidIndex(i, j, n.nx, n.ny) {
		return mins, maxs, fmt.Errorf("tile bounds (%d,%d): %w", i, j, ErrOutOfRange)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.hasExtents {
		return mins, maxs, fmt.Errorf("tile bounds: extents not set: %w", ErrInvalidExtent)
	}
	dx := (n.maxs[0] - n.mins[0]) / float64(n.nx)
	dy := (n.maxs[1] - n.mins[1]) / float64(n.ny)
	mins = [2]float64{n.mins[0] + float64(i)*dx, n.mins[1] + float64(j)*dy}
	maxs = [2]float64{n.mins[0] + float64(i+1)*dx, n.mins[1] + float64(j+1)*dy}
	return mins, maxs, nil
}

// AddTile registers t as a local tile at idx.
// The tile becomes owned by this rank (Owner = rank, Local = true).
func (n *Node) AddTile(t *Tile, idx Index) error {
	id, err := n.CellID(idx.I, idx.J)
	if err != nil {
		return fmt.Errorf("adding tile: %w", err)
	}
	if t.hasIndex && t.index != idx {
		return fmt.Errorf("tile at %s registered as %s: %w", t.index, idx, ErrInconsistentIndex)
	}
	if t.hasID && t.id != id {
		return fmt.Errorf("tile id %d registered as %d: %w", t.id, id, ErrInconsistentIndex)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tiles[id]; ok {
		return fmt.Errorf("adding tile %d at %s: %w", id, idx, ErrDuplicateTile)
	}

	t.assign(id, idx)
	t.Communication.Owner = n.rank
	t.Communication.Local = true
	n.tiles[id] = t
	return nil
}

// GetTile returns the tile registered under id.
func (n *Node) GetTile(id TileID) (*Tile, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tiles[id]
	if !ok {
		return nil, fmt.Errorf("tile %d: %w", id, ErrNotFound)
	}
	return t, nil
}

// TileAt returns the tile at cell (i, j).
func (n *Node) TileAt(i, j int) (*Tile, error) {
	id, err := n.CellID(i, j)
	if err != nil {
		return nil, err
	}
	return n.GetTile(id)
}

// RemoveTile drops a tile (local or virtual) from this rank.
func (n *Node) RemoveTile(id TileID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.tiles[id]; !ok {
		return fmt.Errorf("removing tile %d: %w", id, ErrNotFound)
	}
	delete(n.tiles, id)
	n.sendQueue = slices.DeleteFunc(n.sendQueue, func(q TileID) bool { return q == id })
	return nil
}

// TileIDs returns a snapshot of every resident tile id.
// Order is unspecified unless sorted is true.
func (n *Node) TileIDs(sorted bool) []TileID {
	return n.filterIDs(sorted, func(*Tile) bool { return true })
}

// LocalTileIDs returns ids of tiles owned by this rank.
func (n *Node) LocalTileIDs(sorted bool) []TileID {
	return n.filterIDs(sorted, func(t *Tile) bool { return t.Communication.Local })
}

// VirtualTileIDs returns ids of virtual copies held for other ranks.
func (n *Node) VirtualTileIDs(sorted bool) []TileID {
	return n.filterIDs(sorted, func(t *Tile) bool { return !t.Communication.Local })
}

// BoundaryTileIDs returns ids of owned tiles that have virtual neighbours.
func (n *Node) BoundaryTileIDs(sorted bool) []TileID {
	return n.filterIDs(sorted, func(t *Tile) bool {
		return t.Communication.NumberOfVirtualNeighbors > 0 && t.Communication.Owner == n.rank
	})
}

func (n *Node) filterIDs(sorted bool, keep func(*Tile) bool) []TileID {
	n.mu.RLock()
	ids := make([]TileID, 0, len(n.tiles))
	for id, t := range n.tiles {
		if keep(t) {
			ids = append(ids, id)
		}
	}
	n.mu.RUnlock()

	if sorted {
		slices.Sort(ids)
	}
	return ids
}

// IsLocal reports whether this rank holds the authoritative copy of id.
func (n *Node) IsLocal(id TileID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.tiles[id]
	return ok && t.Communication.Local
}

// PopulateOwnerMap writes a complete assignment into the ownership map as
// the next version. Only the coordinator may populate; other ranks receive
// the map through BroadcastOwnerMap. A map populated after a broadcast stays
// pending until the next broadcast, and Owner keeps answering from the
// published one.
func (n *Node) PopulateOwnerMap(a Assignment) error {
	return n.populateOwnerMap(a, 0)
}

// PopulateOwnerMapVersion is PopulateOwnerMap with an explicit version, for
// carrying a persisted map's version forward. version must be newer than any
// map already held on this rank.
func (n *Node) PopulateOwnerMapVersion(a Assignment, version int64) error {
	if version <= 0 {
		return fmt.Errorf("owner map version %d: %w", version, ErrStaleVersion)
	}
	return n.populateOwnerMap(a, version)
}

// populateOwnerMap validates a and stores it as pending. version 0 picks the
// one after the newest held.
func (n *Node) populateOwnerMap(a Assignment, version int64) error {
	if !n.IsCoordinator() {
		return fmt.Errorf("populating owner map on rank %d: %w", n.rank, ErrNotCoordinator)
	}

	for idx, rank := range a {
		if !IsValidIndex(idx.I, idx.J, n.nx, n.ny) {
			return fmt.Errorf("assignment cell %s: %w", idx, ErrOutOfRange)
		}
		if rank < 0 || rank >= n.size {
			return fmt.Errorf("assignment cell %s to rank %d of %d: %w", idx, rank, n.size, ErrOutOfRange)
		}
	}

	owners := make([]int, n.nx*n.ny)
	for j := range n.ny {
		for i := range n.nx {
			rank, ok := a[Index{I: i, J: j}]
			if !ok {
				return fmt.Errorf("cell (%d,%d) has no owner: %w", i, j, ErrIncompleteAssignment)
			}
			owners[j*n.nx+i] = rank
		}
	}

	n.mu.Lock()
	_, held := n.owners.latest()
	if version == 0 {
		version = held + 1
	} else if version <= held {
		n.mu.Unlock()
		return fmt.Errorf("owner map version %d, holding %d: %w", version, held, ErrStaleVersion)
	}
	n.owners.pending = owners
	n.owners.pendingVersion = version
	if n.owners.state == MapUnset {
		n.owners.state = MapPopulated
	}
	n.mu.Unlock()

	slog.Debug("owner map populated", "rank", n.rank, "version", version, "cells", len(owners))
	return nil
}

// BroadcastOwnerMap distributes the coordinator's newest map to every rank.
// Collective: every rank must call it. The new map becomes visible on a rank
// only once it has been received and validated in full.
func (n *Node) BroadcastOwnerMap(ctx context.Context) error {
	var (
		payload []byte
		sent    []int
		sentVer int64
	)
	if n.IsCoordinator() {
		n.mu.RLock()
		if n.owners.state == MapUnset {
			n.mu.RUnlock()
			return fmt.Errorf("broadcasting owner map: %w", ErrUnpopulatedMap)
		}
		sent, sentVer = n.owners.latest()
		payload = encodeOwnerMap(n.nx, n.ny, sentVer, sent)
		n.mu.RUnlock()
	}

	data, err := n.comm.Broadcast(ctx, Coordinator, payload)
	if err != nil {
		return fmt.Errorf("broadcasting owner map: %w", err)
	}

	if n.IsCoordinator() {
		n.mu.Lock()
		n.owners.publish(sentVer, sent)
		n.mu.Unlock()
		return nil
	}

	version, owners, err := decodeOwnerMap(data, n.nx, n.ny, n.size)
	if err != nil {
		return fmt.Errorf("receiving owner map: %w", err)
	}

	n.mu.Lock()
	n.owners.publish(version, owners)
	n.mu.Unlock()

	slog.Debug("owner map received", "rank", n.rank, "version", version)
	return nil
}

// Owner returns the rank owning cell (i, j) in the last broadcast map.
func (n *Node) Owner(i, j int) (int, error) {
	if !IsValidIndex(i, j, n.nx, n.ny) {
		return 0, fmt.Errorf("owner of (%d,%d): %w", i, j, ErrOutOfRange)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ownerLocked(i, j)
}

func (n *Node) ownerLocked(i, j int) (int, error) {
	if n.owners.state != MapBroadcast {
		return 0, fmt.Errorf("owner of (%d,%d): map is %s: %w", i, j, n.owners.state, ErrUnpopulatedMap)
	}
	return n.owners.owners[j*n.nx+i], nil
}

// OwnerMapState returns the ownership map state on this rank.
func (n *Node) OwnerMapState() MapState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.owners.state
}

// OwnerMapVersion returns the version of the newest map held on this rank,
// including one populated but not yet broadcast.
func (n *Node) OwnerMapVersion() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, v := n.owners.latest()
	return v
}

// PublishedOwnerMapVersion returns the version Owner answers from, or 0
// before the first broadcast.
func (n *Node) PublishedOwnerMapVersion() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.owners.state != MapBroadcast {
		return 0
	}
	return n.owners.version
}

// OwnerSnapshot returns a detached copy of the newest ownership map held.
func (n *Node) OwnerSnapshot() (OwnerSnapshot, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.owners.state == MapUnset {
		return OwnerSnapshot{}, fmt.Errorf("owner snapshot: %w", ErrUnpopulatedMap)
	}
	owners, version := n.owners.latest()
	return OwnerSnapshot{
		Version: version,
		Nx:      n.nx,
		Ny:      n.ny,
		Owners:  slices.Clone(owners),
	}, nil
}
