package grid

import (
	"fmt"

	"github.com/udisondev/tilegrid/internal/packet"
)

// MapState tracks the ownership map through populate/broadcast.
type MapState uint8

const (
	// MapUnset: nothing written yet, ownership queries fail.
	MapUnset MapState = iota
	// MapPopulated: the coordinator holds a complete map that is not yet distributed.
	MapPopulated
	// MapBroadcast: this rank holds the coordinator's map.
	MapBroadcast
)

func (s MapState) String() string {
	switch s {
	case MapUnset:
		return "unset"
	case MapPopulated:
		return "populated"
	case MapBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("MapState(%d)", uint8(s))
	}
}

// Assignment maps every grid cell to a rank. It is the policy input of
// Node.PopulateOwnerMap; its content is decided outside this package.
type Assignment map[Index]int

// OwnerSnapshot is a detached copy of an ownership map.
type OwnerSnapshot struct {
	Version int64
	Nx, Ny  int
	// Owners is indexed by TileID.
	Owners []int
}

// Assignment expands the snapshot back into a per-cell assignment.
func (s OwnerSnapshot) Assignment() Assignment {
	a := make(Assignment, len(s.Owners))
	for id, rank := range s.Owners {
		a[Index{I: id % s.Nx, J: id / s.Nx}] = rank
	}
	return a
}

// ownerMap is the replicated cell-to-rank array owned by a Node.
// Slices are replaced wholesale, never mutated in place after publication.
type ownerMap struct {
	nx, ny int
	// owners and version are the map published by the last completed broadcast.
	owners  []int
	version int64
	// pending is a map populated on the coordinator and not yet broadcast.
	pending        []int
	pendingVersion int64
	state          MapState
}

func newOwnerMap(nx, ny int) ownerMap {
	return ownerMap{nx: nx, ny: ny, state: MapUnset}
}

// latest returns the newest map held, pending before published.
func (m *ownerMap) latest() ([]int, int64) {
	if m.pending != nil {
		return m.pending, m.pendingVersion
	}
	return m.owners, m.version
}

// publish makes owners the queryable map. A pending map of the same version
// is consumed; a newer one populated in the meantime stays pending.
func (m *ownerMap) publish(version int64, owners []int) {
	m.owners = owners
	m.version = version
	if m.pending != nil && m.pendingVersion <= version {
		m.pending = nil
		m.pendingVersion = 0
	}
	m.state = MapBroadcast
}

// ownerMapHeaderSize: version int64 + nx int32 + ny int32.
const ownerMapHeaderSize = 8 + 4 + 4

// encodeOwnerMap serializes a map for broadcast.
func encodeOwnerMap(nx, ny int, version int64, owners []int) []byte {
	w := packet.NewWriter(ownerMapHeaderSize + 4*len(owners))
	w.WriteLong(version)
	w.WriteInt(int32(nx))
	w.WriteInt(int32(ny))
	for _, rank := range owners {
		w.WriteInt(int32(rank))
	}
	return w.Bytes()
}

// decodeOwnerMap parses a broadcast map, checking it matches the local grid.
// The returned slice is freshly allocated so it can be swapped in atomically.
func decodeOwnerMap(data []byte, nx, ny, worldSize int) (int64, []int, error) {
	n := nx * ny
	r := packet.NewReader(data)
	version, err := r.ReadLong()
	if err != nil {
		return 0, nil, fmt.Errorf("reading owner map version: %w", ErrCorruptTransfer)
	}
	gotNx, err := r.ReadInt()
	if err != nil {
		return 0, nil, fmt.Errorf("reading owner map nx: %w", ErrCorruptTransfer)
	}
	gotNy, err := r.ReadInt()
	if err != nil {
		return 0, nil, fmt.Errorf("reading owner map ny: %w", ErrCorruptTransfer)
	}
	if int(gotNx) != nx || int(gotNy) != ny {
		return 0, nil, fmt.Errorf("owner map is %dx%d, local grid is %dx%d: %w",
			gotNx, gotNy, nx, ny, ErrCorruptTransfer)
	}
	if r.Remaining() != 4*n {
		return 0, nil, fmt.Errorf("owner map carries %d bytes of owners, want %d: %w",
			r.Remaining(), 4*n, ErrCorruptTransfer)
	}

	owners := make([]int, n)
	for k := range owners {
		v, err := r.ReadInt()
		if err != nil {
			return 0, nil, fmt.Errorf("reading owner %d: %w", k, ErrCorruptTransfer)
		}
		if v < 0 || int(v) >= worldSize {
			return 0, nil, fmt.Errorf("owner %d of cell %d outside world of %d ranks: %w",
				v, k, worldSize, ErrCorruptTransfer)
		}
		owners[k] = int(v)
	}
	return version, owners, nil
}
