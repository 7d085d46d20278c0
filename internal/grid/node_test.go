package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/tilegrid/internal/testutil"
	"github.com/udisondev/tilegrid/internal/transport"
)

// newCluster creates one Node per rank of an in-process cluster.
func newCluster(t *testing.T, nx, ny, size int) []*Node {
	t.Helper()
	comms := transport.NewLocalCluster(size)
	nodes := make([]*Node, size)
	for r, c := range comms {
		n, err := NewNode(nx, ny, c)
		require.NoError(t, err)
		nodes[r] = n
		t.Cleanup(func() { _ = c.Close() })
	}
	return nodes
}

func TestNewNode(t *testing.T) {
	comm := transport.NewLocalCluster(3)[1]

	n, err := NewNode(10, 20, comm)
	require.NoError(t, err)
	assert.Equal(t, 10, n.Nx())
	assert.Equal(t, 20, n.Ny())
	assert.Equal(t, 1, n.Rank())
	assert.Equal(t, 3, n.Size())
	assert.False(t, n.IsCoordinator())
	assert.Equal(t, MapUnset, n.OwnerMapState())

	_, err = NewNode(0, 5, comm)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = NewNode(5, -1, comm)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = NewNode(5, 5, nil)
	assert.Error(t, err)
}

func TestNode_CellID(t *testing.T) {
	n := newCluster(t, 10, 20, 1)[0]

	for j := range 20 {
		for i := range 10 {
			id, err := n.CellID(i, j)
			require.NoError(t, err)
			require.Equal(t, TileID(j*10+i), id)
		}
	}

	_, err := n.CellID(10, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNode_Extents(t *testing.T) {
	n := newCluster(t, 10, 15, 1)[0]

	_, _, err := n.TileBounds(0, 0)
	assert.ErrorIs(t, err, ErrInvalidExtent, "bounds need extents")

	assert.ErrorIs(t, n.SetExtents(1, 0, 0, 1), ErrInvalidExtent)
	assert.ErrorIs(t, n.SetExtents(0, 1, 2, 2), ErrInvalidExtent)

	require.NoError(t, n.SetExtents(0, 10, -5, 10))
	assert.Equal(t, 0.0, n.Xmin())
	assert.Equal(t, 10.0, n.Xmax())
	assert.Equal(t, -5.0, n.Ymin())
	assert.Equal(t, 10.0, n.Ymax())

	mins, maxs, err := n.TileBounds(2, 1)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{2, -4}, mins)
	assert.Equal(t, [2]float64{3, -3}, maxs)

	_, _, err = n.TileBounds(10, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNode_LoadAllTiles(t *testing.T) {
	const nx, ny = 10, 20
	n := newCluster(t, nx, ny, 1)[0]

	for j := range ny {
		for i := range nx {
			require.NoError(t, n.AddTile(NewTile(), Index{I: i, J: j}))
		}
	}

	ids := n.TileIDs(true)
	require.Len(t, ids, nx*ny)
	for k, id := range ids {
		assert.Equal(t, TileID(k), id, "sorted ids are unique and dense")

		tile, err := n.GetTile(id)
		require.NoError(t, err)
		assert.Equal(t, id, tile.ID())
		assert.Equal(t, id, tile.Communication.Cid)
		assert.True(t, tile.IsLocal())
		assert.Equal(t, 0, tile.Communication.Owner)
	}

	assert.Len(t, n.LocalTileIDs(false), nx*ny)
	assert.Empty(t, n.VirtualTileIDs(false))
}

func TestNode_AddTile(t *testing.T) {
	n := newCluster(t, 4, 4, 2)[1]

	tile := NewTileAt(1, 2)
	require.NoError(t, n.AddTile(tile, Index{I: 1, J: 2}))
	assert.Equal(t, TileID(9), tile.ID())
	assert.Equal(t, Index{I: 1, J: 2}, tile.Index())
	assert.Equal(t, [3]int{1, 2, 0}, tile.Communication.Indices)
	assert.Equal(t, 1, tile.Communication.Owner)
	assert.True(t, n.IsLocal(9))

	got, err := n.TileAt(1, 2)
	require.NoError(t, err)
	assert.Same(t, tile, got)

	t.Run("duplicate", func(t *testing.T) {
		err := n.AddTile(NewTile(), Index{I: 1, J: 2})
		assert.ErrorIs(t, err, ErrDuplicateTile)
	})
	t.Run("inconsistent index", func(t *testing.T) {
		err := n.AddTile(NewTileAt(0, 0), Index{I: 3, J: 3})
		assert.ErrorIs(t, err, ErrInconsistentIndex)
	})
	t.Run("already registered elsewhere", func(t *testing.T) {
		err := n.AddTile(tile, Index{I: 2, J: 2})
		assert.ErrorIs(t, err, ErrInconsistentIndex)
	})
	t.Run("out of range", func(t *testing.T) {
		err := n.AddTile(NewTile(), Index{I: 4, J: 0})
		assert.ErrorIs(t, err, ErrOutOfRange)
	})
}

func TestNode_RemoveTile(t *testing.T) {
	n := newCluster(t, 3, 3, 1)[0]
	require.NoError(t, n.AddTile(NewTile(), Index{I: 0, J: 0}))

	require.NoError(t, n.RemoveTile(0))
	_, err := n.GetTile(0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, n.RemoveTile(0), ErrNotFound)
	assert.False(t, n.IsLocal(0))
}

func TestTile_Bounds(t *testing.T) {
	tile := NewTile()
	tile.SetMins([2]float64{1.0, 2.0})
	tile.SetMaxs([2]float64{1.1, 2.1})

	assert.Equal(t, [2]float64{1.0, 2.0}, tile.Mins())
	assert.Equal(t, [2]float64{1.1, 2.1}, tile.Maxs())
	assert.Equal(t, [3]float64{1.0, 2.0, 0}, tile.Communication.Mins)
	assert.Equal(t, [3]float64{1.1, 2.1, 0}, tile.Communication.Maxs)
}

func TestNode_PopulateOwnerMap(t *testing.T) {
	nodes := newCluster(t, 2, 2, 2)
	full := Assignment{
		{I: 0, J: 0}: 0, {I: 1, J: 0}: 1,
		{I: 0, J: 1}: 0, {I: 1, J: 1}: 1,
	}

	t.Run("not coordinator", func(t *testing.T) {
		err := nodes[1].PopulateOwnerMap(full)
		assert.ErrorIs(t, err, ErrNotCoordinator)
	})

	t.Run("incomplete", func(t *testing.T) {
		err := nodes[0].PopulateOwnerMap(Assignment{{I: 0, J: 0}: 0})
		assert.ErrorIs(t, err, ErrIncompleteAssignment)
		assert.Equal(t, MapUnset, nodes[0].OwnerMapState())
	})

	t.Run("cell outside grid", func(t *testing.T) {
		a := Assignment{{I: 5, J: 0}: 0}
		for k, v := range full {
			a[k] = v
		}
		assert.ErrorIs(t, nodes[0].PopulateOwnerMap(a), ErrOutOfRange)
	})

	t.Run("rank outside world", func(t *testing.T) {
		a := Assignment{}
		for k, v := range full {
			a[k] = v
		}
		a[Index{I: 0, J: 0}] = 2
		assert.ErrorIs(t, nodes[0].PopulateOwnerMap(a), ErrOutOfRange)
	})

	t.Run("populated is not yet queryable", func(t *testing.T) {
		require.NoError(t, nodes[0].PopulateOwnerMap(full))
		assert.Equal(t, MapPopulated, nodes[0].OwnerMapState())
		assert.Equal(t, int64(1), nodes[0].OwnerMapVersion())

		_, err := nodes[0].Owner(0, 0)
		assert.ErrorIs(t, err, ErrUnpopulatedMap)

		snap, err := nodes[0].OwnerSnapshot()
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 0, 1}, snap.Owners)
		assert.Equal(t, full, snap.Assignment())
	})
}

func TestNode_OwnerBeforeBroadcast(t *testing.T) {
	n := newCluster(t, 5, 5, 2)[1]

	_, err := n.Owner(0, 0)
	assert.ErrorIs(t, err, ErrUnpopulatedMap)

	_, err = n.OwnerSnapshot()
	assert.ErrorIs(t, err, ErrUnpopulatedMap)

	_, err = n.Owner(5, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNode_BroadcastUnpopulated(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, time.Second)
	n := newCluster(t, 2, 2, 2)[0]

	err := n.BroadcastOwnerMap(ctx)
	assert.ErrorIs(t, err, ErrUnpopulatedMap)
}

func TestNode_Neighbors(t *testing.T) {
	n := newCluster(t, 4, 3, 1)[0]

	got := n.Neighbors(Index{I: 0, J: 0})
	assert.ElementsMatch(t, []Index{
		{I: 3, J: 2}, {I: 3, J: 0}, {I: 3, J: 1},
		{I: 0, J: 2}, {I: 0, J: 1},
		{I: 1, J: 2}, {I: 1, J: 0}, {I: 1, J: 1},
	}, got)

	got = n.Neighbors(Index{I: 2, J: 1})
	assert.ElementsMatch(t, []Index{
		{I: 1, J: 0}, {I: 1, J: 1}, {I: 1, J: 2},
		{I: 2, J: 0}, {I: 2, J: 2},
		{I: 3, J: 0}, {I: 3, J: 1}, {I: 3, J: 2},
	}, got)
}
