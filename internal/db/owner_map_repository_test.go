package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/tilegrid/internal/db"
	"github.com/udisondev/tilegrid/internal/grid"
	"github.com/udisondev/tilegrid/internal/testutil"
)

func TestOwnerMapRepository(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := db.NewOwnerMapRepository(pool)
	ctx := context.Background()

	t.Run("latest on empty table", func(t *testing.T) {
		s, err := repo.Latest(ctx, 3, 2)
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("save and load latest", func(t *testing.T) {
		first := grid.OwnerSnapshot{Version: 1, Nx: 3, Ny: 2, Owners: []int{0, 0, 1, 1, 2, 2}}
		second := grid.OwnerSnapshot{Version: 2, Nx: 3, Ny: 2, Owners: []int{2, 1, 0, 0, 1, 2}}
		other := grid.OwnerSnapshot{Version: 7, Nx: 2, Ny: 2, Owners: []int{0, 1, 1, 0}}

		require.NoError(t, repo.Save(ctx, first))
		require.NoError(t, repo.Save(ctx, second))
		require.NoError(t, repo.Save(ctx, other))

		got, err := repo.Latest(ctx, 3, 2)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second, *got)

		got, err = repo.Latest(ctx, 2, 2)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, other, *got)
	})

	t.Run("incomplete snapshot rejected", func(t *testing.T) {
		err := repo.Save(ctx, grid.OwnerSnapshot{Version: 1, Nx: 2, Ny: 2, Owners: []int{0}})
		assert.ErrorIs(t, err, grid.ErrIncompleteAssignment)
	})
}
