package grid

import "fmt"

// TileID is the global linear address of a grid cell.
// Ordering is row-major with i running fastest: id = j*Nx + i.
type TileID uint64

// Index is a 2D grid coordinate.
type Index struct {
	I, J int
}

func (x Index) String() string {
	return fmt.Sprintf("(%d,%d)", x.I, x.J)
}

// IsValidIndex checks if (i, j) lies inside an nx×ny grid.
func IsValidIndex(i, j, nx, ny int) bool {
	return i >= 0 && i < nx && j >= 0 && j < ny
}

// ToID converts grid coordinate (i, j) to its tile id.
// Formula: j*nx + i
func ToID(i, j, nx, ny int) (TileID, error) {
	if !IsValidIndex(i, j, nx, ny) {
		return 0, fmt.Errorf("index (%d,%d) outside %dx%d grid: %w", i, j, nx, ny, ErrOutOfRange)
	}
	return TileID(j*nx + i), nil
}

// FromID converts a tile id back to its grid coordinate.
// Reverse formula: i = id mod nx, j = id div nx
func FromID(id TileID, nx, ny int) (i, j int, err error) {
	if nx <= 0 || ny <= 0 || id >= TileID(nx*ny) {
		return 0, 0, fmt.Errorf("tile id %d outside %dx%d grid: %w", id, nx, ny, ErrOutOfRange)
	}
	return int(id % TileID(nx)), int(id / TileID(nx)), nil
}
