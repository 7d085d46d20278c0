// Package partition provides ownership policies: functions that decide which
// rank owns each cell of an nx×ny grid. Every policy returns a complete
// grid.Assignment.
package partition

import (
	"errors"
	"fmt"

	"github.com/udisondev/tilegrid/internal/grid"
)

// Policy names accepted by ByName.
const (
	PolicyBlocks    = "blocks"
	PolicyStripes   = "stripes"
	PolicyQuadrants = "quadrants"
)

// ErrUnsupported is returned when a policy cannot split the grid over the
// requested number of ranks.
var ErrUnsupported = errors.New("unsupported partition")

// ByName runs the policy registered under name.
func ByName(name string, nx, ny, ranks int) (grid.Assignment, error) {
	switch name {
	case PolicyBlocks:
		return Blocks(nx, ny, ranks)
	case PolicyStripes:
		return Stripes(nx, ny, ranks)
	case PolicyQuadrants:
		if ranks != 4 {
			return nil, fmt.Errorf("quadrants policy needs 4 ranks, got %d: %w", ranks, ErrUnsupported)
		}
		return Quadrants(nx, ny)
	default:
		return nil, fmt.Errorf("policy %q: %w", name, ErrUnsupported)
	}
}

func checkDims(nx, ny, ranks int) error {
	if nx <= 0 || ny <= 0 {
		return fmt.Errorf("grid %dx%d: %w", nx, ny, ErrUnsupported)
	}
	if ranks <= 0 || ranks > nx*ny {
		return fmt.Errorf("%d ranks for %d cells: %w", ranks, nx*ny, ErrUnsupported)
	}
	return nil
}

// Blocks splits the grid into px×py near-square blocks with px*py == ranks.
// Among all factor pairs it picks the one whose blocks are closest to square.
// Block (bi, bj) belongs to rank bj*px + bi.
func Blocks(nx, ny, ranks int) (grid.Assignment, error) {
	if err := checkDims(nx, ny, ranks); err != nil {
		return nil, err
	}

	px, py := 0, 0
	best := -1.0
	for f := 1; f <= ranks; f++ {
		if ranks%f != 0 {
			continue
		}
		fx, fy := f, ranks/f
		if fx > nx || fy > ny {
			continue
		}
		// Aspect mismatch between block width and height.
		w := float64(nx) / float64(fx)
		h := float64(ny) / float64(fy)
		score := w / h
		if score < 1 {
			score = 1 / score
		}
		if best < 0 || score < best {
			px, py, best = fx, fy, score
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("no %d-way block split of %dx%d grid: %w", ranks, nx, ny, ErrUnsupported)
	}

	a := make(grid.Assignment, nx*ny)
	for j := range ny {
		bj := j * py / ny
		for i := range nx {
			bi := i * px / nx
			a[grid.Index{I: i, J: j}] = bj*px + bi
		}
	}
	return a, nil
}

// Stripes assigns contiguous bands of rows: row j belongs to rank j*ranks/ny.
func Stripes(nx, ny, ranks int) (grid.Assignment, error) {
	if err := checkDims(nx, ny, ranks); err != nil {
		return nil, err
	}
	if ranks > ny {
		return nil, fmt.Errorf("%d stripes over %d rows: %w", ranks, ny, ErrUnsupported)
	}

	a := make(grid.Assignment, nx*ny)
	for j := range ny {
		rank := j * ranks / ny
		for i := range nx {
			a[grid.Index{I: i, J: j}] = rank
		}
	}
	return a, nil
}

// Quadrants is the four-rank split: columns are cut at nx/2 and rows at
// 2*ny/3.
//
//	i <  nx/2, j <  2ny/3 → 0
//	i <  nx/2, j >= 2ny/3 → 1
//	i >= nx/2, j <  2ny/3 → 2
//	i >= nx/2, j >= 2ny/3 → 3
func Quadrants(nx, ny int) (grid.Assignment, error) {
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("grid %dx%d: %w", nx, ny, ErrUnsupported)
	}

	splitI, splitJ := nx/2, 2*ny/3
	a := make(grid.Assignment, nx*ny)
	for j := range ny {
		for i := range nx {
			rank := 0
			if i >= splitI {
				rank += 2
			}
			if j >= splitJ {
				rank++
			}
			a[grid.Index{I: i, J: j}] = rank
		}
	}
	return a, nil
}
