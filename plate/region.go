package plate

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOverlap is generated when two regions mapped together share a well
var ErrOverlap = errors.New("regions overlap")

// Region is a patterned subset of a plate that receives one reagent
type Region struct {
	// Rows selects rows within each selected column
	Rows Lines `json:"rows" yaml:"Rows"`

	// Columns selects columns
	Columns Lines `json:"columns" yaml:"Columns"`

	// Offset is added to every linear index, for tiling one pattern across
	// sections of a larger plate, e.g. +288 moves a 384-well pattern 18
	// columns to the right
	Offset int `json:"offset,omitempty" yaml:"Offset,omitempty"`
}

// Block is a contiguous rectangle, rows [r0, r1) by columns [c0, c1)
func Block(r0, r1, c0, c1 int) Region {
	return Region{Rows: Range(r0, r1), Columns: Range(c0, c1)}
}

// Shift returns a copy of the region with extra added to its offset
func (r Region) Shift(extra int) Region {
	r.Offset += extra
	return r
}

// Tile replicates a region once per offset
func Tile(r Region, offsets ...int) []Region {
	out := make([]Region, len(offsets))
	for i, o := range offsets {
		out[i] = r.Shift(o)
	}
	return out
}

// Wells returns the linear indices of a single region, ascending
func (r Region) Wells(l Layout) ([]int, error) {
	return Map(l, r)
}

// Map converts one or more regions into a fresh, ascending, deduplicated list
// of linear well indices.  Out-of-range rows, columns or indices, and wells
// claimed by two regions, are configuration errors; no partial output is
// returned.
func Map(l Layout, regions ...Region) ([]int, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	owner := make(map[int]int)
	out := []int{}
	for ri, reg := range regions {
		rows, err := reg.Rows.Expand(l.Rows)
		if err != nil {
			return nil, fmt.Errorf("region %d rows: %w", ri, err)
		}
		cols, err := reg.Columns.Expand(l.Columns)
		if err != nil {
			return nil, fmt.Errorf("region %d columns: %w", ri, err)
		}
		for _, c := range cols {
			for _, row := range rows {
				base, err := l.Index(Coord{Row: row, Col: c})
				if err != nil {
					return nil, fmt.Errorf("region %d: %w", ri, err)
				}
				idx := base + reg.Offset
				if idx < 0 || idx >= l.Wells() {
					return nil, fmt.Errorf("region %d: %w: %s offset by %d gives index %d of %d",
						ri, ErrOutOfRange, Coord{Row: row, Col: c}, reg.Offset, idx, l.Wells())
				}
				if prev, dup := owner[idx]; dup {
					if prev == ri {
						continue
					}
					return nil, fmt.Errorf("%w: well %s in regions %d and %d", ErrOverlap, l.Name(idx), prev, ri)
				}
				owner[idx] = ri
				out = append(out, idx)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}
