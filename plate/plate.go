// Package plate maps logical well-plate layouts onto the flat, column-major
// well indices used by the liquid handling service.
//
// The service enumerates wells column by column, so on a 16-row plate A1 is
// 0, P1 is 15 and A2 is 16.  Every offset in a protocol ("+8 for the bottom
// half", "+16 per column") follows from that convention; Layout.Index is the
// one place it is written down.
package plate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// rowNames is the lookup table for row letters.  Row identifiers are never
// derived from character codes.
const rowNames = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	// ErrBadLayout is generated for non-positive plate dimensions
	ErrBadLayout = errors.New("plate dimensions must be positive")

	// ErrOutOfRange is generated when a well index or coordinate is off the plate
	ErrOutOfRange = errors.New("well outside plate")

	// ErrBadName is generated when a well name cannot be parsed
	ErrBadName = errors.New("malformed well name")
)

// Layout is an immutable description of a physical plate or tube rack
type Layout struct {
	// Rows is the number of rows, A..
	Rows int `json:"rows" yaml:"Rows" koanf:"Rows"`

	// Columns is the number of columns, 1..
	Columns int `json:"columns" yaml:"Columns" koanf:"Columns"`

	// Stride is the number of wells per logical column in linear order.
	// Zero means Rows, which is the case for every labware in use.
	Stride int `json:"stride,omitempty" yaml:"Stride,omitempty" koanf:"Stride"`
}

var (
	// Plate96 is an 8x12 well plate
	Plate96 = Layout{Rows: 8, Columns: 12}

	// Plate384 is a 16x24 well plate
	Plate384 = Layout{Rows: 16, Columns: 24}

	// TubeRack24 is a 4x6 rack of 1.5 mL tubes
	TubeRack24 = Layout{Rows: 4, Columns: 6}

	// TubeRack15 is a 3x5 rack of 5 mL tubes
	TubeRack15 = Layout{Rows: 3, Columns: 5}

	// TubeRack6 is a 2x3 rack of 25 mL tubes
	TubeRack6 = Layout{Rows: 2, Columns: 3}
)

// NewLayout returns a validated layout with the default stride
func NewLayout(rows, cols int) (Layout, error) {
	l := Layout{Rows: rows, Columns: cols}
	return l, l.Validate()
}

// Validate checks the dimensions are usable
func (l Layout) Validate() error {
	if l.Rows <= 0 || l.Columns <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadLayout, l.Rows, l.Columns)
	}
	if l.Rows > len(rowNames) {
		return fmt.Errorf("%w: %d rows exceeds the %d nameable rows", ErrBadLayout, l.Rows, len(rowNames))
	}
	if l.Stride != 0 && l.Stride < l.Rows {
		return fmt.Errorf("%w: stride %d is shorter than a column of %d rows", ErrBadLayout, l.Stride, l.Rows)
	}
	return nil
}

func (l Layout) stride() int {
	if l.Stride == 0 {
		return l.Rows
	}
	return l.Stride
}

// Wells is the total number of wells, Rows*Columns
func (l Layout) Wells() int {
	return l.Rows * l.Columns
}

// Coord is a structured (row, column) address, both zero-based
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Name returns the conventional name, e.g. {Row: 10, Col: 0} => "K1"
func (c Coord) Name() string {
	if c.Row < 0 || c.Row >= len(rowNames) || c.Col < 0 {
		return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
	}
	return rowNames[c.Row:c.Row+1] + strconv.Itoa(c.Col+1)
}

// RowName returns the letter of a row, or "?" if it has none
func RowName(row int) string {
	if row < 0 || row >= len(rowNames) {
		return "?"
	}
	return rowNames[row : row+1]
}

// String satisfies fmt.Stringer
func (c Coord) String() string {
	return c.Name()
}

// ParseCoord is the inverse of Coord.Name
func ParseCoord(name string) (Coord, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) < 2 {
		return Coord{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	row := strings.IndexByte(rowNames, name[0])
	if row < 0 {
		return Coord{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	col, err := strconv.Atoi(name[1:])
	if err != nil || col < 1 {
		return Coord{}, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return Coord{Row: row, Col: col - 1}, nil
}

// Contains is true if the coordinate lies on the plate
func (l Layout) Contains(c Coord) bool {
	return c.Row >= 0 && c.Row < l.Rows && c.Col >= 0 && c.Col < l.Columns
}

// Index converts a coordinate to its linear index, col*stride + row
func (l Layout) Index(c Coord) (int, error) {
	if !l.Contains(c) {
		return 0, fmt.Errorf("%w: %s on a %dx%d plate", ErrOutOfRange, c, l.Rows, l.Columns)
	}
	i := c.Col*l.stride() + c.Row
	if i >= l.Wells() {
		return 0, fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, l.Wells())
	}
	return i, nil
}

// Coord converts a linear index back to a coordinate
func (l Layout) Coord(i int) (Coord, error) {
	if i < 0 || i >= l.Wells() {
		return Coord{}, fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, l.Wells())
	}
	s := l.stride()
	c := Coord{Row: i % s, Col: i / s}
	if !l.Contains(c) {
		return Coord{}, fmt.Errorf("%w: index %d falls in stride padding", ErrOutOfRange, i)
	}
	return c, nil
}

// IndexOf parses a well name and returns its linear index
func (l Layout) IndexOf(name string) (int, error) {
	c, err := ParseCoord(name)
	if err != nil {
		return 0, err
	}
	return l.Index(c)
}

// Name returns the well name of a linear index, or "?" if it is off the plate
func (l Layout) Name(i int) string {
	c, err := l.Coord(i)
	if err != nil {
		return "?"
	}
	return c.Name()
}

// Names maps Name over a slice of indices
func (l Layout) Names(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = l.Name(idx)
	}
	return out
}
