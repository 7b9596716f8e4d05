// Package mathx holds the small rounding helpers used for volume bookkeeping.
package mathx

import "math"

// eps absorbs float noise from volumes that are nominally whole multiples,
// e.g. 240/2.5 landing a hair under 96.
const eps = 1e-9

// CeilTo rounds x up to the next multiple of unit.  A unit <= 0 returns x.
func CeilTo(x, unit float64) float64 {
	if unit <= 0 {
		return x
	}
	return math.Ceil(x/unit-eps) * unit
}

// FloorDiv is floored division on floats, the volume analogue of a // b.
func FloorDiv(a, b float64) float64 {
	return math.Floor(a/b + eps)
}
