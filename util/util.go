// Package util contains misc internal utilities.
package util

import (
	"sort"
	"strconv"
	"strings"
)

// Arange returns ints from start up to (not including) end, every step.
// Called with one argument it counts from zero, Python style.
func Arange(args ...int) []int {
	var start, end, step = 0, 0, 1
	switch len(args) {
	case 1:
		end = args[0]
	case 2:
		start, end = args[0], args[1]
	case 3:
		start, end, step = args[0], args[1], args[2]
	default:
		return nil
	}
	if step <= 0 || end <= start {
		return []int{}
	}
	out := make([]int, 0, (end-start+step-1)/step)
	for i := start; i < end; i += step {
		out = append(out, i)
	}
	return out
}

// UniqueSorted returns a new, ascending slice of the distinct values in is.
// The input is not modified.
func UniqueSorted(is []int) []int {
	cpy := append([]int(nil), is...)
	sort.Ints(cpy)
	out := cpy[:0]
	for i, v := range cpy {
		if i == 0 || v != cpy[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// StrictlyAscending is true if every element is larger than the one before it.
func StrictlyAscending(is []int) bool {
	for i := 1; i < len(is); i++ {
		if is[i] <= is[i-1] {
			return false
		}
	}
	return true
}

// IntSliceToCSV converts a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// CSVToIntSlice is the inverse of IntSliceToCSV
func CSVToIntSlice(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	pieces := strings.Split(s, ",")
	out := make([]int, len(pieces))
	for i, p := range pieces {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SumFloat adds up a slice of floats
func SumFloat(fs []float64) float64 {
	var total float64
	for _, f := range fs {
		total += f
	}
	return total
}

// Limiter is a min/max window.  Min is exclusive and Max is inclusive, which
// is how pipette ranges are quoted: a 20 uL instrument takes exactly 20 uL.
type Limiter struct {
	Min float64 `yaml:"Min" koanf:"Min" json:"min"`
	Max float64 `yaml:"Max" koanf:"Max" json:"max"`
}

// Check returns true if Min < x <= Max
func (l Limiter) Check(x float64) bool {
	return x > l.Min && x <= l.Max
}
