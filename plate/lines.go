package plate

import (
	"errors"
	"fmt"

	"github.com/op13/liquidplan/util"
)

var (
	// ErrEmptySelection is generated when a selector expands to nothing
	ErrEmptySelection = errors.New("selector selects no rows or columns")

	// ErrBadJump is generated for a resume rule that does not move forward
	ErrBadJump = errors.New("resume rule must jump forward")

	// ErrBadStep is generated for a negative step
	ErrBadStep = errors.New("step must be positive")
)

// Jump is a resume rule: a generator that reaches At continues at Resume.
// "rows A-F, skip G and H, then I-N" is Range(0, 14).Jump(6, 8).
type Jump struct {
	At     int `json:"at" yaml:"At"`
	Resume int `json:"resume" yaml:"Resume"`
}

// Lines selects a set of rows or columns.
//
// The selection is the union of the range generator [Start, Stop) walked by
// Step, the explicit List, and every selector in Or.  Jumps act on the range
// generator and drop list values in [At, Resume); Skip drops individual
// values from everything.  Expansion is ascending and deduplicated.
type Lines struct {
	Start int     `json:"start,omitempty" yaml:"Start,omitempty"`
	Stop  int     `json:"stop,omitempty" yaml:"Stop,omitempty"`
	Step  int     `json:"step,omitempty" yaml:"Step,omitempty"`
	List  []int   `json:"list,omitempty" yaml:"List,omitempty"`
	Skips []int   `json:"skip,omitempty" yaml:"Skip,omitempty"`
	Jumps []Jump  `json:"jumps,omitempty" yaml:"Jumps,omitempty"`
	Or    []Lines `json:"or,omitempty" yaml:"Or,omitempty"`
}

// Range selects [start, stop)
func Range(start, stop int) Lines {
	return Lines{Start: start, Stop: stop, Step: 1}
}

// Every selects every step-th value of [start, stop)
func Every(start, stop, step int) Lines {
	return Lines{Start: start, Stop: stop, Step: step}
}

// List selects exactly the given values
func List(values ...int) Lines {
	return Lines{List: append([]int(nil), values...)}
}

// One selects a single value
func One(v int) Lines {
	return List(v)
}

// Union selects everything any of ls select
func Union(ls ...Lines) Lines {
	return Lines{Or: append([]Lines(nil), ls...)}
}

// Skip returns a copy of l that leaves out the given values
func (l Lines) Skip(values ...int) Lines {
	l.Skips = append(append([]int(nil), l.Skips...), values...)
	return l
}

// Jump returns a copy of l with an added resume rule
func (l Lines) Jump(at, resume int) Lines {
	l.Jumps = append(append([]Jump(nil), l.Jumps...), Jump{At: at, Resume: resume})
	return l
}

// Expand produces the ascending, deduplicated selection on an axis of bound
// rows or columns.  Every value and range end must lie on the axis; this is
// checked before anything is generated.
func (l Lines) Expand(bound int) ([]int, error) {
	if err := l.check(bound); err != nil {
		return nil, err
	}
	out, err := l.expand()
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptySelection
	}
	return out, nil
}

func (l Lines) check(bound int) error {
	off := func(v int) bool { return v < 0 || v > bound }
	if l.Stop > l.Start && (off(l.Start) || off(l.Stop)) {
		return fmt.Errorf("%w: range [%d, %d) on an axis of %d", ErrOutOfRange, l.Start, l.Stop, bound)
	}
	for _, v := range l.List {
		if v < 0 || v >= bound {
			return fmt.Errorf("%w: line %d on an axis of %d", ErrOutOfRange, v, bound)
		}
	}
	for _, j := range l.Jumps {
		if off(j.At) || off(j.Resume) {
			return fmt.Errorf("%w: jump %d to %d on an axis of %d", ErrOutOfRange, j.At, j.Resume, bound)
		}
	}
	for idx, sub := range l.Or {
		if err := sub.check(bound); err != nil {
			return fmt.Errorf("or[%d]: %w", idx, err)
		}
	}
	return nil
}

func (l Lines) expand() ([]int, error) {
	for _, j := range l.Jumps {
		if j.Resume <= j.At {
			return nil, fmt.Errorf("%w: at %d resume %d", ErrBadJump, j.At, j.Resume)
		}
	}
	step := l.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadStep, l.Step)
	}

	var vals []int
	for i := l.Start; i < l.Stop; {
		if r, ok := l.resumeAt(i); ok {
			i = r
			continue
		}
		vals = append(vals, i)
		if step > l.Stop-i {
			break
		}
		i += step
	}
	for _, v := range l.List {
		if !l.jumpedOver(v) {
			vals = append(vals, v)
		}
	}
	for idx, sub := range l.Or {
		subvals, err := sub.expand()
		if err != nil {
			return nil, fmt.Errorf("or[%d]: %w", idx, err)
		}
		vals = append(vals, subvals...)
	}

	if len(l.Skips) > 0 {
		skip := make(map[int]struct{}, len(l.Skips))
		for _, s := range l.Skips {
			skip[s] = struct{}{}
		}
		kept := vals[:0]
		for _, v := range vals {
			if _, drop := skip[v]; !drop {
				kept = append(kept, v)
			}
		}
		vals = kept
	}
	return util.UniqueSorted(vals), nil
}

func (l Lines) resumeAt(i int) (int, bool) {
	for _, j := range l.Jumps {
		if j.At == i {
			return j.Resume, true
		}
	}
	return 0, false
}

func (l Lines) jumpedOver(v int) bool {
	for _, j := range l.Jumps {
		if v >= j.At && v < j.Resume {
			return true
		}
	}
	return false
}
