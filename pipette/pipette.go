// Package pipette chooses which of the two mounted instruments handles a volume
package pipette

import (
	"errors"
	"fmt"
	"strings"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/util"
)

var (
	// ErrNoInstrument is generated when a volume is outside both pipettable ranges
	ErrNoInstrument = errors.New("no instrument can pipette this volume")

	// ErrUnknown is generated by Lookup for an unknown model
	ErrUnknown = errors.New("unknown pipette model")
)

// Instrument is a pipette with its pipettable range.  Min is exclusive and
// Max inclusive.
type Instrument struct {
	Name string  `json:"name" yaml:"Name" koanf:"Name"`
	Min  float64 `json:"min" yaml:"Min" koanf:"Min"`
	Max  float64 `json:"max" yaml:"Max" koanf:"Max"`
}

var (
	// P20 is a single channel 20 uL pipette
	P20 = Instrument{Name: "p20_single_gen2", Min: 0, Max: 20}

	// P300 is a single channel 300 uL pipette used with 200 uL tips
	P300 = Instrument{Name: "p300_single_gen2", Min: 20, Max: 200}

	// P1000 is a single channel 1000 uL pipette
	P1000 = Instrument{Name: "p1000_single_gen2", Min: 200, Max: 1000}

	catalogue = []Instrument{P20, P300, P1000}
)

// Lookup finds a catalogue instrument by model name or shorthand, e.g. "p300"
func Lookup(name string) (Instrument, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, inst := range catalogue {
		if inst.Name == name || strings.HasPrefix(inst.Name, name+"_") {
			return inst, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Limits returns the range as a Limiter
func (i Instrument) Limits() util.Limiter {
	return util.Limiter{Min: i.Min, Max: i.Max}
}

// Contains is true if Min < v <= Max
func (i Instrument) Contains(v float64) bool {
	return i.Limits().Check(v)
}

func (i Instrument) String() string {
	return i.Name
}

// Validate checks that the range is sane
func (i Instrument) Validate() error {
	if i.Name == "" {
		return fault.Config("pipette.name", i.Name, errors.New("must not be empty"))
	}
	if i.Min < 0 || i.Max <= i.Min {
		return fault.Config(i.Name+".range", fmt.Sprintf("(%g, %g]", i.Min, i.Max), errors.New("need 0 <= min < max"))
	}
	return nil
}

// Pair is the two instruments mounted on the robot
type Pair struct {
	Left  Instrument `json:"left" yaml:"Left" koanf:"Left"`
	Right Instrument `json:"right" yaml:"Right" koanf:"Right"`
}

// Validate checks both instruments
func (p Pair) Validate() error {
	return errors.Join(p.Left.Validate(), p.Right.Validate())
}

// Smaller returns the instrument with the lower max volume
func (p Pair) Smaller() Instrument {
	if p.Left.Max <= p.Right.Max {
		return p.Left
	}
	return p.Right
}

// Larger returns the instrument with the higher max volume
func (p Pair) Larger() Instrument {
	if p.Left.Max > p.Right.Max {
		return p.Left
	}
	return p.Right
}

// Choose picks the instrument for a volume.  The instrument whose range
// contains v wins; when both do, the smaller one does.  A volume that falls
// in a gap between the two ranges goes to the instrument whose range lies
// closest below it.  A volume outside both ranges is a configuration error,
// never a clamp.
func (p Pair) Choose(v float64) (Instrument, error) {
	small, large := p.Smaller(), p.Larger()
	switch {
	case small.Contains(v):
		return small, nil
	case large.Contains(v):
		return large, nil
	}
	if v <= small.Min && v <= large.Min || v > small.Max && v > large.Max {
		return Instrument{}, fault.Config("volume", v,
			fmt.Errorf("%w: %s takes (%g, %g], %s takes (%g, %g]",
				ErrNoInstrument, small, small.Min, small.Max, large, large.Min, large.Max))
	}
	// in the gap
	if small.Max < v {
		return small, nil
	}
	return large, nil
}

// Choose is Pair{a, b}.Choose(v)
func Choose(v float64, a, b Instrument) (Instrument, error) {
	return Pair{Left: a, Right: b}.Choose(v)
}

// ChooseFor picks one instrument for a set of volumes handled with a single
// tip: the smaller instrument if it takes every volume, else the larger if it
// does.  ErrNoInstrument names the first volume that breaks the set.
func (p Pair) ChooseFor(vols []float64) (Instrument, error) {
	if len(vols) == 0 {
		return Instrument{}, fault.Config("volumes", 0, ErrNoInstrument)
	}
	if miss := firstMiss(p.Smaller(), vols); miss < 0 {
		return p.Smaller(), nil
	}
	miss := firstMiss(p.Larger(), vols)
	if miss < 0 {
		return p.Larger(), nil
	}
	return Instrument{}, fault.Config(fmt.Sprintf("volumes[%d]", miss), vols[miss], ErrNoInstrument)
}

// firstMiss is the index of the first volume inst cannot take, or -1
func firstMiss(inst Instrument, vols []float64) int {
	for i, v := range vols {
		if !inst.Contains(v) {
			return i
		}
	}
	return -1
}
