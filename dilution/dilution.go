// Package dilution plans serial dilution chains.
//
// Each step in a chain is prepared by drawing some volume out of the step
// before it (the stock, for step 0) and topping up with diluent.  Because a
// step must hold enough to plate its own wells and to feed the next, more
// dilute step, volumes are solved from the last step backwards, then read off
// forwards for execution.  All of this happens before any liquid moves.
package dilution

import (
	"errors"
	"fmt"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/mathx"
)

var (
	// ErrNoSteps is generated for an empty chain
	ErrNoSteps = errors.New("dilution chain has no steps")

	// ErrFactor is generated for a dilution factor below 1
	ErrFactor = errors.New("dilution factor must be >= 1")

	// ErrVolume is generated for a non-positive per-well volume
	ErrVolume = errors.New("volume per well must be positive")

	// ErrWells is generated for a negative well count
	ErrWells = errors.New("wells to supply must be >= 0")

	// ErrPlates is generated when fewer than one plate is requested
	ErrPlates = errors.New("number of plates must be >= 1")

	// ErrTubeCapacity is generated when a step needs more than its tube holds
	ErrTubeCapacity = errors.New("required volume exceeds tube capacity")

	// ErrDose is generated for non-positive or increasing doses
	ErrDose = errors.New("doses must be positive and non-increasing")
)

// Step is one node of a chain as the experiment describes it
type Step struct {
	// Wells is the number of final wells (per plate) this step plates
	Wells int `json:"wells" yaml:"Wells"`

	// VolumePerWell is the volume dispensed into each of those wells,
	// including any per-well excess
	VolumePerWell float64 `json:"volumePerWell" yaml:"VolumePerWell"`

	// Factor is the concentration of the previous step (or the stock)
	// divided by the concentration of this one
	Factor float64 `json:"factor" yaml:"Factor"`
}

// Params are the chain-wide planning parameters
type Params struct {
	// Plates multiplies every step's plating volume
	Plates int `json:"plates" yaml:"Plates" koanf:"Plates"`

	// DisposalMargin is added to every step to cover dead volume
	DisposalMargin float64 `json:"disposalMargin" yaml:"DisposalMargin" koanf:"DisposalMargin"`

	// Granularity rounds each non-terminal requirement up, e.g. to 10 uL,
	// so the numbers are easy to check by eye.  Zero disables rounding.
	Granularity float64 `json:"granularity" yaml:"Granularity" koanf:"Granularity"`

	// TubeCapacity is the largest volume a step's tube holds.  Zero means
	// unchecked.
	TubeCapacity float64 `json:"tubeCapacity" yaml:"TubeCapacity" koanf:"TubeCapacity"`
}

// DefaultParams matches the standard curve scripts: one plate, 20 uL dead
// volume, round to 10 uL, 1.5 mL tubes
var DefaultParams = Params{
	Plates:         1,
	DisposalMargin: 20,
	Granularity:    10,
	TubeCapacity:   1500,
}

// Planned is one solved step
type Planned struct {
	// Index is the position in the chain, 0 closest to the stock
	Index int `json:"index"`

	Wells  int     `json:"wells"`
	Factor float64 `json:"factor"`

	// Exact is the volume needed to plate this step's own wells plus margin
	Exact float64 `json:"exact"`

	// Required is the total volume prepared in this step's tube
	Required float64 `json:"required"`

	// Source is the volume drawn from the previous step (or stock)
	Source float64 `json:"source"`

	// Diluent is the volume of diluent added
	Diluent float64 `json:"diluent"`
}

// Chain is a fully solved dilution chain in forward order
type Chain struct {
	Steps []Planned `json:"steps"`
}

// Plan solves a chain.  Every parameter error is reported before anything
// is returned; a chain that plans successfully can be executed as is.
func Plan(steps []Step, p Params) (Chain, error) {
	if err := validate(steps, p); err != nil {
		return Chain{}, err
	}
	n := len(steps)
	out := make([]Planned, n)
	for i, s := range steps {
		out[i] = Planned{
			Index:  i,
			Wells:  s.Wells,
			Factor: s.Factor,
			Exact:  float64(s.Wells)*s.VolumePerWell*float64(p.Plates) + p.DisposalMargin,
		}
	}

	// the most dilute step feeds nothing, so it needs exactly its own volume
	out[n-1].Required = out[n-1].Exact
	out[n-1].Source = mathx.FloorDiv(out[n-1].Required, out[n-1].Factor)
	for i := n - 2; i >= 0; i-- {
		next := out[i+1]
		out[i].Required = mathx.CeilTo(out[i].Exact+next.Source, p.Granularity)
		out[i].Source = mathx.FloorDiv(out[i].Required, out[i].Factor)
	}

	for i := range out {
		out[i].Diluent = out[i].Required - out[i].Source
		if p.TubeCapacity > 0 && out[i].Required > p.TubeCapacity {
			return Chain{}, fault.Config(fmt.Sprintf("steps[%d].required", i), out[i].Required,
				fmt.Errorf("%w of %g", ErrTubeCapacity, p.TubeCapacity))
		}
	}
	return Chain{Steps: out}, nil
}

func validate(steps []Step, p Params) error {
	if len(steps) == 0 {
		return fault.Config("steps", 0, ErrNoSteps)
	}
	if p.Plates < 1 {
		return fault.Config("plates", p.Plates, ErrPlates)
	}
	if p.DisposalMargin < 0 {
		return fault.Config("disposalMargin", p.DisposalMargin, errors.New("must be >= 0"))
	}
	if p.Granularity < 0 {
		return fault.Config("granularity", p.Granularity, errors.New("must be >= 0"))
	}
	var errs []error
	for i, s := range steps {
		if s.Factor < 1 {
			errs = append(errs, fault.Config(fmt.Sprintf("steps[%d].factor", i), s.Factor, ErrFactor))
		}
		if s.Wells < 0 {
			errs = append(errs, fault.Config(fmt.Sprintf("steps[%d].wells", i), s.Wells, ErrWells))
		}
		if s.VolumePerWell <= 0 {
			errs = append(errs, fault.Config(fmt.Sprintf("steps[%d].volumePerWell", i), s.VolumePerWell, ErrVolume))
		}
	}
	return errors.Join(errs...)
}

// FactorsFromDoses converts a schedule of per-well doses (copies per well,
// say) into per-step dilution factors.  The first step is taken straight from
// the stock and has factor 1.
func FactorsFromDoses(doses []float64) ([]float64, error) {
	if len(doses) == 0 {
		return nil, fault.Config("doses", 0, ErrNoSteps)
	}
	out := make([]float64, len(doses))
	for i, d := range doses {
		if d <= 0 {
			return nil, fault.Config(fmt.Sprintf("doses[%d]", i), d, ErrDose)
		}
		if i == 0 {
			out[i] = 1
			continue
		}
		if d > doses[i-1] {
			return nil, fault.Config(fmt.Sprintf("doses[%d]", i), d, ErrDose)
		}
		out[i] = doses[i-1] / d
	}
	return out, nil
}

// Sources returns the source volumes in step order
func (c Chain) Sources() []float64 {
	out := make([]float64, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Source
	}
	return out
}

// Diluents returns the diluent volumes in step order
func (c Chain) Diluents() []float64 {
	out := make([]float64, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = s.Diluent
	}
	return out
}

// TotalDiluent is the diluent consumed by the whole chain
func (c Chain) TotalDiluent() float64 {
	var total float64
	for _, s := range c.Steps {
		total += s.Diluent
	}
	return total
}
