// Package protocol builds complete transfer plans for the lab's recurring
// experiments: standard curves, dilution series with their reportable range
// aliquots, mastermix plating and primer/probe screens.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/transfer"
)

// Layer names group the steps of a plan
const (
	LayerDiluent  = "diluent"
	LayerDilution = "dilution"
	LayerPlating  = "plating"
	LayerNegative = "negative"
	LayerForward  = "forward"
	LayerReverse  = "reverse"
	LayerProbe    = "probe"
)

// ErrUnknown is generated when a catalog has no protocol by a name
var ErrUnknown = errors.New("unknown protocol")

// Step is one labelled operation of a plan
type Step struct {
	// Label names what is moved, e.g. a reagent or a dilution
	Label string `json:"label"`

	Layer string      `json:"layer"`
	Op    transfer.Op `json:"-"`
}

// MarshalJSON adds the kind and body of the operation
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Label string      `json:"label"`
		Layer string      `json:"layer"`
		Kind  string      `json:"kind"`
		Op    transfer.Op `json:"op"`
	}{s.Label, s.Layer, s.Op.Kind(), s.Op})
}

// Plan is a fully resolved protocol
type Plan struct {
	Name     string             `json:"name"`
	Deck     transfer.Deck      `json:"deck"`
	Reagents []transfer.Reagent `json:"reagents"`

	// Chain is the dilution chain behind the plan, if it has one
	Chain *dilution.Chain `json:"chain,omitempty"`

	Steps []Step `json:"steps"`
}

// Ops returns the operations in execution order
func (p Plan) Ops() []transfer.Op {
	out := make([]transfer.Op, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Op
	}
	return out
}

// Preflight checks the plan against its deck
func (p Plan) Preflight() error {
	return transfer.Preflight(p.Deck, p.Ops())
}

func (p *Plan) add(layer, label string, op transfer.Op) {
	p.Steps = append(p.Steps, Step{Label: label, Layer: layer, Op: op})
}

// Builder makes a Plan from its parameters
type Builder interface {
	// Describe is a one-line summary for listings
	Describe() string

	Build() (Plan, error)
}

// Catalog is the set of protocols that can be run by name
type Catalog map[string]Builder

// DefaultCatalog holds the stock protocols with their default parameters
func DefaultCatalog() Catalog {
	return Catalog{
		"standard-curve":   DefaultStandardCurve(),
		"series":           DefaultSeries(),
		"reportable-range": DefaultReportableRange(),
		"mastermix":        DefaultMastermixPlating(),
		"primer-screen":    DefaultPrimerScreen(),
	}
}

// Names returns the protocol names, sorted
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build builds the named protocol
func (c Catalog) Build(name string) (Plan, error) {
	b, ok := c[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	p, err := b.Build()
	if err != nil {
		return Plan{}, err
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// pairedByInstrument splits one source's paired transfer into one op per
// instrument.  When one instrument takes every volume the transfer stays a
// single op; otherwise each volume goes to the instrument Choose picks for
// it.  Zero volumes are dropped.
func pairedByInstrument(pair pipette.Pair, src transfer.Location, dest string,
	wells []int, vols []float64, opts transfer.Options) ([]transfer.Paired, error) {
	type group struct {
		inst  pipette.Instrument
		wells []int
		vols  []float64
	}
	all := &group{}
	for i, v := range vols {
		if v != 0 {
			all.wells = append(all.wells, wells[i])
			all.vols = append(all.vols, v)
		}
	}
	var groups []*group
	if inst, err := pair.ChooseFor(all.vols); err == nil {
		all.inst = inst
		groups = append(groups, all)
	} else {
		errs := make([]error, 0)
		for i, v := range all.vols {
			inst, err := pair.Choose(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s well %d: %w", dest, all.wells[i], err))
				continue
			}
			var g *group
			for _, cand := range groups {
				if cand.inst == inst {
					g = cand
				}
			}
			if g == nil {
				g = &group{inst: inst}
				groups = append(groups, g)
			}
			g.wells = append(g.wells, all.wells[i])
			g.vols = append(g.vols, v)
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	out := make([]transfer.Paired, len(groups))
	for i, g := range groups {
		out[i] = transfer.Paired{
			Instrument: g.inst,
			Source:     src,
			Dest:       dest,
			Wells:      g.wells,
			Volumes:    g.vols,
			Options:    opts,
		}
	}
	return out, nil
}

// serial builds the tube-to-tube transfers of a chain, tube i+offset drawing
// from tube i+offset-1, each followed by mixing.  The first step with
// factor 1 is the stock itself and is skipped.
func serial(p *Plan, pair pipette.Pair, mix pipette.MixSettings, rack string, c dilution.Chain, offset int) error {
	errs := make([]error, 0)
	for i, s := range c.Steps {
		tube := i + offset
		if tube == 0 {
			continue
		}
		inst, err := pair.Choose(s.Source)
		if err != nil {
			errs = append(errs, fmt.Errorf("dilution %d source: %w", tube, err))
			continue
		}
		m := pair.ChooseMix(s.Source, s.Diluent, inst, mix)
		p.add(LayerDilution, fmt.Sprintf("dilution %d (1:%g)", tube, s.Factor), transfer.Paired{
			Instrument: inst,
			Source:     transfer.Location{Labware: rack, Well: tube - 1},
			Dest:       rack,
			Wells:      []int{tube},
			Volumes:    []float64{s.Source},
			Options: transfer.Options{
				Tip: transfer.TipFresh,
				Mix: &transfer.Mix{Cycles: m.Cycles, Volume: m.Volume, Instrument: m.Instrument},
			},
		})
	}
	return errors.Join(errs...)
}
