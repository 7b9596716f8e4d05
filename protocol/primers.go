package protocol

import (
	"errors"
	"fmt"
	"slices"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
	"github.com/op13/liquidplan/util"
)

// Deck names used by the primer screen
const (
	RackForward = "forward"
	RackReverse = "reverse"
	RackProbes  = "probes"
	ScreenPlate = "plate"
)

// ErrIncomplete is generated when a well misses one layer of the reaction
var ErrIncomplete = errors.New("wells do not receive every layer")

// Assignment plates one reagent over a region of its section
type Assignment struct {
	Name   string            `json:"name" yaml:"Name"`
	Source transfer.Location `json:"source" yaml:"Source"`
	Region plate.Region      `json:"region" yaml:"Region"`
}

// Section is a block of columns testing one target.  Assignment regions are
// relative to the section and moved into place by Offset.
type Section struct {
	Name    string       `json:"name" yaml:"Name"`
	Offset  int          `json:"offset" yaml:"Offset"`
	Forward []Assignment `json:"forward" yaml:"Forward"`
	Reverse []Assignment `json:"reverse" yaml:"Reverse"`
	Probes  []Assignment `json:"probes" yaml:"Probes"`
}

// PrimerScreen plates forward primers, then reverse primers, then probes
// over a 384-well plate so that every probe is tested with several primer
// pairs.  Each layer is fully dispensed before the next starts.
type PrimerScreen struct {
	Layout plate.Layout `json:"layout" yaml:"Layout"`

	// Volume of each reagent per well
	Volume float64 `json:"volume" yaml:"Volume"`

	// ReverseHeight is the dispense height for the reverse layer, mm, so the
	// tip stays clear of the forward primer already in the well
	ReverseHeight float64 `json:"reverseHeight" yaml:"ReverseHeight"`

	Instrument pipette.Instrument `json:"instrument" yaml:"Instrument"`
	Sections   []Section          `json:"sections" yaml:"Sections"`
}

// halves selects rows in the top half of a 16-row plate and the same rows
// in the bottom half
func halves(rows ...int) plate.Lines {
	out := make([]int, 0, 2*len(rows))
	out = append(out, rows...)
	for _, r := range rows {
		out = append(out, r+8)
	}
	return plate.List(util.UniqueSorted(out)...)
}

func tube(rack, name string) transfer.Location {
	i, err := plate.TubeRack24.IndexOf(name)
	if err != nil {
		panic(err)
	}
	return transfer.Location{Labware: rack, Well: i}
}

// section builds a six-column section.  fwd and rev list the top-half rows
// of each primer; probeRows is the row selector shared by both probes, one
// over the first three columns and one over the last three.
func section(name, tubeRow string, offset int, fwd, rev [][]int, probeRows plate.Lines) Section {
	cols := plate.Range(0, 6)
	s := Section{Name: name, Offset: offset}
	for i, rows := range fwd {
		s.Forward = append(s.Forward, Assignment{
			Name:   fmt.Sprintf("%s F%d", name, i+1),
			Source: tube(RackForward, fmt.Sprintf("%s%d", tubeRow, i+1)),
			Region: plate.Region{Rows: halves(rows...), Columns: cols},
		})
	}
	for i, rows := range rev {
		s.Reverse = append(s.Reverse, Assignment{
			Name:   fmt.Sprintf("%s R%d", name, i+1),
			Source: tube(RackReverse, fmt.Sprintf("%s%d", tubeRow, i+1)),
			Region: plate.Region{Rows: halves(rows...), Columns: cols},
		})
	}
	for i, c := range []plate.Lines{plate.Range(0, 3), plate.Range(3, 6)} {
		s.Probes = append(s.Probes, Assignment{
			Name:   fmt.Sprintf("%s P%d", name, i+1),
			Source: tube(RackProbes, fmt.Sprintf("%s%d", tubeRow, i+1)),
			Region: plate.Region{Rows: probeRows, Columns: c},
		})
	}
	return s
}

// DefaultPrimerScreen is the four-target screen: targets 422 and 586 use
// twelve rows per column (G and H skipped), 434 and 577 use fourteen (H
// skipped), in column blocks 1-6, 19-24, 7-12 and 13-18.
func DefaultPrimerScreen() PrimerScreen {
	twelve := plate.Range(0, 14).Jump(6, 8)
	fourteen := plate.Range(0, 15).Jump(7, 8)
	sixFwd := [][]int{{0, 1}, {2, 4, 5}, {3}}
	sixRev := [][]int{{0, 2}, {1, 3, 5}, {4}}
	sevenFwd := [][]int{{0, 2}, {1}, {3, 5, 6}, {4}}
	sevenRev := [][]int{{0, 3}, {1}, {2, 4, 6}, {5}}
	return PrimerScreen{
		Layout:        plate.Plate384,
		Volume:        2,
		ReverseHeight: 4.5,
		Instrument:    pipette.P20,
		Sections: []Section{
			section("422", "A", 0, sixFwd, sixRev, twelve),
			section("434", "B", 96, sevenFwd, sevenRev, fourteen),
			section("577", "C", 192, sevenFwd, sevenRev, fourteen),
			section("586", "D", 288, sixFwd, sixRev, twelve),
		},
	}
}

// Describe implements Builder
func (s PrimerScreen) Describe() string {
	return fmt.Sprintf("primer/probe screen, %d sections on a %d-well plate", len(s.Sections), s.Layout.Wells())
}

type layer struct {
	name string
	pick func(Section) []Assignment
	opts transfer.Options
}

func (s PrimerScreen) layers() []layer {
	return []layer{
		{LayerForward, func(sec Section) []Assignment { return sec.Forward },
			transfer.Options{Tip: transfer.TipFresh}},
		{LayerReverse, func(sec Section) []Assignment { return sec.Reverse },
			transfer.Options{Tip: transfer.TipFresh, TouchTip: true, DispenseHeight: s.ReverseHeight}},
		{LayerProbe, func(sec Section) []Assignment { return sec.Probes },
			transfer.Options{Tip: transfer.TipFresh, TouchTip: true}},
	}
}

// Build implements Builder.  Within a layer no two reagents may share a
// well, and every layer must cover the same wells.
func (s PrimerScreen) Build() (Plan, error) {
	if err := s.Instrument.Validate(); err != nil {
		return Plan{}, err
	}
	p := Plan{
		Deck: transfer.NewDeck(
			transfer.Labware{Name: RackForward, Layout: plate.TubeRack24, Capacity: 1500},
			transfer.Labware{Name: RackReverse, Layout: plate.TubeRack24, Capacity: 1500},
			transfer.Labware{Name: RackProbes, Layout: plate.TubeRack24, Capacity: 1500},
			transfer.Labware{Name: ScreenPlate, Layout: s.Layout, Capacity: 40},
		),
	}
	var covered []int
	errs := make([]error, 0)
	for _, ly := range s.layers() {
		var regions []plate.Region
		for _, sec := range s.Sections {
			for _, a := range ly.pick(sec) {
				regions = append(regions, a.Region.Shift(sec.Offset))
			}
		}
		all, err := plate.Map(s.Layout, regions...)
		if err != nil {
			errs = append(errs, fault.Config(ly.name, len(regions), err))
			continue
		}
		if covered == nil {
			covered = all
		} else if !slices.Equal(covered, all) {
			errs = append(errs, fault.Config(ly.name, len(all),
				fmt.Errorf("%w: %d wells against %d", ErrIncomplete, len(all), len(covered))))
		}
		for _, sec := range s.Sections {
			for _, a := range ly.pick(sec) {
				wells, err := a.Region.Shift(sec.Offset).Wells(s.Layout)
				if err != nil {
					errs = append(errs, fault.Config(a.Name, sec.Offset, err))
					continue
				}
				used := s.Volume * float64(len(wells))
				p.Reagents = append(p.Reagents, transfer.Reagent{Name: a.Name, Source: a.Source, Volume: used})
				p.add(ly.name, a.Name, transfer.Broadcast{
					Instrument: s.Instrument,
					Source:     a.Source,
					Dest:       ScreenPlate,
					Wells:      wells,
					Volume:     s.Volume,
					Options:    ly.opts,
				})
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Plan{}, err
	}
	return p, nil
}
