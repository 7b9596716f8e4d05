package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/mathx"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
	"github.com/op13/liquidplan/util"
)

// Deck names shared by the dilution protocols
const (
	RackDiluent = "diluent"
	RackTubes   = "tubes"
)

var (
	// ErrRegions is generated when doses and plating regions do not pair up
	ErrRegions = errors.New("one plating region is needed per dose")

	// ErrTooManyTubes is generated when a chain does not fit in the tube rack
	ErrTooManyTubes = errors.New("dilution chain does not fit in the tube rack")
)

// Negative says how negative control wells are filled
type Negative int

const (
	// NegManual leaves the negative wells for the operator
	NegManual Negative = iota

	// NegKit plates the kit negative from its own tube
	NegKit

	// NegDiluent plates the diluent as the negative
	NegDiluent
)

func (n Negative) String() string {
	switch n {
	case NegManual:
		return "manual"
	case NegKit:
		return "kit"
	case NegDiluent:
		return "diluent"
	default:
		return fmt.Sprintf("Negative(%d)", int(n))
	}
}

// MarshalText implements encoding.TextMarshaler
func (n Negative) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *Negative) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "manual":
		*n = NegManual
	case "kit":
		*n = NegKit
	case "diluent":
		*n = NegDiluent
	default:
		return fmt.Errorf("unknown negative handling %q", string(b))
	}
	return nil
}

// StandardCurve prepares a serial dilution of a stock from per-well doses
// and plates every dilution onto one or more 96-well plates.
//
// Tubes in the 24-tube rack hold the chain in column-major order: the stock
// is A1, the first dilution B1, and so on.  Diluent comes from A1 of a 15-tube
// rack.
type StandardCurve struct {
	// VolumePerWell and Excess are summed into the plated volume
	VolumePerWell float64 `json:"volumePerWell" yaml:"VolumePerWell" koanf:"VolumePerWell"`
	Excess        float64 `json:"excess" yaml:"Excess" koanf:"Excess"`

	// Doses are the per-well doses of each dilution, stock first
	Doses []float64 `json:"doses" yaml:"Doses" koanf:"Doses"`

	// Regions are the plate wells of each dilution, 1:1 with Doses
	Regions []plate.Region `json:"regions" yaml:"Regions" koanf:"Regions"`

	Plates   int      `json:"plates" yaml:"Plates" koanf:"Plates"`
	Negative Negative `json:"negative" yaml:"Negative" koanf:"Negative"`

	// NegativeRegion receives the negative control
	NegativeRegion plate.Region `json:"negativeRegion" yaml:"NegativeRegion" koanf:"NegativeRegion"`

	// NegativeTube is the kit negative's well in the tube rack
	NegativeTube int `json:"negativeTube" yaml:"NegativeTube" koanf:"NegativeTube"`

	// Disposal is the extra volume aspirated per plating pass
	Disposal float64 `json:"disposal" yaml:"Disposal" koanf:"Disposal"`

	Pair   pipette.Pair        `json:"pair" yaml:"Pair" koanf:"Pair"`
	Mix    pipette.MixSettings `json:"mix" yaml:"Mix" koanf:"Mix"`
	Params dilution.Params     `json:"params" yaml:"Params" koanf:"Params"`
}

// StandardCurveRegions is the ten-point plate map:
//
//	      1  2  3  4  5  6  7  8  9  10 11 12
//	A                    1e7     | 1e6    | N
//	B                    1e5     | 1e4    | N
//	C                    1000             | N
//	D                    200              | N
//	E              100
//	F              20
//	G              10
//	H              5
func StandardCurveRegions() []plate.Region {
	return []plate.Region{
		plate.Block(0, 1, 5, 8),
		plate.Block(0, 1, 8, 11),
		plate.Block(1, 2, 5, 8),
		plate.Block(1, 2, 8, 11),
		plate.Block(2, 3, 5, 11),
		plate.Block(3, 4, 5, 11),
		plate.Block(4, 5, 4, 12),
		plate.Block(5, 6, 4, 12),
		plate.Block(6, 7, 4, 12),
		plate.Block(7, 8, 4, 12),
	}
}

// DefaultStandardCurve is the ten-point 1e7 to 5 copies per well curve
func DefaultStandardCurve() StandardCurve {
	return StandardCurve{
		VolumePerWell:  10,
		Excess:         5,
		Doses:          []float64{1e7, 1e6, 1e5, 1e4, 1000, 200, 100, 20, 10, 5},
		Regions:        StandardCurveRegions(),
		Plates:         1,
		Negative:       NegKit,
		NegativeRegion: plate.Block(0, 4, 11, 12),
		NegativeTube:   20,
		Disposal:       10,
		Pair:           pipette.Pair{Left: pipette.P20, Right: pipette.P300},
		Mix:            pipette.DefaultMix,
		Params:         dilution.DefaultParams,
	}
}

// Describe implements Builder
func (s StandardCurve) Describe() string {
	return fmt.Sprintf("%d-point standard curve on %d plate(s), negatives %s", len(s.Doses), s.Plates, s.Negative)
}

func plateName(i int) string {
	return fmt.Sprintf("plate%d", i+1)
}

func (s StandardCurve) validate() error {
	errs := make([]error, 0)
	if len(s.Regions) != len(s.Doses) {
		errs = append(errs, fault.Config("regions", len(s.Regions), fmt.Errorf("%w: %d doses", ErrRegions, len(s.Doses))))
	}
	if s.Plates < 1 {
		errs = append(errs, fault.Config("plates", s.Plates, dilution.ErrPlates))
	}
	if s.VolumePerWell <= 0 {
		errs = append(errs, fault.Config("volumePerWell", s.VolumePerWell, dilution.ErrVolume))
	}
	if s.Excess < 0 || s.Disposal < 0 {
		errs = append(errs, fault.Config("excess", s.Excess+s.Disposal, errors.New("must not be negative")))
	}
	errs = append(errs, s.Pair.Validate())
	tubes := plate.TubeRack24.Wells()
	if s.Negative == NegKit {
		tubes = s.NegativeTube
		if s.NegativeTube < 0 || s.NegativeTube >= plate.TubeRack24.Wells() {
			errs = append(errs, fault.Config("negativeTube", s.NegativeTube, plate.ErrOutOfRange))
		}
	}
	if len(s.Doses) > tubes {
		errs = append(errs, fault.Config("doses", len(s.Doses), fmt.Errorf("%w: %d tubes free", ErrTooManyTubes, tubes)))
	}
	return errors.Join(errs...)
}

// Build implements Builder
func (s StandardCurve) Build() (Plan, error) {
	if err := s.validate(); err != nil {
		return Plan{}, err
	}
	all := append([]plate.Region(nil), s.Regions...)
	if s.Negative != NegManual {
		all = append(all, s.NegativeRegion)
	}
	if _, err := plate.Map(plate.Plate96, all...); err != nil {
		return Plan{}, fault.Config("regions", len(all), err)
	}
	factors, err := dilution.FactorsFromDoses(s.Doses)
	if err != nil {
		return Plan{}, err
	}
	plated := s.VolumePerWell + s.Excess
	wells := make([][]int, len(s.Regions))
	steps := make([]dilution.Step, len(s.Regions))
	for i, r := range s.Regions {
		wells[i], err = r.Wells(plate.Plate96)
		if err != nil {
			return Plan{}, fault.Config(fmt.Sprintf("regions[%d]", i), i, err)
		}
		steps[i] = dilution.Step{Wells: len(wells[i]), VolumePerWell: plated, Factor: factors[i]}
	}
	params := s.Params
	params.Plates = s.Plates
	// each extra plate costs one more disposal volume from the tube
	params.DisposalMargin += s.Disposal * float64(s.Plates-1)
	chain, err := dilution.Plan(steps, params)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Deck: transfer.NewDeck(
			transfer.Labware{Name: RackDiluent, Layout: plate.TubeRack15, Capacity: 5000},
			transfer.Labware{Name: RackTubes, Layout: plate.TubeRack24, Capacity: 1500},
		),
		Chain: &chain,
	}
	for i := 0; i < s.Plates; i++ {
		p.Deck[plateName(i)] = transfer.Labware{Name: plateName(i), Layout: plate.Plate96, Capacity: 200}
	}
	diluentTube := transfer.Location{Labware: RackDiluent, Well: 0}
	p.Reagents = []transfer.Reagent{
		{Name: "stock", Source: transfer.Location{Labware: RackTubes, Well: 0}, Volume: chain.Steps[0].Source + 20},
		{Name: "diluent", Source: diluentTube, Volume: 200 + mathx.CeilTo(chain.TotalDiluent(), 10)},
	}
	negTube := transfer.Location{Labware: RackTubes, Well: s.NegativeTube}
	if s.Negative == NegKit {
		negWells, _ := s.NegativeRegion.Wells(plate.Plate96)
		p.Reagents = append(p.Reagents, transfer.Reagent{
			Name:   "kit negative",
			Source: negTube,
			Volume: plated*float64(len(negWells)*s.Plates) + s.Disposal*float64(s.Plates) + 20,
		})
	}

	// 1. diluent into every tube, one tip per instrument
	dil, err := pairedByInstrument(s.Pair, diluentTube, RackTubes, util.Arange(len(chain.Steps)), chain.Diluents(),
		transfer.Options{Tip: transfer.TipReuse, BlowOut: true})
	if err != nil {
		return Plan{}, err
	}
	for _, op := range dil {
		p.add(LayerDiluent, "diluent", op)
	}

	// 2. serial dilution
	if err := serial(&p, s.Pair, s.Mix, RackTubes, chain, 0); err != nil {
		return Plan{}, err
	}

	// 3. plating
	inst, err := s.Pair.Choose(plated + s.Disposal)
	if err != nil {
		return Plan{}, fault.Config("volumePerWell", plated, err)
	}
	opts := transfer.Options{Tip: transfer.TipFresh, Disposal: s.Disposal}
	for i := range chain.Steps {
		for pl := 0; pl < s.Plates; pl++ {
			p.add(LayerPlating, fmt.Sprintf("%g per well", s.Doses[i]), transfer.Broadcast{
				Instrument: inst,
				Source:     transfer.Location{Labware: RackTubes, Well: i},
				Dest:       plateName(pl),
				Wells:      wells[i],
				Volume:     plated,
				Options:    opts,
			})
		}
	}

	// 4. negatives
	if s.Negative != NegManual {
		src := negTube
		if s.Negative == NegDiluent {
			src = diluentTube
		}
		negWells, _ := s.NegativeRegion.Wells(plate.Plate96)
		for pl := 0; pl < s.Plates; pl++ {
			p.add(LayerNegative, "negative ("+s.Negative.String()+")", transfer.Broadcast{
				Instrument: inst,
				Source:     src,
				Dest:       plateName(pl),
				Wells:      negWells,
				Volume:     plated,
				Options:    opts,
			})
		}
	}
	return p, nil
}
