package protocol

import (
	"errors"
	"fmt"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/mathx"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
	"github.com/op13/liquidplan/util"
)

// AliquotPlate is the deck name of the reportable range aliquot plate
const AliquotPlate = "aliquots"

// ReportableRange dilutes a stock through a chain of tubes, then aliquots
// every dilution into its replicate block of a 96-well plate.  The aliquot
// plate is later stamped column for column into the qPCR plates.
//
// The stock is tube A1 of the 24-tube rack and dilution n is made in tube n,
// so the chain runs B1, C1, D1, A2, ... in column-major order.
type ReportableRange struct {
	// Factors dilute each tube from the one before it, the first from the
	// stock
	Factors []float64 `json:"factors" yaml:"Factors" koanf:"Factors"`

	// Regions are the aliquot wells of each dilution, 1:1 with Factors
	Regions []plate.Region `json:"regions" yaml:"Regions" koanf:"Regions"`

	// AliquotVolume is dispensed into every aliquot well
	AliquotVolume float64 `json:"aliquotVolume" yaml:"AliquotVolume" koanf:"AliquotVolume"`

	// Negatives plates the negative control from NegativeTube
	Negatives      bool         `json:"negatives" yaml:"Negatives" koanf:"Negatives"`
	NegativeRegion plate.Region `json:"negativeRegion" yaml:"NegativeRegion" koanf:"NegativeRegion"`
	NegativeTube   int          `json:"negativeTube" yaml:"NegativeTube" koanf:"NegativeTube"`

	// Disposal is the extra volume aspirated per aliquoting pass and blown
	// back into the source tube
	Disposal float64 `json:"disposal" yaml:"Disposal" koanf:"Disposal"`

	Pair   pipette.Pair        `json:"pair" yaml:"Pair" koanf:"Pair"`
	Mix    pipette.MixSettings `json:"mix" yaml:"Mix" koanf:"Mix"`
	Params dilution.Params     `json:"params" yaml:"Params" koanf:"Params"`
}

// ReportableRangeRegions is the fourteen-dilution aliquot map:
//
//	      1 2 3 4 | 5 6 7 8 | 9 10 11 12
//	A        1    |    2    |     3
//	B        4    |    5    |     6
//	C        7    |    8    |     9
//	D            10         |
//	E            11         |  negative
//	F                  12
//	G                  13
//	H                  14
//
// Dilutions 1-9 get 4 replicates, 10-11 get 8 and 12-14 get 12.
func ReportableRangeRegions() []plate.Region {
	out := make([]plate.Region, 0, 14)
	for d := 0; d < 9; d++ {
		row, c0 := d/3, 4*(d%3)
		out = append(out, plate.Block(row, row+1, c0, c0+4))
	}
	for row := 3; row < 5; row++ {
		out = append(out, plate.Block(row, row+1, 0, 8))
	}
	for row := 5; row < 8; row++ {
		out = append(out, plate.Block(row, row+1, 0, 12))
	}
	return out
}

// DefaultReportableRange is the 2.5e6 to 0.5 copies/uL range: 1:8 from the
// stock, seven 1:5 steps, then six 1:2 steps, aliquoted at 45 uL per well
// so each well stamps four plates at 10 uL
func DefaultReportableRange() ReportableRange {
	return ReportableRange{
		Factors:        []float64{8, 5, 5, 5, 5, 5, 5, 5, 2, 2, 2, 2, 2, 2},
		Regions:        ReportableRangeRegions(),
		AliquotVolume:  45,
		Negatives:      true,
		NegativeRegion: plate.Block(3, 5, 8, 12),
		NegativeTube:   16,
		Disposal:       20,
		Pair:           pipette.Pair{Left: pipette.P1000, Right: pipette.P300},
		Mix:            pipette.DefaultMix,
		Params:         dilution.DefaultParams,
	}
}

// Describe implements Builder
func (s ReportableRange) Describe() string {
	return fmt.Sprintf("%d-dilution reportable range, %g uL aliquots", len(s.Factors), s.AliquotVolume)
}

func (s ReportableRange) validate() error {
	errs := make([]error, 0)
	if len(s.Factors) == 0 {
		errs = append(errs, fault.Config("factors", 0, dilution.ErrNoSteps))
	}
	if len(s.Regions) != len(s.Factors) {
		errs = append(errs, fault.Config("regions", len(s.Regions), fmt.Errorf("%w: %d factors", ErrRegions, len(s.Factors))))
	}
	if s.AliquotVolume <= 0 {
		errs = append(errs, fault.Config("aliquotVolume", s.AliquotVolume, dilution.ErrVolume))
	}
	if s.Disposal < 0 {
		errs = append(errs, fault.Config("disposal", s.Disposal, errors.New("must not be negative")))
	}
	errs = append(errs, s.Pair.Validate())

	// tube 0 is the stock
	free := plate.TubeRack24.Wells() - 1
	if s.Negatives {
		if s.NegativeTube <= len(s.Factors) || s.NegativeTube >= plate.TubeRack24.Wells() {
			errs = append(errs, fault.Config("negativeTube", s.NegativeTube,
				fmt.Errorf("%w: tubes 0-%d hold the chain", plate.ErrOutOfRange, len(s.Factors))))
		}
		free--
	}
	if len(s.Factors) > free {
		errs = append(errs, fault.Config("factors", len(s.Factors), fmt.Errorf("%w: %d tubes free", ErrTooManyTubes, free)))
	}
	return errors.Join(errs...)
}

// Build implements Builder
func (s ReportableRange) Build() (Plan, error) {
	if err := s.validate(); err != nil {
		return Plan{}, err
	}
	all := append([]plate.Region(nil), s.Regions...)
	if s.Negatives {
		all = append(all, s.NegativeRegion)
	}
	if _, err := plate.Map(plate.Plate96, all...); err != nil {
		return Plan{}, fault.Config("regions", len(all), err)
	}
	n := len(s.Factors)
	wells := make([][]int, n)
	steps := make([]dilution.Step, n)
	for i, r := range s.Regions {
		var err error
		if wells[i], err = r.Wells(plate.Plate96); err != nil {
			return Plan{}, fault.Config(fmt.Sprintf("regions[%d]", i), i, err)
		}
		steps[i] = dilution.Step{Wells: len(wells[i]), VolumePerWell: s.AliquotVolume, Factor: s.Factors[i]}
	}
	params := s.Params
	params.Plates = 1
	chain, err := dilution.Plan(steps, params)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		Deck: transfer.NewDeck(
			transfer.Labware{Name: RackDiluent, Layout: plate.TubeRack15, Capacity: 5000},
			transfer.Labware{Name: RackTubes, Layout: plate.TubeRack24, Capacity: 1500},
			transfer.Labware{Name: AliquotPlate, Layout: plate.Plate96, Capacity: 200},
		),
		Chain: &chain,
	}
	diluentTube := transfer.Location{Labware: RackDiluent, Well: 0}
	negTube := transfer.Location{Labware: RackTubes, Well: s.NegativeTube}
	p.Reagents = []transfer.Reagent{
		{Name: "stock", Source: transfer.Location{Labware: RackTubes, Well: 0}, Volume: chain.Steps[0].Source + 20},
		{Name: "diluent", Source: diluentTube, Volume: 200 + mathx.CeilTo(chain.TotalDiluent(), 10)},
	}
	var negWells []int
	if s.Negatives {
		negWells, _ = s.NegativeRegion.Wells(plate.Plate96)
		p.Reagents = append(p.Reagents, transfer.Reagent{
			Name:   "negative",
			Source: negTube,
			Volume: s.AliquotVolume*float64(len(negWells)) + s.Disposal + 20,
		})
	}

	dil, err := pairedByInstrument(s.Pair, diluentTube, RackTubes, util.Arange(1, n+1), chain.Diluents(),
		transfer.Options{Tip: transfer.TipReuse, BlowOut: true})
	if err != nil {
		return Plan{}, err
	}
	for _, op := range dil {
		p.add(LayerDiluent, "diluent", op)
	}
	if err := serial(&p, s.Pair, s.Mix, RackTubes, chain, 1); err != nil {
		return Plan{}, err
	}

	inst, err := s.Pair.Choose(s.AliquotVolume + s.Disposal)
	if err != nil {
		return Plan{}, fault.Config("aliquotVolume", s.AliquotVolume, err)
	}
	opts := transfer.Options{Tip: transfer.TipFresh, BlowOut: true, Disposal: s.Disposal}
	for i := range chain.Steps {
		p.add(LayerPlating, fmt.Sprintf("dilution %d", i+1), transfer.Broadcast{
			Instrument: inst,
			Source:     transfer.Location{Labware: RackTubes, Well: i + 1},
			Dest:       AliquotPlate,
			Wells:      wells[i],
			Volume:     s.AliquotVolume,
			Options:    opts,
		})
	}
	if s.Negatives {
		p.add(LayerNegative, "negative", transfer.Broadcast{
			Instrument: inst,
			Source:     negTube,
			Dest:       AliquotPlate,
			Wells:      negWells,
			Volume:     s.AliquotVolume,
			Options:    opts,
		})
	}
	return p, nil
}
