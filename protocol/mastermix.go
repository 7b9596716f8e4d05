package protocol

import (
	"errors"
	"fmt"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
)

// RackMastermix holds the mastermix tube in its A1
const RackMastermix = "mastermix"

// LayerMastermix groups mastermix plating steps
const LayerMastermix = "mastermix"

// MaxMastermixPlates is the number of deck slots free for plates
const MaxMastermixPlates = 4

var (
	// ErrDeckSlots is generated when more plates are requested than fit
	ErrDeckSlots = errors.New("not enough deck slots")

	// ErrSourceCapacity is generated when a reagent does not fit its tube
	ErrSourceCapacity = errors.New("reagent exceeds its source tube")
)

// MastermixPlating fills the same wells of one or more 96-well plates with
// mastermix ahead of a run.  One plate draws from a 1.5 mL tube; more plates
// need a 5 mL tube.
type MastermixPlating struct {
	Plates int     `json:"plates" yaml:"Plates" koanf:"Plates"`
	Volume float64 `json:"volume" yaml:"Volume" koanf:"Volume"`

	// Region is the wells filled on every plate
	Region plate.Region `json:"region" yaml:"Region" koanf:"Region"`

	// Disposal is the extra volume aspirated per pass and blown back into
	// the tube
	Disposal float64 `json:"disposal" yaml:"Disposal" koanf:"Disposal"`

	Pair pipette.Pair `json:"pair" yaml:"Pair" koanf:"Pair"`
}

// DefaultMastermixPlating fills every well of one plate with 10 uL
func DefaultMastermixPlating() MastermixPlating {
	return MastermixPlating{
		Plates:   1,
		Volume:   10,
		Region:   plate.Block(0, 8, 0, 12),
		Disposal: 10,
		Pair:     pipette.Pair{Left: pipette.P20, Right: pipette.P300},
	}
}

// Describe implements Builder
func (m MastermixPlating) Describe() string {
	return fmt.Sprintf("mastermix plating, %g uL on %d plate(s)", m.Volume, m.Plates)
}

// rack is the mastermix tube rack for the plate count
func (m MastermixPlating) rack() transfer.Labware {
	if m.Plates > 1 {
		return transfer.Labware{Name: RackMastermix, Layout: plate.TubeRack15, Capacity: 5000}
	}
	return transfer.Labware{Name: RackMastermix, Layout: plate.TubeRack24, Capacity: 1500}
}

// Build implements Builder
func (m MastermixPlating) Build() (Plan, error) {
	errs := make([]error, 0)
	if m.Plates < 1 {
		errs = append(errs, fault.Config("plates", m.Plates, dilution.ErrPlates))
	} else if m.Plates > MaxMastermixPlates {
		errs = append(errs, fault.Config("plates", m.Plates, fmt.Errorf("%w: at most %d plates", ErrDeckSlots, MaxMastermixPlates)))
	}
	if m.Volume <= 0 {
		errs = append(errs, fault.Config("volume", m.Volume, dilution.ErrVolume))
	}
	if m.Disposal < 0 {
		errs = append(errs, fault.Config("disposal", m.Disposal, errors.New("must not be negative")))
	}
	errs = append(errs, m.Pair.Validate())
	if err := errors.Join(errs...); err != nil {
		return Plan{}, err
	}
	wells, err := m.Region.Wells(plate.Plate96)
	if err != nil {
		return Plan{}, fault.Config("region", len(wells), err)
	}
	inst, err := m.Pair.Choose(m.Volume + m.Disposal)
	if err != nil {
		return Plan{}, fault.Config("volume", m.Volume, err)
	}

	rack := m.rack()
	src := transfer.Location{Labware: RackMastermix, Well: 0}
	need := (m.Volume*float64(len(wells))+m.Disposal)*float64(m.Plates) + 20
	if need > rack.Capacity {
		return Plan{}, fault.Config("volume", m.Volume,
			fmt.Errorf("%w: %g uL needed, %g uL tube", ErrSourceCapacity, need, rack.Capacity))
	}
	p := Plan{
		Deck:     transfer.NewDeck(rack),
		Reagents: []transfer.Reagent{{Name: "mastermix", Source: src, Volume: need}},
	}
	opts := transfer.Options{Tip: transfer.TipFresh, BlowOut: true, Disposal: m.Disposal}
	for i := 0; i < m.Plates; i++ {
		p.Deck[plateName(i)] = transfer.Labware{Name: plateName(i), Layout: plate.Plate96, Capacity: 200}
		p.add(LayerMastermix, "mastermix", transfer.Broadcast{
			Instrument: inst,
			Source:     src,
			Dest:       plateName(i),
			Wells:      wells,
			Volume:     m.Volume,
			Options:    opts,
		})
	}
	return p, nil
}
