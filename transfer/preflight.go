package transfer

import (
	"errors"
	"fmt"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/util"
)

var (
	// ErrNoWells is generated when an operation has no destinations
	ErrNoWells = errors.New("no destination wells")

	// ErrWellOrder is generated when destinations are not strictly ascending
	ErrWellOrder = errors.New("destination wells not strictly ascending")

	// ErrWellRange is generated when a well is not on its labware
	ErrWellRange = errors.New("well not on labware")

	// ErrVolume is generated for a zero or negative volume
	ErrVolume = errors.New("volume must be positive")

	// ErrSinglePass is generated when a volume cannot be moved in one aspirate
	ErrSinglePass = errors.New("exceeds single-pass capacity of instrument")

	// ErrPairing is generated when a Paired op has mismatched lists
	ErrPairing = errors.New("volumes and wells differ in length")

	// ErrMix is generated for an unworkable mixing step
	ErrMix = errors.New("invalid mix")

	// ErrWellCapacity is generated when a dispense would overfill a well
	ErrWellCapacity = errors.New("exceeds well capacity")
)

// Preflight checks every operation against the deck.  All problems found are
// joined and returned together, each as a fault.ConfigError naming the step.
func Preflight(d Deck, ops []Op) error {
	errs := make([]error, 0)
	for i, op := range ops {
		if err := op.check(d); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, op.Kind(), err))
		}
	}
	return errors.Join(errs...)
}

func (d Deck) checkLocation(param string, loc Location) error {
	lw, ok := d[loc.Labware]
	if !ok {
		return fault.Config(param, loc.Labware, fault.ErrLabwareMissing)
	}
	if loc.Well < 0 || loc.Well >= lw.Layout.Wells() {
		return fault.Config(param, loc.Well, ErrWellRange)
	}
	return nil
}

func (d Deck) checkWells(dest string, wells []int) error {
	if len(wells) == 0 {
		return fault.Config("wells", "[]", ErrNoWells)
	}
	if !util.StrictlyAscending(wells) {
		return fault.Config("wells", util.IntSliceToCSV(wells), ErrWellOrder)
	}
	errs := make([]error, 0)
	for _, w := range wells {
		if err := d.checkLocation("wells", Location{Labware: dest, Well: w}); err != nil {
			errs = append(errs, err)
			if errors.Is(err, fault.ErrLabwareMissing) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (d Deck) checkCapacity(dest string, v float64) error {
	lw, ok := d[dest]
	if ok && lw.Capacity > 0 && v > lw.Capacity {
		return fault.Config("volume", v, fmt.Errorf("%w %g uL of %s", ErrWellCapacity, lw.Capacity, dest))
	}
	return nil
}

func checkOptions(o Options) error {
	errs := make([]error, 0)
	if o.Disposal < 0 {
		errs = append(errs, fault.Config("disposal", o.Disposal, ErrVolume))
	}
	if o.DispenseHeight < 0 {
		errs = append(errs, fault.Config("dispenseHeight", o.DispenseHeight, errors.New("must not be negative")))
	}
	if m := o.Mix; m != nil {
		if m.Cycles < 1 {
			errs = append(errs, fault.Config("mix.cycles", m.Cycles, ErrMix))
		}
		if m.Volume <= 0 || m.Volume > m.Instrument.Max {
			errs = append(errs, fault.Config("mix.volume", m.Volume,
				fmt.Errorf("%w: %s takes at most %g uL", ErrMix, m.Instrument, m.Instrument.Max)))
		}
	}
	return errors.Join(errs...)
}

// checkVolume checks one dispense of v that takes aspirate from the source
func checkVolume(param string, v, aspirate float64, inst pipette.Instrument) error {
	if v <= 0 {
		return fault.Config(param, v, ErrVolume)
	}
	if aspirate > inst.Max {
		return fault.Config(param, v, fmt.Errorf("%w (%g uL aspirated, %s holds %g)", ErrSinglePass, aspirate, inst, inst.Max))
	}
	if !inst.Contains(aspirate) {
		return fault.Config(param, v, fmt.Errorf("%w: %g uL outside %s", fault.ErrVolumeRange, aspirate, inst))
	}
	return nil
}

func (b Broadcast) check(d Deck) error {
	errs := []error{
		d.checkLocation("source", b.Source),
		d.checkWells(b.Dest, b.Wells),
		checkOptions(b.Options),
	}
	// a broadcast aspirates the disposal volume along with each dispense
	errs = append(errs, checkVolume("volume", b.Volume, b.Volume+b.Disposal, b.Instrument))
	errs = append(errs, d.checkCapacity(b.Dest, b.Volume))
	return errors.Join(errs...)
}

func (p Paired) check(d Deck) error {
	errs := []error{
		d.checkLocation("source", p.Source),
		d.checkWells(p.Dest, p.Wells),
		checkOptions(p.Options),
	}
	if len(p.Volumes) != len(p.Wells) {
		errs = append(errs, fault.Config("volumes", len(p.Volumes),
			fmt.Errorf("%w: %d wells", ErrPairing, len(p.Wells))))
	}
	for i, v := range p.Volumes {
		errs = append(errs, checkVolume(fmt.Sprintf("volumes[%d]", i), v, v, p.Instrument))
		errs = append(errs, d.checkCapacity(p.Dest, v))
	}
	return errors.Join(errs...)
}
