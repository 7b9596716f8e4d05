// Package transfer describes liquid transfers and issues them, in order, to
// a liquid handling service.
//
// A protocol is a flat list of operations.  Each is either a Broadcast, one
// uniform volume from one source into many wells, or a Paired transfer, a
// list of volumes matched 1:1 with destination wells.  The whole list is
// checked by Preflight before the first call reaches the service.
package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/util"
)

// Location is a well on a piece of labware
type Location struct {
	Labware string `json:"labware" yaml:"Labware"`
	Well    int    `json:"well" yaml:"Well"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s[%d]", l.Labware, l.Well)
}

// Labware is a plate or tube rack on the deck
type Labware struct {
	Name   string       `json:"name" yaml:"Name" koanf:"Name"`
	Layout plate.Layout `json:"layout" yaml:"Layout" koanf:"Layout"`

	// Capacity is the largest volume a single well holds, in uL.  Zero
	// disables the check.
	Capacity float64 `json:"capacity" yaml:"Capacity" koanf:"Capacity"`
}

// Deck is the labware known to a protocol, by name
type Deck map[string]Labware

// NewDeck builds a deck from a list of labware
func NewDeck(lw ...Labware) Deck {
	d := make(Deck, len(lw))
	for _, l := range lw {
		d[l.Name] = l
	}
	return d
}

// WellName returns the human name of loc, e.g. "rack:B3"
func (d Deck) WellName(loc Location) string {
	lw, ok := d[loc.Labware]
	if !ok {
		return loc.String()
	}
	return loc.Labware + ":" + lw.Layout.Name(loc.Well)
}

// Reagent is a named liquid and where it starts.  Concentration and Volume
// are bookkeeping for the operator and are not checked.
type Reagent struct {
	Name          string   `json:"name" yaml:"Name"`
	Source        Location `json:"source" yaml:"Source"`
	Concentration float64  `json:"concentration,omitempty" yaml:"Concentration"`
	Volume        float64  `json:"volume,omitempty" yaml:"Volume"`
}

// TipPolicy says when the service picks up a new tip
type TipPolicy int

const (
	// TipFresh uses a new tip for the operation and drops it afterwards
	TipFresh TipPolicy = iota

	// TipReuse keeps whatever tip is on the instrument, picking one up only
	// if there is none
	TipReuse
)

func (t TipPolicy) String() string {
	switch t {
	case TipFresh:
		return "fresh"
	case TipReuse:
		return "reuse"
	default:
		return fmt.Sprintf("TipPolicy(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler
func (t TipPolicy) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TipPolicy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "fresh", "always", "":
		*t = TipFresh
	case "reuse", "once":
		*t = TipReuse
	default:
		return fmt.Errorf("unknown tip policy %q", string(b))
	}
	return nil
}

// Mix is a mixing step performed in each destination after dispensing
type Mix struct {
	Cycles     int                `json:"cycles"`
	Volume     float64            `json:"volume"`
	Instrument pipette.Instrument `json:"instrument"`
}

// Options are the per-operation handling options
type Options struct {
	Tip TipPolicy `json:"tip"`

	// Disposal is extra volume aspirated on top of the dispensed volume and
	// discarded afterwards
	Disposal float64 `json:"disposal,omitempty"`

	TouchTip bool `json:"touchTip,omitempty"`

	// DispenseHeight is mm above the well bottom; zero leaves the service default
	DispenseHeight float64 `json:"dispenseHeight,omitempty"`

	BlowOut bool `json:"blowOut,omitempty"`

	Mix *Mix `json:"mix,omitempty"`
}

// Handler is the liquid handling service.  Implementations perform the
// motion, tip handling and liquid classes; they return an error wrapping one
// of the fault sentinels when the hardware refuses.
type Handler interface {
	// Distribute dispenses one volume into every destination well
	Distribute(context.Context, Broadcast) error

	// Transfer dispenses Volumes[i] into Wells[i]
	Transfer(context.Context, Paired) error
}

// Op is a single protocol operation, a Broadcast or a Paired transfer
type Op interface {
	// Kind is "distribute" or "transfer"
	Kind() string

	// Describe is a one-line summary for logs and reports
	Describe() string

	// Dispensed is the total volume delivered to the destination
	Dispensed() float64

	check(Deck) error
	issue(context.Context, Handler) error
}

// Broadcast is one uniform volume from a single source into many wells
type Broadcast struct {
	Instrument pipette.Instrument `json:"instrument"`
	Source     Location           `json:"source"`

	// Dest is the destination labware name
	Dest string `json:"dest"`

	// Wells are the destination well indices, strictly ascending
	Wells  []int   `json:"wells"`
	Volume float64 `json:"volume"`

	Options
}

// Kind implements Op
func (b Broadcast) Kind() string { return "distribute" }

// Describe implements Op
func (b Broadcast) Describe() string {
	return fmt.Sprintf("distribute %g uL with %s from %s to %s wells [%s]",
		b.Volume, b.Instrument, b.Source, b.Dest, util.IntSliceToCSV(b.Wells))
}

// Dispensed implements Op
func (b Broadcast) Dispensed() float64 { return b.Volume * float64(len(b.Wells)) }

func (b Broadcast) issue(ctx context.Context, h Handler) error { return h.Distribute(ctx, b) }

// Paired is a list of volumes from one source, Volumes[i] into Wells[i]
type Paired struct {
	Instrument pipette.Instrument `json:"instrument"`
	Source     Location           `json:"source"`
	Dest       string             `json:"dest"`
	Wells      []int              `json:"wells"`
	Volumes    []float64          `json:"volumes"`

	Options
}

// Kind implements Op
func (p Paired) Kind() string { return "transfer" }

// Describe implements Op
func (p Paired) Describe() string {
	vols := make([]string, len(p.Volumes))
	for i, v := range p.Volumes {
		vols[i] = fmt.Sprintf("%g", v)
	}
	return fmt.Sprintf("transfer [%s] uL with %s from %s to %s wells [%s]",
		strings.Join(vols, ","), p.Instrument, p.Source, p.Dest, util.IntSliceToCSV(p.Wells))
}

// Dispensed implements Op
func (p Paired) Dispensed() float64 { return util.SumFloat(p.Volumes) }

func (p Paired) issue(ctx context.Context, h Handler) error { return h.Transfer(ctx, p) }
