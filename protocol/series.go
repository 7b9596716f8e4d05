package protocol

import (
	"fmt"
	"io"
	"strings"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/mathx"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
	"github.com/op13/liquidplan/util"
)

// DefaultSeriesTable is the 13-tube reportable range series
const DefaultSeriesTable = `1,50,200
2,50,200
3,50,200
4,50,200
5,50,200
6,50,200
7,105,420
8,375,375
9,375,375
10,375,375
11,375,375
12,375,375
13,375,375
`

// Series runs a dilution series given as a table of per-tube source and
// diluent volumes.  Tube 0 of the rack holds the stock; table step n is
// made in tube n from tube n-1.
type Series struct {
	Chain dilution.Chain `json:"chain"`

	// DiluentRack is the layout of the rack holding the diluent in its A1
	DiluentRack plate.Layout `json:"diluentRack" yaml:"DiluentRack" koanf:"DiluentRack"`

	Pair pipette.Pair        `json:"pair" yaml:"Pair" koanf:"Pair"`
	Mix  pipette.MixSettings `json:"mix" yaml:"Mix" koanf:"Mix"`
}

// NewSeries reads a series table.  header skips a header row.
func NewSeries(r io.Reader, header bool, pair pipette.Pair) (Series, error) {
	rows, err := dilution.ReadTable(r, header)
	if err != nil {
		return Series{}, err
	}
	chain, err := dilution.FromTable(rows)
	if err != nil {
		return Series{}, err
	}
	return Series{Chain: chain, DiluentRack: plate.TubeRack15, Pair: pair, Mix: pipette.DefaultMix}, nil
}

// DefaultSeries is DefaultSeriesTable with a P300 and P1000
func DefaultSeries() Series {
	s, err := NewSeries(strings.NewReader(DefaultSeriesTable), false,
		pipette.Pair{Left: pipette.P1000, Right: pipette.P300})
	if err != nil {
		panic(err)
	}
	return s
}

// Describe implements Builder
func (s Series) Describe() string {
	return fmt.Sprintf("%d-tube custom dilution series, %g uL diluent", len(s.Chain.Steps), s.Chain.TotalDiluent())
}

// Build implements Builder
func (s Series) Build() (Plan, error) {
	n := len(s.Chain.Steps)
	if n == 0 {
		return Plan{}, fault.Config("table", 0, dilution.ErrNoSteps)
	}
	if n+1 > plate.TubeRack24.Wells() {
		return Plan{}, fault.Config("table", n, fmt.Errorf("%w: %d tubes", ErrTooManyTubes, plate.TubeRack24.Wells()))
	}
	if err := s.Pair.Validate(); err != nil {
		return Plan{}, err
	}
	rack := s.DiluentRack
	if rack.Rows == 0 {
		rack = plate.TubeRack15
	}
	chain := s.Chain
	p := Plan{
		Deck: transfer.NewDeck(
			transfer.Labware{Name: RackDiluent, Layout: rack, Capacity: 5000},
			transfer.Labware{Name: RackTubes, Layout: plate.TubeRack24, Capacity: 1500},
		),
		Chain: &chain,
	}
	diluentTube := transfer.Location{Labware: RackDiluent, Well: 0}
	p.Reagents = []transfer.Reagent{
		{Name: "stock", Source: transfer.Location{Labware: RackTubes, Well: 0}, Volume: chain.Steps[0].Source + 20},
		{Name: "diluent", Source: diluentTube, Volume: 200 + mathx.CeilTo(chain.TotalDiluent(), 10)},
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
	return p, nil
}
