package protocol_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/protocol"
	"github.com/op13/liquidplan/transfer"
)

func layers(p protocol.Plan) map[string]int {
	out := map[string]int{}
	for _, s := range p.Steps {
		out[s.Layer]++
	}
	return out
}

// run executes a plan against a mock loaded with the plan's reagents
func run(t *testing.T, p protocol.Plan) *transfer.Mock {
	t.Helper()
	m := transfer.NewMock(p.Deck)
	for _, r := range p.Reagents {
		m.SetVolume(r.Source, r.Volume)
	}
	rep, err := transfer.Executor{Handler: m, Deck: p.Deck}.Run(context.Background(), p.Ops())
	require.NoError(t, err)
	require.True(t, rep.Done())
	return m
}

func TestStandardCurveDefault(t *testing.T) {
	p, err := protocol.DefaultStandardCurve().Build()
	require.NoError(t, err)
	require.NoError(t, p.Preflight())

	assert.Equal(t, map[string]int{
		protocol.LayerDiluent:  1,
		protocol.LayerDilution: 9,
		protocol.LayerPlating:  10,
		protocol.LayerNegative: 1,
	}, layers(p))

	assert.Equal(t, []float64{80, 8, 8, 9, 16, 42, 95, 50, 105, 70}, p.Chain.Sources())

	dil := p.Steps[0].Op.(transfer.Paired)
	assert.Equal(t, pipette.P300, dil.Instrument)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, dil.Wells)
	assert.Equal(t, transfer.TipReuse, dil.Tip)

	first := p.Steps[1].Op.(transfer.Paired)
	assert.Equal(t, pipette.P20, first.Instrument)
	assert.Equal(t, transfer.Location{Labware: protocol.RackTubes, Well: 0}, first.Source)
	require.NotNil(t, first.Mix)
	assert.Equal(t, pipette.P300, first.Mix.Instrument)
	assert.InDelta(t, 64, first.Mix.Volume, 1e-9)

	plating := p.Steps[10].Op.(transfer.Broadcast)
	assert.Equal(t, []int{40, 48, 56}, plating.Wells)
	assert.Equal(t, 15.0, plating.Volume)
	assert.Equal(t, 10.0, plating.Disposal)

	neg := p.Steps[len(p.Steps)-1].Op.(transfer.Broadcast)
	assert.Equal(t, []int{88, 89, 90, 91}, neg.Wells)
	assert.Equal(t, transfer.Location{Labware: protocol.RackTubes, Well: 20}, neg.Source)
}

func TestStandardCurveNeverRunsATubeDry(t *testing.T) {
	p, err := protocol.DefaultStandardCurve().Build()
	require.NoError(t, err)
	m := run(t, p)
	for i := 0; i < 10; i++ {
		loc := transfer.Location{Labware: protocol.RackTubes, Well: i}
		assert.GreaterOrEqual(t, m.Volume(loc), 10.0-1e-9, "tube %d", i)
	}
	for _, r := range p.Reagents {
		assert.GreaterOrEqual(t, m.Volume(r.Source), 0.0, r.Name)
	}
	assert.Equal(t, 15.0, m.Volume(transfer.Location{Labware: "plate1", Well: 40}))
	assert.Equal(t, 15.0, m.Volume(transfer.Location{Labware: "plate1", Well: 91}))
	assert.Equal(t, 0.0, m.Volume(transfer.Location{Labware: "plate1", Well: 0}))
	assert.Equal(t, 21, m.TipsUsed())
}

func TestStandardCurveSeveralPlates(t *testing.T) {
	sc := protocol.DefaultStandardCurve()
	sc.Plates = 2
	sc.VolumePerWell = 5
	sc.Excess = 0
	sc.Negative = protocol.NegDiluent
	p, err := sc.Build()
	require.NoError(t, err)
	assert.Equal(t, 20, layers(p)[protocol.LayerPlating])
	assert.Equal(t, 2, layers(p)[protocol.LayerNegative])
	last := p.Chain.Steps[len(p.Chain.Steps)-1]
	assert.Equal(t, 8*5*2+20+10.0, last.Required)

	neg := p.Steps[len(p.Steps)-1].Op.(transfer.Broadcast)
	assert.Equal(t, "plate2", neg.Dest)
	assert.Equal(t, protocol.RackDiluent, neg.Source.Labware)
	run(t, p)
}

func TestStandardCurveConfigErrors(t *testing.T) {
	sc := protocol.DefaultStandardCurve()
	sc.Doses = sc.Doses[:9]
	_, err := sc.Build()
	assert.True(t, errors.Is(err, protocol.ErrRegions))
	assert.True(t, fault.IsConfig(err))

	sc = protocol.DefaultStandardCurve()
	sc.NegativeRegion = plate.Block(0, 1, 5, 6)
	_, err = sc.Build()
	assert.True(t, errors.Is(err, plate.ErrOverlap))

	// the dilution sources are below the P300's range
	sc = protocol.DefaultStandardCurve()
	sc.Pair = pipette.Pair{Left: pipette.P1000, Right: pipette.P300}
	_, err = sc.Build()
	assert.True(t, errors.Is(err, pipette.ErrNoInstrument))

	sc = protocol.DefaultStandardCurve()
	sc.Doses[3] = 0
	_, err = sc.Build()
	assert.True(t, errors.Is(err, dilution.ErrDose))
}

func TestSeriesDefault(t *testing.T) {
	p, err := protocol.DefaultSeries().Build()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{protocol.LayerDiluent: 2, protocol.LayerDilution: 13}, layers(p))

	small := p.Steps[0].Op.(transfer.Paired)
	large := p.Steps[1].Op.(transfer.Paired)
	assert.Equal(t, pipette.P300, small.Instrument)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, small.Wells)
	assert.Equal(t, pipette.P1000, large.Instrument)
	assert.Equal(t, []int{7, 8, 9, 10, 11, 12, 13}, large.Wells)

	seventh := p.Steps[8].Op.(transfer.Paired)
	assert.Equal(t, []float64{105}, seventh.Volumes)
	assert.Equal(t, 6, seventh.Source.Well)
	assert.Equal(t, pipette.P1000, seventh.Mix.Instrument)
	assert.InDelta(t, 420, seventh.Mix.Volume, 1e-9)

	m := run(t, p)
	assert.InDelta(t, 20, m.Volume(transfer.Location{Labware: protocol.RackTubes, Well: 0}), 1e-9)
	assert.InDelta(t, 750, m.Volume(transfer.Location{Labware: protocol.RackTubes, Well: 13}), 1e-9)
}

func TestSeriesFromCSV(t *testing.T) {
	csv := "step,rna,diluent\n1,16,64\n2,20,80\n"
	s, err := protocol.NewSeries(strings.NewReader(csv), true,
		pipette.Pair{Left: pipette.P20, Right: pipette.P300})
	require.NoError(t, err)
	p, err := s.Build()
	require.NoError(t, err)
	require.Len(t, p.Steps, 3)
	second := p.Steps[2].Op.(transfer.Paired)
	assert.Equal(t, pipette.P20, second.Instrument)
	assert.Equal(t, pipette.P300, second.Mix.Instrument)
	assert.InDelta(t, 80, second.Mix.Volume, 1e-9)

	_, err = protocol.NewSeries(strings.NewReader("1,16,64\n3,20,80\n"), false, s.Pair)
	assert.True(t, errors.Is(err, dilution.ErrTable))
}

func TestReportableRangeDefault(t *testing.T) {
	p, err := protocol.DefaultReportableRange().Build()
	require.NoError(t, err)
	require.NoError(t, p.Preflight())

	assert.Equal(t, map[string]int{
		protocol.LayerDiluent:  1,
		protocol.LayerDilution: 14,
		protocol.LayerPlating:  14,
		protocol.LayerNegative: 1,
	}, layers(p))
	assert.Equal(t, []float64{32, 52, 52, 52, 52, 54, 62, 102, 305, 410, 435, 490, 420, 280}, p.Chain.Sources())
	assert.Equal(t, 560.0, p.Chain.Steps[13].Required)

	// every diluent volume is over 200 uL, so one P1000 tip does them all
	dil := p.Steps[0].Op.(transfer.Paired)
	assert.Equal(t, pipette.P1000, dil.Instrument)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, dil.Wells)

	first := p.Steps[15].Op.(transfer.Broadcast)
	assert.Equal(t, "dilution 1", p.Steps[15].Label)
	assert.Equal(t, pipette.P300, first.Instrument)
	assert.Equal(t, transfer.Location{Labware: protocol.RackTubes, Well: 1}, first.Source)
	assert.Equal(t, []int{0, 8, 16, 24}, first.Wells)
	assert.True(t, first.BlowOut)

	neg := p.Steps[len(p.Steps)-1].Op.(transfer.Broadcast)
	assert.Equal(t, []int{67, 68, 75, 76, 83, 84, 91, 92}, neg.Wells)
	assert.Equal(t, transfer.Location{Labware: protocol.RackTubes, Well: 16}, neg.Source)

	// the map covers the plate exactly once
	wells := map[int]bool{}
	for _, st := range p.Steps {
		if b, ok := st.Op.(transfer.Broadcast); ok {
			for _, w := range b.Wells {
				assert.False(t, wells[w], "well %d filled twice", w)
				wells[w] = true
			}
		}
	}
	assert.Len(t, wells, plate.Plate96.Wells())
}

func TestReportableRangeNeverRunsATubeDry(t *testing.T) {
	p, err := protocol.DefaultReportableRange().Build()
	require.NoError(t, err)
	m := run(t, p)
	for i := 0; i <= 14; i++ {
		loc := transfer.Location{Labware: protocol.RackTubes, Well: i}
		assert.GreaterOrEqual(t, m.Volume(loc), -1e-9, "tube %d", i)
	}
	assert.Equal(t, 45.0, m.Volume(transfer.Location{Labware: protocol.AliquotPlate, Well: 95}))
	assert.Equal(t, 45.0, m.Volume(transfer.Location{Labware: protocol.AliquotPlate, Well: 67}))
}

func TestReportableRangeConfigErrors(t *testing.T) {
	rr := protocol.DefaultReportableRange()
	rr.Factors = rr.Factors[:13]
	_, err := rr.Build()
	assert.True(t, errors.Is(err, protocol.ErrRegions))
	assert.True(t, fault.IsConfig(err))

	rr = protocol.DefaultReportableRange()
	rr.NegativeTube = 10
	_, err = rr.Build()
	assert.True(t, errors.Is(err, plate.ErrOutOfRange))

	rr = protocol.DefaultReportableRange()
	rr.NegativeRegion = plate.Block(2, 4, 8, 12)
	_, err = rr.Build()
	assert.True(t, errors.Is(err, plate.ErrOverlap))

	rr = protocol.DefaultReportableRange()
	rr.Negatives = false
	p, err := rr.Build()
	require.NoError(t, err)
	assert.Zero(t, layers(p)[protocol.LayerNegative])
}

func TestMastermixPlating(t *testing.T) {
	p, err := protocol.DefaultMastermixPlating().Build()
	require.NoError(t, err)
	require.NoError(t, p.Preflight())
	require.Len(t, p.Steps, 1)
	b := p.Steps[0].Op.(transfer.Broadcast)
	assert.Len(t, b.Wells, 96)
	assert.Equal(t, pipette.P20, b.Instrument)
	assert.Equal(t, plate.TubeRack24, p.Deck[protocol.RackMastermix].Layout)
	assert.Equal(t, 990.0, p.Reagents[0].Volume)

	mm := protocol.DefaultMastermixPlating()
	mm.Plates = 3
	mm.Volume = 15
	p, err = mm.Build()
	require.NoError(t, err)
	require.NoError(t, p.Preflight())
	assert.Equal(t, map[string]int{protocol.LayerMastermix: 3}, layers(p))
	assert.Equal(t, plate.TubeRack15, p.Deck[protocol.RackMastermix].Layout)
	assert.Equal(t, pipette.P300, p.Steps[2].Op.(transfer.Broadcast).Instrument)
	assert.Equal(t, "plate3", p.Steps[2].Op.(transfer.Broadcast).Dest)
	m := run(t, p)
	assert.Equal(t, 15.0, m.Volume(transfer.Location{Labware: "plate2", Well: 50}))
}

func TestMastermixLimits(t *testing.T) {
	mm := protocol.DefaultMastermixPlating()
	mm.Plates = 5
	_, err := mm.Build()
	assert.True(t, errors.Is(err, protocol.ErrDeckSlots))

	mm = protocol.DefaultMastermixPlating()
	mm.Plates = 4
	mm.Volume = 20
	_, err = mm.Build()
	assert.True(t, errors.Is(err, protocol.ErrSourceCapacity))
	assert.True(t, fault.IsConfig(err))
}

func TestPrimerScreenDefault(t *testing.T) {
	p, err := protocol.DefaultPrimerScreen().Build()
	require.NoError(t, err)
	require.NoError(t, p.Preflight())
	assert.Equal(t, map[string]int{
		protocol.LayerForward: 14,
		protocol.LayerReverse: 14,
		protocol.LayerProbe:   8,
	}, layers(p))

	// layers are dispensed in order
	seen := []string{}
	for _, s := range p.Steps {
		if len(seen) == 0 || seen[len(seen)-1] != s.Layer {
			seen = append(seen, s.Layer)
		}
	}
	assert.Equal(t, []string{protocol.LayerForward, protocol.LayerReverse, protocol.LayerProbe}, seen)

	f1 := p.Steps[0].Op.(transfer.Broadcast)
	assert.Equal(t, []int{0, 1, 8, 9, 16, 17, 24, 25}, f1.Wells[:8])
	assert.Len(t, f1.Wells, 24)
	assert.False(t, f1.TouchTip)

	r1 := p.Steps[14].Op.(transfer.Broadcast)
	assert.True(t, r1.TouchTip)
	assert.Equal(t, 4.5, r1.DispenseHeight)

	total := 0
	for _, s := range p.Steps[28:] {
		b := s.Op.(transfer.Broadcast)
		total += len(b.Wells)
		for _, w := range b.Wells {
			if b.Wells[0] < 96 || b.Wells[0] >= 288 {
				// twelve-row sections skip G and H
				assert.NotContains(t, []int{6, 7}, w%16)
			}
		}
	}
	assert.Equal(t, 72+84+84+72, total)

	last := p.Steps[len(p.Steps)-1].Op.(transfer.Broadcast)
	assert.Equal(t, 336, last.Wells[0])
	assert.Equal(t, 381, last.Wells[len(last.Wells)-1])

	m := run(t, p)
	assert.InDelta(t, 6, m.Volume(transfer.Location{Labware: protocol.ScreenPlate, Well: 0}), 1e-9)
	assert.InDelta(t, 6, m.Volume(transfer.Location{Labware: protocol.ScreenPlate, Well: 96 + 14}), 1e-9)
	assert.Zero(t, m.Volume(transfer.Location{Labware: protocol.ScreenPlate, Well: 6}))
}

func TestPrimerScreenChecksLayers(t *testing.T) {
	ps := protocol.DefaultPrimerScreen()
	ps.Sections[0].Forward = ps.Sections[0].Forward[:2]
	_, err := ps.Build()
	assert.True(t, errors.Is(err, protocol.ErrIncomplete))

	ps = protocol.DefaultPrimerScreen()
	ps.Sections[1].Reverse[1] = ps.Sections[1].Reverse[0]
	_, err = ps.Build()
	assert.True(t, errors.Is(err, plate.ErrOverlap))

	ps = protocol.DefaultPrimerScreen()
	ps.Sections[3].Offset = 336
	_, err = ps.Build()
	assert.True(t, errors.Is(err, plate.ErrOutOfRange))
	assert.True(t, fault.IsConfig(err))
}

func TestGrids(t *testing.T) {
	p, err := protocol.DefaultStandardCurve().Build()
	require.NoError(t, err)
	grids := p.Grids()
	require.Len(t, grids, 2)
	g := grids[0]
	assert.Equal(t, "plate1", g.Dest)
	assert.Equal(t, protocol.LayerPlating, g.Layer)
	want := []string{".", ".", ".", ".", ".", "a", "a", "a", "b", "b", "b", "."}
	if diff := cmp.Diff(want, g.Cells[0]); diff != "" {
		t.Errorf("row A mismatch (-want +got):\n%s", diff)
	}
	want = []string{".", ".", ".", ".", "j", "j", "j", "j", "j", "j", "j", "j"}
	if diff := cmp.Diff(want, g.Cells[7]); diff != "" {
		t.Errorf("row H mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "5 per well", g.Legend[9])
}

func TestRender(t *testing.T) {
	p, err := protocol.DefaultCatalog().Build("standard-curve")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, p.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, "protocol standard-curve: 21 steps")
	assert.Contains(t, out, "dilutions:")
	assert.Contains(t, out, "plate1, plating:")
	assert.Contains(t, out, "a = 1e+07 per well")
	assert.Contains(t, out, "tubes:A1")
}

func TestCatalog(t *testing.T) {
	c := protocol.DefaultCatalog()
	assert.Equal(t, []string{"mastermix", "primer-screen", "reportable-range", "series", "standard-curve"}, c.Names())
	for _, name := range c.Names() {
		p, err := c.Build(name)
		require.NoError(t, err, name)
		assert.NoError(t, p.Preflight(), name)
		_, err = json.Marshal(p)
		assert.NoError(t, err, name)
	}
	_, err := c.Build("nope")
	assert.True(t, errors.Is(err, protocol.ErrUnknown))
}
