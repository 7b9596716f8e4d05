package pipette_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
)

func TestBoundaryAtMaxSelectsSmaller(t *testing.T) {
	inst, err := pipette.Choose(20.0, pipette.P300, pipette.P20)
	require.NoError(t, err)
	assert.Equal(t, pipette.P20, inst)

	inst, err = pipette.Choose(20.01, pipette.P20, pipette.P300)
	require.NoError(t, err)
	assert.Equal(t, pipette.P300, inst)
}

func TestOutsideBothRangesIsConfigError(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P20, Right: pipette.P300}
	for _, v := range []float64{0, -1, 200.5, 5000} {
		_, err := pair.Choose(v)
		assert.True(t, errors.Is(err, pipette.ErrNoInstrument), "volume %g", v)
		assert.True(t, fault.IsConfig(err))
	}
}

func TestGapGoesToInstrumentBelow(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P1000, Right: pipette.P20}
	inst, err := pair.Choose(100)
	require.NoError(t, err)
	assert.Equal(t, pipette.P20, inst)

	inst, err = pair.Choose(500)
	require.NoError(t, err)
	assert.Equal(t, pipette.P1000, inst)
}

func TestChooseForSharedTip(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P1000, Right: pipette.P300}
	inst, err := pair.ChooseFor([]float64{200, 200, 150})
	require.NoError(t, err)
	assert.Equal(t, pipette.P300, inst)

	inst, err = pair.ChooseFor([]float64{250, 420, 375})
	require.NoError(t, err)
	assert.Equal(t, pipette.P1000, inst)

	// 200 is a P300 volume and 420 a P1000 one: no single tip takes both
	_, err = pair.ChooseFor([]float64{200, 420})
	assert.True(t, errors.Is(err, pipette.ErrNoInstrument))

	_, err = pair.ChooseFor([]float64{250, 1500})
	assert.True(t, errors.Is(err, pipette.ErrNoInstrument))

	_, err = pair.ChooseFor(nil)
	assert.True(t, errors.Is(err, pipette.ErrNoInstrument))
}

func TestMixStaysOnSelectedWhenItFits(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P20, Right: pipette.P300}
	m := pair.ChooseMix(8, 72, pipette.P300, pipette.DefaultMix)
	assert.Equal(t, pipette.P300, m.Instrument)
	assert.InDelta(t, 64, m.Volume, 1e-9)
	assert.False(t, m.Fallback)
	assert.Equal(t, 5, m.Cycles)
}

func TestMixAtInstrumentMaxDoesNotSwap(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P20, Right: pipette.P300}
	m := pair.ChooseMix(5, 15, pipette.P20, pipette.MixSettings{Cycles: 5, Fraction: 1})
	assert.Equal(t, pipette.P20, m.Instrument)
	assert.Equal(t, 20.0, m.Volume)
	assert.False(t, m.Fallback)
}

func TestMixFallsBackToLarger(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P20, Right: pipette.P300}
	m := pair.ChooseMix(8, 72, pipette.P20, pipette.DefaultMix)
	assert.Equal(t, pipette.P300, m.Instrument)
	assert.True(t, m.Fallback)
	assert.InDelta(t, 64, m.Volume, 1e-9)

	// capped at the larger instrument's max
	m = pair.ChooseMix(18, 400, pipette.P20, pipette.DefaultMix)
	assert.Equal(t, 200.0, m.Volume)
	assert.True(t, m.Fallback)
}

func TestMixCappedWhenAlreadyLargest(t *testing.T) {
	pair := pipette.Pair{Left: pipette.P1000, Right: pipette.P300}
	m := pair.ChooseMix(375, 375, pipette.P1000, pipette.DefaultMix)
	assert.Equal(t, pipette.P1000, m.Instrument)
	assert.InDelta(t, 600, m.Volume, 1e-9)

	m = pair.ChooseMix(1000, 500, pipette.P1000, pipette.DefaultMix)
	assert.Equal(t, 1000.0, m.Volume)
	assert.False(t, m.Fallback)
}

func TestLookup(t *testing.T) {
	inst, err := pipette.Lookup("P300")
	require.NoError(t, err)
	assert.Equal(t, pipette.P300, inst)
	inst, err = pipette.Lookup("p1000_single_gen2")
	require.NoError(t, err)
	assert.Equal(t, pipette.P1000, inst)
	_, err = pipette.Lookup("p50")
	assert.True(t, errors.Is(err, pipette.ErrUnknown))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, pipette.Pair{Left: pipette.P20, Right: pipette.P1000}.Validate())
	bad := pipette.Instrument{Name: "x", Min: 10, Max: 5}
	assert.True(t, fault.IsConfig(bad.Validate()))
}
