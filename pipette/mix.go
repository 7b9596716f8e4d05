package pipette

// MixSettings controls post-transfer mixing
type MixSettings struct {
	// Cycles is the number of aspirate/dispense cycles
	Cycles int `json:"cycles" yaml:"Cycles" koanf:"Cycles"`

	// Fraction of the tube's total volume to draw up each cycle
	Fraction float64 `json:"fraction" yaml:"Fraction" koanf:"Fraction"`
}

// DefaultMix is 5 cycles at 80% of the tube volume
var DefaultMix = MixSettings{Cycles: 5, Fraction: 0.8}

// Mix is a solved mixing step
type Mix struct {
	Instrument Instrument `json:"instrument"`
	Cycles     int        `json:"cycles"`
	Volume     float64    `json:"volume"`

	// Fallback is true when the mixing instrument differs from the one that
	// made the transfer
	Fallback bool `json:"fallback"`
}

// ChooseMix picks the mixing volume and instrument after source has been
// transferred into a tube holding diluent, using the instrument selected for
// the transfer itself.  If the mixing volume would exceed that instrument's
// max, the larger instrument mixes instead, for this mix only.
func (p Pair) ChooseMix(source, diluent float64, selected Instrument, m MixSettings) Mix {
	target := m.Fraction * (source + diluent)
	if target <= selected.Max {
		return Mix{Instrument: selected, Cycles: m.Cycles, Volume: target}
	}
	large := p.Larger()
	if large.Max > selected.Max {
		vol := target
		if vol > large.Max {
			vol = large.Max
		}
		return Mix{Instrument: large, Cycles: m.Cycles, Volume: vol, Fallback: true}
	}
	return Mix{Instrument: selected, Cycles: m.Cycles, Volume: selected.Max}
}
