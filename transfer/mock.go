package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
)

// Mock is an in-memory liquid handling service.  It keeps the volume in
// every well it has touched, counts tips, and records each call.
type Mock struct {
	sync.Mutex

	// Deck is consulted to reject unknown labware; nil accepts any name
	Deck Deck

	// TipBudget is the number of tips on the deck; zero is unlimited
	TipBudget int

	// FailAt makes the n-th call (1-based) return FailErr
	FailAt  int
	FailErr error

	tipsUsed int
	tipOn    map[string]bool
	contents map[Location]float64
	calls    []string
}

// NewMock returns a Mock for a deck
func NewMock(d Deck) *Mock {
	return &Mock{Deck: d}
}

func (m *Mock) init() {
	if m.tipOn == nil {
		m.tipOn = map[string]bool{}
	}
	if m.contents == nil {
		m.contents = map[Location]float64{}
	}
}

// SetVolume loads a well, e.g. a reagent tube
func (m *Mock) SetVolume(loc Location, v float64) {
	m.Lock()
	defer m.Unlock()
	m.init()
	m.contents[loc] = v
}

// Volume returns the current volume in a well
func (m *Mock) Volume(loc Location) float64 {
	m.Lock()
	defer m.Unlock()
	return m.contents[loc]
}

// TipsUsed returns the number of tips picked up so far
func (m *Mock) TipsUsed() int {
	m.Lock()
	defer m.Unlock()
	return m.tipsUsed
}

// Calls returns a copy of the call log
func (m *Mock) Calls() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) begin(ctx context.Context, desc string, inst pipette.Instrument, o Options, locs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.init()
	m.calls = append(m.calls, desc)
	if m.FailAt > 0 && len(m.calls) == m.FailAt {
		return m.FailErr
	}
	if m.Deck != nil {
		for _, name := range locs {
			if _, ok := m.Deck[name]; !ok {
				return fmt.Errorf("%w: %s", fault.ErrLabwareMissing, name)
			}
		}
	}
	if o.Tip == TipReuse && m.tipOn[inst.Name] {
		return nil
	}
	if m.TipBudget > 0 && m.tipsUsed >= m.TipBudget {
		return fault.ErrOutOfTips
	}
	m.tipsUsed++
	m.tipOn[inst.Name] = true
	return nil
}

func (m *Mock) end(inst pipette.Instrument, o Options) {
	if o.Tip == TipFresh {
		m.tipOn[inst.Name] = false
	}
}

// Distribute implements Handler
func (m *Mock) Distribute(ctx context.Context, b Broadcast) error {
	m.Lock()
	defer m.Unlock()
	if err := m.begin(ctx, b.Describe(), b.Instrument, b.Options, b.Source.Labware, b.Dest); err != nil {
		return err
	}
	for _, w := range b.Wells {
		m.contents[Location{Labware: b.Dest, Well: w}] += b.Volume
	}
	m.contents[b.Source] -= b.Volume*float64(len(b.Wells)) + b.Disposal
	m.end(b.Instrument, b.Options)
	return nil
}

// Transfer implements Handler
func (m *Mock) Transfer(ctx context.Context, p Paired) error {
	if len(p.Volumes) != len(p.Wells) {
		return fmt.Errorf("%w: %d volumes for %d wells", ErrPairing, len(p.Volumes), len(p.Wells))
	}
	m.Lock()
	defer m.Unlock()
	if err := m.begin(ctx, p.Describe(), p.Instrument, p.Options, p.Source.Labware, p.Dest); err != nil {
		return err
	}
	for i, w := range p.Wells {
		m.contents[Location{Labware: p.Dest, Well: w}] += p.Volumes[i]
		m.contents[p.Source] -= p.Volumes[i]
	}
	m.end(p.Instrument, p.Options)
	return nil
}
