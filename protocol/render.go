package protocol

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/transfer"
)

// Grid is a plate map, one label key per well, "." for empty wells
type Grid struct {
	Dest  string
	Layer string
	Cells [][]string

	// Legend maps keys to step labels, in key order
	Legend []string
}

const keyLetters = "abcdefghijklmnopqrstuvwxyz"

// key is a short spreadsheet-style code: a..z, aa..az, ...
func key(i int) string {
	s := ""
	for i >= 0 {
		d := i % len(keyLetters)
		s = keyLetters[d:d+1] + s
		i = i/len(keyLetters) - 1
	}
	return s
}

// Grids returns one plate map per destination plate and layer, for every
// broadcast step of the plan
func (p Plan) Grids() []Grid {
	type gk struct{ dest, layer string }
	var order []gk
	grids := map[gk]*Grid{}
	labels := map[gk]map[string]string{}
	for _, s := range p.Steps {
		b, ok := s.Op.(transfer.Broadcast)
		if !ok {
			continue
		}
		lw, ok := p.Deck[b.Dest]
		if !ok {
			continue
		}
		k := gk{b.Dest, s.Layer}
		g := grids[k]
		if g == nil {
			g = &Grid{Dest: b.Dest, Layer: s.Layer, Cells: make([][]string, lw.Layout.Rows)}
			for r := range g.Cells {
				g.Cells[r] = make([]string, lw.Layout.Columns)
				for c := range g.Cells[r] {
					g.Cells[r][c] = "."
				}
			}
			grids[k] = g
			labels[k] = map[string]string{}
			order = append(order, k)
		}
		code, ok := labels[k][s.Label]
		if !ok {
			code = key(len(g.Legend))
			labels[k][s.Label] = code
			g.Legend = append(g.Legend, s.Label)
		}
		for _, w := range b.Wells {
			c, err := lw.Layout.Coord(w)
			if err != nil {
				continue
			}
			g.Cells[c.Row][c.Col] = code
		}
	}
	out := make([]Grid, len(order))
	for i, k := range order {
		out[i] = *grids[k]
	}
	return out
}

// Render writes the grid with row letters and column numbers
func (g Grid) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	hdr := make([]string, 0, len(g.Cells[0])+1)
	hdr = append(hdr, "")
	for c := range g.Cells[0] {
		hdr = append(hdr, fmt.Sprint(c+1))
	}
	fmt.Fprintln(tw, strings.Join(hdr, "\t")+"\t")
	for r, row := range g.Cells {
		fmt.Fprintln(tw, plate.RowName(r)+"\t"+strings.Join(row, "\t")+"\t")
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for i, l := range g.Legend {
		if _, err := fmt.Fprintf(w, "  %s = %s\n", key(i), l); err != nil {
			return err
		}
	}
	return nil
}

// Render writes an operator summary: reagents to load, the dilution table,
// the steps and the plate maps
func (p Plan) Render(w io.Writer) error {
	fmt.Fprintf(w, "protocol %s: %d steps\n\n", p.Name, len(p.Steps))
	fmt.Fprintln(w, "load:")
	reagents := append([]transfer.Reagent(nil), p.Reagents...)
	sort.SliceStable(reagents, func(i, j int) bool {
		return reagents[i].Source.Labware < reagents[j].Source.Labware
	})
	for _, r := range reagents {
		fmt.Fprintf(w, "  %-16s %-12s %g uL\n", r.Name, p.Deck.WellName(r.Source), r.Volume)
	}
	if p.Chain != nil {
		fmt.Fprintln(w, "\ndilutions:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  step\tfactor\trequired\tsource\tdiluent")
		for _, s := range p.Chain.Steps {
			fmt.Fprintf(tw, "  %d\t%g\t%g\t%g\t%g\n", s.Index, s.Factor, s.Required, s.Source, s.Diluent)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, "\nsteps:")
	for i, s := range p.Steps {
		fmt.Fprintf(w, "  %3d %-9s %s\n", i, s.Layer, s.Op.Describe())
	}
	for _, g := range p.Grids() {
		fmt.Fprintf(w, "\n%s, %s:\n", g.Dest, g.Layer)
		if err := g.Render(w); err != nil {
			return err
		}
	}
	return nil
}
