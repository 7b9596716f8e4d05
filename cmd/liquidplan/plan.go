package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/plate"
	"github.com/op13/liquidplan/protocol"
)

var (
	asJSON    bool
	plateKind string
	tableIn   bool
	header    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available protocols",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog()
		if err != nil {
			return err
		}
		for _, name := range cat.Names() {
			fmt.Printf("%-16s %s\n", title.Render(name), cat[name].Describe())
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <protocol>",
	Short: "Print the plan for a protocol without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := build(args[0])
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return errors.Wrap(enc.Encode(p), "encoding plan")
		}
		var buf bytes.Buffer
		if err := p.Render(&buf); err != nil {
			return err
		}
		head, rest, _ := strings.Cut(buf.String(), "\n")
		fmt.Println(title.Render(head))
		fmt.Print(rest)
		return nil
	},
}

var preflightCmd = &cobra.Command{
	Use:   "preflight <protocol>",
	Short: "Check every transfer of a protocol against the deck and pipettes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := build(args[0])
		if err != nil {
			return err
		}
		if err := p.Preflight(); err != nil {
			return err
		}
		fmt.Println(good.Render("ok"), fmt.Sprintf("%s: %d steps", p.Name, len(p.Steps)))
		return nil
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain [steps.csv]",
	Short: "Solve a dilution chain",
	Long: `Solve a dilution chain and print step,source,diluent.

The input has one line per step: wells,volume_per_well,factor.  With
--table the input is instead a finished dilution table, which is checked
and echoed.  Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "opening steps")
			}
			defer f.Close()
			in = f
		}
		var chain dilution.Chain
		if tableIn {
			rows, err := dilution.ReadTable(in, header)
			if err != nil {
				return err
			}
			if chain, err = dilution.FromTable(rows); err != nil {
				return err
			}
		} else {
			steps, err := dilution.ReadSteps(in, header)
			if err != nil {
				return err
			}
			if chain, err = dilution.Plan(steps, cfg.Dilution); err != nil {
				return err
			}
		}
		if asJSON {
			return errors.Wrap(json.NewEncoder(os.Stdout).Encode(chain), "encoding chain")
		}
		return errors.Wrap(chain.WriteTable(os.Stdout), "writing table")
	},
}

var wellsCmd = &cobra.Command{
	Use:   "wells <region.json>...",
	Short: "Map plate regions to well indices",
	Long: `Map plate regions to column-major well indices and names.

Each argument is a region in JSON, for example
  '{"rows":{"start":0,"stop":2},"columns":{"start":0,"stop":6}}'
Regions given together must not overlap.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var layout plate.Layout
		switch plateKind {
		case "96":
			layout = plate.Plate96
		case "384":
			layout = plate.Plate384
		case "24":
			layout = plate.TubeRack24
		default:
			return fmt.Errorf("unknown plate %q, want 24, 96 or 384", plateKind)
		}
		regions := make([]plate.Region, len(args))
		for i, a := range args {
			if err := json.Unmarshal([]byte(a), &regions[i]); err != nil {
				return errors.Wrapf(err, "region %d", i)
			}
		}
		wells, err := plate.Map(layout, regions...)
		if err != nil {
			return err
		}
		names := layout.Names(wells)
		for i, w := range wells {
			fmt.Printf("%d\t%s\n", w, names[i])
		}
		return nil
	},
}

func build(name string) (protocol.Plan, error) {
	cat, err := catalog()
	if err != nil {
		return protocol.Plan{}, err
	}
	return cat.Build(name)
}

func init() {
	planCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	chainCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of CSV")
	chainCmd.Flags().BoolVar(&tableIn, "table", false, "treat the input as a finished dilution table")
	chainCmd.Flags().BoolVar(&header, "header", false, "the input has a header line")
	wellsCmd.Flags().StringVarP(&plateKind, "plate", "p", "96", "plate: 24, 96 or 384")
	rootCmd.AddCommand(listCmd, planCmd, preflightCmd, chainCmd, wellsCmd)
}
