// Command liquidplan plans liquid handling protocols and runs them on a
// pipetting robot, from the command line or over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/op13/liquidplan/comm"
	"github.com/op13/liquidplan/config"
	"github.com/op13/liquidplan/history"
	"github.com/op13/liquidplan/protocol"
	"github.com/op13/liquidplan/robot"
	"github.com/op13/liquidplan/transfer"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

var (
	cfgPath string
	verbose bool
	mock    bool

	cfg    config.Config
	logger *zap.Logger

	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	good  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	bad   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

var rootCmd = &cobra.Command{
	Use:   "liquidplan",
	Short: "Plan and run liquid handling protocols",
	Long: `liquidplan turns experiment parameters into pipetting robot transfers.

It solves serial dilution chains, maps plate regions to wells, checks every
transfer against the deck and the pipettes before anything moves, and then
issues the transfers one at a time, stopping at the first hardware error.

Configuration is read from liquidplan.yml if present and LIQUIDPLAN_
environment variables; see "liquidplan mkconf".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return errors.Wrap(err, "initializing logger")
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return errors.Wrap(err, "loading configuration")
		}
		if mock {
			cfg.Mock = true
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.FileName, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&mock, "mock", false, "use an in-memory liquid handler instead of the robot")
}

// catalog builds the configured protocols
func catalog() (protocol.Catalog, error) {
	cat, err := cfg.Catalog()
	return cat, errors.Wrap(err, "building protocol catalog")
}

// handler connects to the configured liquid handler.  The returned close
// function is never nil.
func handler(ctx context.Context) (transfer.Handler, func() error, error) {
	if cfg.Mock {
		logger.Info("using mock liquid handler")
		return transfer.NewMock(nil), func() error { return nil }, nil
	}
	dev := comm.NewRemoteDevice(cfg.Robot.Addr, cfg.Robot.Serial)
	dev.Baud = cfg.Robot.Baud
	dev.Timeout = cfg.Robot.Timeout
	dev.MinInterval = cfg.Robot.MinInterval
	c := robot.NewClient(dev, logger)
	if err := c.Open(ctx); err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to robot at %s", cfg.Robot.Addr)
	}
	return c, c.Close, nil
}

// runLog opens the configured run history, or returns nil if none is kept
func runLog() (*history.Store, error) {
	if cfg.History == "" {
		return nil, nil
	}
	s, err := history.Open(cfg.History)
	return s, errors.Wrap(err, "opening run history")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, bad.Render("error:"), err)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fail(err)
	}
}
