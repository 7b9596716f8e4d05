package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	"github.com/op13/liquidplan/history"
	"github.com/op13/liquidplan/robot"
	"github.com/op13/liquidplan/server"
	"github.com/op13/liquidplan/transfer"
)

var (
	home    bool
	simAddr string
)

// progress reports each operation to a spinner as the robot finishes it
type progress struct {
	next  transfer.Handler
	spin  *yacspin.Spinner
	steps int
	done  int32
}

func (p *progress) tick(desc string) {
	n := atomic.AddInt32(&p.done, 1)
	p.spin.Message(fmt.Sprintf("%d/%d %s", n, p.steps, desc))
}

func (p *progress) Distribute(ctx context.Context, b transfer.Broadcast) error {
	if err := p.next.Distribute(ctx, b); err != nil {
		return err
	}
	p.tick(b.Describe())
	return nil
}

func (p *progress) Transfer(ctx context.Context, t transfer.Paired) error {
	if err := p.next.Transfer(ctx, t); err != nil {
		return err
	}
	p.tick(t.Describe())
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run <protocol>",
	Short: "Run a protocol on the robot",
	Long: `Run a protocol on the robot.

The whole protocol is checked before the first transfer.  The run stops at
the first hardware error and reports the last step that completed; nothing
is retried.  Interrupt stops the run before the next transfer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := build(args[0])
		if err != nil {
			return err
		}
		if err := p.Preflight(); err != nil {
			return err
		}
		hist, err := runLog()
		if err != nil {
			return err
		}
		if hist != nil {
			defer hist.Close()
		}
		h, closer, err := handler(ctx)
		if err != nil {
			return err
		}
		defer closer()
		if c, ok := h.(*robot.Client); ok && home {
			if err := c.Home(ctx); err != nil {
				return errors.Wrap(err, "homing")
			}
		}

		spin, err := yacspin.New(yacspin.Config{
			Frequency:         100 * time.Millisecond,
			CharSet:           yacspin.CharSets[14],
			Suffix:            " " + p.Name,
			SuffixAutoColon:   true,
			StopCharacter:     "✓",
			StopColors:        []string{"fgGreen"},
			StopFailCharacter: "✗",
			StopFailColors:    []string{"fgRed"},
		})
		if err != nil {
			return errors.Wrap(err, "creating spinner")
		}
		id := uuid.New().String()
		log := logger.With(zap.String("run", id), zap.String("protocol", p.Name))
		if err := spin.Start(); err != nil {
			return errors.Wrap(err, "starting spinner")
		}
		prog := &progress{next: h, spin: spin, steps: len(p.Steps)}
		rep, err := transfer.Executor{Handler: prog, Deck: p.Deck, Log: log}.Run(ctx, p.Ops())
		if hist != nil {
			if herr := hist.Record(context.Background(), history.Run{ID: id, Protocol: p.Name, Report: rep}); herr != nil {
				log.Error("recording run", zap.Error(herr))
			}
		}
		if err != nil {
			spin.StopFailMessage(fmt.Sprintf("stopped after step %d of %d", rep.LastCompleted, rep.Steps))
			_ = spin.StopFail()
			return err
		}
		spin.StopMessage(fmt.Sprintf("%d steps, %g uL in %s", rep.Steps, rep.Dispensed, rep.Duration.Round(time.Millisecond)))
		_ = spin.Stop()
		fmt.Println("run", id)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the planner and the robot over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cat, err := catalog()
		if err != nil {
			return err
		}
		pair, err := cfg.Pair()
		if err != nil {
			return err
		}
		hist, err := runLog()
		if err != nil {
			return err
		}
		if hist != nil {
			defer hist.Close()
		}
		h, closer, err := handler(ctx)
		if err != nil {
			return err
		}
		defer closer()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		api := &server.API{
			Catalog: cat,
			Handler: h,
			Pair:    pair,
			Params:  cfg.Dilution,
			Locker:  server.NewLocker(),
			Metrics: server.NewMetrics(reg),
			Log:     logger,
			History: hist,
		}
		srv := &http.Server{Addr: cfg.Addr, Handler: server.NewRouter(api.Locker, reg, api)}
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Info("now listening for requests", zap.String("addr", cfg.Addr), zap.Bool("mock", cfg.Mock))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "serving")
		}
		return nil
	},
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate a robot with an in-memory liquid handler",
	Long: `Simulate a robot: accept telegrams on a TCP address and execute them
on an in-memory liquid handler.  Point Robot.Addr at it to try runs without
hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ln, err := net.Listen("tcp", simAddr)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", simAddr)
		}
		logger.Info("simulating robot", zap.String("addr", ln.Addr().String()))
		sim := &robot.Simulator{Handler: transfer.NewMock(nil), Log: logger}
		return sim.Serve(cmd.Context(), ln)
	},
}

func init() {
	runCmd.Flags().BoolVar(&home, "home", false, "home the robot before the run")
	simCmd.Flags().StringVar(&simAddr, "addr", "localhost:7000", "listen address")
	rootCmd.AddCommand(runCmd, serveCmd, simCmd)
}
