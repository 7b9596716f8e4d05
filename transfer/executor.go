package transfer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/op13/liquidplan/fault"
)

// Report is the outcome of a run
type Report struct {
	// Steps is the number of operations in the protocol
	Steps int `json:"steps"`

	// Completed is the number of operations the service finished
	Completed int `json:"completed"`

	// LastCompleted is the index of the last finished operation, -1 if none
	LastCompleted int `json:"lastCompleted"`

	// Dispensed is the total volume delivered by completed operations, uL
	Dispensed float64 `json:"dispensed"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Error is the message of the error that ended the run, if any
	Error string `json:"error,omitempty"`
}

// Done is true if every operation completed
func (r Report) Done() bool {
	return r.Completed == r.Steps && r.Error == ""
}

// Executor issues a protocol to a Handler
type Executor struct {
	Handler Handler
	Deck    Deck

	// Log may be nil
	Log *zap.Logger
}

// Run preflights ops and then issues them strictly in order.  The first
// error from the handler stops the run and is returned as a
// fault.HardwareError; nothing is retried.  A canceled context stops the
// run before the next operation is issued.
func (e Executor) Run(ctx context.Context, ops []Op) (Report, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	rep := Report{Steps: len(ops), LastCompleted: -1, Started: time.Now()}
	finish := func(err error) (Report, error) {
		rep.Duration = time.Since(rep.Started)
		if err != nil {
			rep.Error = err.Error()
		}
		return rep, err
	}
	if err := Preflight(e.Deck, ops); err != nil {
		log.Error("preflight failed", zap.Error(err))
		return finish(err)
	}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			log.Warn("run canceled", zap.Int("step", i), zap.Error(err))
			return finish(err)
		}
		log.Debug("issue", zap.Int("step", i), zap.String("op", op.Describe()))
		if err := op.issue(ctx, e.Handler); err != nil {
			herr := &fault.HardwareError{Step: i, Op: op.Describe(), Err: err}
			log.Error("hardware error, stopping",
				zap.Int("step", i),
				zap.Int("lastCompleted", rep.LastCompleted),
				zap.Error(err))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return finish(err)
			}
			return finish(herr)
		}
		rep.Completed++
		rep.LastCompleted = i
		rep.Dispensed += op.Dispensed()
	}
	log.Info("run complete", zap.Int("steps", rep.Steps), zap.Float64("dispensed", rep.Dispensed))
	return finish(nil)
}
