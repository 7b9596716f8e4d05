package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/op13/liquidplan/transfer"
)

// Metrics are the prometheus collectors for transfers and runs
type Metrics struct {
	Ops       *prometheus.CounterVec
	Dispensed *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Runs      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liquidplan",
			Name:      "operations_total",
			Help:      "Transfer operations issued to the liquid handler, by kind and result.",
		}, []string{"kind", "result"}),
		Dispensed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liquidplan",
			Name:      "dispensed_microliters_total",
			Help:      "Volume dispensed by completed operations, by instrument.",
		}, []string{"instrument"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "liquidplan",
			Name:      "operation_duration_seconds",
			Help:      "Time for the liquid handler to complete one operation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liquidplan",
			Name:      "runs_total",
			Help:      "Protocol runs, by protocol and result.",
		}, []string{"protocol", "result"}),
	}
	reg.MustRegister(m.Ops, m.Dispensed, m.Duration, m.Runs)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Wrap returns a Handler that records every call to h
func (m *Metrics) Wrap(h transfer.Handler) transfer.Handler {
	return instrumented{next: h, m: m}
}

type instrumented struct {
	next transfer.Handler
	m    *Metrics
}

func (i instrumented) observe(op transfer.Op, inst string, start time.Time, err error) {
	i.m.Ops.WithLabelValues(op.Kind(), result(err)).Inc()
	i.m.Duration.WithLabelValues(op.Kind()).Observe(time.Since(start).Seconds())
	if err == nil {
		i.m.Dispensed.WithLabelValues(inst).Add(op.Dispensed())
	}
}

func (i instrumented) Distribute(ctx context.Context, b transfer.Broadcast) error {
	start := time.Now()
	err := i.next.Distribute(ctx, b)
	i.observe(b, b.Instrument.Name, start, err)
	return err
}

func (i instrumented) Transfer(ctx context.Context, p transfer.Paired) error {
	start := time.Now()
	err := i.next.Transfer(ctx, p)
	i.observe(p, p.Instrument.Name, start, err)
	return err
}
