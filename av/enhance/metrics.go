package enhance

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/opd-ai/toxenhance"

// metricsFlushInterval is the number of hops between counter flushes.
const metricsFlushInterval = 50

// Metrics holds the OpenTelemetry instruments shared by engines. All fields
// are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// Hops counts processed hops, BypassedHops those passed through
	// unmodified, Faults those that carried non-finite values.
	Hops         metric.Int64Counter
	BypassedHops metric.Int64Counter
	Faults       metric.Int64Counter

	// HopDuration tracks the processing time of one hop.
	HopDuration metric.Float64Histogram

	// Convergence reports the echo canceller convergence of each engine.
	Convergence metric.Float64ObservableGauge

	// SpeechPresence reports the smoothed speech probability of each engine.
	SpeechPresence metric.Float64ObservableGauge
}

// hopBuckets defines histogram bucket boundaries (in seconds) around the
// 11.6 ms hop period of 512 samples at 44.1 kHz.
var hopBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates the instruments on the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.Hops, err = m.Int64Counter("toxenhance.hops",
		metric.WithDescription("Total hops processed."),
	); err != nil {
		return nil, err
	}
	if met.BypassedHops, err = m.Int64Counter("toxenhance.bypassed_hops",
		metric.WithDescription("Hops passed through without enhancement."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("toxenhance.faults",
		metric.WithDescription("Hops that contained non-finite samples."),
	); err != nil {
		return nil, err
	}
	if met.HopDuration, err = m.Float64Histogram("toxenhance.hop.duration",
		metric.WithDescription("Processing time of one hop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(hopBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Convergence, err = m.Float64ObservableGauge("toxenhance.echo.convergence",
		metric.WithDescription("Echo canceller convergence between 0 and 1."),
	); err != nil {
		return nil, err
	}
	if met.SpeechPresence, err = m.Float64ObservableGauge("toxenhance.speech_presence",
		metric.WithDescription("Smoothed speech presence probability of the last hop."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// observe registers a callback that reports e's gauges.
func (m *Metrics) observe(e *Engine) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(m.Convergence, math.Float64frombits(e.convergenceBits.Load()), e.observeOpts...)
		o.ObserveFloat64(m.SpeechPresence, math.Float64frombits(e.presenceBits.Load()), e.observeOpts...)
		return nil
	}, m.Convergence, m.SpeechPresence)
}

// hopCounters accumulates counter increments between flushes.
type hopCounters struct {
	hops     int64
	bypassed int64
	faults   int64
}

// flushMetrics adds the pending counters to the instruments.
func (e *Engine) flushMetrics() {
	ctx := context.Background()
	p := &e.pending
	if p.hops > 0 {
		e.metrics.Hops.Add(ctx, p.hops, e.addOpts...)
	}
	if p.bypassed > 0 {
		e.metrics.BypassedHops.Add(ctx, p.bypassed, e.addOpts...)
	}
	if p.faults > 0 {
		e.metrics.Faults.Add(ctx, p.faults, e.addOpts...)
	}
	*p = hopCounters{}
}
