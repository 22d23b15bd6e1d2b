package enhance

import "go.opentelemetry.io/otel/metric"

// Option customises an Engine at construction.
type Option func(*Engine)

// WithName labels the engine in logs and metric attributes.
func WithName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.name = name
		}
	}
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meterProvider = mp
		}
	}
}

// WithTimeProvider sets the clock used to time hops.
func WithTimeProvider(tp TimeProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.timeProvider = tp
		}
	}
}
