// Package aec implements a normalized least-mean-squares acoustic echo
// canceller built from a bank of short adaptive filters.
//
// Each filter in the bank covers a different slice of the echo path: filter
// k sees the far-end reference delayed by BulkDelay + k*DelayStep samples.
// The filter outputs are summed into one echo estimate, the estimate is
// subtracted from the near-end capture, and the residual drives a joint
// NLMS update of every filter.
//
// Usage:
//
//	c, _ := aec.NewCanceller(aec.DefaultConfig())
//
//	// Playback goroutine:
//	c.FeedFarEnd(played)
//
//	// Processing goroutine, one hop at a time:
//	stats := c.ProcessFarEnd(captured, cleaned)
package aec

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Default canceller settings.
const (
	DefaultFilters           = 8
	DefaultTaps              = 64
	DefaultDelayStep         = 64
	DefaultStepSize          = 0.3
	DefaultRegularization    = 1e-3
	DefaultReferenceCapacity = 16384

	// convergenceSmoothing is the weight of history in the smoothed
	// residual-to-near energy ratio.
	convergenceSmoothing = 0.9

	// minReferenceEnergy is the mean-square reference level below which a
	// block carries no information about the echo path.
	minReferenceEnergy = 1e-8
)

// ErrInvalidConfig is returned for unusable canceller settings.
var ErrInvalidConfig = errors.New("invalid echo canceller configuration")

// Config holds the canceller settings.
type Config struct {
	Filters   int
	Taps      int
	DelayStep int
	BulkDelay int

	// StepSize is the NLMS step size, in (0, 2).
	StepSize float64

	// Regularization keeps the normalisation finite when the reference is
	// silent.
	Regularization float64

	// ReferenceCapacity is the far-end queue size in samples.
	ReferenceCapacity int
}

// DefaultConfig returns the default canceller settings.
func DefaultConfig() Config {
	return Config{
		Filters:           DefaultFilters,
		Taps:              DefaultTaps,
		DelayStep:         DefaultDelayStep,
		StepSize:          DefaultStepSize,
		Regularization:    DefaultRegularization,
		ReferenceCapacity: DefaultReferenceCapacity,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Filters <= 0:
		return fmt.Errorf("%w: filters %d", ErrInvalidConfig, c.Filters)
	case c.Taps <= 0:
		return fmt.Errorf("%w: taps %d", ErrInvalidConfig, c.Taps)
	case c.DelayStep < 0 || c.BulkDelay < 0:
		return fmt.Errorf("%w: delay step %d, bulk delay %d", ErrInvalidConfig, c.DelayStep, c.BulkDelay)
	case c.StepSize <= 0 || c.StepSize >= 2:
		return fmt.Errorf("%w: step size %f outside (0, 2)", ErrInvalidConfig, c.StepSize)
	case c.Regularization <= 0:
		return fmt.Errorf("%w: regularization %g", ErrInvalidConfig, c.Regularization)
	case c.ReferenceCapacity <= 0:
		return fmt.Errorf("%w: reference capacity %d", ErrInvalidConfig, c.ReferenceCapacity)
	}
	return nil
}

// EchoStats summarises one Process call.
type EchoStats struct {
	NearEnergy      float64
	ResidualEnergy  float64
	ReferenceEnergy float64
	// FilterResets counts filters reset after non-finite coefficients.
	FilterResets int
}

// Canceller removes far-end echo from near-end capture.
type Canceller struct {
	cfg     Config
	filters []*AdaptiveFilter
	delays  []int

	// delayLine holds the most recent reference samples so each filter can
	// be fed at its own offset.
	delayLine []float64
	linePos   int

	ring    *ReferenceRing
	scratch []float64

	ratio       float64
	convergence float64
}

// NewCanceller creates a canceller with zeroed filters.
func NewCanceller(cfg Config) (*Canceller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Canceller{
		cfg:       cfg,
		filters:   make([]*AdaptiveFilter, cfg.Filters),
		delays:    make([]int, cfg.Filters),
		delayLine: make([]float64, cfg.BulkDelay+(cfg.Filters-1)*cfg.DelayStep+1),
		ring:      NewReferenceRing(cfg.ReferenceCapacity),
		ratio:     1,
	}
	for k := range c.filters {
		c.filters[k] = NewAdaptiveFilter(cfg.Taps)
		c.delays[k] = cfg.BulkDelay + k*cfg.DelayStep
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewCanceller",
		"filters":    cfg.Filters,
		"taps":       cfg.Taps,
		"delay_step": cfg.DelayStep,
		"bulk_delay": cfg.BulkDelay,
		"step_size":  cfg.StepSize,
		"span":       len(c.delayLine) - 1 + cfg.Taps,
	}).Debug("Echo canceller created")

	return c, nil
}

// FeedFarEnd queues far-end playback samples for cancellation and returns
// how many were accepted. It is safe to call from one goroutine other than
// the processing goroutine.
func (c *Canceller) FeedFarEnd(samples []float64) int {
	return c.ring.Write(samples)
}

// ProcessFarEnd cancels echo from near using the next len(near) queued
// far-end samples as reference. Missing reference samples are zeros.
func (c *Canceller) ProcessFarEnd(near, dst []float64) EchoStats {
	if cap(c.scratch) < len(near) {
		c.scratch = make([]float64, len(near))
	}
	ref := c.scratch[:len(near)]
	c.ring.Read(ref)
	return c.Process(near, ref, dst)
}

// SkipFarEnd consumes n samples of far-end reference while the canceller is
// bypassed and returns how many were queued. The samples still pass through
// the delay line and the filter histories, without adaptation, so the first
// processed hop afterwards sees the reference that actually played.
func (c *Canceller) SkipFarEnd(n int) int {
	c.Reserve(n)
	ref := c.scratch[:n]
	got := c.ring.Read(ref)
	for _, r := range ref {
		c.push(r)
	}
	return got
}

// Reserve preallocates the reference scratch buffer for blocks of n samples.
func (c *Canceller) Reserve(n int) {
	if cap(c.scratch) < n {
		c.scratch = make([]float64, n)
	}
}

// Process writes near minus the estimated echo of ref into dst. ref may be
// nil, which is treated as silence. dst may alias near.
func (c *Canceller) Process(near, ref, dst []float64) EchoStats {
	var stats EchoStats
	mu := c.cfg.StepSize
	eps := c.cfg.Regularization

	for i, x := range near {
		r := 0.0
		if ref != nil {
			r = ref[i]
		}
		r = c.push(r)
		stats.ReferenceEnergy += r * r

		var y, energy float64
		for _, f := range c.filters {
			y += f.Output()
			energy += f.Energy()
		}

		e := x - y
		step := mu * e / (energy + eps)
		for _, f := range c.filters {
			if !f.Adapt(step) {
				f.Reset()
				stats.FilterResets++
			}
		}

		stats.NearEnergy += x * x
		stats.ResidualEnergy += e * e
		dst[i] = e
	}

	c.updateConvergence(stats, len(near))
	if stats.FilterResets > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Canceller.Process",
			"resets":   stats.FilterResets,
		}).Warn("Echo filter reset after non-finite coefficients")
	}
	return stats
}

// push advances the delay line by one reference sample and feeds every
// filter its delayed tap. Non-finite samples are stored as zero; the stored
// value is returned.
func (c *Canceller) push(r float64) float64 {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		r = 0
	}
	lineLen := len(c.delayLine)
	c.linePos++
	if c.linePos == lineLen {
		c.linePos = 0
	}
	c.delayLine[c.linePos] = r

	for k, f := range c.filters {
		idx := c.linePos - c.delays[k]
		if idx < 0 {
			idx += lineLen
		}
		f.Insert(c.delayLine[idx])
	}
	return r
}

func (c *Canceller) updateConvergence(stats EchoStats, n int) {
	if n == 0 || stats.ReferenceEnergy/float64(n) < minReferenceEnergy || stats.NearEnergy <= 0 {
		return
	}
	r := stats.ResidualEnergy / stats.NearEnergy
	if r > 1 || math.IsNaN(r) {
		r = 1
	}
	c.ratio = convergenceSmoothing*c.ratio + (1-convergenceSmoothing)*r
	c.convergence = 1 - c.ratio
}

// Convergence returns an estimate in [0, 1] of how well the filters model
// the echo path. It stays at 0 until a far-end reference has been seen.
func (c *Canceller) Convergence() float64 { return c.convergence }

// Filters exposes the filter bank for inspection.
func (c *Canceller) Filters() []*AdaptiveFilter { return c.filters }

// Reset zeroes every filter, the delay line and the convergence estimate.
// Queued far-end samples are kept.
func (c *Canceller) Reset() {
	for _, f := range c.filters {
		f.Reset()
	}
	for i := range c.delayLine {
		c.delayLine[i] = 0
	}
	c.linePos = 0
	c.ratio = 1
	c.convergence = 0
}
