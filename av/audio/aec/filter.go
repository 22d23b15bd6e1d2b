package aec

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// AdaptiveFilter is one FIR slot of the echo canceller filter bank: a
// coefficient vector plus the input history it convolves with.
//
// The history is stored twice back to back so the most recent taps samples
// are always available as one contiguous slice, newest first. This lets the
// convolution and the coefficient update run as plain vector operations.
type AdaptiveFilter struct {
	coeffs []float64
	hist   []float64
	pos    int
	energy float64
}

// NewAdaptiveFilter creates a filter with taps zeroed coefficients.
func NewAdaptiveFilter(taps int) *AdaptiveFilter {
	return &AdaptiveFilter{
		coeffs: make([]float64, taps),
		hist:   make([]float64, 2*taps),
	}
}

// Taps returns the filter length.
func (f *AdaptiveFilter) Taps() int { return len(f.coeffs) }

// Insert pushes one input sample into the history.
func (f *AdaptiveFilter) Insert(x float64) {
	taps := len(f.coeffs)
	if f.pos == 0 {
		f.pos = taps
	}
	f.pos--
	old := f.hist[f.pos]
	f.hist[f.pos] = x
	f.hist[f.pos+taps] = x

	if f.pos == 0 {
		// Recompute once per wrap so the running sum cannot drift.
		f.energy = floats.Dot(f.hist[:taps], f.hist[:taps])
		return
	}
	f.energy += x*x - old*old
	if f.energy < 0 {
		f.energy = 0
	}
}

// window returns the history, newest sample first.
func (f *AdaptiveFilter) window() []float64 {
	return f.hist[f.pos : f.pos+len(f.coeffs)]
}

// Output returns the convolution of the coefficients with the history.
func (f *AdaptiveFilter) Output() float64 {
	return floats.Dot(f.coeffs, f.window())
}

// Energy returns the squared norm of the history.
func (f *AdaptiveFilter) Energy() float64 { return f.energy }

// Adapt adds step times the history to the coefficients and clamps each
// coefficient to [-1, 1]. It returns false if any coefficient became
// non-finite, in which case the caller should Reset the filter.
func (f *AdaptiveFilter) Adapt(step float64) bool {
	floats.AddScaled(f.coeffs, step, f.window())
	ok := true
	for i, c := range f.coeffs {
		switch {
		case c > 1:
			f.coeffs[i] = 1
		case c < -1:
			f.coeffs[i] = -1
		case math.IsNaN(c):
			ok = false
		}
	}
	return ok
}

// Coefficients returns the current coefficients. The slice is owned by the
// filter.
func (f *AdaptiveFilter) Coefficients() []float64 { return f.coeffs }

// Reset zeroes the coefficients and the history.
func (f *AdaptiveFilter) Reset() {
	for i := range f.coeffs {
		f.coeffs[i] = 0
	}
	for i := range f.hist {
		f.hist[i] = 0
	}
	f.pos = 0
	f.energy = 0
}
