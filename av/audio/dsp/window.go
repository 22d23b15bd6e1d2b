package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Window is an analysis/synthesis window applied sample by sample.
type Window []float64

// NewHannWindow builds a periodic Hann window of length n.
//
// The periodic form (denominator n rather than n-1) is the one whose
// shifted copies tile evenly at integer hop sizes.
func NewHannWindow(n int) Window {
	w := make(Window, n)
	for i := range w {
		w[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// Apply writes src multiplied by the window into dst.
func (w Window) Apply(dst, src []float64) {
	floats.MulTo(dst, src, w)
}

// Energy returns the sum of the squared window coefficients.
func (w Window) Energy() float64 {
	return floats.Dot(w, w)
}

// OverlapNorm returns, for each of the hop positions of a finished output
// block, the sum of squared window values contributed by every frame that
// overlaps that position. Dividing overlap-added output by this norm
// compensates for applying the window twice.
func (w Window) OverlapNorm(hopSize int) ([]float64, error) {
	n := len(w)
	if hopSize <= 0 || hopSize > n {
		return nil, fmt.Errorf("%w: hop %d for window %d", ErrInvalidHop, hopSize, n)
	}
	norm := make([]float64, hopSize)
	for j := range norm {
		for pos := j; pos < n; pos += hopSize {
			norm[j] += w[pos] * w[pos]
		}
		if norm[j] < 1e-9 {
			return nil, fmt.Errorf("%w: window does not cover position %d", ErrInvalidHop, j)
		}
	}
	return norm, nil
}
