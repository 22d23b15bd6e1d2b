package audio

import (
	"fmt"
	"math"
)

// DefaultHighPassCutoff removes rumble below the speech band.
const DefaultHighPassCutoff = 80.0

// HighPassEffect is a single-pole high-pass filter:
//
//	y[n] = a * (y[n-1] + x[n] - x[n-1]),  a = RC / (RC + dt)
type HighPassEffect struct {
	cutoff float64
	alpha  float64
	prevX  float64
	prevY  float64
}

// NewHighPassEffect creates a high-pass filter with the given cutoff in Hz.
func NewHighPassEffect(sampleRate, cutoff float64) (*HighPassEffect, error) {
	if sampleRate <= 0 || cutoff <= 0 || cutoff >= sampleRate/2 {
		return nil, fmt.Errorf("%w: high-pass cutoff %.1f Hz at %.0f Hz", ErrInvalidEffectConfig, cutoff, sampleRate)
	}
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / sampleRate
	return &HighPassEffect{
		cutoff: cutoff,
		alpha:  rc / (rc + dt),
	}, nil
}

// Process filters the block in place.
func (h *HighPassEffect) Process(block *Block) error {
	for i, x := range block.Samples {
		y := h.alpha * (h.prevY + x - h.prevX)
		h.prevX = x
		h.prevY = y
		block.Samples[i] = y
	}
	return nil
}

// Reset clears the filter memory.
func (h *HighPassEffect) Reset() {
	h.prevX = 0
	h.prevY = 0
}

// GetName returns the effect name.
func (h *HighPassEffect) GetName() string {
	return fmt.Sprintf("HighPass(%.0fHz)", h.cutoff)
}

// Close releases effect resources (no-op).
func (h *HighPassEffect) Close() error { return nil }
