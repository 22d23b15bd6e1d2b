// Package dsp provides the framing, windowing and spectral transform
// primitives used by the enhancement pipeline.
//
// The analysis path turns a stream of hop-sized sample blocks into
// overlapping windowed frames and then into magnitude/phase spectra:
//
//	hop → FrameBuffer → AudioFrame → Analyzer → SpectralFrame
//
// The synthesis path reverses it with weighted overlap-add:
//
//	SpectralFrame → Synthesizer → hop
//
// All types pre-allocate their working buffers at construction. The
// per-frame methods never allocate, so they are safe to call from the
// real-time processing goroutine.
package dsp

import (
	"errors"
	"math"
)

// MagnitudeFloor is the smallest magnitude an Analyzer reports for any bin.
// Downstream stages divide by magnitudes, so exact zeros are never handed out.
const MagnitudeFloor = 1e-6

// Frame size limits accepted by NewAnalyzer and NewFrameBuffer.
const (
	MinFrameSize = 64
	MaxFrameSize = 16384
)

var (
	// ErrNotPowerOfTwo indicates a frame size that is not a power of two
	// within [MinFrameSize, MaxFrameSize].
	ErrNotPowerOfTwo = errors.New("frame size must be a power of two")

	// ErrInvalidHop indicates a hop size that is zero, negative or larger
	// than the frame size.
	ErrInvalidHop = errors.New("invalid hop size")

	// ErrBufferSize indicates a caller-supplied buffer of the wrong length.
	ErrBufferSize = errors.New("buffer size mismatch")

	// ErrTimingInconsistent indicates a frame/hop combination that does not
	// make sense at the active sample rate.
	ErrTimingInconsistent = errors.New("frame timing inconsistent with sample rate")
)

// AudioFrame is a fixed-length block of time-domain samples tagged with the
// sequence index of the hop that completed it.
type AudioFrame struct {
	Seq     uint64
	Samples []float64
}

// SpectralFrame holds the one-sided spectrum of a frame as parallel
// magnitude and phase arrays of length frameSize/2+1.
type SpectralFrame struct {
	Seq       uint64
	Magnitude []float64
	Phase     []float64
}

// NewSpectralFrame allocates a SpectralFrame for the given frame size.
func NewSpectralFrame(frameSize int) SpectralFrame {
	bins := frameSize/2 + 1
	return SpectralFrame{
		Magnitude: make([]float64, bins),
		Phase:     make([]float64, bins),
	}
}

// Bins returns the number of frequency bins in the frame.
func (s SpectralFrame) Bins() int {
	return len(s.Magnitude)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// ValidateFrameSize checks the hard frame size precondition.
func ValidateFrameSize(frameSize int) error {
	if frameSize < MinFrameSize || frameSize > MaxFrameSize || !IsPowerOfTwo(frameSize) {
		return ErrNotPowerOfTwo
	}
	return nil
}

// BinFrequency returns the centre frequency in Hz of a bin.
func BinFrequency(bin, frameSize int, sampleRate float64) float64 {
	return float64(bin) * sampleRate / float64(frameSize)
}

// FrequencyBin returns the bin closest to freq, clamped to the valid range.
func FrequencyBin(freq float64, frameSize int, sampleRate float64) int {
	bin := int(math.Round(freq * float64(frameSize) / sampleRate))
	if bin < 0 {
		return 0
	}
	if bin > frameSize/2 {
		return frameSize / 2
	}
	return bin
}

// CheckTiming reports whether a frame/hop combination is usable at the given
// sample rate. The hop must divide the frame and be at most half of it, and
// the frame must span between 4 ms and 200 ms.
func CheckTiming(sampleRate float64, frameSize, hopSize int) error {
	if sampleRate <= 0 || frameSize <= 0 || hopSize <= 0 {
		return ErrTimingInconsistent
	}
	if frameSize%hopSize != 0 || hopSize > frameSize/2 {
		return ErrTimingInconsistent
	}
	duration := float64(frameSize) / sampleRate
	if duration < 0.004 || duration > 0.2 {
		return ErrTimingInconsistent
	}
	return nil
}

// Sanitize zeroes buf when it contains NaN or infinite values and reports
// whether it did so.
func Sanitize(buf []float64) bool {
	for _, v := range buf {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			for i := range buf {
				buf[i] = 0
			}
			return true
		}
	}
	return false
}

// Energy returns the sum of squares of buf.
func Energy(buf []float64) float64 {
	var sum float64
	for _, v := range buf {
		sum += v * v
	}
	return sum
}

// RMS returns the root mean square of buf, or 0 for an empty slice.
func RMS(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	return math.Sqrt(Energy(buf) / float64(len(buf)))
}
