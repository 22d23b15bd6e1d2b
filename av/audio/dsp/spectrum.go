package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyzer converts windowed time-domain frames into magnitude and phase.
//
// Design decisions:
// - Uses gonum's real FFT, which only computes the n/2+1 non-redundant bins
// - Coefficient buffer is allocated once and reused for every frame
// - Magnitudes are floored at MagnitudeFloor so later divisions stay finite
type Analyzer struct {
	frameSize int
	fft       *fourier.FFT
	coeff     []complex128
}

// NewAnalyzer creates an analyzer for frames of frameSize samples.
// frameSize must be a power of two.
func NewAnalyzer(frameSize int) (*Analyzer, error) {
	if err := ValidateFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("%w: %d", err, frameSize)
	}
	return &Analyzer{
		frameSize: frameSize,
		fft:       fourier.NewFFT(frameSize),
		coeff:     make([]complex128, frameSize/2+1),
	}, nil
}

// Forward computes the spectrum of frame into dst.
func (a *Analyzer) Forward(frame AudioFrame, dst *SpectralFrame) error {
	if len(frame.Samples) != a.frameSize {
		return fmt.Errorf("%w: frame has %d samples, want %d", ErrBufferSize, len(frame.Samples), a.frameSize)
	}
	if dst.Bins() != len(a.coeff) || len(dst.Phase) != len(a.coeff) {
		return fmt.Errorf("%w: spectrum has %d bins, want %d", ErrBufferSize, dst.Bins(), len(a.coeff))
	}

	a.fft.Coefficients(a.coeff, frame.Samples)
	for k, c := range a.coeff {
		mag := cmplx.Abs(c)
		if mag < MagnitudeFloor || math.IsNaN(mag) {
			mag = MagnitudeFloor
		}
		dst.Magnitude[k] = mag
		dst.Phase[k] = cmplx.Phase(c)
	}
	dst.Seq = frame.Seq
	return nil
}

// Synthesizer rebuilds time-domain hops from spectra using weighted
// overlap-add.
//
// Each inverse-transformed frame is multiplied by the synthesis window and
// summed into an accumulator. The first hopSize samples of the accumulator
// are then complete; they are divided by the overlap norm of the window pair
// and handed out, and the accumulator shifts by one hop.
type Synthesizer struct {
	frameSize int
	hopSize   int
	window    Window
	norm      []float64
	fft       *fourier.FFT
	coeff     []complex128
	frame     []float64
	accum     []float64
	out       []float64
}

// NewSynthesizer creates a synthesizer matching a FrameBuffer configuration.
func NewSynthesizer(frameSize, hopSize int, window Window) (*Synthesizer, error) {
	if err := ValidateFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("%w: %d", err, frameSize)
	}
	if len(window) != frameSize {
		return nil, fmt.Errorf("%w: window length %d, frame size %d", ErrBufferSize, len(window), frameSize)
	}
	norm, err := window.OverlapNorm(hopSize)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{
		frameSize: frameSize,
		hopSize:   hopSize,
		window:    window,
		norm:      norm,
		fft:       fourier.NewFFT(frameSize),
		coeff:     make([]complex128, frameSize/2+1),
		frame:     make([]float64, frameSize),
		accum:     make([]float64, frameSize),
		out:       make([]float64, hopSize),
	}, nil
}

// Inverse reconstructs one frame from spec and returns the next completed
// hop. The returned slice is reused by the next call.
func (s *Synthesizer) Inverse(spec SpectralFrame) ([]float64, error) {
	if spec.Bins() != len(s.coeff) || len(spec.Phase) != len(s.coeff) {
		return nil, fmt.Errorf("%w: spectrum has %d bins, want %d", ErrBufferSize, spec.Bins(), len(s.coeff))
	}

	for k := range s.coeff {
		s.coeff[k] = cmplx.Rect(spec.Magnitude[k], spec.Phase[k])
	}
	s.fft.Sequence(s.frame, s.coeff)

	// gonum's inverse is unnormalised.
	scale := 1.0 / float64(s.frameSize)
	for i, v := range s.frame {
		s.accum[i] += v * scale * s.window[i]
	}

	for j := range s.out {
		s.out[j] = s.accum[j] / s.norm[j]
	}
	copy(s.accum, s.accum[s.hopSize:])
	for i := s.frameSize - s.hopSize; i < s.frameSize; i++ {
		s.accum[i] = 0
	}
	return s.out, nil
}

// Reset clears the overlap-add accumulator.
func (s *Synthesizer) Reset() {
	for i := range s.accum {
		s.accum[i] = 0
	}
}

// Latency returns the delay in samples between a hop entering a FrameBuffer
// and its reconstruction leaving the Synthesizer.
func (s *Synthesizer) Latency() int {
	return s.frameSize - s.hopSize
}
