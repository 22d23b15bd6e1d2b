package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Resampler provides streaming mono sample rate conversion.
//
// Uses linear interpolation, which is adequate for voice between the
// capture rate, the engine rate and the 48 kHz Opus rate. The last input
// sample of each call is carried over so consecutive blocks join without
// a seam.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	ratio      float64
	position   float64 // fractional read position relative to the current block
	last       float64 // final sample of the previous block
	output     []float64
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
}

// NewResampler creates a new resampler instance.
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
			"error":       "invalid sample rates",
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}

	r := &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		ratio:      float64(config.InputRate) / float64(config.OutputRate),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  r.inputRate,
		"output_rate": r.outputRate,
		"ratio":       r.ratio,
	}).Debug("Audio resampler created")

	return r, nil
}

// Resample converts input to the output rate. The returned slice is reused
// by the next call; copy it if it must outlive that.
func (r *Resampler) Resample(input []float64) []float64 {
	if r.inputRate == r.outputRate {
		r.output = append(r.output[:0], input...)
		return r.output
	}

	n := len(input)
	out := r.output[:0]
	if n == 0 {
		r.output = out
		return out
	}

	// sample(i) reads input[i] with index -1 referring to the carried-over
	// sample. Output positions up to n-1 are produced now; the rest wait
	// for the next block.
	sample := func(i int) float64 {
		if i < 0 {
			return r.last
		}
		return input[i]
	}
	limit := float64(n - 1)
	for r.position < limit {
		i := int(math.Floor(r.position))
		frac := r.position - float64(i)
		out = append(out, sample(i)*(1-frac)+sample(i+1)*frac)
		r.position += r.ratio
	}

	r.position -= float64(n)
	r.last = input[n-1]
	r.output = out
	return out
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 { return r.inputRate }

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 { return r.outputRate }

// CalculateOutputSize estimates the output size for a given input size.
func (r *Resampler) CalculateOutputSize(inputSize int) int {
	if r.inputRate == r.outputRate {
		return inputSize
	}
	return int(float64(inputSize)/r.ratio + 0.5)
}

// Reset clears the carried-over state at a stream discontinuity.
func (r *Resampler) Reset() {
	r.position = 0
	r.last = 0
}
