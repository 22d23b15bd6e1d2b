package vad

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate  = 44100.0
	testFrame = 1024
)

// frameWithPeak builds a spectrum at the magnitude floor with one raised bin.
func frameWithPeak(bin int, mag float64) dsp.SpectralFrame {
	spec := dsp.NewSpectralFrame(testFrame)
	for k := range spec.Magnitude {
		spec.Magnitude[k] = dsp.MagnitudeFloor
	}
	spec.Magnitude[bin] = mag
	return spec
}

// flatFrame builds a spectrum with every bin at mag.
func flatFrame(mag float64) dsp.SpectralFrame {
	spec := dsp.NewSpectralFrame(testFrame)
	for k := range spec.Magnitude {
		spec.Magnitude[k] = mag
	}
	return spec
}

// lowPassShape is the power response of a one-pole 500 Hz low-pass.
func lowPassShape(bin int) float64 {
	f := dsp.BinFrequency(bin, testFrame, testRate) / 500
	return 1 / (1 + f*f)
}

// slopedFrame builds the smooth spectrum of loud low-passed noise.
func slopedFrame() dsp.SpectralFrame {
	spec := dsp.NewSpectralFrame(testFrame)
	for k := range spec.Magnitude {
		spec.Magnitude[k] = 3 * math.Sqrt(lowPassShape(k))
	}
	return spec
}

// noisyFrame draws Rayleigh magnitudes whose mean power per bin is
// power*shape(k).
func noisyFrame(rng *rand.Rand, power float64, shape func(int) float64) dsp.SpectralFrame {
	spec := dsp.NewSpectralFrame(testFrame)
	for k := range spec.Magnitude {
		re, im := rng.NormFloat64(), rng.NormFloat64()
		spec.Magnitude[k] = math.Sqrt(power * shape(k) * (re*re + im*im) / 2)
	}
	return spec
}

func white(int) float64 { return 1 }

func TestNewDetector_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "smoothing at upper bound", mutate: func(c *Config) { c.Smoothing = 0.9 }},
		{name: "smoothing too low", mutate: func(c *Config) { c.Smoothing = 0.8 }, wantErr: true},
		{name: "smoothing too high", mutate: func(c *Config) { c.Smoothing = 0.95 }, wantErr: true},
		{name: "inverted band", mutate: func(c *Config) { c.BandLow = 9000 }, wantErr: true},
		{name: "zero sample rate", mutate: func(c *Config) { c.SampleRate = 0 }, wantErr: true},
		{name: "ratio not above one", mutate: func(c *Config) { c.RatioThreshold = 1 }, wantErr: true},
		{name: "onset not above one", mutate: func(c *Config) { c.OnsetThreshold = 0.5 }, wantErr: true},
		{name: "speech threshold zero", mutate: func(c *Config) { c.SpeechThreshold = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testRate, testFrame)
			tt.mutate(&cfg)
			d, err := NewDetector(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Nil(t, d)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, d)
			}
		})
	}
}

func TestDetector_ColdStartAssumesSpeech(t *testing.T) {
	d, err := NewDetector(DefaultConfig(testRate, testFrame))
	require.NoError(t, err)

	assert.Equal(t, 1.0, d.Probability())

	// One silent frame must not flip the decision.
	dec := d.Update(frameWithPeak(23, dsp.MagnitudeFloor))
	assert.Equal(t, 0.0, dec.Score)
	assert.InDelta(t, 0.85, dec.Probability, 1e-12)
	assert.True(t, dec.Speech)
}

func TestDetector_SmoothedDecay(t *testing.T) {
	d, err := NewDetector(DefaultConfig(testRate, testFrame))
	require.NoError(t, err)

	silent := frameWithPeak(23, dsp.MagnitudeFloor)
	for i := 0; i < 4; i++ {
		assert.True(t, d.Update(silent).Speech, "frame %d", i)
	}
	// 0.85^5 is below the 0.5 threshold.
	assert.False(t, d.Update(silent).Speech)

	for i := 0; i < 100; i++ {
		d.Update(silent)
	}
	assert.Greater(t, d.Probability(), 0.0)
	assert.Less(t, d.Probability(), 1e-6)
}

func TestDetector_Classification(t *testing.T) {
	withPeak := slopedFrame()
	withPeak.Magnitude[23] *= 10

	tests := []struct {
		name      string
		frame     dsp.SpectralFrame
		wantScore float64
	}{
		{name: "loud 1 kHz", frame: frameWithPeak(23, 100), wantScore: 1},
		{name: "quiet 1 kHz", frame: frameWithPeak(23, 0.01), wantScore: 0},
		{name: "below speech band", frame: frameWithPeak(1, 100), wantScore: 0},
		{name: "above speech band", frame: frameWithPeak(300, 100), wantScore: 0},
		{name: "loud flat spectrum", frame: flatFrame(5), wantScore: 0},
		{name: "loud low-passed spectrum", frame: slopedFrame(), wantScore: 0},
		{name: "peak over low-passed spectrum", frame: withPeak, wantScore: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(DefaultConfig(testRate, testFrame))
			require.NoError(t, err)
			dec := d.Update(tt.frame)
			assert.Equal(t, tt.wantScore, dec.Score)
			assert.False(t, dec.Onset, "a fresh detector has no background level")
		})
	}
}

func TestDetector_StationaryNoiseDecays(t *testing.T) {
	tests := []struct {
		name  string
		power float64
		shape func(int) float64
	}{
		{name: "white", power: 4, shape: white},
		{name: "low-passed", power: 9, shape: lowPassShape},
		{name: "quiet low-passed", power: 0.5, shape: lowPassShape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDetector(DefaultConfig(testRate, testFrame))
			require.NoError(t, err)
			rng := rand.New(rand.NewSource(11))

			var dec Decision
			for i := 0; i < 80; i++ {
				dec = d.Update(noisyFrame(rng, tt.power, tt.shape))
				assert.False(t, dec.Onset, "frame %d", i)
			}
			assert.Greater(t, dec.Energy, DefaultEnergyThreshold)
			assert.Less(t, dec.Probability, 0.25)
			assert.Greater(t, d.Level(), 0.0)
		})
	}
}

func TestDetector_ToneUnderBroadbandNoise(t *testing.T) {
	// Tone bin power over the mean noise power per bin.
	for _, snr := range []float64{40, 100, 1000} {
		t.Run(fmt.Sprintf("tone %.0fx noise", snr), func(t *testing.T) {
			d, err := NewDetector(DefaultConfig(testRate, testFrame))
			require.NoError(t, err)
			rng := rand.New(rand.NewSource(12))

			const noisePower = 4.0
			var dec Decision
			for i := 0; i < 80; i++ {
				frame := noisyFrame(rng, noisePower, white)
				frame.Magnitude[23] = math.Sqrt(snr * noisePower)
				frame.Magnitude[22] = math.Sqrt(snr * noisePower / 4)
				frame.Magnitude[24] = math.Sqrt(snr * noisePower / 4)
				dec = d.Update(frame)
			}
			assert.True(t, dec.Speech)
			assert.Greater(t, dec.Probability, 0.9)
			assert.Greater(t, dec.Ratio, DefaultRatioThreshold)
		})
	}
}

func TestDetector_LevelOnset(t *testing.T) {
	d, err := NewDetector(DefaultConfig(testRate, testFrame))
	require.NoError(t, err)

	quiet := flatFrame(1)
	for i := 0; i < 30; i++ {
		assert.Equal(t, 0.0, d.Update(quiet).Score)
	}
	background := d.Level()
	assert.Greater(t, background, DefaultEnergyThreshold)

	// A 20 dB jump in broadband energy is an onset until the background
	// level catches up.
	loud := flatFrame(10)
	dec := d.Update(loud)
	assert.True(t, dec.Onset)
	assert.Equal(t, 1.0, dec.Score)

	for i := 0; i < 20; i++ {
		dec = d.Update(loud)
	}
	assert.False(t, dec.Onset)
	assert.Equal(t, 0.0, dec.Score)
	assert.Greater(t, d.Level(), 4*background)

	// Frames with a spectral peak do not move the background level.
	level := d.Level()
	d.Update(frameWithPeak(23, 1000))
	assert.Equal(t, level, d.Level())
}

func TestDetector_SpeechProfile(t *testing.T) {
	d, err := NewDetector(DefaultConfig(testRate, testFrame))
	require.NoError(t, err)

	speech := frameWithPeak(23, 100)
	d.Update(speech)
	assert.InDelta(t, 10.0, d.SpeechProfile()[23], 1e-9)

	for i := 0; i < 200; i++ {
		d.Update(speech)
	}
	assert.InDelta(t, 100.0, d.SpeechProfile()[23], 1e-3)
	assert.Equal(t, 0.0, d.SpeechProfile()[1], "bins outside the band are never profiled")

	d.Reset()
	assert.Equal(t, 1.0, d.Probability())
	assert.Equal(t, uint64(0), d.Frames())
	assert.Equal(t, 0.0, d.SpeechProfile()[23])
	assert.Equal(t, 0.0, d.Level())
}

func TestDetector_BandClampedToNyquist(t *testing.T) {
	cfg := DefaultConfig(8000, 256)
	d, err := NewDetector(cfg)
	require.NoError(t, err)

	lo, hi := d.BandBins()
	assert.Equal(t, 3, lo)
	assert.Equal(t, 128, hi)
}
