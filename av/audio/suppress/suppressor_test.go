package suppress

import (
	"testing"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate  = 44100.0
	testFrame = 1024
	testBins  = testFrame/2 + 1

	// Bin 1 sits below the speech band, bin 23 near 1 kHz inside it.
	lowBin    = 1
	speechBin = 23
)

func newTestSuppressor(t *testing.T) *Suppressor {
	t.Helper()
	s, err := New(DefaultConfig(testRate, testFrame))
	require.NoError(t, err)
	return s
}

func uniform(v float64) []float64 {
	out := make([]float64, testBins)
	for i := range out {
		out[i] = v
	}
	return out
}

// applyRepeated runs Apply on a fresh copy of mags n times and returns the
// last output spectrum.
func applyRepeated(t *testing.T, s *Suppressor, mags, noise []float64, p float64, n int) dsp.SpectralFrame {
	t.Helper()
	spec := dsp.NewSpectralFrame(testFrame)
	for i := 0; i < n; i++ {
		copy(spec.Magnitude, mags)
		require.NoError(t, s.Apply(&spec, noise, p))
	}
	return spec
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero min gain", mutate: func(c *Config) { c.MinGain = 0 }, wantErr: true},
		{name: "over-subtraction below one", mutate: func(c *Config) { c.OverSubtraction = 0.5 }, wantErr: true},
		{name: "smoothing one", mutate: func(c *Config) { c.GainSmoothing = 1 }, wantErr: true},
		{name: "protection floor above one", mutate: func(c *Config) { c.ProtectionFloor = 1.2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testRate, testFrame)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSuppressor_WienerGain(t *testing.T) {
	tests := []struct {
		name     string
		mag      float64
		wantGain float64
	}{
		{name: "noise only", mag: 0.1, wantGain: DefaultMinGain},
		{name: "strong signal", mag: 1.0, wantGain: 0.98},
		{name: "below noise", mag: 0.01, wantGain: DefaultMinGain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSuppressor(t)
			// p between the template and protection thresholds: plain Wiener.
			applyRepeated(t, s, uniform(tt.mag), uniform(0.1), 0.4, 60)
			assert.InDelta(t, tt.wantGain, s.Gains()[lowBin], 1e-6)
			assert.InDelta(t, tt.wantGain, s.Gains()[speechBin], 1e-6)
		})
	}
}

func TestSuppressor_ProtectionFloor(t *testing.T) {
	s := newTestSuppressor(t)
	s.SetTemplateWeights(uniform(0.01))

	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.9, 60)
	assert.InDelta(t, DefaultProtectionFloor, s.Gains()[speechBin], 1e-9)
	assert.InDelta(t, DefaultMinGain, s.Gains()[lowBin], 1e-6, "protection is limited to the speech band")
}

func TestSuppressor_Templates(t *testing.T) {
	s := newTestSuppressor(t)
	s.SetTemplateWeights(uniform(0.5))

	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.1, 60)
	assert.InDelta(t, DefaultMinGain*0.5, s.Gains()[speechBin], 1e-6)

	// Above the template threshold the weights are ignored.
	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.4, 60)
	assert.InDelta(t, DefaultMinGain, s.Gains()[speechBin], 1e-6)

	s.SetTemplateWeights(make([]float64, 3))
	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.1, 60)
	assert.InDelta(t, DefaultMinGain*0.5, s.Gains()[speechBin], 1e-6, "mismatched weights are rejected")

	s.SetTemplateWeights(nil)
	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.1, 60)
	assert.InDelta(t, DefaultMinGain, s.Gains()[speechBin], 1e-6)
}

func TestSuppressor_GainSmoothing(t *testing.T) {
	s := newTestSuppressor(t)
	spec := applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.4, 1)

	// One step from unity toward the minimum gain.
	want := DefaultGainSmoothing + (1-DefaultGainSmoothing)*DefaultMinGain
	assert.InDelta(t, want, s.Gains()[lowBin], 1e-9)
	assert.InDelta(t, 0.1*want, spec.Magnitude[lowBin], 1e-9)
}

func TestSuppressor_Intensity(t *testing.T) {
	s := newTestSuppressor(t)
	s.SetIntensity(0)
	assert.Equal(t, 0.0, s.Intensity())

	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.1, 30)
	for _, g := range s.Gains() {
		assert.Equal(t, 1.0, g)
	}

	s.SetIntensity(0.5)
	applyRepeated(t, s, uniform(0.1), uniform(0.1), 0.4, 60)
	assert.InDelta(t, 0.55, s.Gains()[lowBin], 1e-6)

	s.SetIntensity(7)
	assert.Equal(t, 1.0, s.Intensity())
}

func TestSuppressor_GainNeverAboveUnity(t *testing.T) {
	s := newTestSuppressor(t)
	mags := uniform(0)
	for k := range mags {
		mags[k] = float64(k%7) * 0.3
	}
	spec := applyRepeated(t, s, mags, uniform(0.05), 0.95, 10)
	for k, g := range s.Gains() {
		assert.LessOrEqual(t, g, 1.0)
		assert.LessOrEqual(t, spec.Magnitude[k], mags[k]+1e-12)
	}
}

func TestSuppressor_SizeMismatch(t *testing.T) {
	s := newTestSuppressor(t)
	spec := dsp.NewSpectralFrame(testFrame)
	err := s.Apply(&spec, make([]float64, 10), 0.5)
	assert.ErrorIs(t, err, dsp.ErrBufferSize)

	s.Reset()
	assert.Equal(t, 1.0, s.Gains()[0])
}
