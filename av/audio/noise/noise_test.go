package noise

import (
	"testing"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatSpectrum(frameSize int, mag float64) dsp.SpectralFrame {
	spec := dsp.NewSpectralFrame(frameSize)
	for k := range spec.Magnitude {
		spec.Magnitude[k] = mag
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
		{name: "slow rate", mutate: func(c *Config) { c.Rate = 0.01 }},
		{name: "rate too fast", mutate: func(c *Config) { c.Rate = 0.06 }, wantErr: true},
		{name: "zero rate", mutate: func(c *Config) { c.Rate = 0 }, wantErr: true},
		{name: "speech band faster than rate", mutate: func(c *Config) { c.SpeechBandRate = 0.1 }, wantErr: true},
		{name: "zero floor", mutate: func(c *Config) { c.Floor = 0 }, wantErr: true},
		{name: "threshold one", mutate: func(c *Config) { c.UpdateThreshold = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(44100, 1024)
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

func TestEstimator_UpdatesOnlyOnNoise(t *testing.T) {
	e, err := NewEstimator(DefaultConfig(44100, 1024))
	require.NoError(t, err)

	for _, n := range e.Profile() {
		assert.Equal(t, DefaultFloor, n)
	}

	spec := flatSpectrum(1024, 1.0)
	assert.False(t, e.Update(spec, 0.9))
	assert.False(t, e.Update(spec, 0.25))
	assert.Equal(t, uint64(0), e.Updates())

	assert.True(t, e.Update(spec, 0.1))
	assert.Equal(t, uint64(1), e.Updates())

	// Bin 1 (43 Hz) is outside the speech band, bin 23 (990 Hz) inside.
	assert.InDelta(t, 0.05, e.Profile()[1], 1e-5)
	assert.InDelta(t, 0.0125, e.Profile()[23], 1e-5)
}

func TestEstimator_Converges(t *testing.T) {
	e, err := NewEstimator(DefaultConfig(44100, 1024))
	require.NoError(t, err)

	spec := flatSpectrum(1024, 0.5)
	for i := 0; i < 2000; i++ {
		e.Update(spec, 0)
	}
	for k, n := range e.Profile() {
		assert.InDelta(t, 0.5, n, 1e-3, "bin %d", k)
	}

	e.Reset()
	assert.Equal(t, uint64(0), e.Updates())
	assert.Equal(t, DefaultFloor, e.Profile()[10])
}

func TestEstimator_NeverBelowFloor(t *testing.T) {
	e, err := NewEstimator(DefaultConfig(44100, 1024))
	require.NoError(t, err)

	spec := flatSpectrum(1024, 0)
	for i := 0; i < 100; i++ {
		e.Update(spec, 0)
	}
	for _, n := range e.Profile() {
		assert.GreaterOrEqual(t, n, DefaultFloor)
	}
}

func TestTemplates_Shapes(t *testing.T) {
	// 100 Hz bin spacing.
	const (
		rate  = 25600.0
		frame = 256
	)

	fan, ok := Lookup("fan")
	require.True(t, ok)
	w := fan.Weights(rate, frame)
	assert.Equal(t, 0.25, w[1])
	assert.InDelta(t, 0.5, w[2], 1e-12)
	assert.Equal(t, 1.0, w[3])

	click, ok := Lookup("CLICK")
	require.True(t, ok)
	w = click.Weights(rate, frame)
	assert.Equal(t, 1.0, w[29])
	assert.InDelta(t, 0.75, w[35], 1e-12)
	assert.Equal(t, 0.5, w[50])

	transient, ok := Lookup("transient")
	require.True(t, ok)
	for _, v := range transient.Weights(rate, frame) {
		assert.Equal(t, 0.7, v)
	}

	_, ok = Lookup("door")
	assert.False(t, ok)
}

func TestTemplates_HumNotches(t *testing.T) {
	hum, ok := Lookup("hum")
	require.True(t, ok)

	w := hum.Weights(44100, 1024)
	assert.Equal(t, humDepth, w[1], "50/60 Hz")
	assert.Equal(t, humDepth, w[2], "100 Hz")
	assert.Equal(t, humDepth, w[3], "120 Hz")
	assert.Equal(t, 1.0, w[50])
	assert.Equal(t, 1.0, w[400])
}

func TestMask(t *testing.T) {
	m, err := MaskOf(DefaultTemplates...)
	require.NoError(t, err)
	assert.Equal(t, []string{"fan", "hum"}, m.Names())

	_, err = MaskOf("fan", "bogus")
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	empty, err := MaskOf()
	require.NoError(t, err)
	assert.Empty(t, empty.Names())
	assert.ElementsMatch(t, []string{"fan", "hum", "click", "transient"}, Names())
	assert.Len(t, Templates(), 4)
}

func TestBank_Combine(t *testing.T) {
	bank := NewBank(44100, 1024)
	m, err := MaskOf("fan", "hum")
	require.NoError(t, err)

	tests := []struct {
		name      string
		intensity float64
		bin       int
		want      float64
	}{
		{name: "off", intensity: 0, bin: 1, want: 1},
		{name: "full depth at mains", intensity: 1, bin: 1, want: 0.25 * 0.2},
		{name: "half depth at mains", intensity: 0.5, bin: 1, want: 0.625 * 0.6},
		{name: "untouched mid band", intensity: 1, bin: 100, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combined := bank.Combine(m, tt.intensity)
			assert.InDelta(t, tt.want, combined[tt.bin], 1e-12)
			assert.Equal(t, combined, bank.Combined())
		})
	}
}
