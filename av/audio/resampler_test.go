package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResampler(t *testing.T) {
	tests := []struct {
		name      string
		config    ResamplerConfig
		expectErr bool
	}{
		{
			name:   "valid_config",
			config: ResamplerConfig{InputRate: 44100, OutputRate: 48000},
		},
		{
			name:      "zero_input_rate",
			config:    ResamplerConfig{InputRate: 0, OutputRate: 48000},
			expectErr: true,
		},
		{
			name:      "zero_output_rate",
			config:    ResamplerConfig{InputRate: 44100, OutputRate: 0},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(tt.config)
			if tt.expectErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.InputRate, r.GetInputRate())
			assert.Equal(t, tt.config.OutputRate, r.GetOutputRate())
		})
	}
}

func TestResampler_SameRate(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000})
	require.NoError(t, err)

	in := []float64{0.1, 0.2, 0.3}
	assert.Equal(t, in, r.Resample(in))
	assert.Equal(t, 480, r.CalculateOutputSize(480))
}

func TestResampler_StreamingLength(t *testing.T) {
	tests := []struct {
		name   string
		in     uint32
		out    uint32
		block  int
		blocks int
	}{
		{name: "cd_to_opus", in: 44100, out: 48000, block: 441, blocks: 100},
		{name: "opus_to_cd", in: 48000, out: 44100, block: 480, blocks: 100},
		{name: "wideband_to_opus", in: 16000, out: 48000, block: 160, blocks: 100},
		{name: "wideband_to_opus_long", in: 16000, out: 48000, block: 160, blocks: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(ResamplerConfig{InputRate: tt.in, OutputRate: tt.out})
			require.NoError(t, err)

			total := 0
			block := make([]float64, tt.block)
			for i := 0; i < tt.blocks; i++ {
				total += len(r.Resample(block))
			}
			// Outputs that fall after the last input sample of a block wait
			// for the next one: a constant lag of at most ceil(out/in)
			// samples, never a drift.
			want := tt.block * tt.blocks * int(tt.out) / int(tt.in)
			held := int(math.Ceil(float64(tt.out) / float64(tt.in)))
			assert.LessOrEqual(t, total, want)
			assert.LessOrEqual(t, want-total, held+1)
			assert.Equal(t, tt.block*int(tt.out)/int(tt.in), r.CalculateOutputSize(tt.block))
		})
	}
}

func TestResampler_PreservesTone(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 44100, OutputRate: 48000})
	require.NoError(t, err)

	const freq = 440.0
	var out []float64
	for b := 0; b < 50; b++ {
		block := make([]float64, 441)
		for i := range block {
			n := float64(b*441 + i)
			block[i] = 0.5 * math.Sin(2*math.Pi*freq*n/44100)
		}
		out = append(out, r.Resample(block)...)
	}

	// Output sample m sits at input time m*44100/48000.
	for m := 100; m < len(out); m += 97 {
		want := 0.5 * math.Sin(2*math.Pi*freq*float64(m)/48000)
		assert.InDelta(t, want, out[m], 0.01, "sample %d", m)
	}

	r.Reset()
	assert.Empty(t, r.Resample(nil))
}
