package main

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/opd-ai/toxenhance/av/enhance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func writeTestWAV(t *testing.T, path string, samples []float64, rate uint32) {
	t.Helper()
	require.NoError(t, writeMono(path, samples, rate))
}

func speechLike(n int, rate float64) []float64 {
	rng := rand.New(rand.NewSource(7))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.3*math.Sin(2*math.Pi*440*float64(i)/rate) + 0.01*(rng.Float64()*2-1)
	}
	return out
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		dir, input, suffix, want string
	}{
		{"out", "call.wav", "_enhanced", filepath.Join("out", "call_enhanced.wav")},
		{"out", "/tmp/rec/mic.WAV", "_clean", filepath.Join("out", "mic_clean.wav")},
		{".", "noext", "_x", "noext_x.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, outputPath(tt.dir, tt.input, tt.suffix))
		})
	}
}

func TestReadMono_MixesChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, 2*1000)
	for i := 0; i < 1000; i++ {
		data[2*i] = 16384  // 0.5
		data[2*i+1] = 8192 // 0.25
	}
	enc := wav.NewEncoder(f, 16000, 16, 2, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: 16000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	mono, rate, err := readMono(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), rate)
	require.Len(t, mono, 1000)
	for _, v := range mono {
		assert.InDelta(t, 0.375, v, 1e-9)
	}
}

func TestReadMono_RejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	text := filepath.Join(dir, "notes.wav")
	require.NoError(t, os.WriteFile(text, []byte("not audio at all, just text"), 0o644))

	_, _, err := readMono(text)
	assert.ErrorIs(t, err, errInvalidWAV)

	_, _, err = readMono(filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcessFile_AlignsOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeTestWAV(t, in, speechLike(44100, 44100), 44100)
	original, _, err := readMono(in)
	require.NoError(t, err)

	cfg := enhance.DefaultConfig()
	cfg.Intensity = 0
	cfg.Echo.Enabled = false
	cfg.Post.Enabled = false
	require.NoError(t, processFile(context.Background(), cfg, noop.NewMeterProvider(), in, out))

	enhanced, rate, err := readMono(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), rate)
	require.Len(t, enhanced, len(original))
	for i := range original {
		if !assert.InDelta(t, original[i], enhanced[i], 1e-3, "sample %d", i) {
			break
		}
	}
}

func TestProcessFile_EnhancesOtherRates(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "wideband.wav")
	out := filepath.Join(dir, "wideband_out.wav")
	writeTestWAV(t, in, speechLike(32000, 16000), 16000)

	require.NoError(t, processFile(context.Background(), enhance.DefaultConfig(), noop.NewMeterProvider(), in, out))

	enhanced, rate, err := readMono(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), rate)
	assert.Len(t, enhanced, 32000)
	for _, v := range enhanced {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}
}

func TestProcessCmd(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "enhanced")
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	writeTestWAV(t, a, speechLike(22050, 44100), 44100)
	writeTestWAV(t, b, speechLike(22050, 44100), 44100)

	_, err := runRoot(t, "process", a, b, "-o", outDir, "--intensity", "60", "-j", "2")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "a_enhanced.wav"))
	assert.FileExists(t, filepath.Join(outDir, "b_enhanced.wav"))
}

func TestProcessCmd_ReportsFailingFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.wav")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	_, err := runRoot(t, "process", bad, "-o", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.wav")
	assert.ErrorIs(t, err, errInvalidWAV)
}

func TestProcessCmd_RejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "intensity out of range", args: []string{"process", "x.wav", "--intensity", "150"}},
		{name: "unknown template", args: []string{"process", "x.wav", "--templates", "jackhammer"}},
		{name: "bad log level", args: []string{"templates", "--log-level", "loud"}},
		{name: "missing input", args: []string{"process"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runRoot(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestTemplatesCmd(t *testing.T) {
	out, err := runRoot(t, "templates")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	for _, name := range []string{"fan", "hum", "click", "transient"} {
		assert.Contains(t, out, name)
	}
}

func TestConfigCmd(t *testing.T) {
	out, err := runRoot(t, "config", "--intensity", "40", "--templates", "hum,click")
	require.NoError(t, err)
	assert.Contains(t, out, "intensity: 40")
	assert.Contains(t, out, "- click")

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))
	cfg, err := enhance.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Intensity)
	assert.Equal(t, []string{"hum", "click"}, cfg.Templates)
}
