package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/opd-ai/toxenhance/av/enhance"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// outputBitDepth is the sample format of enhanced files.
const outputBitDepth = 16

// errInvalidWAV indicates an input that is not a PCM WAV file.
var errInvalidWAV = errors.New("not a valid PCM WAV file")

type processOptions struct {
	outputDir string
	suffix    string
	jobs      int
}

func newProcessCmd(opts *options) *cobra.Command {
	popts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process input.wav [input.wav...]",
		Short: "Enhance WAV recordings",
		Long: `Enhance one or more WAV recordings.

Each file runs through its own engine at the file's sample rate; multi
channel input is mixed down to mono. Output files are 16-bit mono WAV,
aligned with the input (the engine latency is removed).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			mp, stop, err := opts.meterProvider()
			if err != nil {
				return err
			}
			defer stop()

			if err := os.MkdirAll(popts.outputDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			return processFiles(cmd.Context(), cfg, mp, popts, args)
		},
	}

	cmd.Flags().StringVarP(&popts.outputDir, "output", "o", ".", "Output directory")
	cmd.Flags().StringVar(&popts.suffix, "suffix", "_enhanced", "Suffix added to output file names")
	cmd.Flags().IntVarP(&popts.jobs, "jobs", "j", runtime.NumCPU(), "Files processed in parallel")
	return cmd
}

// processFiles enhances every input concurrently, one engine per file.
func processFiles(ctx context.Context, cfg enhance.Config, mp metric.MeterProvider, popts *processOptions, inputs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	if popts.jobs > 0 {
		g.SetLimit(popts.jobs)
	}

	for _, input := range inputs {
		output := outputPath(popts.outputDir, input, popts.suffix)
		g.Go(func() error {
			if err := processFile(ctx, cfg, mp, input, output); err != nil {
				return fmt.Errorf("%s: %w", input, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func outputPath(dir, input, suffix string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+suffix+".wav")
}

// processFile enhances input into output.
func processFile(ctx context.Context, cfg enhance.Config, mp metric.MeterProvider, input, output string) error {
	start := time.Now()

	samples, rate, err := readMono(input)
	if err != nil {
		return err
	}

	cfg.SampleRate = float64(rate)
	engine, err := enhance.New(cfg,
		enhance.WithName(filepath.Base(input)),
		enhance.WithMeterProvider(mp),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "processFile",
				"input":    input,
				"error":    err.Error(),
			}).Warn("Engine teardown incomplete")
		}
	}()
	if err := engine.Init(); err != nil {
		return err
	}

	enhanced, err := enhanceSamples(ctx, engine, samples, cfg.MaxBlockSize)
	if err != nil {
		return err
	}
	if err := writeMono(output, enhanced, rate); err != nil {
		return err
	}

	st := engine.Status()
	logrus.WithFields(logrus.Fields{
		"function":      "processFile",
		"input":         input,
		"output":        output,
		"samples":       len(samples),
		"sample_rate":   rate,
		"hops":          st.Frames,
		"faults":        st.Faults,
		"bypass_reason": st.BypassReason,
		"duration":      time.Since(start),
	}).Info("File enhanced")
	return nil
}

// enhanceSamples runs samples through engine and returns an output of the
// same length with the engine latency removed.
func enhanceSamples(ctx context.Context, engine *enhance.Engine, samples []float64, blockSize int) ([]float64, error) {
	latency := engine.Latency()
	if engine.Status().BypassReason != "" {
		// Pass-through adds no delay.
		latency = 0
	}

	padded := make([]float64, len(samples)+latency)
	copy(padded, samples)
	out := make([]float64, len(padded))

	for offset := 0; offset < len(padded); offset += blockSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := offset + blockSize
		if end > len(padded) {
			end = len(padded)
		}
		if err := engine.ProcessBlock(out[offset:end], padded[offset:end]); err != nil {
			return nil, err
		}
	}
	return out[latency:], nil
}

// readMono decodes a PCM WAV file and mixes it down to mono in [-1, 1].
func readMono(path string) ([]float64, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, errInvalidWAV
	}
	switch buf.SourceBitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", errInvalidWAV, buf.SourceBitDepth)
	}

	channels := buf.Format.NumChannels
	scale := float64(int64(1) << (buf.SourceBitDepth - 1))
	mono := make([]float64, len(buf.Data)/channels)
	for i := range mono {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[i*channels+ch])
		}
		mono[i] = sum / float64(channels) / scale
	}
	return mono, uint32(buf.Format.SampleRate), nil
}

// writeMono encodes samples as 16-bit mono PCM WAV.
func writeMono(path string, samples []float64, rate uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	data := make([]int, len(samples))
	for i, v := range samples {
		s := v * 32768
		switch {
		case s >= 32767:
			data[i] = 32767
		case s <= -32768:
			data[i] = -32768
		default:
			data[i] = int(s)
		}
	}

	enc := wav.NewEncoder(f, int(rate), outputBitDepth, 1, 1)
	writeErr := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: int(rate)},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	})
	closeErr := enc.Close()
	fileErr := f.Close()
	if err := errors.Join(writeErr, closeErr, fileErr); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}
