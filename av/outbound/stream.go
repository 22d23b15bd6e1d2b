package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio"
	"github.com/opd-ai/toxenhance/av/enhance"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"
)

// captureBlockDuration is the amount of capture audio read per iteration,
// in milliseconds.
const captureBlockDuration = 20

// streamBuffers holds the per-attachment conversion state. All buffers are
// sized in prepare so the stream loop does not allocate.
type streamBuffers struct {
	encoder   Encoder
	toEngine  *audio.Resampler
	toEncoder *audio.Resampler
	read      []int16
	in        []float64
	out       []float64
	pending   []float64
	frame     []int16
}

// prepare sizes the stream buffers for the capture, engine and encoder
// rates.
func (a *attachment) prepare(engineRate uint32, encoder Encoder) error {
	captureRate := a.capture.SampleRate()
	toEngine, err := audio.NewResampler(audio.ResamplerConfig{InputRate: captureRate, OutputRate: engineRate})
	if err != nil {
		return fmt.Errorf("capture resampler: %w", err)
	}
	toEncoder, err := audio.NewResampler(audio.ResamplerConfig{InputRate: engineRate, OutputRate: encoder.SampleRate()})
	if err != nil {
		return fmt.Errorf("encoder resampler: %w", err)
	}

	block := int(captureRate) * captureBlockDuration / 1000
	if block < 1 {
		block = 1
	}
	engineBlock := toEngine.CalculateOutputSize(block) + 2
	encoderBlock := toEncoder.CalculateOutputSize(engineBlock) + 2

	a.buffers = streamBuffers{
		encoder:   encoder,
		toEngine:  toEngine,
		toEncoder: toEncoder,
		read:      make([]int16, block),
		in:        make([]float64, block),
		out:       make([]float64, engineBlock),
		pending:   make([]float64, 0, encoder.FrameSize()+encoderBlock),
		frame:     make([]int16, encoder.FrameSize()),
	}
	return nil
}

// stream runs the capture loop until ctx ends or the stream fails. On
// failure the original track goes back on the sender.
func (e *Enhancer) stream(ctx context.Context, a *attachment) {
	err := a.run(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	reason := ReasonStreamFailed
	e.failure.Store(&reason)
	if restoreErr := a.sender.ReplaceTrack(a.original); restoreErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "stream",
			"track_id": a.original.ID(),
			"error":    restoreErr.Error(),
		}).Error("Failed to restore original track")
	}
	e.bypass(reason, err)
}

func (a *attachment) run(ctx context.Context) error {
	for {
		n, err := a.capture.Read(ctx, a.buffers.read)
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := a.process(a.buffers.read[:n]); err != nil {
			if errors.Is(err, enhance.ErrTornDown) {
				return nil
			}
			return err
		}
	}
}

// process enhances one capture block and writes every complete encoder
// frame to the track.
func (a *attachment) process(pcm []int16) error {
	b := &a.buffers

	in := audio.PCMToFloat(b.in, pcm)
	block := b.toEngine.Resample(in)
	if cap(b.out) < len(block) {
		b.out = make([]float64, len(block))
	}
	out := b.out[:len(block)]
	if err := a.engine.ProcessBlock(out, block); err != nil {
		return fmt.Errorf("enhance: %w", err)
	}
	b.pending = append(b.pending, b.toEncoder.Resample(out)...)

	size := b.encoder.FrameSize()
	for len(b.pending) >= size {
		frame := audio.FloatToPCM(b.frame, b.pending[:size])
		packet, err := b.encoder.Encode(frame)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := a.track.WriteSample(media.Sample{Data: packet, Duration: b.encoder.FrameDuration()}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		b.pending = b.pending[:copy(b.pending, b.pending[size:])]
	}
	return nil
}

// feedFarEnd decodes a remote packet and queues it at the engine rate.
func (a *attachment) feedFarEnd(packet []byte, engineRate uint32) error {
	a.farMu.Lock()
	defer a.farMu.Unlock()

	if a.farDecoder == nil {
		a.farDecoder = audio.NewFarEndDecoder()
	}
	samples, rate, err := a.farDecoder.Decode(packet)
	if err != nil {
		return fmt.Errorf("decode remote audio: %w", err)
	}
	if a.farResamp == nil || a.farRate != rate {
		r, err := audio.NewResampler(audio.ResamplerConfig{InputRate: rate, OutputRate: engineRate})
		if err != nil {
			return fmt.Errorf("far-end resampler: %w", err)
		}
		a.farResamp = r
		a.farRate = rate
	}
	a.engine.FeedFarEnd(a.farResamp.Resample(samples))
	return nil
}
