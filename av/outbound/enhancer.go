package outbound

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/toxenhance/av/audio"
	"github.com/opd-ai/toxenhance/av/enhance"
	"github.com/opd-ai/toxenhance/av/outbound/opusenc"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// eventBufferSize is the capacity of the Enhancer event channel.
const eventBufferSize = 16

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithTrackFactory replaces NewOpusTrack.
func WithTrackFactory(f TrackFactory) Option {
	return func(e *Enhancer) { e.newTrack = f }
}

// WithEncoderFactory replaces the Opus encoder.
func WithEncoderFactory(f EncoderFactory) Option {
	return func(e *Enhancer) { e.newEncoder = f }
}

// WithBitrate sets the Opus bitrate of the default encoder.
func WithBitrate(bitrate int) Option {
	return func(e *Enhancer) { e.bitrate = bitrate }
}

// WithEngineOptions passes options to every engine the Enhancer builds.
func WithEngineOptions(opts ...enhance.Option) Option {
	return func(e *Enhancer) { e.engineOpts = append(e.engineOpts, opts...) }
}

// WithTimeProvider sets the clock used for Enhancer events.
func WithTimeProvider(tp enhance.TimeProvider) Option {
	return func(e *Enhancer) { e.timeProvider = tp }
}

// Enhancer inserts an enhancement engine between a capture stream and the
// audio sender of a peer connection.
//
// It never breaks the call: whenever enhancement cannot start or stops
// working, the original track stays on (or returns to) the sender and a
// "bypassed" event is emitted.
type Enhancer struct {
	cfg          enhance.Config
	engineOpts   []enhance.Option
	newTrack     TrackFactory
	newEncoder   EncoderFactory
	bitrate      int
	timeProvider enhance.TimeProvider

	events chan enhance.StatusEvent

	mu       sync.Mutex
	attached *attachment
	lastErr  error

	// failure is set by the stream goroutine when it gives up.
	failure atomic.Pointer[string]
}

// attachment is one running enhanced stream.
type attachment struct {
	sender   TrackSender
	original webrtc.TrackLocal
	track    LocalTrack
	capture  Capture
	engine   *enhance.Engine
	cancel   context.CancelFunc

	// done closes when the stream goroutine returns, forwarded when the
	// engine event channel is drained.
	done      chan struct{}
	forwarded chan struct{}

	// Owned by the stream goroutine.
	buffers streamBuffers

	// Far-end path, guarded by farMu.
	farMu      sync.Mutex
	farDecoder *audio.FarEndDecoder
	farRate    uint32
	farResamp  *audio.Resampler
}

// NewEnhancer validates cfg and returns a detached Enhancer.
func NewEnhancer(cfg enhance.Config, opts ...Option) (*Enhancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Enhancer{
		cfg:          cfg,
		newTrack:     NewOpusTrack,
		bitrate:      opusenc.DefaultBitrate,
		timeProvider: enhance.DefaultTimeProvider{},
		events:       make(chan enhance.StatusEvent, eventBufferSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newEncoder == nil {
		bitrate := e.bitrate
		e.newEncoder = func() (Encoder, error) { return opusenc.New(bitrate) }
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewEnhancer",
		"sample_rate": cfg.SampleRate,
		"bitrate":     e.bitrate,
	}).Debug("Outbound enhancer created")

	return e, nil
}

// Attach acquires the capture stream, starts an engine and swaps the
// enhanced track into sender. It returns the track now producing audio for
// the sender.
//
// A non-audio track is rejected with ErrNotAudioTrack and left untouched.
// If capture cannot be acquired, Attach returns the original track and a
// nil error; the *enhance.AcquisitionError is available from Err and a
// bypassed event is emitted. Any other setup failure also leaves the
// original track in place and is returned.
func (e *Enhancer) Attach(ctx context.Context, sender TrackSender, acquire AcquireFunc) (webrtc.TrackLocal, error) {
	original := sender.Track()
	if original == nil || original.Kind() != webrtc.RTPCodecTypeAudio {
		return original, ErrNotAudioTrack
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attached != nil {
		return original, ErrAlreadyAttached
	}
	e.lastErr = nil
	e.failure.Store(nil)

	capture, err := acquire(ctx)
	if err != nil {
		acqErr := &enhance.AcquisitionError{Err: err}
		e.lastErr = acqErr
		e.bypass(ReasonAcquisitionFailed, acqErr)
		return original, nil
	}

	a, err := e.start(sender, original, capture)
	if err != nil {
		_ = capture.Close()
		e.lastErr = err
		e.bypass(ReasonSetupFailed, err)
		return original, err
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	e.attached = a

	go func() {
		defer close(a.forwarded)
		for ev := range a.engine.Events() {
			e.emit(ev)
		}
	}()
	go func() {
		defer close(a.done)
		e.stream(streamCtx, a)
	}()

	logrus.WithFields(logrus.Fields{
		"function":     "Attach",
		"track_id":     original.ID(),
		"capture_rate": capture.SampleRate(),
		"engine_rate":  e.cfg.SampleRate,
	}).Info("Enhanced track attached")

	return a.track, nil
}

// start builds the engine, encoder and track and swaps the track in. On
// error everything it created is released and the sender is unchanged.
func (e *Enhancer) start(sender TrackSender, original webrtc.TrackLocal, capture Capture) (*attachment, error) {
	engine, err := enhance.New(e.cfg, e.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if err := engine.Init(); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}

	encoder, err := e.newEncoder()
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	a := &attachment{
		sender:    sender,
		original:  original,
		capture:   capture,
		engine:    engine,
		done:      make(chan struct{}),
		forwarded: make(chan struct{}),
	}
	if err := a.prepare(uint32(e.cfg.SampleRate), encoder); err != nil {
		_ = engine.Close()
		return nil, err
	}

	track, err := e.newTrack(original)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create track: %w", err)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("replace track: %w", err)
	}
	a.track = track
	return a, nil
}

// Detach stops the stream, restores the original track and closes the
// engine.
func (e *Enhancer) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a := e.attached
	if a == nil {
		return ErrNotAttached
	}
	e.attached = nil

	a.cancel()
	closeErr := a.capture.Close()
	<-a.done

	restoreErr := a.sender.ReplaceTrack(a.original)
	engineErr := a.engine.Close()
	if engineErr == nil {
		<-a.forwarded
	}

	logrus.WithFields(logrus.Fields{
		"function": "Detach",
		"track_id": a.original.ID(),
	}).Info("Enhanced track detached")

	switch {
	case restoreErr != nil:
		return fmt.Errorf("restore original track: %w", restoreErr)
	case engineErr != nil:
		return engineErr
	case closeErr != nil:
		return fmt.Errorf("close capture: %w", closeErr)
	}
	return nil
}

// FeedRemoteOpus decodes one Opus packet from the remote party and hands it
// to the echo canceller as far-end reference. It may be called from one
// goroutine concurrently with the stream.
func (e *Enhancer) FeedRemoteOpus(packet []byte) error {
	e.mu.Lock()
	a := e.attached
	e.mu.Unlock()
	if a == nil {
		return ErrNotAttached
	}
	return a.feedFarEnd(packet, uint32(e.cfg.SampleRate))
}

// Events returns the channel of status events from the Enhancer and its
// engines. Events are dropped when the channel is full.
func (e *Enhancer) Events() <-chan enhance.StatusEvent {
	return e.events
}

// Status reports the running engine, or a bypassed snapshot when none runs.
func (e *Enhancer) Status() enhance.Status {
	e.mu.Lock()
	a := e.attached
	lastErr := e.lastErr
	e.mu.Unlock()

	var st enhance.Status
	if a != nil {
		st = a.engine.Status()
	} else {
		st = enhance.Status{State: enhance.StateUninitialized, Intensity: e.cfg.Intensity}
		if lastErr != nil {
			st.BypassReason = lastErr.Error()
		}
	}
	if reason := e.failure.Load(); reason != nil {
		st.BypassReason = *reason
	}
	return st
}

// Err returns the error that made the last Attach fail open, if any.
func (e *Enhancer) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Engine returns the running engine for control calls, or nil.
func (e *Enhancer) Engine() *enhance.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached == nil {
		return nil
	}
	return e.attached.engine
}

// bypass logs why the original track is in use and emits an event.
func (e *Enhancer) bypass(reason string, cause error) {
	logrus.WithFields(logrus.Fields{
		"function": "bypass",
		"reason":   reason,
		"error":    cause.Error(),
	}).Warn("Outbound enhancement bypassed, original track in use")

	e.emit(enhance.StatusEvent{Status: enhance.EventBypassed, Reason: reason})
}

func (e *Enhancer) emit(ev enhance.StatusEvent) {
	if ev.Time.IsZero() {
		ev.Time = e.timeProvider.Now()
	}
	select {
	case e.events <- ev:
	default:
	}
}
