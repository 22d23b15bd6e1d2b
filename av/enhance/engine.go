package enhance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/opd-ai/toxenhance/av/audio"
	"github.com/opd-ai/toxenhance/av/audio/aec"
	"github.com/opd-ai/toxenhance/av/audio/noise"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// eventBufferSize is the capacity of the status event channel. Events are
// dropped when nobody reads them.
const eventBufferSize = 16

// Engine is one enhancement pipeline for one mono capture stream.
//
// Control methods (Enable, Disable, SetIntensity, SetTemplates,
// ResetAdaptation, Status, FeedFarEnd) are safe to call from any goroutine.
// ProcessBlock and ProcessPCM belong to a single processing goroutine.
// Control changes take effect at the next hop boundary.
type Engine struct {
	cfg  Config
	name string

	state    atomic.Int32
	inFlight atomic.Bool

	// detailedLogging gates per-hop debug logging. 0 = disabled, 1 = enabled.
	detailedLogging int32

	commands chan command
	events   chan StatusEvent

	timeProvider  TimeProvider
	meterProvider metric.MeterProvider
	metrics       *Metrics
	registration  metric.Registration

	// Built once in New; passing them on the hop path does not allocate.
	recordOpts  []metric.RecordOption
	addOpts     []metric.AddOption
	observeOpts []metric.ObserveOption

	// Owned by the processing goroutine.
	pipe              *pipeline
	hopIn             []float64
	hopOut            []float64
	fill              int
	seq               uint64
	bypassing         bool
	intensity         float64
	mask              noise.Mask
	consecutiveFaults int
	pending           hopCounters
	pcmIn             []float64
	pcmOut            []float64

	// Published for other goroutines.
	farEnd          atomic.Pointer[aec.Canceller]
	frames          atomic.Uint64
	faults          atomic.Uint64
	convergenceBits atomic.Uint64
	presenceBits    atomic.Uint64
	intensityLevel  atomic.Int32
	bypassReason    atomic.Pointer[string]
}

// New validates cfg and returns an engine in StateUninitialized. A
// *ConfigurationError is returned for unusable settings.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"error":    err.Error(),
		}).Error("Rejected enhancement configuration")
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		name:          "default",
		commands:      make(chan command, cfg.CommandQueueSize),
		events:        make(chan StatusEvent, eventBufferSize),
		timeProvider:  DefaultTimeProvider{},
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}

	metrics, err := NewMetrics(e.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	e.metrics = metrics
	attrs := metric.WithAttributeSet(attribute.NewSet(attribute.String("engine", e.name)))
	e.recordOpts = []metric.RecordOption{attrs}
	e.addOpts = []metric.AddOption{attrs}
	e.observeOpts = []metric.ObserveOption{attrs}
	if e.registration, err = metrics.observe(e); err != nil {
		return nil, fmt.Errorf("register metric callback: %w", err)
	}

	e.intensityLevel.Store(int32(cfg.Intensity))
	e.EnableDetailedLogging(cfg.DetailedLogging)

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"engine":      e.name,
		"sample_rate": cfg.SampleRate,
		"frame_size":  cfg.FrameSize,
		"hop_size":    cfg.HopSize,
		"intensity":   cfg.Intensity,
		"templates":   cfg.Templates,
		"echo":        cfg.Echo.Enabled,
	}).Info("Enhancement engine created")

	return e, nil
}

// acquire claims the processing slot and checks that the engine runs.
func (e *Engine) acquire() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrConcurrentProcess
	}
	switch State(e.state.Load()) {
	case StateTornDown:
		e.inFlight.Store(false)
		return ErrTornDown
	case StateUninitialized, StateInitializing:
		e.inFlight.Store(false)
		return ErrNotInitialized
	}
	return nil
}

func (e *Engine) release() {
	e.inFlight.Store(false)
}

// Init allocates every buffer and moves the engine to StateActive.
//
// A frame layout that cannot run at the configured sample rate does not
// fail Init: the engine becomes Active in pass-through and emits a
// "bypassed" event.
func (e *Engine) Init() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrConcurrentProcess
	}
	defer e.release()

	if !e.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if State(e.state.Load()) == StateTornDown {
			return ErrTornDown
		}
		return ErrAlreadyInitialized
	}

	logrus.WithFields(logrus.Fields{
		"function": "Init",
		"engine":   e.name,
	}).Info("Initializing enhancement engine")

	e.hopIn = make([]float64, e.cfg.HopSize)
	e.hopOut = make([]float64, e.cfg.HopSize)
	e.pcmIn = make([]float64, e.cfg.MaxBlockSize)
	e.pcmOut = make([]float64, e.cfg.MaxBlockSize)
	e.intensity = float64(e.cfg.Intensity) / 100
	e.mask, _ = noise.MaskOf(e.cfg.Templates...)

	timingErr := e.cfg.timingError()
	if timingErr == nil {
		pipe, err := newPipeline(e.cfg)
		if err != nil {
			e.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
			logrus.WithFields(logrus.Fields{
				"function": "Init",
				"engine":   e.name,
				"error":    err.Error(),
			}).Error("Failed to build enhancement pipeline")
			return fmt.Errorf("init pipeline: %w", err)
		}
		pipe.setIntensity(e.intensity, e.mask)
		e.pipe = pipe
		e.farEnd.Store(pipe.canceller)
	}

	if !e.state.CompareAndSwap(int32(StateInitializing), int32(StateActive)) {
		return ErrTornDown
	}

	if timingErr != nil {
		e.enterBypass(ReasonTimingInconsistent, timingErr)
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Init",
		"engine":   e.name,
		"latency":  e.pipe.latency(),
		"mask":     e.mask.Names(),
	}).Info("Enhancement engine active")
	e.emit(StatusEvent{Status: EventActive})
	return nil
}

// Enable switches processing on. It takes effect at the next hop boundary.
func (e *Engine) Enable() error {
	return e.toggle(StateDisabled, StateActive, "Enable")
}

// Disable switches the engine to bypass: from the next hop boundary the
// output is the input, sample for sample.
func (e *Engine) Disable() error {
	return e.toggle(StateActive, StateDisabled, "Disable")
}

func (e *Engine) toggle(from, to State, function string) error {
	for {
		switch current := State(e.state.Load()); current {
		case to:
			return nil
		case from:
			if e.state.CompareAndSwap(int32(from), int32(to)) {
				logrus.WithFields(logrus.Fields{
					"function": function,
					"engine":   e.name,
					"state":    to.String(),
				}).Info("Enhancement toggled")
				return nil
			}
		case StateTornDown:
			return ErrTornDown
		default:
			return ErrNotInitialized
		}
	}
}

// SetIntensity sets suppression aggressiveness from 0 (no suppression) to
// 100 (full strength).
func (e *Engine) SetIntensity(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidIntensity, level)
	}
	if State(e.state.Load()) == StateTornDown {
		return ErrTornDown
	}
	if err := e.enqueue(command{kind: cmdIntensity, intensity: level}); err != nil {
		return err
	}
	e.intensityLevel.Store(int32(level))

	logrus.WithFields(logrus.Fields{
		"function":  "SetIntensity",
		"engine":    e.name,
		"intensity": level,
	}).Debug("Intensity change queued")
	return nil
}

// SetTemplates selects the active noise-type templates by name. No names
// disables targeted suppression.
func (e *Engine) SetTemplates(names ...string) error {
	mask, err := noise.MaskOf(names...)
	if err != nil {
		return fmt.Errorf("set templates: %w", err)
	}
	if State(e.state.Load()) == StateTornDown {
		return ErrTornDown
	}
	if err := e.enqueue(command{kind: cmdTemplates, mask: mask}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SetTemplates",
		"engine":    e.name,
		"templates": mask.Names(),
	}).Debug("Template change queued")
	return nil
}

// ResetAdaptation discards the learned noise profile, speech profile and
// echo path.
func (e *Engine) ResetAdaptation() error {
	if State(e.state.Load()) == StateTornDown {
		return ErrTornDown
	}
	if err := e.enqueue(command{kind: cmdResetAdaptation}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "ResetAdaptation",
		"engine":   e.name,
	}).Info("Adaptation reset queued")
	return nil
}

// FeedFarEnd queues far-end playback samples at the engine sample rate as
// the echo reference and returns how many were accepted. It may run on one
// goroutine concurrently with processing.
func (e *Engine) FeedFarEnd(samples []float64) int {
	canceller := e.farEnd.Load()
	if canceller == nil {
		return 0
	}
	return canceller.FeedFarEnd(samples)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	state := State(e.state.Load())
	st := Status{
		State:          state,
		Convergence:    math.Float64frombits(e.convergenceBits.Load()),
		Enabled:        state == StateActive,
		Intensity:      int(e.intensityLevel.Load()),
		SpeechPresence: math.Float64frombits(e.presenceBits.Load()),
		Frames:         e.frames.Load(),
		Faults:         e.faults.Load(),
	}
	if reason := e.bypassReason.Load(); reason != nil {
		st.BypassReason = *reason
	}
	return st
}

// Events returns the status event stream. It is closed by Close.
func (e *Engine) Events() <-chan StatusEvent {
	return e.events
}

// Latency returns the delay in samples between input and output while
// processing is enabled.
func (e *Engine) Latency() int {
	return e.cfg.FrameSize
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// EnableDetailedLogging switches per-hop debug logging.
func (e *Engine) EnableDetailedLogging(enabled bool) {
	var value int32
	if enabled {
		value = 1
	}
	atomic.StoreInt32(&e.detailedLogging, value)
}

// IsDetailedLoggingEnabled reports whether per-hop debug logging is on.
func (e *Engine) IsDetailedLoggingEnabled() bool {
	return atomic.LoadInt32(&e.detailedLogging) == 1
}

// ProcessBlock enhances src into dst. Blocks may have any length; dst and
// src must have the same length and may be the same slice. Output lags
// input by Latency samples while enabled and not at all while disabled.
func (e *Engine) ProcessBlock(dst, src []float64) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: dst %d, src %d", ErrBlockSize, len(dst), len(src))
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	e.processBlock(dst, src)
	return nil
}

// ProcessPCM enhances 16-bit samples. Blocks longer than MaxBlockSize are
// processed in chunks.
func (e *Engine) ProcessPCM(dst, src []int16) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: dst %d, src %d", ErrBlockSize, len(dst), len(src))
	}
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	for len(src) > 0 {
		n := len(src)
		if n > len(e.pcmIn) {
			n = len(e.pcmIn)
		}
		in := audio.PCMToFloat(e.pcmIn, src[:n])
		out := e.pcmOut[:n]
		e.processBlock(out, in)
		audio.FloatToPCM(dst[:n], out)
		src, dst = src[n:], dst[n:]
	}
	return nil
}

func (e *Engine) processBlock(dst, src []float64) {
	for len(src) > 0 {
		if e.fill == 0 {
			e.beginHop()
		}
		n := copy(e.hopIn[e.fill:], src)
		if e.bypassing {
			passThrough(dst[:n], src[:n])
		} else {
			copy(dst[:n], e.hopOut[e.fill:e.fill+n])
		}
		e.fill += n
		src, dst = src[n:], dst[n:]

		if e.fill == len(e.hopIn) {
			e.endHop()
			e.fill = 0
		}
	}
}

// beginHop applies queued commands and samples the enabled flag.
func (e *Engine) beginHop() {
	e.drainCommands()

	bypass := e.pipe == nil ||
		e.bypassReason.Load() != nil ||
		State(e.state.Load()) != StateActive
	if e.bypassing && !bypass {
		e.pipe.resume()
		clear(e.hopOut)
	}
	e.bypassing = bypass
}

// endHop runs the completed input hop through the pipeline.
func (e *Engine) endHop() {
	start := e.timeProvider.Now()
	seq := e.seq
	e.seq++

	if e.bypassing {
		if e.pipe != nil {
			e.pipe.bypass(e.hopIn)
		}
		e.pending.bypassed++
	} else if err := e.pipe.process(seq, e.hopIn, e.hopOut); err != nil {
		clear(e.hopOut)
		e.enterBypass(ReasonPipelineError, err)
	} else {
		ctx := &e.pipe.ctx
		if ctx.fault != "" {
			e.recordFault(&ProcessingFault{Stage: ctx.fault, Seq: seq})
		} else {
			e.consecutiveFaults = 0
		}
		e.presenceBits.Store(math.Float64bits(ctx.decision.Probability))
		e.convergenceBits.Store(math.Float64bits(e.pipe.convergence()))

		if e.IsDetailedLoggingEnabled() {
			logrus.WithFields(logrus.Fields{
				"function":      "endHop",
				"engine":        e.name,
				"seq":           seq,
				"speech":        ctx.decision.Probability,
				"noise_updated": ctx.updated,
				"echo_residual": ctx.echo.ResidualEnergy,
			}).Debug("Processed hop")
		}
	}

	e.frames.Add(1)
	e.pending.hops++
	e.metrics.HopDuration.Record(context.Background(), e.timeProvider.Since(start).Seconds(), e.recordOpts...)
	if e.pending.hops >= metricsFlushInterval {
		e.flushMetrics()
	}
}

func (e *Engine) recordFault(fault *ProcessingFault) {
	e.faults.Add(1)
	e.pending.faults++
	e.consecutiveFaults++

	if e.consecutiveFaults == 1 || e.IsDetailedLoggingEnabled() {
		logrus.WithFields(logrus.Fields{
			"function": "recordFault",
			"engine":   e.name,
			"stage":    fault.Stage,
			"seq":      fault.Seq,
		}).Warn("Processing fault, buffer zeroed")
	}

	if e.consecutiveFaults > e.cfg.MaxConsecutiveFaults {
		e.enterBypass(ReasonFaults, fault)
	}
}

// enterBypass switches the engine to permanent pass-through.
func (e *Engine) enterBypass(reason string, cause error) {
	if e.bypassReason.Load() != nil {
		return
	}
	e.bypassReason.Store(&reason)

	logrus.WithFields(logrus.Fields{
		"function": "enterBypass",
		"engine":   e.name,
		"reason":   reason,
		"error":    cause.Error(),
	}).Error("Enhancement bypassed")

	e.emit(StatusEvent{Status: EventBypassed, Reason: reason})
}

func (e *Engine) emit(ev StatusEvent) {
	ev.Time = e.timeProvider.Now()
	select {
	case e.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"engine":   e.name,
			"status":   ev.Status,
		}).Debug("Status event dropped, channel full")
	}
}

// Close tears the engine down from any state. It waits up to DrainTimeout
// for an in-flight hop; if the hop does not finish, a *TeardownError is
// returned and the stages are released, and the event stream closed, once
// that hop returns. Close is idempotent.
func (e *Engine) Close() error {
	prev := State(e.state.Swap(int32(StateTornDown)))
	if prev == StateTornDown {
		return nil
	}

	var errs []error
	if !e.waitIdle(e.cfg.DrainTimeout) {
		errs = append(errs, fmt.Errorf("hop still in flight after %v", e.cfg.DrainTimeout))
		go e.finishTeardown()
	} else if err := e.teardown(); err != nil {
		errs = append(errs, err)
	}
	if err := e.registration.Unregister(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		teardownErr := &TeardownError{Err: errors.Join(errs...)}
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"engine":   e.name,
			"previous": prev.String(),
			"error":    teardownErr.Error(),
		}).Error("Enhancement engine teardown incomplete")
		return teardownErr
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"engine":   e.name,
		"previous": prev.String(),
		"frames":   e.frames.Load(),
		"faults":   e.faults.Load(),
	}).Info("Enhancement engine torn down")
	return nil
}

// teardown releases the stages and closes the event stream. No hop may be
// in flight: events are only emitted while one is.
func (e *Engine) teardown() error {
	e.flushMetrics()
	var err error
	if e.pipe != nil {
		err = e.pipe.close()
	}
	e.farEnd.Store(nil)
	close(e.events)
	return err
}

// finishTeardown completes a Close that timed out. A torn-down engine
// refuses new hops, so once the stuck one returns the engine stays idle.
func (e *Engine) finishTeardown() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for e.inFlight.Load() {
		<-ticker.C
	}

	if err := e.teardown(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "finishTeardown",
			"engine":   e.name,
			"error":    err.Error(),
		}).Warn("Deferred teardown incomplete")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "finishTeardown",
		"engine":   e.name,
	}).Info("Deferred teardown complete")
}

// waitIdle waits until no hop is in flight or timeout elapses.
func (e *Engine) waitIdle(timeout time.Duration) bool {
	if !e.inFlight.Load() {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return !e.inFlight.Load()
		case <-ticker.C:
			if !e.inFlight.Load() {
				return true
			}
		}
	}
}

// passThrough copies src to dst, replacing non-finite samples with silence.
func passThrough(dst, src []float64) {
	copy(dst, src)
	for i, v := range dst {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			dst[i] = 0
		}
	}
}
