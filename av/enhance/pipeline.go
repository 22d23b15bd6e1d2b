package enhance

import (
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio"
	"github.com/opd-ai/toxenhance/av/audio/aec"
	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/opd-ai/toxenhance/av/audio/noise"
	"github.com/opd-ai/toxenhance/av/audio/suppress"
	"github.com/opd-ai/toxenhance/av/audio/vad"
)

// Pipeline stage names used in ProcessingFault.
const (
	stageInput     = "input"
	stageEcho      = "echo"
	stageAnalysis  = "analysis"
	stageSynthesis = "synthesis"
	stagePost      = "post"
)

// frameContext carries one hop through the stages. Every buffer in it is
// allocated once by newPipeline and reused for every hop.
type frameContext struct {
	seq uint64

	// hop is the time-domain input after echo cancellation.
	hop []float64

	frame    dsp.AudioFrame
	spec     dsp.SpectralFrame
	decision vad.Decision
	echo     aec.EchoStats
	updated  bool

	// out receives the synthesized hop and is post-processed in place.
	out   []float64
	block audio.Block

	// fault names the first stage that produced non-finite values.
	fault string
}

// pipeline owns every DSP stage of one engine.
type pipeline struct {
	frames     *dsp.FrameBuffer
	analyzer   *dsp.Analyzer
	synth      *dsp.Synthesizer
	detector   *vad.Detector
	estimator  *noise.Estimator
	bank       *noise.Bank
	suppressor *suppress.Suppressor
	canceller  *aec.Canceller // nil when echo cancellation is off
	post       *audio.EffectChain

	ctx frameContext
}

func newPipeline(cfg Config) (*pipeline, error) {
	window := dsp.NewHannWindow(cfg.FrameSize)

	frames, err := dsp.NewFrameBuffer(cfg.FrameSize, cfg.HopSize, window)
	if err != nil {
		return nil, fmt.Errorf("frame buffer: %w", err)
	}
	analyzer, err := dsp.NewAnalyzer(cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	synth, err := dsp.NewSynthesizer(cfg.FrameSize, cfg.HopSize, window)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	detector, err := vad.NewDetector(cfg.vadConfig())
	if err != nil {
		return nil, fmt.Errorf("voice activity detector: %w", err)
	}
	estimator, err := noise.NewEstimator(cfg.noiseConfig())
	if err != nil {
		return nil, fmt.Errorf("noise estimator: %w", err)
	}
	suppressor, err := suppress.New(cfg.suppressConfig())
	if err != nil {
		return nil, fmt.Errorf("suppressor: %w", err)
	}

	p := &pipeline{
		frames:     frames,
		analyzer:   analyzer,
		synth:      synth,
		detector:   detector,
		estimator:  estimator,
		bank:       noise.NewBank(cfg.SampleRate, cfg.FrameSize),
		suppressor: suppressor,
		ctx: frameContext{
			hop:  make([]float64, cfg.HopSize),
			spec: dsp.NewSpectralFrame(cfg.FrameSize),
			out:  make([]float64, cfg.HopSize),
		},
	}

	if cfg.Echo.Enabled {
		p.canceller, err = aec.NewCanceller(cfg.echoConfig())
		if err != nil {
			return nil, fmt.Errorf("echo canceller: %w", err)
		}
		p.canceller.Reserve(cfg.HopSize)
	}
	if cfg.Post.Enabled {
		p.post, err = audio.NewPostChain(cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("post chain: %w", err)
		}
	} else {
		p.post = audio.NewEffectChain()
	}
	return p, nil
}

// process runs one hop from in to out. Both must be one hop long. The
// returned error reports a stage failure that is not a numeric fault.
func (p *pipeline) process(seq uint64, in, out []float64) error {
	c := &p.ctx
	c.seq = seq
	c.fault = ""

	copy(c.hop, in)
	if dsp.Sanitize(c.hop) {
		c.fault = stageInput
	}

	if p.canceller != nil {
		c.echo = p.canceller.ProcessFarEnd(c.hop, c.hop)
		if dsp.Sanitize(c.hop) {
			c.markFault(stageEcho)
		}
	}

	frame, err := p.frames.Push(c.hop)
	if err != nil {
		return err
	}
	c.frame = frame

	if err := p.analyzer.Forward(c.frame, &c.spec); err != nil {
		return err
	}
	c.spec.Seq = seq
	badMagnitude := dsp.Sanitize(c.spec.Magnitude)
	if dsp.Sanitize(c.spec.Phase) || badMagnitude {
		c.markFault(stageAnalysis)
	}

	c.decision = p.detector.Update(c.spec)
	c.updated = p.estimator.Update(c.spec, c.decision.Probability)

	if err := p.suppressor.Apply(&c.spec, p.estimator.Profile(), c.decision.Probability); err != nil {
		return err
	}

	synthesized, err := p.synth.Inverse(c.spec)
	if err != nil {
		return err
	}
	copy(c.out, synthesized)
	if dsp.Sanitize(c.out) {
		c.markFault(stageSynthesis)
	}

	c.block.Samples = c.out
	c.block.SpeechPresence = c.decision.Probability
	if err := p.post.Process(&c.block); err != nil {
		return err
	}
	if dsp.Sanitize(c.out) {
		c.markFault(stagePost)
	}

	copy(out, c.out)
	return nil
}

// bypass keeps stream history current for a hop that is passed through, so
// that re-enabling resumes from aligned state.
func (p *pipeline) bypass(in []float64) {
	if p.canceller != nil {
		p.canceller.SkipFarEnd(len(in))
	}
	copy(p.ctx.hop, in)
	dsp.Sanitize(p.ctx.hop)
	_ = p.frames.PushRaw(p.ctx.hop)
}

// resume prepares the synthesis side after a run of bypassed hops.
func (p *pipeline) resume() {
	p.synth.Reset()
	p.post.Reset()
}

// setIntensity applies an intensity in [0, 1] to every intensity-aware stage.
func (p *pipeline) setIntensity(intensity float64, mask noise.Mask) {
	p.suppressor.SetIntensity(intensity)
	p.post.SetIntensity(intensity)
	p.setTemplates(mask, intensity)
}

func (p *pipeline) setTemplates(mask noise.Mask, intensity float64) {
	if mask == 0 {
		p.suppressor.SetTemplateWeights(nil)
		return
	}
	p.suppressor.SetTemplateWeights(p.bank.Combine(mask, intensity))
}

// resetAdaptation discards everything learned about the acoustic
// environment.
func (p *pipeline) resetAdaptation() {
	p.detector.Reset()
	p.estimator.Reset()
	p.suppressor.Reset()
	if p.canceller != nil {
		p.canceller.Reset()
	}
}

func (p *pipeline) convergence() float64 {
	if p.canceller == nil {
		return 0
	}
	return p.canceller.Convergence()
}

// latency is the delay between a sample entering and leaving the pipeline.
func (p *pipeline) latency() int {
	return p.frames.HopSize() + p.synth.Latency()
}

func (p *pipeline) close() error {
	return p.post.Close()
}

func (c *frameContext) markFault(stage string) {
	if c.fault == "" {
		c.fault = stage
	}
}
