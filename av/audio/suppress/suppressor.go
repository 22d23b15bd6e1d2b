// Package suppress computes and applies per-bin noise suppression gains.
//
// Gains combine a Wiener-style estimate from the noise profile with
// optional targeted attenuation from noise templates. A protection floor
// keeps speech-band bins close to unity whenever speech is likely present.
package suppress

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/sirupsen/logrus"
)

// Default suppressor settings.
const (
	DefaultMinGain             = 0.1
	DefaultSpectralFloor       = 0.05
	DefaultOverSubtraction     = 2.0
	DefaultProtectionFloor     = 0.9
	DefaultProtectionThreshold = 0.5
	DefaultTemplateThreshold   = 0.3
	DefaultGainSmoothing       = 0.6
)

// ErrInvalidConfig is returned for unusable suppressor settings.
var ErrInvalidConfig = errors.New("invalid suppressor configuration")

// Config holds the suppressor settings.
type Config struct {
	SampleRate float64
	FrameSize  int

	// MinGain is the lowest Wiener gain at full intensity.
	MinGain float64

	// SpectralFloor bounds the speech variance estimate from below, as a
	// fraction of the noise power.
	SpectralFloor float64

	// OverSubtraction scales the noise power at full intensity.
	OverSubtraction float64

	// ProtectionFloor is the minimum gain of speech-band bins while the
	// speech probability exceeds ProtectionThreshold.
	ProtectionFloor     float64
	ProtectionThreshold float64

	// TemplateThreshold is the speech probability below which template
	// weights are applied.
	TemplateThreshold float64

	// GainSmoothing is the weight of the previous frame's gain.
	GainSmoothing float64

	BandLow  float64
	BandHigh float64
}

// DefaultConfig returns the default settings for a sample rate and frame size.
func DefaultConfig(sampleRate float64, frameSize int) Config {
	return Config{
		SampleRate:          sampleRate,
		FrameSize:           frameSize,
		MinGain:             DefaultMinGain,
		SpectralFloor:       DefaultSpectralFloor,
		OverSubtraction:     DefaultOverSubtraction,
		ProtectionFloor:     DefaultProtectionFloor,
		ProtectionThreshold: DefaultProtectionThreshold,
		TemplateThreshold:   DefaultTemplateThreshold,
		GainSmoothing:       DefaultGainSmoothing,
		BandLow:             85,
		BandHigh:            8000,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	switch {
	case c.SampleRate <= 0 || c.FrameSize <= 0:
		return fmt.Errorf("%w: sample rate %f, frame size %d", ErrInvalidConfig, c.SampleRate, c.FrameSize)
	case c.MinGain <= 0 || c.MinGain > 1:
		return fmt.Errorf("%w: min gain %f", ErrInvalidConfig, c.MinGain)
	case !inUnit(c.SpectralFloor):
		return fmt.Errorf("%w: spectral floor %f", ErrInvalidConfig, c.SpectralFloor)
	case c.OverSubtraction < 1:
		return fmt.Errorf("%w: over-subtraction %f below 1", ErrInvalidConfig, c.OverSubtraction)
	case !inUnit(c.ProtectionFloor) || !inUnit(c.ProtectionThreshold):
		return fmt.Errorf("%w: protection floor %f threshold %f", ErrInvalidConfig, c.ProtectionFloor, c.ProtectionThreshold)
	case !inUnit(c.TemplateThreshold):
		return fmt.Errorf("%w: template threshold %f", ErrInvalidConfig, c.TemplateThreshold)
	case c.GainSmoothing < 0 || c.GainSmoothing >= 1:
		return fmt.Errorf("%w: gain smoothing %f", ErrInvalidConfig, c.GainSmoothing)
	}
	return nil
}

// Suppressor holds per-bin gain state across frames.
type Suppressor struct {
	cfg Config

	lo, hi int

	// templates is the combined template weighting, or nil when none is active.
	templates []float64

	intensity       float64
	minGain         float64
	overSubtraction float64

	prev  []float64
	gains []float64
}

// New creates a suppressor at full intensity with no templates.
func New(cfg Config) (*Suppressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bins := cfg.FrameSize/2 + 1
	s := &Suppressor{
		cfg:   cfg,
		lo:    dsp.FrequencyBin(cfg.BandLow, cfg.FrameSize, cfg.SampleRate),
		hi:    dsp.FrequencyBin(cfg.BandHigh, cfg.FrameSize, cfg.SampleRate),
		prev:  make([]float64, bins),
		gains: make([]float64, bins),
	}
	s.SetIntensity(1)
	s.Reset()

	logrus.WithFields(logrus.Fields{
		"function":         "suppress.New",
		"bins":             bins,
		"min_gain":         cfg.MinGain,
		"over_subtraction": cfg.OverSubtraction,
		"protection_floor": cfg.ProtectionFloor,
	}).Debug("Spectral suppressor created")

	return s, nil
}

// SetIntensity scales suppression aggressiveness; i is clamped to [0, 1].
// At 0 the Wiener gain is always 1.
func (s *Suppressor) SetIntensity(i float64) {
	if i < 0 {
		i = 0
	} else if i > 1 {
		i = 1
	}
	s.intensity = i
	s.minGain = 1 - (1-s.cfg.MinGain)*i
	s.overSubtraction = 1 + (s.cfg.OverSubtraction-1)*i
}

// Intensity returns the current intensity in [0, 1].
func (s *Suppressor) Intensity() float64 { return s.intensity }

// SetTemplateWeights installs the combined template weighting. The slice is
// read on every frame and must stay valid; nil disables templates.
func (s *Suppressor) SetTemplateWeights(w []float64) {
	if w != nil && len(w) != len(s.gains) {
		return
	}
	s.templates = w
}

// Apply computes gains for spec given the noise profile and the speech
// probability p, and scales spec's magnitudes in place.
func (s *Suppressor) Apply(spec *dsp.SpectralFrame, noise []float64, p float64) error {
	if spec.Bins() != len(s.gains) || len(noise) != len(s.gains) {
		return fmt.Errorf("%w: spectrum %d bins, noise %d bins, want %d",
			dsp.ErrBufferSize, spec.Bins(), len(noise), len(s.gains))
	}

	useTemplates := s.templates != nil && p < s.cfg.TemplateThreshold
	protect := p > s.cfg.ProtectionThreshold
	gamma := s.cfg.GainSmoothing

	for k, mag := range spec.Magnitude {
		n2 := noise[k] * noise[k]
		noiseVar := s.overSubtraction * n2
		speechVar := mag*mag - noiseVar
		if floor := n2 * s.cfg.SpectralFloor; speechVar < floor {
			speechVar = floor
		}

		g := 1.0
		if total := speechVar + noiseVar; total > 0 {
			g = speechVar / total
		}
		if g < s.minGain {
			g = s.minGain
		}
		if useTemplates {
			g *= s.templates[k]
		}

		g = gamma*s.prev[k] + (1-gamma)*g
		s.prev[k] = g

		if protect && k >= s.lo && k <= s.hi && g < s.cfg.ProtectionFloor {
			g = s.cfg.ProtectionFloor
		}
		if g > 1 {
			g = 1
		}
		s.gains[k] = g
		spec.Magnitude[k] = mag * g
	}
	return nil
}

// Gains returns the gains applied by the last Apply. The slice is owned by
// the suppressor.
func (s *Suppressor) Gains() []float64 { return s.gains }

// Reset restores unity gain history.
func (s *Suppressor) Reset() {
	for k := range s.prev {
		s.prev[k] = 1
		s.gains[k] = 1
	}
}
