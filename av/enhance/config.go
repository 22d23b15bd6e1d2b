package enhance

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/toxenhance/av/audio/aec"
	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/opd-ai/toxenhance/av/audio/noise"
	"github.com/opd-ai/toxenhance/av/audio/suppress"
	"github.com/opd-ai/toxenhance/av/audio/vad"
)

// Engine defaults.
const (
	DefaultSampleRate           = 44100
	DefaultFrameSize            = 1024
	DefaultHopSize              = 512
	DefaultIntensity            = 100
	DefaultDrainTimeout         = 100 * time.Millisecond
	DefaultMaxConsecutiveFaults = 50
	DefaultCommandQueueSize     = 16
	DefaultMaxBlockSize         = 4096
	DefaultSpeechBandLow        = 85
	DefaultSpeechBandHigh       = 8000
)

// Config holds every engine setting. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	SampleRate float64 `yaml:"sample_rate"`
	FrameSize  int     `yaml:"frame_size"`
	HopSize    int     `yaml:"hop_size"`

	// Intensity scales suppression aggressiveness, 0..100.
	Intensity int `yaml:"intensity"`

	// Templates names the active noise-type templates.
	Templates []string `yaml:"templates"`

	SpeechBand  BandConfig        `yaml:"speech_band"`
	VAD         VADConfig         `yaml:"vad"`
	Noise       NoiseConfig       `yaml:"noise"`
	Echo        EchoConfig        `yaml:"echo"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Post        PostConfig        `yaml:"post"`

	// DrainTimeout bounds how long Close waits for an in-flight hop.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// MaxConsecutiveFaults is the number of consecutive faulty hops after
	// which the engine bypasses permanently.
	MaxConsecutiveFaults int `yaml:"max_consecutive_faults"`

	CommandQueueSize int `yaml:"command_queue_size"`

	// MaxBlockSize is the largest ProcessPCM block converted in one pass;
	// longer blocks are processed in chunks.
	MaxBlockSize int `yaml:"max_block_size"`

	DetailedLogging bool `yaml:"detailed_logging"`
}

// BandConfig is a frequency range in Hz.
type BandConfig struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// VADConfig tunes the voice activity detector.
type VADConfig struct {
	RatioThreshold  float64 `yaml:"ratio_threshold"`
	OnsetThreshold  float64 `yaml:"onset_threshold"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
	Smoothing       float64 `yaml:"smoothing"`
	SpeechThreshold float64 `yaml:"speech_threshold"`
}

// NoiseConfig tunes the noise profile estimator.
type NoiseConfig struct {
	UpdateThreshold float64 `yaml:"update_threshold"`
	Rate            float64 `yaml:"rate"`
	SpeechBandRate  float64 `yaml:"speech_band_rate"`
	Floor           float64 `yaml:"floor"`
}

// EchoConfig tunes the echo canceller.
type EchoConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Filters           int     `yaml:"filters"`
	Taps              int     `yaml:"taps"`
	DelayStep         int     `yaml:"delay_step"`
	BulkDelay         int     `yaml:"bulk_delay"`
	StepSize          float64 `yaml:"step_size"`
	Regularization    float64 `yaml:"regularization"`
	ReferenceCapacity int     `yaml:"reference_capacity"`
}

// SuppressionConfig tunes the spectral suppressor.
type SuppressionConfig struct {
	MinGain             float64 `yaml:"min_gain"`
	SpectralFloor       float64 `yaml:"spectral_floor"`
	OverSubtraction     float64 `yaml:"over_subtraction"`
	ProtectionFloor     float64 `yaml:"protection_floor"`
	ProtectionThreshold float64 `yaml:"protection_threshold"`
	TemplateThreshold   float64 `yaml:"template_threshold"`
	GainSmoothing       float64 `yaml:"gain_smoothing"`
}

// PostConfig switches the time-domain post chain.
type PostConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default engine configuration: 44.1 kHz, 1024
// sample frames with 50% overlap, full intensity, fan and hum templates.
func DefaultConfig() Config {
	v := vad.DefaultConfig(DefaultSampleRate, DefaultFrameSize)
	n := noise.DefaultConfig(DefaultSampleRate, DefaultFrameSize)
	e := aec.DefaultConfig()
	s := suppress.DefaultConfig(DefaultSampleRate, DefaultFrameSize)

	return Config{
		SampleRate: DefaultSampleRate,
		FrameSize:  DefaultFrameSize,
		HopSize:    DefaultHopSize,
		Intensity:  DefaultIntensity,
		Templates:  append([]string(nil), noise.DefaultTemplates...),
		SpeechBand: BandConfig{Low: DefaultSpeechBandLow, High: DefaultSpeechBandHigh},
		VAD: VADConfig{
			RatioThreshold:  v.RatioThreshold,
			OnsetThreshold:  v.OnsetThreshold,
			EnergyThreshold: v.EnergyThreshold,
			Smoothing:       v.Smoothing,
			SpeechThreshold: v.SpeechThreshold,
		},
		Noise: NoiseConfig{
			UpdateThreshold: n.UpdateThreshold,
			Rate:            n.Rate,
			Floor:           n.Floor,
		},
		Echo: EchoConfig{
			Enabled:           true,
			Filters:           e.Filters,
			Taps:              e.Taps,
			DelayStep:         e.DelayStep,
			BulkDelay:         e.BulkDelay,
			StepSize:          e.StepSize,
			Regularization:    e.Regularization,
			ReferenceCapacity: e.ReferenceCapacity,
		},
		Suppression: SuppressionConfig{
			MinGain:             s.MinGain,
			SpectralFloor:       s.SpectralFloor,
			OverSubtraction:     s.OverSubtraction,
			ProtectionFloor:     s.ProtectionFloor,
			ProtectionThreshold: s.ProtectionThreshold,
			TemplateThreshold:   s.TemplateThreshold,
			GainSmoothing:       s.GainSmoothing,
		},
		Post:                 PostConfig{Enabled: true},
		DrainTimeout:         DefaultDrainTimeout,
		MaxConsecutiveFaults: DefaultMaxConsecutiveFaults,
		CommandQueueSize:     DefaultCommandQueueSize,
		MaxBlockSize:         DefaultMaxBlockSize,
	}
}

// Validate checks the settings that prevent an engine from being built. It
// returns a *ConfigurationError for the first problem found.
//
// A frame/hop combination that is valid in itself but inconsistent with the
// sample rate is not an error here; the engine starts bypassed instead.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return &ConfigurationError{Field: "sample_rate", Reason: fmt.Sprintf("must be positive, got %g", c.SampleRate)}
	}
	if err := dsp.ValidateFrameSize(c.FrameSize); err != nil {
		return &ConfigurationError{
			Field:  "frame_size",
			Reason: fmt.Sprintf("%d is not a power of two in [%d, %d]", c.FrameSize, dsp.MinFrameSize, dsp.MaxFrameSize),
			Err:    err,
		}
	}
	if c.HopSize <= 0 || c.HopSize > c.FrameSize {
		return &ConfigurationError{
			Field:  "hop_size",
			Reason: fmt.Sprintf("%d outside (0, %d]", c.HopSize, c.FrameSize),
			Err:    dsp.ErrInvalidHop,
		}
	}
	if c.Intensity < 0 || c.Intensity > 100 {
		return &ConfigurationError{Field: "intensity", Reason: fmt.Sprintf("%d outside 0..100", c.Intensity), Err: ErrInvalidIntensity}
	}
	if _, err := noise.MaskOf(c.Templates...); err != nil {
		return &ConfigurationError{Field: "templates", Reason: err.Error(), Err: err}
	}
	if c.DrainTimeout <= 0 {
		return &ConfigurationError{Field: "drain_timeout", Reason: "must be positive"}
	}
	if c.MaxConsecutiveFaults <= 0 {
		return &ConfigurationError{Field: "max_consecutive_faults", Reason: "must be positive"}
	}
	if c.CommandQueueSize <= 0 {
		return &ConfigurationError{Field: "command_queue_size", Reason: "must be positive"}
	}
	if c.MaxBlockSize <= 0 {
		return &ConfigurationError{Field: "max_block_size", Reason: "must be positive"}
	}

	stages := []struct {
		field    string
		validate func() error
	}{
		{"vad", c.vadConfig().Validate},
		{"noise", c.noiseConfig().Validate},
		{"suppression", c.suppressConfig().Validate},
		{"echo", c.echoConfig().Validate},
	}
	for _, stage := range stages {
		if stage.field == "echo" && !c.Echo.Enabled {
			continue
		}
		if err := stage.validate(); err != nil {
			return &ConfigurationError{Field: stage.field, Reason: err.Error(), Err: err}
		}
	}
	return nil
}

// timingError reports whether the frame layout cannot run at the sample rate.
func (c Config) timingError() error {
	if err := dsp.CheckTiming(c.SampleRate, c.FrameSize, c.HopSize); err != nil {
		return fmt.Errorf("%w: %d/%d at %.0f Hz", err, c.FrameSize, c.HopSize, c.SampleRate)
	}
	return nil
}

func (c Config) vadConfig() vad.Config {
	cfg := vad.DefaultConfig(c.SampleRate, c.FrameSize)
	cfg.BandLow = c.SpeechBand.Low
	cfg.BandHigh = c.SpeechBand.High
	cfg.RatioThreshold = c.VAD.RatioThreshold
	cfg.OnsetThreshold = c.VAD.OnsetThreshold
	cfg.EnergyThreshold = c.VAD.EnergyThreshold
	cfg.Smoothing = c.VAD.Smoothing
	cfg.SpeechThreshold = c.VAD.SpeechThreshold
	return cfg
}

func (c Config) noiseConfig() noise.Config {
	cfg := noise.DefaultConfig(c.SampleRate, c.FrameSize)
	cfg.BandLow = c.SpeechBand.Low
	cfg.BandHigh = c.SpeechBand.High
	cfg.UpdateThreshold = c.Noise.UpdateThreshold
	cfg.Rate = c.Noise.Rate
	cfg.SpeechBandRate = c.Noise.SpeechBandRate
	cfg.Floor = c.Noise.Floor
	return cfg
}

func (c Config) suppressConfig() suppress.Config {
	cfg := suppress.DefaultConfig(c.SampleRate, c.FrameSize)
	cfg.BandLow = c.SpeechBand.Low
	cfg.BandHigh = c.SpeechBand.High
	cfg.MinGain = c.Suppression.MinGain
	cfg.SpectralFloor = c.Suppression.SpectralFloor
	cfg.OverSubtraction = c.Suppression.OverSubtraction
	cfg.ProtectionFloor = c.Suppression.ProtectionFloor
	cfg.ProtectionThreshold = c.Suppression.ProtectionThreshold
	cfg.TemplateThreshold = c.Suppression.TemplateThreshold
	cfg.GainSmoothing = c.Suppression.GainSmoothing
	return cfg
}

func (c Config) echoConfig() aec.Config {
	return aec.Config{
		Filters:           c.Echo.Filters,
		Taps:              c.Echo.Taps,
		DelayStep:         c.Echo.DelayStep,
		BulkDelay:         c.Echo.BulkDelay,
		StepSize:          c.Echo.StepSize,
		Regularization:    c.Echo.Regularization,
		ReferenceCapacity: c.Echo.ReferenceCapacity,
	}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
