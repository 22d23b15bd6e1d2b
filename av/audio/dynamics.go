package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// ErrInvalidEffectConfig is returned by effect constructors for unusable
// parameters.
var ErrInvalidEffectConfig = errors.New("invalid effect configuration")

// Post chain defaults.
const (
	DefaultGateThresholdDB    = -45.0
	DefaultGatePresence       = 0.3
	DefaultGateFloorGain      = 0.1
	DefaultGateAttack         = 0.001
	DefaultGateRelease        = 0.050
	DefaultGateLevelWindow    = 0.010
	DefaultCompThresholdDB    = -18.0
	DefaultCompRatio          = 3.0
	DefaultCompAttack         = 0.005
	DefaultCompRelease        = 0.080
	DefaultLimiterKnee        = 0.9
	DefaultLimiterCeiling     = 0.99
	defaultMinimumTimeSeconds = 1e-5
)

// timeCoefficient converts a time constant in seconds into a one-pole
// smoothing coefficient at sampleRate.
func timeCoefficient(seconds, sampleRate float64) float64 {
	if seconds < defaultMinimumTimeSeconds {
		seconds = defaultMinimumTimeSeconds
	}
	return math.Exp(-1.0 / (seconds * sampleRate))
}

// dbToLinear converts decibels relative to full scale to an amplitude.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// NoiseGateConfig holds the noise gate parameters.
type NoiseGateConfig struct {
	SampleRate float64

	// ThresholdDB is the short-term level in dBFS below which the gate may
	// close.
	ThresholdDB float64

	// PresenceThreshold is the speech probability at or above which the
	// gate always stays open.
	PresenceThreshold float64

	// FloorGain is the closed-gate gain at full intensity.
	FloorGain float64

	// Attack is the opening time constant, Release the closing one, and
	// LevelWindow the level detector time constant, all in seconds.
	Attack      float64
	Release     float64
	LevelWindow float64
}

// DefaultNoiseGateConfig returns the default gate parameters.
func DefaultNoiseGateConfig(sampleRate float64) NoiseGateConfig {
	return NoiseGateConfig{
		SampleRate:        sampleRate,
		ThresholdDB:       DefaultGateThresholdDB,
		PresenceThreshold: DefaultGatePresence,
		FloorGain:         DefaultGateFloorGain,
		Attack:            DefaultGateAttack,
		Release:           DefaultGateRelease,
		LevelWindow:       DefaultGateLevelWindow,
	}
}

// NoiseGateEffect attenuates quiet passages while speech is unlikely.
//
// A mean-square level follower drives the decision. The applied gain moves
// toward its target with a fast attack when opening and a slower release
// when closing, so the gate never steps.
type NoiseGateEffect struct {
	cfg       NoiseGateConfig
	threshold float64 // mean-square
	floor     float64
	levelCoef float64
	attack    float64
	release   float64
	level     float64
	gain      float64
}

// NewNoiseGateEffect creates a noise gate.
func NewNoiseGateEffect(cfg NoiseGateConfig) (*NoiseGateEffect, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: gate sample rate %f", ErrInvalidEffectConfig, cfg.SampleRate)
	}
	if cfg.FloorGain < 0 || cfg.FloorGain > 1 {
		return nil, fmt.Errorf("%w: gate floor gain %f", ErrInvalidEffectConfig, cfg.FloorGain)
	}
	if cfg.ThresholdDB > 0 {
		return nil, fmt.Errorf("%w: gate threshold %f dBFS above full scale", ErrInvalidEffectConfig, cfg.ThresholdDB)
	}

	amp := dbToLinear(cfg.ThresholdDB)
	g := &NoiseGateEffect{
		cfg:       cfg,
		threshold: amp * amp,
		floor:     cfg.FloorGain,
		levelCoef: timeCoefficient(cfg.LevelWindow, cfg.SampleRate),
		attack:    timeCoefficient(cfg.Attack, cfg.SampleRate),
		release:   timeCoefficient(cfg.Release, cfg.SampleRate),
		gain:      1,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewNoiseGateEffect",
		"threshold_db": cfg.ThresholdDB,
		"floor_gain":   cfg.FloorGain,
		"attack":       cfg.Attack,
		"release":      cfg.Release,
	}).Debug("Noise gate created")

	return g, nil
}

// Process gates the block in place.
func (g *NoiseGateEffect) Process(block *Block) error {
	allowClose := block.SpeechPresence < g.cfg.PresenceThreshold
	for i, x := range block.Samples {
		g.level = g.levelCoef*g.level + (1-g.levelCoef)*x*x

		target := 1.0
		if allowClose && g.level < g.threshold {
			target = g.floor
		}
		coef := g.release
		if target > g.gain {
			coef = g.attack
		}
		g.gain = coef*g.gain + (1-coef)*target
		block.Samples[i] = x * g.gain
	}
	return nil
}

// SetIntensity scales how far the gate closes: at 0 it never attenuates.
func (g *NoiseGateEffect) SetIntensity(intensity float64) {
	g.floor = 1 - (1-g.cfg.FloorGain)*clampUnit(intensity)
}

// Gain returns the gain applied to the last sample.
func (g *NoiseGateEffect) Gain() float64 { return g.gain }

// Reset opens the gate and clears the level follower.
func (g *NoiseGateEffect) Reset() {
	g.level = 0
	g.gain = 1
}

// GetName returns the effect name.
func (g *NoiseGateEffect) GetName() string {
	return fmt.Sprintf("NoiseGate(%.0fdB)", g.cfg.ThresholdDB)
}

// Close releases effect resources (no-op).
func (g *NoiseGateEffect) Close() error { return nil }

// CompressorConfig holds the compressor parameters.
type CompressorConfig struct {
	SampleRate  float64
	ThresholdDB float64
	Ratio       float64
	Attack      float64
	Release     float64
}

// DefaultCompressorConfig returns the default compressor parameters.
func DefaultCompressorConfig(sampleRate float64) CompressorConfig {
	return CompressorConfig{
		SampleRate:  sampleRate,
		ThresholdDB: DefaultCompThresholdDB,
		Ratio:       DefaultCompRatio,
		Attack:      DefaultCompAttack,
		Release:     DefaultCompRelease,
	}
}

// CompressorEffect reduces dynamic range above a threshold with a fixed
// ratio. It follows the signal peak envelope and never applies makeup
// gain, so its gain is at most 1.
type CompressorEffect struct {
	cfg       CompressorConfig
	threshold float64
	slope     float64
	attack    float64
	release   float64
	envelope  float64
}

// NewCompressorEffect creates a compressor.
func NewCompressorEffect(cfg CompressorConfig) (*CompressorEffect, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: compressor sample rate %f", ErrInvalidEffectConfig, cfg.SampleRate)
	}
	if cfg.Ratio < 1 {
		return nil, fmt.Errorf("%w: compressor ratio %f below 1", ErrInvalidEffectConfig, cfg.Ratio)
	}

	c := &CompressorEffect{
		cfg:       cfg,
		threshold: dbToLinear(cfg.ThresholdDB),
		slope:     1 - 1/cfg.Ratio,
		attack:    timeCoefficient(cfg.Attack, cfg.SampleRate),
		release:   timeCoefficient(cfg.Release, cfg.SampleRate),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewCompressorEffect",
		"threshold_db": cfg.ThresholdDB,
		"ratio":        cfg.Ratio,
	}).Debug("Compressor created")

	return c, nil
}

// Process compresses the block in place.
func (c *CompressorEffect) Process(block *Block) error {
	for i, x := range block.Samples {
		a := math.Abs(x)
		coef := c.release
		if a > c.envelope {
			coef = c.attack
		}
		c.envelope = coef*c.envelope + (1-coef)*a

		if c.envelope > c.threshold {
			// gain = (threshold/envelope)^(1 - 1/ratio)
			gain := math.Pow(c.threshold/c.envelope, c.slope)
			block.Samples[i] = x * gain
		}
	}
	return nil
}

// Reset clears the envelope follower.
func (c *CompressorEffect) Reset() { c.envelope = 0 }

// GetName returns the effect name.
func (c *CompressorEffect) GetName() string {
	return fmt.Sprintf("Compressor(%.0fdB,%.1f:1)", c.cfg.ThresholdDB, c.cfg.Ratio)
}

// Close releases effect resources (no-op).
func (c *CompressorEffect) Close() error { return nil }

// LimiterEffect smoothly saturates samples above a knee. Below the knee
// samples pass unchanged; above it they approach the ceiling along a tanh
// curve, so the output magnitude always stays below full scale.
type LimiterEffect struct {
	knee    float64
	ceiling float64
}

// NewLimiterEffect creates a soft limiter with the given knee in (0, 1).
func NewLimiterEffect(knee float64) (*LimiterEffect, error) {
	if knee <= 0 || knee >= DefaultLimiterCeiling {
		return nil, fmt.Errorf("%w: limiter knee %f", ErrInvalidEffectConfig, knee)
	}
	return &LimiterEffect{knee: knee, ceiling: DefaultLimiterCeiling}, nil
}

// Process limits the block in place.
func (l *LimiterEffect) Process(block *Block) error {
	span := l.ceiling - l.knee
	for i, x := range block.Samples {
		a := math.Abs(x)
		if a <= l.knee {
			continue
		}
		y := l.knee + span*math.Tanh((a-l.knee)/span)
		if x < 0 {
			y = -y
		}
		block.Samples[i] = y
	}
	return nil
}

// GetName returns the effect name.
func (l *LimiterEffect) GetName() string {
	return fmt.Sprintf("Limiter(%.2f)", l.knee)
}

// Close releases effect resources (no-op).
func (l *LimiterEffect) Close() error { return nil }

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
