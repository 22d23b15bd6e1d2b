// Package noise tracks the background-noise spectrum and provides static
// per-bin weightings for common noise categories.
package noise

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/sirupsen/logrus"
)

// Default estimator settings.
const (
	DefaultUpdateThreshold = 0.25
	DefaultRate            = 0.05
	DefaultFloor           = 1e-6

	// MaxRate is the fastest allowed EMA rate. Faster updates absorb speech
	// onsets into the noise estimate.
	MaxRate = 0.05
)

// ErrInvalidConfig is returned for unusable estimator settings.
var ErrInvalidConfig = errors.New("invalid noise estimator configuration")

// Config holds the estimator settings.
type Config struct {
	SampleRate float64
	FrameSize  int

	// UpdateThreshold is the speech probability below which a frame is
	// treated as noise and folded into the profile.
	UpdateThreshold float64

	// Rate is the EMA weight of the new frame outside the speech band.
	Rate float64

	// SpeechBandRate is the EMA weight inside the speech band. Zero selects
	// Rate/4.
	SpeechBandRate float64

	// Floor is the smallest value any bin may hold.
	Floor float64

	BandLow  float64
	BandHigh float64
}

// DefaultConfig returns the default settings for a sample rate and frame size.
func DefaultConfig(sampleRate float64, frameSize int) Config {
	return Config{
		SampleRate:      sampleRate,
		FrameSize:       frameSize,
		UpdateThreshold: DefaultUpdateThreshold,
		Rate:            DefaultRate,
		Floor:           DefaultFloor,
		BandLow:         85,
		BandHigh:        8000,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0 || c.FrameSize <= 0:
		return fmt.Errorf("%w: sample rate %f, frame size %d", ErrInvalidConfig, c.SampleRate, c.FrameSize)
	case c.Rate <= 0 || c.Rate > MaxRate:
		return fmt.Errorf("%w: rate %f outside (0, %.2f]", ErrInvalidConfig, c.Rate, MaxRate)
	case c.SpeechBandRate < 0 || c.SpeechBandRate > c.Rate:
		return fmt.Errorf("%w: speech band rate %f", ErrInvalidConfig, c.SpeechBandRate)
	case c.UpdateThreshold <= 0 || c.UpdateThreshold >= 1:
		return fmt.Errorf("%w: update threshold %f", ErrInvalidConfig, c.UpdateThreshold)
	case c.Floor <= 0:
		return fmt.Errorf("%w: floor %g", ErrInvalidConfig, c.Floor)
	}
	return nil
}

// Estimator maintains the per-bin noise magnitude profile.
//
// The profile is updated in place with an exponential moving average, only
// on frames the detector considers noise. Bins inside the speech band use
// a slower rate. No bin ever falls below the configured floor.
type Estimator struct {
	cfg     Config
	rates   []float64
	profile []float64
	updates uint64
}

// NewEstimator creates an estimator with every bin at the floor.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SpeechBandRate == 0 {
		cfg.SpeechBandRate = cfg.Rate / 4
	}

	bins := cfg.FrameSize/2 + 1
	lo := dsp.FrequencyBin(cfg.BandLow, cfg.FrameSize, cfg.SampleRate)
	hi := dsp.FrequencyBin(cfg.BandHigh, cfg.FrameSize, cfg.SampleRate)

	e := &Estimator{
		cfg:     cfg,
		rates:   make([]float64, bins),
		profile: make([]float64, bins),
	}
	for k := range e.rates {
		if k >= lo && k <= hi {
			e.rates[k] = cfg.SpeechBandRate
		} else {
			e.rates[k] = cfg.Rate
		}
	}
	e.Reset()

	logrus.WithFields(logrus.Fields{
		"function":         "NewEstimator",
		"bins":             bins,
		"rate":             cfg.Rate,
		"speech_band_rate": cfg.SpeechBandRate,
		"update_threshold": cfg.UpdateThreshold,
	}).Debug("Noise estimator created")

	return e, nil
}

// Update folds spec into the profile when speechProb is below the update
// threshold and reports whether it did.
func (e *Estimator) Update(spec dsp.SpectralFrame, speechProb float64) bool {
	if speechProb >= e.cfg.UpdateThreshold || len(spec.Magnitude) != len(e.profile) {
		return false
	}
	floor := e.cfg.Floor
	for k, m := range spec.Magnitude {
		r := e.rates[k]
		n := (1-r)*e.profile[k] + r*m
		if n < floor || n != n {
			n = floor
		}
		e.profile[k] = n
	}
	e.updates++
	return true
}

// Profile returns the current noise magnitude per bin. The slice is owned
// by the estimator and must be treated as read-only.
func (e *Estimator) Profile() []float64 { return e.profile }

// Updates returns the number of frames folded into the profile.
func (e *Estimator) Updates() uint64 { return e.updates }

// Reset returns every bin to the floor.
func (e *Estimator) Reset() {
	for k := range e.profile {
		e.profile[k] = e.cfg.Floor
	}
	e.updates = 0
}
