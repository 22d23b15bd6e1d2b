// Package vad classifies spectral frames as speech-present or speech-absent.
//
// A frame scores as speech when its speech-band energy is above an absolute
// level threshold and either a speech-band bin stands out from the local
// noise floor around it, or the band energy jumps well above the tracked
// background level. Stationary noise of any colour has neither, so it
// decays the probability no matter how loud it is. Voiced speech and tones
// keep their spectral peaks under broadband noise. The binary per-frame
// score is smoothed into a speech-presence probability so a single quiet
// frame inside a word never flips the decision.
package vad

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
	"github.com/sirupsen/logrus"
)

// Default detector settings.
const (
	DefaultBandLow         = 85.0
	DefaultBandHigh        = 8000.0
	DefaultRatioThreshold  = 20.0 // 13 dB over the local floor
	DefaultOnsetThreshold  = 4.0  // 6 dB over the background level
	DefaultEnergyThreshold = 1e-5 // mean-square level, about -50 dBFS
	DefaultSmoothing       = 0.85
	DefaultSpeechThreshold = 0.5

	// profileRate is the EMA rate of the speech profile.
	profileRate = 0.1

	// levelRate is the EMA rate of the background level.
	levelRate = 0.05

	// The local floor of bin k is the mean power of the bins within
	// floorSpan of k, leaving out the floorGuard bins on each side that
	// hold a Hann main lobe.
	floorGuard = 2
	floorSpan  = 16

	minPower = dsp.MagnitudeFloor * dsp.MagnitudeFloor
)

// ErrInvalidConfig is returned by NewDetector for unusable settings.
var ErrInvalidConfig = errors.New("invalid vad configuration")

// Config holds the detector settings.
type Config struct {
	SampleRate float64
	FrameSize  int

	// WindowEnergy is the sum of squared analysis window coefficients. It
	// converts spectral energy back to a mean-square signal level. Zero
	// selects the periodic Hann value 3*FrameSize/8.
	WindowEnergy float64

	BandLow  float64
	BandHigh float64

	// RatioThreshold is the power of a speech-band bin over its local
	// floor above which the frame holds a spectral peak.
	RatioThreshold float64

	// OnsetThreshold is the band energy over the background level above
	// which the frame is an onset.
	OnsetThreshold float64

	EnergyThreshold float64

	// Smoothing is the weight of the previous probability, in (0.8, 0.9].
	Smoothing float64

	// SpeechThreshold is the probability above which a frame counts as speech.
	SpeechThreshold float64
}

// DefaultConfig returns the default settings for a sample rate and frame size.
func DefaultConfig(sampleRate float64, frameSize int) Config {
	return Config{
		SampleRate:      sampleRate,
		FrameSize:       frameSize,
		BandLow:         DefaultBandLow,
		BandHigh:        DefaultBandHigh,
		RatioThreshold:  DefaultRatioThreshold,
		OnsetThreshold:  DefaultOnsetThreshold,
		EnergyThreshold: DefaultEnergyThreshold,
		Smoothing:       DefaultSmoothing,
		SpeechThreshold: DefaultSpeechThreshold,
	}
}

// Decision is the outcome of one Update.
type Decision struct {
	// Score is the raw binary classification of this frame.
	Score float64
	// Probability is the smoothed speech-presence probability.
	Probability float64
	// Speech reports Probability > SpeechThreshold.
	Speech bool
	// Ratio is the largest speech-band bin power over its local floor.
	Ratio float64
	// Onset reports band energy above OnsetThreshold times the background.
	Onset bool
	// Energy is the mean-square level inside the speech band.
	Energy float64
}

// Detector is a smoothed voice activity detector. It also owns the speech
// profile, a running estimate of speech-band magnitudes.
type Detector struct {
	cfg     Config
	lo, hi  int
	scale   float64
	prob    float64
	profile []float64
	frames  uint64

	// level is the background band energy, 0 until the first frame
	// without a peak.
	level float64
}

// NewDetector creates a detector. The initial probability is 1 so the
// first frames of a stream are treated as speech.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	high := cfg.BandHigh
	if nyquist := cfg.SampleRate / 2; high > nyquist {
		high = nyquist
	}
	windowEnergy := cfg.WindowEnergy
	if windowEnergy <= 0 {
		windowEnergy = 3 * float64(cfg.FrameSize) / 8
	}

	d := &Detector{
		cfg:     cfg,
		lo:      dsp.FrequencyBin(cfg.BandLow, cfg.FrameSize, cfg.SampleRate),
		hi:      dsp.FrequencyBin(high, cfg.FrameSize, cfg.SampleRate),
		scale:   2.0 / (float64(cfg.FrameSize) * windowEnergy),
		prob:    1.0,
		profile: make([]float64, cfg.FrameSize/2+1),
	}

	logrus.WithFields(logrus.Fields{
		"function":         "NewDetector",
		"band_low_bin":     d.lo,
		"band_high_bin":    d.hi,
		"ratio_threshold":  cfg.RatioThreshold,
		"onset_threshold":  cfg.OnsetThreshold,
		"energy_threshold": cfg.EnergyThreshold,
		"smoothing":        cfg.Smoothing,
	}).Debug("Voice activity detector created")

	return d, nil
}

// Validate checks the settings.
func (cfg Config) Validate() error {
	switch {
	case cfg.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %f", ErrInvalidConfig, cfg.SampleRate)
	case cfg.FrameSize <= 0:
		return fmt.Errorf("%w: frame size %d", ErrInvalidConfig, cfg.FrameSize)
	case cfg.BandLow < 0 || cfg.BandHigh <= cfg.BandLow:
		return fmt.Errorf("%w: speech band %.0f-%.0f Hz", ErrInvalidConfig, cfg.BandLow, cfg.BandHigh)
	case cfg.Smoothing <= 0.8 || cfg.Smoothing > 0.9:
		return fmt.Errorf("%w: smoothing %f outside (0.8, 0.9]", ErrInvalidConfig, cfg.Smoothing)
	case cfg.RatioThreshold <= 1:
		return fmt.Errorf("%w: ratio threshold %f not above 1", ErrInvalidConfig, cfg.RatioThreshold)
	case cfg.OnsetThreshold <= 1:
		return fmt.Errorf("%w: onset threshold %f not above 1", ErrInvalidConfig, cfg.OnsetThreshold)
	case cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1:
		return fmt.Errorf("%w: speech threshold %f", ErrInvalidConfig, cfg.SpeechThreshold)
	case cfg.EnergyThreshold < 0:
		return fmt.Errorf("%w: energy threshold %f", ErrInvalidConfig, cfg.EnergyThreshold)
	}
	return nil
}

// Update classifies one spectral frame and advances the smoothed probability.
func (d *Detector) Update(spec dsp.SpectralFrame) Decision {
	mag := spec.Magnitude
	var band float64
	for k := d.lo; k <= d.hi && k < len(mag); k++ {
		band += mag[k] * mag[k]
	}
	energy := band * d.scale
	ratio := d.peakRatio(mag)

	peak := ratio > d.cfg.RatioThreshold
	onset := d.level > 0 && energy > d.cfg.OnsetThreshold*d.level
	if !peak {
		d.trackLevel(energy)
	}

	score := 0.0
	if energy > d.cfg.EnergyThreshold && (peak || onset) {
		score = 1.0
	}

	alpha := d.cfg.Smoothing
	d.prob = alpha*d.prob + (1-alpha)*score
	d.frames++

	speech := d.prob > d.cfg.SpeechThreshold
	if speech {
		for k := d.lo; k <= d.hi && k < len(mag); k++ {
			d.profile[k] = (1-profileRate)*d.profile[k] + profileRate*mag[k]
		}
	}

	return Decision{
		Score:       score,
		Probability: d.prob,
		Speech:      speech,
		Ratio:       ratio,
		Onset:       onset,
		Energy:      energy,
	}
}

// peakRatio returns the largest speech-band bin power relative to the mean
// power of the bins around it.
func (d *Detector) peakRatio(mag []float64) float64 {
	last := len(mag) - 1
	best := 0.0
	for k := d.lo; k <= d.hi && k <= last; k++ {
		var sum float64
		n := 0
		for j := max(0, k-floorSpan); j < k-floorGuard; j++ {
			sum += mag[j] * mag[j]
			n++
		}
		for j := k + floorGuard + 1; j <= min(last, k+floorSpan); j++ {
			sum += mag[j] * mag[j]
			n++
		}
		if n == 0 {
			continue
		}
		floor := sum / float64(n)
		if floor < minPower {
			floor = minPower
		}
		if r := mag[k] * mag[k] / floor; r > best {
			best = r
		}
	}
	return best
}

// trackLevel folds a frame without spectral peaks into the background level.
func (d *Detector) trackLevel(energy float64) {
	if d.level == 0 {
		d.level = energy
		return
	}
	d.level += levelRate * (energy - d.level)
}

// Probability returns the current smoothed speech-presence probability.
func (d *Detector) Probability() float64 { return d.prob }

// Frames returns the number of frames classified since creation or Reset.
func (d *Detector) Frames() uint64 { return d.frames }

// SpeechProfile returns the running speech-band magnitude estimate. The
// slice is owned by the detector and must not be modified.
func (d *Detector) SpeechProfile() []float64 { return d.profile }

// Level returns the tracked background band energy, or 0 before the first
// frame without a spectral peak.
func (d *Detector) Level() float64 { return d.level }

// BandBins returns the inclusive bin range of the speech band.
func (d *Detector) BandBins() (lo, hi int) { return d.lo, d.hi }

// Reset restores the cold-start state.
func (d *Detector) Reset() {
	d.prob = 1.0
	d.frames = 0
	d.level = 0
	for i := range d.profile {
		d.profile[i] = 0
	}
}
