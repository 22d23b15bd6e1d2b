package audio

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Block is one hop of mono samples flowing through the post chain, together
// with the side information effects may react to.
type Block struct {
	// Samples are normalised to [-1, 1] and processed in place.
	Samples []float64

	// SpeechPresence is the smoothed speech probability of the hop, in [0, 1].
	SpeechPresence float64
}

// AudioEffect defines the interface for time-domain audio effects.
//
// Effects process a Block in place. They keep per-stream state and are
// not safe for concurrent use; one chain belongs to one processing
// goroutine.
type AudioEffect interface {
	// Process applies the effect to the block's samples in place.
	Process(block *Block) error

	// GetName returns a human-readable name for the effect.
	GetName() string

	// Close releases any resources used by the effect.
	Close() error
}

// IntensityAware is implemented by effects whose strength follows the
// engine's intensity setting.
type IntensityAware interface {
	SetIntensity(intensity float64)
}

// Resettable is implemented by effects that carry state between blocks.
type Resettable interface {
	Reset()
}

// EffectChain runs effects in order. The first failing effect stops the
// block. Process does not log; it runs once per hop on the audio goroutine.
type EffectChain struct {
	effects []AudioEffect
}

// NewEffectChain creates a new, empty effect chain.
func NewEffectChain() *EffectChain {
	logrus.WithFields(logrus.Fields{
		"function": "NewEffectChain",
	}).Debug("Creating new audio effect chain")

	return &EffectChain{
		effects: make([]AudioEffect, 0, 4),
	}
}

// NewPostChain builds the standard post-processing chain for sampleRate:
// noise gate, high-pass filter, compressor and limiter, in that order.
func NewPostChain(sampleRate float64) (*EffectChain, error) {
	gate, err := NewNoiseGateEffect(DefaultNoiseGateConfig(sampleRate))
	if err != nil {
		return nil, err
	}
	hp, err := NewHighPassEffect(sampleRate, DefaultHighPassCutoff)
	if err != nil {
		return nil, err
	}
	comp, err := NewCompressorEffect(DefaultCompressorConfig(sampleRate))
	if err != nil {
		return nil, err
	}
	limiter, err := NewLimiterEffect(DefaultLimiterKnee)
	if err != nil {
		return nil, err
	}

	chain := NewEffectChain()
	chain.AddEffect(gate)
	chain.AddEffect(hp)
	chain.AddEffect(comp)
	chain.AddEffect(limiter)
	return chain, nil
}

// AddEffect adds an effect to the end of the processing chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	e.effects = append(e.effects, effect)

	logrus.WithFields(logrus.Fields{
		"function":     "EffectChain.AddEffect",
		"effect_name":  effect.GetName(),
		"effect_count": len(e.effects),
	}).Debug("Effect added to chain")
}

// Process applies all effects in the chain sequentially. If any effect
// returns an error, processing stops and the error is returned.
func (e *EffectChain) Process(block *Block) error {
	for i, effect := range e.effects {
		if err := effect.Process(block); err != nil {
			return fmt.Errorf("effect %d (%s) failed: %w", i, effect.GetName(), err)
		}
	}
	return nil
}

// SetIntensity forwards intensity in [0, 1] to every effect that supports it.
func (e *EffectChain) SetIntensity(intensity float64) {
	for _, effect := range e.effects {
		if ia, ok := effect.(IntensityAware); ok {
			ia.SetIntensity(intensity)
		}
	}
}

// Reset clears the state of every resettable effect.
func (e *EffectChain) Reset() {
	for _, effect := range e.effects {
		if r, ok := effect.(Resettable); ok {
			r.Reset()
		}
	}
}

// Len returns the number of effects in the chain.
func (e *EffectChain) Len() int {
	return len(e.effects)
}

// Names lists the effects in processing order.
func (e *EffectChain) Names() []string {
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// Clear closes every effect and empties the chain.
func (e *EffectChain) Clear() error {
	var errs []error
	for i, effect := range e.effects {
		if err := effect.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "EffectChain.Clear",
				"effect_index": i,
				"effect_name":  effect.GetName(),
				"error":        err.Error(),
			}).Error("Failed to close effect")
			errs = append(errs, fmt.Errorf("close %s: %w", effect.GetName(), err))
		}
	}
	e.effects = e.effects[:0]
	return errors.Join(errs...)
}

// Close releases all effect resources.
func (e *EffectChain) Close() error {
	return e.Clear()
}
