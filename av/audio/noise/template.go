package noise

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/toxenhance/av/audio/dsp"
)

// ErrUnknownTemplate is returned when a template name is not registered.
var ErrUnknownTemplate = errors.New("unknown noise template")

// Template is a static per-bin suppression weighting for one category of
// background noise. A weight of 1 leaves a bin alone; smaller weights
// attenuate it further when the frame carries no speech.
//
// The shapes are hand-tuned starting points, not derived values.
type Template struct {
	Name        string
	Description string
	build       func(sampleRate float64, frameSize int) []float64
}

// Weights evaluates the template for one sample rate and frame size.
func (t Template) Weights(sampleRate float64, frameSize int) []float64 {
	return t.build(sampleRate, frameSize)
}

// byFrequency builds a template from a smooth frequency response sampled at
// bin centres.
func byFrequency(shape func(freq float64) float64) func(float64, int) []float64 {
	return func(sampleRate float64, frameSize int) []float64 {
		w := make([]float64, frameSize/2+1)
		for k := range w {
			w[k] = shape(dsp.BinFrequency(k, frameSize, sampleRate))
		}
		return w
	}
}

const (
	humDepth     = 0.2
	humHarmonics = 8
)

// humNotches places a notch on the bin nearest each mains harmonic so the
// notches survive coarse bin spacing.
func humNotches(sampleRate float64, frameSize int) []float64 {
	w := make([]float64, frameSize/2+1)
	for k := range w {
		w[k] = 1
	}
	for _, mains := range []float64{50, 60} {
		for h := 1; h <= humHarmonics; h++ {
			f := mains * float64(h)
			if f >= sampleRate/2 {
				break
			}
			w[dsp.FrequencyBin(f, frameSize, sampleRate)] = humDepth
		}
	}
	return w
}

var templates = []Template{
	{
		Name:        "fan",
		Description: "broadband low-frequency rumble from fans and ventilation",
		build: byFrequency(func(f float64) float64 {
			switch {
			case f < 150:
				return 0.25
			case f < 300:
				return 0.25 + 0.75*(f-150)/150
			default:
				return 1
			}
		}),
	},
	{
		Name:        "hum",
		Description: "mains hum at 50/60 Hz and harmonics",
		build:       humNotches,
	},
	{
		Name:        "click",
		Description: "keyboard and mouse clicks above 3 kHz",
		build: byFrequency(func(f float64) float64 {
			switch {
			case f < 3000:
				return 1
			case f < 4000:
				return 1 - 0.5*(f-3000)/1000
			default:
				return 0.5
			}
		}),
	},
	{
		Name:        "transient",
		Description: "percussive transients such as doors and knocks",
		build:       byFrequency(func(float64) float64 { return 0.7 }),
	},
}

// DefaultTemplates lists the templates active on a new engine.
var DefaultTemplates = []string{"fan", "hum"}

// Templates returns every registered template in a fixed order.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// Names returns the registered template names.
func Names() []string {
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	return names
}

// Lookup finds a template by case-insensitive name.
func Lookup(name string) (Template, bool) {
	for _, t := range templates {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Template{}, false
}

// Mask selects a subset of the registered templates.
type Mask uint32

// MaskOf converts template names into a Mask.
func MaskOf(names ...string) (Mask, error) {
	var m Mask
	for _, name := range names {
		found := false
		for i, t := range templates {
			if strings.EqualFold(t.Name, name) {
				m |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
		}
	}
	return m, nil
}

// Names returns the template names selected by m.
func (m Mask) Names() []string {
	var names []string
	for i, t := range templates {
		if m&(1<<uint(i)) != 0 {
			names = append(names, t.Name)
		}
	}
	return names
}

// Bank holds every template evaluated for one sample rate and frame size,
// plus a buffer for the combined weighting of the active subset.
type Bank struct {
	weights  [][]float64
	combined []float64
}

// NewBank evaluates all templates for the given layout.
func NewBank(sampleRate float64, frameSize int) *Bank {
	b := &Bank{
		weights:  make([][]float64, len(templates)),
		combined: make([]float64, frameSize/2+1),
	}
	for i, t := range templates {
		b.weights[i] = t.Weights(sampleRate, frameSize)
	}
	for k := range b.combined {
		b.combined[k] = 1
	}
	return b
}

// Combine writes the product of the selected templates into the bank's
// combined buffer and returns it. intensity in [0, 1] scales each
// template's depth: 0 yields all ones, 1 the full weighting.
func (b *Bank) Combine(m Mask, intensity float64) []float64 {
	for k := range b.combined {
		b.combined[k] = 1
	}
	for i, w := range b.weights {
		if m&(1<<uint(i)) == 0 {
			continue
		}
		for k, v := range w {
			b.combined[k] *= 1 - (1-v)*intensity
		}
	}
	return b.combined
}

// Combined returns the last result of Combine.
func (b *Bank) Combined() []float64 { return b.combined }
