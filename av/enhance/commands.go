package enhance

import "github.com/opd-ai/toxenhance/av/audio/noise"

type commandKind uint8

const (
	cmdIntensity commandKind = iota
	cmdTemplates
	cmdResetAdaptation
)

// command is a control request applied by the processing goroutine at the
// next hop boundary.
type command struct {
	kind      commandKind
	intensity int
	mask      noise.Mask
}

// enqueue hands cmd to the processing goroutine without blocking.
func (e *Engine) enqueue(cmd command) error {
	select {
	case e.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// drainCommands applies every queued command. Called only at hop boundaries
// on the processing goroutine.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			e.apply(cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd command) {
	switch cmd.kind {
	case cmdIntensity:
		e.intensity = float64(cmd.intensity) / 100
		if e.pipe != nil {
			e.pipe.setIntensity(e.intensity, e.mask)
		}
	case cmdTemplates:
		e.mask = cmd.mask
		if e.pipe != nil {
			e.pipe.setTemplates(e.mask, e.intensity)
		}
	case cmdResetAdaptation:
		if e.pipe != nil {
			e.pipe.resetAdaptation()
		}
		e.convergenceBits.Store(0)
	}
}
