package dsp

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// FrameBuffer accumulates hop-sized blocks into overlapping analysis frames.
//
// It keeps the last frameSize samples in a history buffer. Every Push
// shifts the history by one hop, appends the new block and returns the
// windowed frame. Until frameSize samples have been pushed the missing
// history is zero, so the first frames are zero-padded partial frames.
type FrameBuffer struct {
	frameSize int
	hopSize   int
	window    Window
	history   []float64
	frame     AudioFrame
	seq       uint64
	filled    int
}

// NewFrameBuffer creates a frame buffer for the given frame and hop sizes.
//
// Parameters:
//   - frameSize: analysis frame length, a power of two
//   - hopSize: stride between frames, 0 < hopSize <= frameSize
//   - window: analysis window of length frameSize
//
// Returns:
//   - *FrameBuffer: new frame buffer with zeroed history
//   - error: ErrNotPowerOfTwo, ErrInvalidHop or ErrBufferSize
func NewFrameBuffer(frameSize, hopSize int, window Window) (*FrameBuffer, error) {
	if err := ValidateFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("%w: %d", err, frameSize)
	}
	if hopSize <= 0 || hopSize > frameSize {
		return nil, fmt.Errorf("%w: hop %d for frame %d", ErrInvalidHop, hopSize, frameSize)
	}
	if len(window) != frameSize {
		return nil, fmt.Errorf("%w: window length %d, frame size %d", ErrBufferSize, len(window), frameSize)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewFrameBuffer",
		"frame_size": frameSize,
		"hop_size":   hopSize,
		"overlap":    frameSize - hopSize,
	}).Debug("Creating frame buffer")

	return &FrameBuffer{
		frameSize: frameSize,
		hopSize:   hopSize,
		window:    window,
		history:   make([]float64, frameSize),
		frame:     AudioFrame{Samples: make([]float64, frameSize)},
	}, nil
}

// Push appends one hop of samples and returns the windowed frame that ends
// with it. The returned frame's Samples slice is reused by the next Push.
func (fb *FrameBuffer) Push(hop []float64) (AudioFrame, error) {
	if err := fb.PushRaw(hop); err != nil {
		return AudioFrame{}, err
	}
	fb.window.Apply(fb.frame.Samples, fb.history)
	fb.frame.Seq = fb.seq
	return fb.frame, nil
}

// PushRaw appends one hop to the history without producing a frame. It keeps
// the history current while the pipeline is bypassed.
func (fb *FrameBuffer) PushRaw(hop []float64) error {
	if len(hop) != fb.hopSize {
		return fmt.Errorf("%w: got %d samples, hop size %d", ErrBufferSize, len(hop), fb.hopSize)
	}
	copy(fb.history, fb.history[fb.hopSize:])
	copy(fb.history[fb.frameSize-fb.hopSize:], hop)
	fb.seq++
	if fb.filled < fb.frameSize {
		fb.filled += fb.hopSize
	}
	return nil
}

// Primed reports whether a full frame of real samples has been pushed.
func (fb *FrameBuffer) Primed() bool {
	return fb.filled >= fb.frameSize
}

// FrameSize returns the analysis frame length.
func (fb *FrameBuffer) FrameSize() int { return fb.frameSize }

// HopSize returns the hop length.
func (fb *FrameBuffer) HopSize() int { return fb.hopSize }

// Reset clears the history and the sequence counter.
func (fb *FrameBuffer) Reset() {
	for i := range fb.history {
		fb.history[i] = 0
	}
	fb.seq = 0
	fb.filled = 0
}
