// Package opusenc encodes enhanced capture audio to Opus for the outbound
// WebRTC track.
//
// It wraps the libopus binding layeh.com/gopus (requires CGO) with the
// fixed layout WebRTC voice uses: 48 kHz, mono, 20 ms frames.
package opusenc

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

// Opus stream layout.
const (
	SampleRate     = 48000
	Channels       = 1
	FrameDuration  = 20 * time.Millisecond
	FrameSize      = SampleRate * 20 / 1000 // 960
	DefaultBitrate = 32000

	// maxPacketSize is the recommended upper bound for one Opus packet.
	maxPacketSize = 4000
)

// ErrFrameSize indicates a PCM frame that is not exactly FrameSize samples.
var ErrFrameSize = errors.New("opus frame must be 20 ms")

// Encoder is a voice-tuned Opus encoder. It is not safe for concurrent use.
type Encoder struct {
	enc     *gopus.Encoder
	bitrate int
}

// New creates an encoder with the given bitrate in bits per second. Zero
// selects DefaultBitrate.
func New(bitrate int) (*Encoder, error) {
	if bitrate == 0 {
		bitrate = DefaultBitrate
	}
	if bitrate < 6000 || bitrate > 510000 {
		return nil, fmt.Errorf("opusenc: bitrate %d outside 6000..510000", bitrate)
	}

	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opusenc: create encoder: %w", err)
	}
	enc.SetBitrate(bitrate)

	logrus.WithFields(logrus.Fields{
		"function":    "opusenc.New",
		"sample_rate": SampleRate,
		"channels":    Channels,
		"bitrate":     bitrate,
	}).Debug("Opus encoder created")

	return &Encoder{enc: enc, bitrate: bitrate}, nil
}

// Encode compresses one 20 ms frame of mono PCM.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSize {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), FrameSize)
	}
	packet, err := e.enc.Encode(pcm, FrameSize, maxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("opusenc: encode: %w", err)
	}
	return packet, nil
}

// FrameSize returns the number of samples per frame.
func (e *Encoder) FrameSize() int { return FrameSize }

// SampleRate returns the encoder input rate.
func (e *Encoder) SampleRate() uint32 { return SampleRate }

// FrameDuration returns the duration of one frame.
func (e *Encoder) FrameDuration() time.Duration { return FrameDuration }

// Bitrate returns the configured bitrate.
func (e *Encoder) Bitrate() int { return e.bitrate }
