package outbound

import (
	"context"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Capture is the raw microphone stream handed to an Enhancer. Read blocks
// until samples are available or ctx is done; Close must unblock a pending
// Read.
type Capture interface {
	SampleRate() uint32
	Read(ctx context.Context, pcm []int16) (int, error)
	Close() error
}

// AcquireFunc obtains the capture stream when enhancement starts.
type AcquireFunc func(ctx context.Context) (Capture, error)

// TrackSender is the outbound side of a peer connection whose producer can
// be swapped. *webrtc.RTPSender satisfies it.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

// LocalTrack is a track that accepts encoded media samples.
// *webrtc.TrackLocalStaticSample satisfies it.
type LocalTrack interface {
	webrtc.TrackLocal
	WriteSample(sample media.Sample) error
}

// TrackFactory builds the enhanced track that replaces original.
type TrackFactory func(original webrtc.TrackLocal) (LocalTrack, error)

// Encoder compresses fixed-size PCM frames for the enhanced track.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
	FrameSize() int
	SampleRate() uint32
	FrameDuration() time.Duration
}

// EncoderFactory builds a fresh encoder for each attachment.
type EncoderFactory func() (Encoder, error)

// NewOpusTrack creates a static sample track carrying Opus that keeps the
// original track's ID and stream ID, so remote peers see the same track.
func NewOpusTrack(original webrtc.TrackLocal) (LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		original.ID(),
		original.StreamID(),
	)
	if err != nil {
		return nil, err
	}
	return track, nil
}
