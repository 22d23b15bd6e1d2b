package audio

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// maxOpusFrameSamples bounds one decoded packet: 120 ms at 48 kHz.
const maxOpusFrameSamples = 5760

var (
	// ErrEmptyPacket indicates a zero-length Opus packet.
	ErrEmptyPacket = errors.New("empty opus packet")

	// ErrMalformedPacket indicates a packet whose table-of-contents header
	// cannot be parsed.
	ErrMalformedPacket = errors.New("malformed opus packet")
)

// FarEndDecoder decodes the remote party's Opus stream into mono float
// samples suitable as an echo canceller reference.
//
// Uses the pion/opus decoder, which emits 16-bit little-endian PCM at the
// sample rate implied by the packet bandwidth. Stereo packets are folded
// to mono. Buffers are allocated once and reused, so the returned slice is
// only valid until the next Decode.
type FarEndDecoder struct {
	decoder *opus.Decoder
	raw     []byte
	pcm     []float64
}

// NewFarEndDecoder creates a decoder.
func NewFarEndDecoder() *FarEndDecoder {
	decoder := opus.NewDecoder()

	logrus.WithFields(logrus.Fields{
		"function": "NewFarEndDecoder",
		"decoder":  "opus.Decoder",
	}).Debug("Creating far-end Opus decoder")

	return &FarEndDecoder{
		decoder: &decoder,
		raw:     make([]byte, maxOpusFrameSamples*2*2),
		pcm:     make([]float64, maxOpusFrameSamples),
	}
}

// Decode decodes one packet and returns mono samples and their sample rate.
func (d *FarEndDecoder) Decode(packet []byte) ([]float64, uint32, error) {
	if len(packet) == 0 {
		return nil, 0, ErrEmptyPacket
	}

	bandwidth, isStereo, err := d.decoder.Decode(packet, d.raw)
	if err != nil {
		return nil, 0, fmt.Errorf("opus decode failed: %w", err)
	}
	sampleRate := uint32(bandwidth.SampleRate())

	frames, err := PacketSamples(packet, sampleRate)
	if err != nil {
		return nil, 0, err
	}
	channels := 1
	if isStereo {
		channels = 2
	}
	if frames*channels*2 > len(d.raw) {
		frames = len(d.raw) / (channels * 2)
	}

	out := d.pcm[:frames]
	for i := range out {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(uint16(d.raw[off]) | uint16(d.raw[off+1])<<8)
			sum += float64(s)
		}
		out[i] = sum / float64(channels) / 32768.0
	}
	return out, sampleRate, nil
}

// frameDurationsMicros maps the low two bits of a SILK or CELT
// configuration number to the frame duration, per RFC 6716 section 3.1.
var (
	silkDurations   = [4]int{10000, 20000, 40000, 60000}
	hybridDurations = [2]int{10000, 20000}
	celtDurations   = [4]int{2500, 5000, 10000, 20000}
)

// PacketSamples returns the number of samples per channel an Opus packet
// decodes to at sampleRate, from its table-of-contents header.
func PacketSamples(packet []byte, sampleRate uint32) (int, error) {
	if len(packet) == 0 {
		return 0, ErrEmptyPacket
	}
	toc := packet[0]
	config := int(toc >> 3)

	var micros int
	switch {
	case config < 12:
		micros = silkDurations[config%4]
	case config < 16:
		micros = hybridDurations[config%2]
	default:
		micros = celtDurations[config%4]
	}

	var frames int
	switch toc & 0x3 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(packet) < 2 {
			return 0, fmt.Errorf("%w: missing frame count byte", ErrMalformedPacket)
		}
		frames = int(packet[1] & 0x3f)
		if frames == 0 {
			return 0, fmt.Errorf("%w: zero frame count", ErrMalformedPacket)
		}
	}
	return frames * micros * int(sampleRate) / 1000000, nil
}
