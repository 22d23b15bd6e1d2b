package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSamples(t *testing.T) {
	tests := []struct {
		name       string
		packet     []byte
		sampleRate uint32
		want       int
		wantErr    error
	}{
		{name: "silk narrowband 20ms", packet: []byte{0x08}, sampleRate: 8000, want: 160},
		{name: "silk wideband two frames", packet: []byte{0x49}, sampleRate: 16000, want: 640},
		{name: "silk 60ms", packet: []byte{0x18}, sampleRate: 16000, want: 960},
		{name: "hybrid 20ms", packet: []byte{13 << 3}, sampleRate: 48000, want: 960},
		{name: "celt fullband 20ms", packet: []byte{0xF8}, sampleRate: 48000, want: 960},
		{name: "celt 2.5ms", packet: []byte{16 << 3}, sampleRate: 48000, want: 120},
		{name: "code 3 with count", packet: []byte{0xFB, 0x03}, sampleRate: 48000, want: 2880},
		{name: "code 3 missing count", packet: []byte{0xFB}, sampleRate: 48000, wantErr: ErrMalformedPacket},
		{name: "code 3 zero count", packet: []byte{0xFB, 0x00}, sampleRate: 48000, wantErr: ErrMalformedPacket},
		{name: "empty", packet: nil, sampleRate: 48000, wantErr: ErrEmptyPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PacketSamples(tt.packet, tt.sampleRate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFarEndDecoder_EmptyPacket(t *testing.T) {
	d := NewFarEndDecoder()
	require.NotNil(t, d)

	pcm, rate, err := d.Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyPacket)
	assert.Nil(t, pcm)
	assert.Equal(t, uint32(0), rate)
}

func TestFarEndDecoder_UnsupportedMode(t *testing.T) {
	d := NewFarEndDecoder()

	// A CELT-only packet; the decoder handles SILK only.
	_, _, err := d.Decode([]byte{0xF8, 0xFF, 0xFE})
	assert.Error(t, err)
}
