package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/vcplay/pkg/audio"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames, which matches the
// PCM layout of [audio.AudioFrame] produced by the decode pipeline.
const (
	opusSampleRate = audio.SampleRate
	opusChannels   = audio.Channels
	opusFrameSize  = audio.FrameSamples
	opusFrameBytes = audio.FrameBytes

	// opusMaxPacket bounds the encoded packet size passed to the encoder.
	opusMaxPacket = 4000
)

// opusEncoder wraps a gopus encoder for the outgoing stream. Not safe for
// concurrent use; the send loop owns it.
type opusEncoder struct {
	enc *gopus.Encoder
	pcm []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, pcm: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode converts exactly one frame of little-endian PCM into an Opus packet.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	if len(frame) != opusFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: frame is %d bytes, want %d", len(frame), opusFrameBytes)
	}
	for i := range e.pcm {
		e.pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	packet, err := e.enc.Encode(e.pcm, opusFrameSize, opusMaxPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
