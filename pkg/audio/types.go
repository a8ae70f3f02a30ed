package audio

import "time"

// Output format produced by the decode pipeline and expected by voice
// platforms: 48 kHz interleaved stereo, 16-bit little-endian PCM in 20 ms
// frames.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = SampleRate * int(FrameDuration/time.Millisecond) / 1000 // 960

	// FrameBytes is the PCM payload size of one frame.
	FrameBytes = FrameSamples * Channels * 2 // 3840
)

// AudioFrame is the unit of audio flowing from a decoded source to a voice
// connection.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (48000 for Discord).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp is the offset of this frame from the start of its stream.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}
