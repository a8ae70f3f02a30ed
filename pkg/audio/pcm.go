package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a compact representation like "48000Hz/2ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// ApplyGain scales every int16 sample in pcm by gain, saturating at the int16
// range. A gain of exactly 1 returns pcm unchanged; any other value returns a
// new slice and leaves pcm untouched.
func ApplyGain(pcm []byte, gain float32) []byte {
	if gain == 1 {
		return pcm
	}
	out := make([]byte, len(pcm)&^1)
	if gain <= 0 {
		return out
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(math.Round(float64(s*gain)))))
	}
	return out
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair into a single sample.
func StereoToMono(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2&^1)
	for i, j := 0, 0; i+3 < len(pcm); i, j = i+4, j+2 {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i+2:])))
		binary.LittleEndian.PutUint16(out[j:], uint16(int16((l+r)/2)))
	}
	return out
}

// FormatConverter adapts frames to a target channel layout. Sample rate
// conversion is not supported: frames with a different rate are dropped
// and reported once. Create one per stream.
type FormatConverter struct {
	Target Format

	warnRate    sync.Once
	warnCorrupt sync.Once
}

// Convert returns frame in the target format, or a frame with nil Data when
// the input cannot be converted.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM frame, dropping", "bytes", len(frame.Data))
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.Format() == c.Target {
		return frame
	}
	if frame.SampleRate != c.Target.SampleRate {
		c.warnRate.Do(func() {
			slog.Warn("audio: sample rate mismatch, dropping frames",
				"from", frame.Format().String(),
				"to", c.Target.String(),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	pcm := frame.Data
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
