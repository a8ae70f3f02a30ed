package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/vcplay/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFrameConstants(t *testing.T) {
	t.Parallel()
	if audio.FrameSamples != 960 {
		t.Errorf("FrameSamples = %d, want 960", audio.FrameSamples)
	}
	if audio.FrameBytes != 3840 {
		t.Errorf("FrameBytes = %d, want 3840", audio.FrameBytes)
	}
}

func TestApplyGain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int16
		gain float32
		want []int16
	}{
		{"unity", []int16{100, -100, 32767}, 1, []int16{100, -100, 32767}},
		{"half", []int16{100, -100, 3}, 0.5, []int16{50, -50, 2}},
		{"double", []int16{1000, -1000}, 2, []int16{2000, -2000}},
		{"mute", []int16{1000, -1000}, 0, []int16{0, 0}},
		{"negative is mute", []int16{1000}, -1, []int16{0}},
		{"clip high", []int16{30000}, 2, []int16{math.MaxInt16}},
		{"clip low", []int16{-30000}, 2, []int16{math.MinInt16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.ApplyGain(samplesToBytes(tt.in), tt.gain))
			equalSamples(t, got, tt.want)
		})
	}
}

func TestApplyGain_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := samplesToBytes([]int16{400, -400})
	_ = audio.ApplyGain(in, 0.25)
	equalSamples(t, bytesToSamples(in), []int16{400, -400})
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200})))
	equalSamples(t, got, []int16{150, -150})
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	target := audio.Format{SampleRate: 48000, Channels: 2}

	t.Run("passthrough", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 48000, Channels: 2}
		out := conv.Convert(in)
		equalSamples(t, bytesToSamples(out.Data), []int16{1, 2})
	})

	t.Run("mono upmix", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{7}), SampleRate: 48000, Channels: 1}
		out := conv.Convert(in)
		if out.Channels != 2 {
			t.Errorf("Channels = %d, want 2", out.Channels)
		}
		equalSamples(t, bytesToSamples(out.Data), []int16{7, 7})
	})

	t.Run("rate mismatch dropped", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{7}), SampleRate: 16000, Channels: 1}
		if out := conv.Convert(in); len(out.Data) != 0 {
			t.Errorf("expected dropped frame, got %d bytes", len(out.Data))
		}
	})

	t.Run("odd byte count dropped", func(t *testing.T) {
		t.Parallel()
		conv := audio.FormatConverter{Target: target}
		in := audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 2}
		if out := conv.Convert(in); len(out.Data) != 0 {
			t.Errorf("expected dropped frame, got %d bytes", len(out.Data))
		}
	})
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz/2ch" {
		t.Errorf("String() = %q", got)
	}
}
