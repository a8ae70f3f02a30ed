package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/vcplay/pkg/audio"
)

// Stream is a pull-based sequence of 20 ms PCM frames.
//
// Next and Close must not be called concurrently. A blocked Next is
// interrupted by cancelling its context.
type Stream interface {
	// Next returns the next frame, or io.EOF once the source is exhausted.
	Next(ctx context.Context) (audio.AudioFrame, error)

	// Close releases the decoder, the download and the pipeline slot.
	// It is idempotent.
	Close() error
}

type pcmStream struct {
	pipe    Pipeline
	body    io.Closer
	cancel  context.CancelFunc
	release func()

	pending *audio.AudioFrame
	frames  int64
	eof     bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *pcmStream) Next(ctx context.Context) (audio.AudioFrame, error) {
	if s.closed.Load() {
		return audio.AudioFrame{}, ErrClosed
	}
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	return s.read(ctx)
}

// prime reads the first frame so that a decoder that produces nothing is
// reported before playback starts.
func (s *pcmStream) prime(ctx context.Context) error {
	f, err := s.read(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: decoder produced no audio%s", ErrDecode, s.diagnostics())
		}
		return err
	}
	s.pending = &f
	return nil
}

func (s *pcmStream) read(ctx context.Context) (audio.AudioFrame, error) {
	if s.eof {
		return audio.AudioFrame{}, io.EOF
	}

	buf := make([]byte, audio.FrameBytes)
	stop := context.AfterFunc(ctx, s.pipe.Abort)
	n, err := io.ReadFull(s.pipe, buf)
	stop()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return audio.AudioFrame{}, ctxErr
	}

	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Trailing partial frame: the rest of buf is already silence.
		s.eof = true
	case errors.Is(err, io.EOF):
		s.eof = true
		return audio.AudioFrame{}, io.EOF
	default:
		return audio.AudioFrame{}, fmt.Errorf("%w: read pcm after %d bytes: %w", ErrDecode, n, err)
	}

	f := audio.AudioFrame{
		Data:       buf,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Timestamp:  time.Duration(s.frames) * audio.FrameDuration,
	}
	s.frames++
	return f, nil
}

func (s *pcmStream) diagnostics() string {
	if p, ok := s.pipe.(interface{ Stderr() string }); ok {
		if msg := p.Stderr(); msg != "" {
			return ": " + msg
		}
	}
	return ""
}

func (s *pcmStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.body.Close()
		s.closeErr = s.pipe.Close()
		s.release()
	})
	return s.closeErr
}
