// Package playback attaches decoded audio streams to voice sessions.
//
// A [Controller] runs one pump goroutine per attached stream. The pump pulls
// frames, applies the handle's gain and writes them to the session's
// connection until the stream is exhausted, the handle is stopped or the
// session goes away. Attaching to a session that already plays stops the
// previous stream first, so a session never has two live handles.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/vcplay/internal/observe"
	"github.com/MrWong99/vcplay/internal/source"
	"github.com/MrWong99/vcplay/internal/voice"
	"github.com/MrWong99/vcplay/pkg/audio"
)

// MaxVolume is the highest accepted gain.
const MaxVolume = float32(2.0)

var (
	// ErrInvalidVolume is returned for a gain outside [0, MaxVolume].
	ErrInvalidVolume = errors.New("playback: volume out of range")

	// ErrConnectionLost is returned when attaching to a session whose
	// connection has already terminated.
	ErrConnectionLost = errors.New("playback: connection lost")
)

// Handle is one stream attached to one session.
type Handle struct {
	// ID identifies the handle in logs.
	ID string

	session *voice.Session
	stream  source.Stream
	volume  atomic.Uint32
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Volume returns the current gain.
func (h *Handle) Volume() float32 {
	return math.Float32frombits(h.volume.Load())
}

// Done is closed once the pump has exited and the stream is released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error that ended playback, or nil after normal
// exhaustion or a stop. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Stop halts the pump and waits until it has released the stream.
// It implements [voice.Playback].
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

var _ voice.Playback = (*Handle)(nil)

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller attaches streams to sessions. It is safe for concurrent use.
type Controller struct {
	metrics *observe.Metrics
	active  atomic.Int64
	pumps   sync.WaitGroup
}

// NewController creates a [Controller].
func NewController(opts ...Option) *Controller {
	c := &Controller{}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Active returns the number of running pumps.
func (c *Controller) Active() int {
	return int(c.active.Load())
}

// Attach starts playing stream on s at the given volume, replacing whatever
// s was playing. loadCtx is the context returned by [voice.Session.BeginLoad]
// for this load; a superseded or cancelled load is rejected with its cause.
// The stream is always consumed: on error it is closed before Attach
// returns.
func (c *Controller) Attach(loadCtx context.Context, s *voice.Session, stream source.Stream, volume float32) (*Handle, error) {
	if volume < 0 || volume > MaxVolume {
		_ = stream.Close()
		return nil, fmt.Errorf("playback: attach: %w: %.2f", ErrInvalidVolume, volume)
	}
	if s.Closed() {
		_ = stream.Close()
		return nil, fmt.Errorf("playback: attach group %s: %w", s.GroupID, voice.ErrSessionClosed)
	}
	select {
	case <-s.Conn().Done():
		_ = stream.Close()
		return nil, fmt.Errorf("playback: attach group %s: %w", s.GroupID, ErrConnectionLost)
	default:
	}

	var h *Handle
	err := s.ReplacePlayback(loadCtx, func() voice.Playback {
		h = c.start(s, stream, volume)
		return h
	})
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("playback: attach group %s: %w", s.GroupID, err)
	}
	slog.Info("playback: started", "group_id", s.GroupID, "handle_id", h.ID, "volume", volume)
	return h, nil
}

// SetVolume changes the gain of a live handle. It takes effect from the
// next frame.
func (c *Controller) SetVolume(h *Handle, v float32) error {
	if v < 0 || v > MaxVolume {
		return fmt.Errorf("playback: set volume: %w: %.2f", ErrInvalidVolume, v)
	}
	h.volume.Store(math.Float32bits(v))
	return nil
}

// Cancel stops h, releases its stream and detaches it from its session.
// It returns once the pump has exited.
func (c *Controller) Cancel(h *Handle) {
	h.Stop()
	h.session.ClearPlayback(h)
}

// Wait blocks until every pump has exited.
func (c *Controller) Wait() {
	c.pumps.Wait()
}

func (c *Controller) start(s *voice.Session, stream source.Stream, volume float32) *Handle {
	ctx, cancel := context.WithCancel(s.Context())
	h := &Handle{
		ID:      uuid.NewString(),
		session: s,
		stream:  stream,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.volume.Store(math.Float32bits(volume))

	c.active.Add(1)
	c.metrics.ActivePlaybacks.Add(ctx, 1)
	c.pumps.Add(1)
	go c.pump(ctx, h)
	return h
}

func (c *Controller) pump(ctx context.Context, h *Handle) {
	defer c.pumps.Done()
	defer func() {
		h.cancel()
		if err := h.stream.Close(); err != nil {
			slog.Debug("playback: close stream", "handle_id", h.ID, "err", err)
		}
		c.active.Add(-1)
		c.metrics.ActivePlaybacks.Add(context.Background(), -1)
		// done must be closed before touching the session: Stop may be
		// waiting for it while holding the session lock.
		close(h.done)
		if h.session.ClearPlayback(h) {
			slog.Info("playback: finished", "group_id", h.session.GroupID, "handle_id", h.ID)
		}
	}()

	conn := h.session.Conn()
	out := conn.OutputStream()
	for {
		f, err := h.stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
			default:
				h.err = err
				slog.Warn("playback: stream failed", "group_id", h.session.GroupID, "handle_id", h.ID, "err", err)
			}
			return
		}
		f.Data = audio.ApplyGain(f.Data, h.Volume())

		select {
		case out <- f:
		case <-ctx.Done():
			return
		case <-conn.Done():
			h.err = ErrConnectionLost
			return
		}
	}
}
