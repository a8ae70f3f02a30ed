package voice

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vcplay/pkg/audio"
)

var (
	// ErrSessionClosed is returned when operating on a session that has been
	// torn down. It is also the cancellation cause of every load that was in
	// flight at teardown.
	ErrSessionClosed = errors.New("voice: session closed")

	// ErrSuperseded is the cancellation cause of a load replaced by a newer
	// load on the same session.
	ErrSuperseded = errors.New("voice: superseded by a newer load")
)

// Playback is the stream currently attached to a session.
type Playback interface {
	// Stop halts the playback and returns once it no longer writes to the
	// connection.
	Stop()
}

// Session is the bot's presence in one group's voice channel. It is created
// by [Registry.Connect] and lives until it is disconnected or its connection
// is lost. All methods are safe for concurrent use.
type Session struct {
	// GroupID is the guild this session belongs to.
	GroupID string

	conn   audio.Connection
	ctx    context.Context
	cancel context.CancelFunc
	volume atomic.Uint32

	mu         sync.Mutex
	closed     bool
	playback   Playback
	loadSeq    uint64
	loadCancel context.CancelCauseFunc

	teardownOnce sync.Once
	teardownErr  error
}

func newSession(groupID string, conn audio.Connection, volume float32) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		GroupID: groupID,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.SetVolume(volume)
	return s
}

// ChannelID returns the voice channel the session is currently connected to.
func (s *Session) ChannelID() string { return s.conn.ChannelID() }

// Conn returns the underlying connection.
func (s *Session) Conn() audio.Connection { return s.conn }

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context { return s.ctx }

// Volume returns the gain applied to new playbacks.
func (s *Session) Volume() float32 {
	return math.Float32frombits(s.volume.Load())
}

// SetVolume sets the gain applied to new playbacks.
func (s *Session) SetVolume(v float32) {
	s.volume.Store(math.Float32bits(v))
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Playback returns the current playback, or nil when idle.
func (s *Session) Playback() Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

// BeginLoad registers a new load on the session and returns a context for
// it. The context is cancelled with cause [ErrSuperseded] when a newer load
// begins, with [ErrSessionClosed] when the session is torn down, and when
// parent is done. The returned finish function must be called once the load
// has completed.
func (s *Session) BeginLoad(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	unlink := context.AfterFunc(s.ctx, func() { cancel(ErrSessionClosed) })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unlink()
		cancel(ErrSessionClosed)
		return ctx, func() {}
	}
	if s.loadCancel != nil {
		s.loadCancel(ErrSuperseded)
	}
	s.loadSeq++
	seq := s.loadSeq
	s.loadCancel = cancel
	s.mu.Unlock()

	return ctx, func() {
		unlink()
		s.mu.Lock()
		if s.loadSeq == seq {
			s.loadCancel = nil
		}
		s.mu.Unlock()
		cancel(context.Canceled)
	}
}

// ReplacePlayback stops the current playback, waiting until it has stopped,
// and installs the playback returned by start. It fails with
// [ErrSessionClosed] after teardown and with the cause of loadCtx if that
// load has been superseded or cancelled; start is not called in either case.
func (s *Session) ReplacePlayback(loadCtx context.Context, start func() Playback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if loadCtx != nil && loadCtx.Err() != nil {
		return context.Cause(loadCtx)
	}
	if s.playback != nil {
		s.playback.Stop()
		s.playback = nil
	}
	s.playback = start()
	return nil
}

// ClearPlayback detaches p if it is still the current playback. It reports
// whether p was current.
func (s *Session) ClearPlayback(p Playback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback != p {
		return false
	}
	s.playback = nil
	return true
}

// StopPlayback stops and detaches the current playback, if any.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback != nil {
		s.playback.Stop()
		s.playback = nil
	}
}

// teardown closes the session: further attaches fail, in-flight loads are
// cancelled, the playback is stopped and the connection is disconnected.
// Only the first call has an effect.
func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pb := s.playback
		s.playback = nil
		if s.loadCancel != nil {
			s.loadCancel(ErrSessionClosed)
			s.loadCancel = nil
		}
		s.mu.Unlock()

		s.cancel()
		if pb != nil {
			pb.Stop()
		}
		s.teardownErr = s.conn.Disconnect()
	})
	return s.teardownErr
}
