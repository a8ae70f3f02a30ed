// Package voice tracks the bot's voice sessions, at most one per group.
//
// The [Registry] owns every [Session]. Connect and Disconnect on the same
// group are serialized by a per-group lock; operations on different groups
// never wait for each other. A session disappears from the registry when it
// is disconnected or when its connection reports loss.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vcplay/internal/observe"
	"github.com/MrWong99/vcplay/pkg/audio"
)

// Option configures a [Registry].
type Option func(*Registry)

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithDefaultVolume sets the volume of newly created sessions. Default: 1.0.
func WithDefaultVolume(v float32) Option {
	return func(r *Registry) { r.SetDefaultVolume(v) }
}

// Registry maps group IDs to live sessions.
type Registry struct {
	platform      audio.Platform
	metrics       *observe.Metrics
	defaultVolume atomic.Uint32

	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	watchers sync.WaitGroup
}

// NewRegistry creates a registry that opens connections through platform.
func NewRegistry(platform audio.Platform, opts ...Option) *Registry {
	r := &Registry{
		platform: platform,
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
	r.SetDefaultVolume(1)
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// SetDefaultVolume changes the volume given to sessions created afterwards.
func (r *Registry) SetDefaultVolume(v float32) {
	r.defaultVolume.Store(math.Float32bits(v))
}

// DefaultVolume returns the volume given to new sessions.
func (r *Registry) DefaultVolume() float32 {
	return math.Float32frombits(r.defaultVolume.Load())
}

// Connect joins channelID in groupID. An existing session of the group is
// torn down first, even when it is in the same channel.
func (r *Registry) Connect(ctx context.Context, groupID, channelID string) (*Session, error) {
	l := r.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	if old := r.remove(groupID, nil); old != nil {
		slog.Info("voice: replacing session", "group_id", groupID,
			"old_channel_id", old.ChannelID(), "channel_id", channelID)
		if err := old.teardown(); err != nil {
			slog.Warn("voice: disconnect of replaced session failed", "group_id", groupID, "err", err)
		}
		r.metrics.ActiveSessions.Add(ctx, -1)
	}

	conn, err := r.platform.Connect(ctx, groupID, channelID)
	if err != nil {
		return nil, fmt.Errorf("voice: connect group %s channel %s: %w", groupID, channelID, err)
	}

	s := newSession(groupID, conn, r.DefaultVolume())
	r.mu.Lock()
	r.sessions[groupID] = s
	r.mu.Unlock()
	r.metrics.ActiveSessions.Add(ctx, 1)

	r.watchers.Add(1)
	go r.watch(s)

	slog.Info("voice: session connected", "group_id", groupID, "channel_id", channelID)
	return s, nil
}

// Get returns the live session of groupID.
func (r *Registry) Get(groupID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[groupID]
	return s, ok
}

// Disconnect tears down the session of groupID. It returns nil when the
// group has no session.
func (r *Registry) Disconnect(groupID string) error {
	l := r.groupLock(groupID)
	l.Lock()
	defer l.Unlock()

	s := r.remove(groupID, nil)
	if s == nil {
		return nil
	}
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	err := s.teardown()
	slog.Info("voice: session disconnected", "group_id", groupID)
	if err != nil {
		return fmt.Errorf("voice: disconnect group %s: %w", groupID, err)
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close tears down every session and waits for the connection watchers to
// exit.
func (r *Registry) Close() error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for g, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, g)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range all {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
		if err := s.teardown(); err != nil {
			errs = append(errs, fmt.Errorf("voice: disconnect group %s: %w", s.GroupID, err))
		}
	}
	r.watchers.Wait()
	return errors.Join(errs...)
}

// watch removes s from the registry once its connection is lost.
func (r *Registry) watch(s *Session) {
	defer r.watchers.Done()
	select {
	case <-s.ctx.Done():
		return
	case <-s.conn.Done():
	}

	if r.remove(s.GroupID, s) == nil {
		return
	}
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Warn("voice: connection lost, session removed", "group_id", s.GroupID)
	if err := s.teardown(); err != nil {
		slog.Debug("voice: disconnect after connection loss", "group_id", s.GroupID, "err", err)
	}
}

// remove deletes the session of groupID, but only if it is want (any session
// when want is nil), and returns it.
func (r *Registry) remove(groupID string, want *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[groupID]
	if !ok || (want != nil && s != want) {
		return nil
	}
	delete(r.sessions, groupID)
	return s
}

func (r *Registry) groupLock(groupID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[groupID] = l
	}
	return l
}
