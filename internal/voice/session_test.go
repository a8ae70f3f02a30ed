package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/vcplay/pkg/audio/mock"
)

type fakePlayback struct {
	stops atomic.Int32
}

func (f *fakePlayback) Stop() { f.stops.Add(1) }

func newTestSession() *Session {
	return newSession("42", mock.NewConnection("7"), 1)
}

func TestSession_BeginLoadSupersedes(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	defer s.teardown()

	first, finishFirst := s.BeginLoad(context.Background())
	second, finishSecond := s.BeginLoad(context.Background())
	defer finishSecond()

	if !errors.Is(context.Cause(first), ErrSuperseded) {
		t.Errorf("first load cause = %v, want ErrSuperseded", context.Cause(first))
	}
	if second.Err() != nil {
		t.Errorf("second load cancelled: %v", context.Cause(second))
	}

	// Finishing the superseded load must not detach the newer one.
	finishFirst()
	third, finishThird := s.BeginLoad(context.Background())
	defer finishThird()
	if !errors.Is(context.Cause(second), ErrSuperseded) {
		t.Errorf("second load cause = %v, want ErrSuperseded", context.Cause(second))
	}
	if third.Err() != nil {
		t.Error("third load cancelled")
	}
}

func TestSession_BeginLoadAfterTeardown(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	_ = s.teardown()

	ctx, finish := s.BeginLoad(context.Background())
	defer finish()
	if !errors.Is(context.Cause(ctx), ErrSessionClosed) {
		t.Errorf("cause = %v, want ErrSessionClosed", context.Cause(ctx))
	}
}

func TestSession_BeginLoadFollowsParent(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	defer s.teardown()

	parent, cancel := context.WithCancel(context.Background())
	ctx, finish := s.BeginLoad(parent)
	defer finish()
	cancel()
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("load ctx err = %v, want Canceled", ctx.Err())
	}
}

func TestSession_ReplacePlayback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		setup     func(s *Session) context.Context
		wantErr   error
		wantStart bool
	}{
		{
			name:      "idle session",
			setup:     func(*Session) context.Context { return nil },
			wantStart: true,
		},
		{
			name: "current load",
			setup: func(s *Session) context.Context {
				ctx, _ := s.BeginLoad(context.Background())
				return ctx
			},
			wantStart: true,
		},
		{
			name: "superseded load",
			setup: func(s *Session) context.Context {
				ctx, _ := s.BeginLoad(context.Background())
				s.BeginLoad(context.Background())
				return ctx
			},
			wantErr: ErrSuperseded,
		},
		{
			name: "closed session",
			setup: func(s *Session) context.Context {
				_ = s.teardown()
				return nil
			},
			wantErr: ErrSessionClosed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSession()
			defer s.teardown()
			loadCtx := tc.setup(s)

			started := false
			pb := &fakePlayback{}
			err := s.ReplacePlayback(loadCtx, func() Playback {
				started = true
				return pb
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ReplacePlayback = %v, want %v", err, tc.wantErr)
			}
			if started != tc.wantStart {
				t.Errorf("start called = %v, want %v", started, tc.wantStart)
			}
			if tc.wantStart && s.Playback() != pb {
				t.Error("playback not installed")
			}
		})
	}
}

func TestSession_ReplaceStopsPrevious(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	defer s.teardown()

	a, b := &fakePlayback{}, &fakePlayback{}
	_ = s.ReplacePlayback(nil, func() Playback { return a })
	_ = s.ReplacePlayback(nil, func() Playback { return b })

	if a.stops.Load() != 1 {
		t.Errorf("previous playback stopped %d times, want 1", a.stops.Load())
	}
	if s.Playback() != b {
		t.Error("current playback is not the newest")
	}
	if s.ClearPlayback(a) {
		t.Error("ClearPlayback of a stale playback reported success")
	}
	if !s.ClearPlayback(b) || s.Playback() != nil {
		t.Error("ClearPlayback of the current playback did not detach it")
	}
}

func TestSession_TeardownStopsPlaybackAndIsIdempotent(t *testing.T) {
	t.Parallel()
	conn := mock.NewConnection("7")
	s := newSession("42", conn, 1)
	pb := &fakePlayback{}
	_ = s.ReplacePlayback(nil, func() Playback { return pb })

	for range 3 {
		if err := s.teardown(); err != nil {
			t.Fatalf("teardown: %v", err)
		}
	}
	if pb.stops.Load() != 1 {
		t.Errorf("playback stopped %d times, want 1", pb.stops.Load())
	}
	if conn.Disconnects() != 1 {
		t.Errorf("Disconnects = %d, want 1", conn.Disconnects())
	}
	if s.Playback() != nil {
		t.Error("playback still attached after teardown")
	}
}

func TestSession_Volume(t *testing.T) {
	t.Parallel()
	s := newTestSession()
	defer s.teardown()
	s.SetVolume(1.75)
	if got := s.Volume(); got != 1.75 {
		t.Errorf("Volume() = %v, want 1.75", got)
	}
}
