// Package dispatch maps slash commands to voice session operations.
//
// A [Dispatcher] handles one [Request] at a time per call and always
// produces exactly one reply text. Failures are typed errors internally and
// translated to user-facing replies at this boundary; nothing a user sends
// can crash the process.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/vcplay/internal/observe"
	"github.com/MrWong99/vcplay/internal/playback"
	"github.com/MrWong99/vcplay/internal/source"
	"github.com/MrWong99/vcplay/internal/voice"
)

// Resolver turns a URL into a decoded stream.
type Resolver interface {
	Resolve(ctx context.Context, url string) (source.Stream, error)
}

// Config holds the collaborators of a [Dispatcher]. All fields except
// Metrics are required.
type Config struct {
	Registry *voice.Registry
	Resolver Resolver
	Player   *playback.Controller
	Presence Presence

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Dispatcher executes commands. It is safe for concurrent use.
type Dispatcher struct {
	registry *voice.Registry
	resolver Resolver
	player   *playback.Controller
	presence Presence
	metrics  *observe.Metrics
}

// New creates a [Dispatcher].
func New(cfg Config) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		resolver: cfg.Resolver,
		player:   cfg.Player,
		presence: cfg.Presence,
		metrics:  m,
	}
}

// Handle executes req and returns the reply for the invoking user.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (reply string) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch."+req.Name)
	defer span.End()
	span.SetAttributes(
		attribute.String("command", req.Name),
		attribute.String("group_id", req.GroupID),
	)
	log := observe.Logger(ctx).With("command", req.Name, "group_id", req.GroupID, "user_id", req.UserID)

	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch: panic while handling command", "panic", r, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			reply, outcome = ReplyInternal, "panic"
		}
		d.metrics.RecordCommand(ctx, req.Name, outcome, time.Since(start))
	}()

	reply, err := d.run(ctx, req)
	if err == nil {
		log.Info("dispatch: command handled")
		return reply
	}

	reply, outcome = classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	switch outcome {
	case "internal", "connect", "attach", "network", "decode", "timeout":
		log.Warn("dispatch: command failed", "outcome", outcome, "err", err)
	default:
		log.Info("dispatch: command rejected", "outcome", outcome, "err", err)
	}
	return reply
}

func (d *Dispatcher) run(ctx context.Context, req Request) (string, error) {
	switch req.Name {
	case CommandJoin:
		return d.join(ctx, req)
	case CommandPlay:
		return d.play(ctx, req)
	case CommandStop:
		return d.stop(ctx, req)
	case CommandVolume:
		return d.volume(req)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, req.Name)
	}
}

func (d *Dispatcher) join(ctx context.Context, req Request) (string, error) {
	if req.GroupID == "" {
		return "", ErrMissingGroupContext
	}
	channelID, ok := d.presence.ChannelOf(req.GroupID, req.UserID)
	if !ok || channelID == "" {
		return "", ErrNotInVoiceChannel
	}
	if _, err := d.registry.Connect(ctx, req.GroupID, channelID); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("dispatch: join: %w", ctxErr)
		}
		return "", fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return ReplyJoined, nil
}

func (d *Dispatcher) play(ctx context.Context, req Request) (string, error) {
	if req.GroupID == "" {
		return "", ErrMissingGroupContext
	}
	att, ok := req.Options[OptionFile].(Attachment)
	if !ok || att.URL == "" {
		return "", &OptionError{Name: OptionFile, Reason: "an attachment is required"}
	}
	s, ok := d.registry.Get(req.GroupID)
	if !ok {
		return "", ErrNoActiveSession
	}

	loadCtx, finish := s.BeginLoad(ctx)
	defer finish()

	stream, err := d.resolver.Resolve(loadCtx, att.URL)
	if err != nil {
		if cause := loadCause(loadCtx); cause != nil {
			return "", cause
		}
		return "", err
	}

	if _, err := d.player.Attach(loadCtx, s, stream, s.Volume()); err != nil {
		if errors.Is(err, voice.ErrSuperseded) || errors.Is(err, voice.ErrSessionClosed) {
			return "", err
		}
		if cause := loadCause(loadCtx); cause != nil {
			return "", cause
		}
		return "", fmt.Errorf("%w: %w", ErrAttach, err)
	}
	return ReplyPlaying, nil
}

// loadCause explains why a load context ended early, or nil if it did not.
func loadCause(loadCtx context.Context) error {
	if loadCtx.Err() == nil {
		return nil
	}
	return context.Cause(loadCtx)
}

func (d *Dispatcher) stop(ctx context.Context, req Request) (string, error) {
	if req.GroupID == "" {
		return "", ErrMissingGroupContext
	}
	if err := d.registry.Disconnect(req.GroupID); err != nil {
		// The session is gone from the registry either way.
		observe.Logger(ctx).Warn("dispatch: disconnect reported an error", "group_id", req.GroupID, "err", err)
	}
	return ReplyBye, nil
}

func (d *Dispatcher) volume(req Request) (string, error) {
	if req.GroupID == "" {
		return "", ErrMissingGroupContext
	}
	percent, ok := intOption(req.Options[OptionPercent])
	if !ok || percent < 0 || percent > 200 {
		return "", &OptionError{Name: OptionPercent, Reason: "must be an integer between 0 and 200"}
	}
	s, ok := d.registry.Get(req.GroupID)
	if !ok {
		return "", ErrNoActiveSession
	}

	v := float32(percent) / 100
	s.SetVolume(v)
	if h, ok := s.Playback().(*playback.Handle); ok {
		if err := d.player.SetVolume(h, v); err != nil {
			return "", fmt.Errorf("dispatch: volume: %w", err)
		}
	}
	return fmt.Sprintf(replyVolumeSetFormat, percent), nil
}

func intOption(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
