// Package app wires the vcplay subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the voice registry,
// source resolver, playback controller and command dispatcher from the
// config, Run serves the ops HTTP endpoints, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithDecoder,
// WithMetrics, etc.). The audio platform and presence lookup are always
// supplied by the caller, normally the Discord bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vcplay/internal/config"
	"github.com/MrWong99/vcplay/internal/dispatch"
	"github.com/MrWong99/vcplay/internal/health"
	"github.com/MrWong99/vcplay/internal/observe"
	"github.com/MrWong99/vcplay/internal/playback"
	"github.com/MrWong99/vcplay/internal/source"
	"github.com/MrWong99/vcplay/internal/voice"
	"github.com/MrWong99/vcplay/pkg/audio"
)

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	platform audio.Platform
	presence dispatch.Presence
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	decoder  source.Decoder
	checkers []health.Checker

	// Subsystems, initialised in New and torn down in Shutdown.
	resolver   *source.Resolver
	registry   *voice.Registry
	player     *playback.Controller
	dispatcher *dispatch.Dispatcher

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithDecoder replaces the ffmpeg decoder.
func WithDecoder(d source.Decoder) Option {
	return func(a *App) { a.decoder = d }
}

// WithChecker adds a readiness check to the ops server.
func WithChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithCloser registers fn to run during Shutdown after the subsystems are
// stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. platform opens voice
// connections and presence answers which channel a user is in.
func New(cfg *config.Config, platform audio.Platform, presence dispatch.Presence, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if platform == nil || presence == nil {
		return nil, errors.New("app: platform and presence are required")
	}

	a := &App{
		cfg:      cfg,
		platform: platform,
		presence: presence,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.decoder == nil {
		a.decoder = source.FFmpeg(cfg.Source.FFmpegPath)
		a.checkers = append(a.checkers, health.Executable("ffmpeg", cfg.Source.FFmpegPath))
	}

	a.resolver = source.New(sourceConfig(cfg.Source),
		source.WithDecoder(a.decoder),
		source.WithMetrics(a.metrics),
	)
	a.registry = voice.NewRegistry(platform,
		voice.WithMetrics(a.metrics),
		voice.WithDefaultVolume(cfg.Playback.DefaultVolume),
	)
	a.player = playback.NewController(playback.WithMetrics(a.metrics))
	a.dispatcher = dispatch.New(dispatch.Config{
		Registry: a.registry,
		Resolver: a.resolver,
		Player:   a.player,
		Presence: presence,
		Metrics:  a.metrics,
	})

	slog.Info("app: initialised",
		"max_pipelines", cfg.Source.MaxPipelines,
		"default_volume", cfg.Playback.DefaultVolume,
	)
	return a, nil
}

// sourceConfig maps the config file section onto the resolver's settings.
func sourceConfig(c config.SourceConfig) source.Config {
	return source.Config{
		StartupTimeout:   c.StartupTimeout,
		MaxPipelines:     c.MaxPipelines,
		SpawnRate:        c.SpawnRate,
		MaxDownloadBytes: c.MaxDownloadBytes,
		MaxAttempts:      c.Retry.MaxAttempts,
		InitialInterval:  c.Retry.InitialInterval,
		MaxInterval:      c.Retry.MaxInterval,
		BreakerFailures:  c.Breaker.MaxFailures,
		BreakerReset:     c.Breaker.ResetTimeout,
	}
}

// Dispatcher returns the command dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Registry returns the voice session registry.
func (a *App) Registry() *voice.Registry { return a.registry }

// Resolver returns the audio source resolver.
func (a *App) Resolver() *source.Resolver { return a.resolver }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next and returns what changed.
// Settings that need a restart are logged and otherwise ignored.
func (a *App) Reload(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	defer a.mu.Unlock()

	diff := config.Diff(a.cfg, next)
	if diff.Empty() {
		return diff
	}

	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}
	if diff.DefaultVolumeChanged {
		a.registry.SetDefaultVolume(diff.NewDefaultVolume)
		slog.Info("app: default volume changed", "volume", diff.NewDefaultVolume)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "fields", diff.RestartRequired)
	}

	// Only the applied fields take effect; keep the rest as started.
	applied := *a.cfg
	applied.Server.LogLevel = next.Server.LogLevel
	applied.Playback = next.Playback
	a.cfg = &applied
	return diff
}

// SlogLevel converts a config log level to a [slog.Level].
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Ops server ──────────────────────────────────────────────────────────────

// Handler returns the ops HTTP handler: /healthz, /readyz and /metrics,
// instrumented with request metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Run serves the ops endpoints on server.listen_addr until ctx is cancelled.
// With no listen address it only waits for ctx.
func (a *App) Run(ctx context.Context) error {
	addr := a.Config().Server.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("app: ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: ops server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown disconnects every voice session, waits for playbacks to stop and
// runs the registered closers. It respects the context deadline: if ctx
// expires first, remaining steps are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "sessions", a.registry.Len(), "closers", len(a.closers))

		if err := a.registry.Close(); err != nil {
			slog.Warn("app: voice disconnect error", "err", err)
		}

		drained := make(chan struct{})
		go func() {
			a.player.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			slog.Warn("app: shutdown deadline exceeded while stopping playbacks")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
