// Package source turns a remote audio resource into a [Stream] of PCM frames.
//
// A [Resolver] downloads the resource over HTTP with retries and a per-host
// circuit breaker, pipes the body through a [Decoder] (ffmpeg by default)
// and hands out a pull-based stream once the first frame has been decoded.
// The number of concurrently running pipelines and the rate at which new
// decoders are spawned are both bounded.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/MrWong99/vcplay/internal/observe"
	"github.com/MrWong99/vcplay/internal/resilience"
)

// Config tunes a [Resolver]. Zero values fall back to the defaults noted on
// each field.
type Config struct {
	// StartupTimeout bounds the wait for the first decoded frame. Default: 10s.
	StartupTimeout time.Duration

	// MaxPipelines caps concurrently open streams. Default: 8.
	MaxPipelines int

	// SpawnRate limits decoder starts per second. Default: 4.
	SpawnRate float64

	// MaxDownloadBytes truncates the download after this many bytes.
	// Zero means unlimited.
	MaxDownloadBytes int64

	// MaxAttempts is the number of fetch tries including the first. Default: 3.
	MaxAttempts int

	// InitialInterval and MaxInterval shape the retry backoff.
	// Defaults: 250ms and 2s.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// BreakerFailures and BreakerReset configure the per-host circuit
	// breaker. Defaults: 5 and 30s.
	BreakerFailures int
	BreakerReset    time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.MaxPipelines <= 0 {
		c.MaxPipelines = 8
	}
	if c.SpawnRate == 0 {
		c.SpawnRate = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 250 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 30 * time.Second
	}
	return c
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithDecoder replaces the decoder. The default is [FFmpeg] from PATH.
func WithDecoder(d Decoder) Option {
	return func(r *Resolver) { r.decoder = d }
}

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// Resolver resolves URLs into [Stream]s. It is safe for concurrent use.
type Resolver struct {
	cfg      Config
	client   *http.Client
	decoder  Decoder
	metrics  *observe.Metrics
	slots    *semaphore.Weighted
	limiter  *rate.Limiter
	breakers *resilience.BreakerSet
	active   atomic.Int64
}

// New creates a [Resolver].
func New(cfg Config, opts ...Option) *Resolver {
	cfg = cfg.withDefaults()

	limit := rate.Limit(cfg.SpawnRate)
	if cfg.SpawnRate < 0 {
		limit = rate.Inf
	}
	burst := max(1, int(math.Ceil(cfg.SpawnRate)))

	r := &Resolver{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 15 * time.Second,
				MaxIdleConnsPerHost:   cfg.MaxPipelines,
			},
		},
		decoder: FFmpeg(""),
		slots:   semaphore.NewWeighted(int64(cfg.MaxPipelines)),
		limiter: rate.NewLimiter(limit, burst),
		breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			Name:         "fetch",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    Retryable,
		}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Active returns the number of streams currently holding a pipeline slot.
func (r *Resolver) Active() int {
	return int(r.active.Load())
}

// Resolve fetches rawURL and starts decoding it. The returned stream has
// already produced its first frame. Failures wrap [ErrNetwork] or
// [ErrDecode]; cancellation of ctx is returned as the context error.
//
// ctx only bounds the resolution itself. Once Resolve returns, the stream
// lives until it is closed.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (_ Stream, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "source.Resolve")
	defer span.End()
	defer func() { r.record(ctx, start, err) }()

	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("source.host", u.Host))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("source: wait for pipeline slot: %w", err)
	}
	release := r.hold()
	owned := false
	defer func() {
		if !owned {
			release()
		}
	}()

	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("source: wait for spawn budget: %w", ctxErr)
		}
		return nil, fmt.Errorf("source: wait for spawn budget: %w", err)
	}

	// The download must outlive ctx once the stream is handed out, so it
	// runs under its own context that ctx cancels only until then.
	fetchCtx, cancelFetch := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(ctx, cancelFetch)

	body, err := r.fetch(fetchCtx, u)
	if err != nil {
		unlink()
		cancelFetch()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("source: fetch: %w", ctxErr)
		}
		return nil, err
	}

	var in io.Reader = body
	if r.cfg.MaxDownloadBytes > 0 {
		in = io.LimitReader(body, r.cfg.MaxDownloadBytes)
	}
	pipe, err := r.decoder.Start(in)
	if err != nil {
		unlink()
		cancelFetch()
		_ = body.Close()
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	s := &pcmStream{pipe: pipe, body: body, cancel: cancelFetch, release: release}
	owned = true

	startCtx, cancelStart := context.WithTimeout(ctx, r.cfg.StartupTimeout)
	err = s.prime(startCtx)
	cancelStart()
	linked := unlink()

	if ctxErr := ctx.Err(); ctxErr != nil || !linked {
		_ = s.Close()
		if ctxErr == nil {
			ctxErr = context.Canceled
		}
		return nil, fmt.Errorf("source: decoder startup: %w", ctxErr)
	}
	if err != nil {
		_ = s.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no audio within %v", ErrDecode, r.cfg.StartupTimeout)
		}
		return nil, err
	}
	return s, nil
}

// hold accounts for an acquired slot and returns its idempotent release.
func (r *Resolver) hold() func() {
	r.active.Add(1)
	r.metrics.ActivePipelines.Add(context.Background(), 1)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.active.Add(-1)
			r.metrics.ActivePipelines.Add(context.Background(), -1)
			r.slots.Release(1)
		})
	}
}

func (r *Resolver) fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	breaker := r.breakers.Get(u.Host)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval

	attempt := func() (*http.Response, error) {
		var resp *http.Response
		err := breaker.Execute(func() error {
			var err error
			resp, err = r.get(ctx, u)
			return err
		})
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) || !Retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("source: retrying fetch", "host", u.Host, "wait", wait, "err", err)
			r.metrics.RecordFetchRetry(ctx, u.Host)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s%s: %w: %w", u.Host, u.Path, ErrNetwork, err)
	}
	return resp.Body, nil
}

func (r *Resolver) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

func (r *Resolver) record(ctx context.Context, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		outcome = "breaker"
	case errors.Is(err, ErrNetwork):
		outcome = "network"
	case errors.Is(err, ErrDecode):
		outcome = "decode"
	default:
		outcome = "canceled"
	}
	r.metrics.RecordSourceResolve(ctx, outcome, time.Since(start))
	if err != nil && outcome != "canceled" {
		r.metrics.RecordSourceError(ctx, outcome)
		slog.Warn("source: resolve failed", "outcome", outcome, "err", err)
	}
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("source: parse url: %w: %w", ErrNetwork, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("source: unsupported url scheme %q: %w", u.Scheme, ErrNetwork)
	}
	return u, nil
}
