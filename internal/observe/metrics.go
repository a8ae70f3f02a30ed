// Package observe provides application-wide observability primitives for
// vcplay: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware for the ops server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vcplay metrics.
const meterName = "github.com/MrWong99/vcplay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Commands ---

	// CommandDuration tracks the time from receiving a command until its
	// reply text is known. Attributes: command, outcome.
	CommandDuration metric.Float64Histogram

	// Commands counts handled commands. Attributes: command, outcome.
	Commands metric.Int64Counter

	// --- Source pipeline ---

	// SourceResolveDuration tracks fetch plus decoder startup latency.
	// Attribute: outcome.
	SourceResolveDuration metric.Float64Histogram

	// SourceErrors counts failed resolutions. Attribute: kind
	// ("network", "decode", "breaker").
	SourceErrors metric.Int64Counter

	// FetchRetries counts retried fetch attempts. Attribute: host.
	FetchRetries metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActivePlaybacks tracks the number of running playback pumps.
	ActivePlaybacks metric.Int64UpDownCounter

	// ActivePipelines tracks the number of running decoder pipelines.
	ActivePipelines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops HTTP request processing time.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both quick replies and slow downloads.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("vcplay.command.duration",
		metric.WithDescription("Latency of slash command handling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("vcplay.commands",
		metric.WithDescription("Total handled commands by command and outcome."),
	); err != nil {
		return nil, err
	}

	if met.SourceResolveDuration, err = m.Float64Histogram("vcplay.source.resolve.duration",
		metric.WithDescription("Latency from fetch start until the first decoded frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SourceErrors, err = m.Int64Counter("vcplay.source.errors",
		metric.WithDescription("Total failed source resolutions by kind."),
	); err != nil {
		return nil, err
	}
	if met.FetchRetries, err = m.Int64Counter("vcplay.source.fetch.retries",
		metric.WithDescription("Total retried fetch attempts by host."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vcplay.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("vcplay.active_playbacks",
		metric.WithDescription("Number of running playbacks."),
	); err != nil {
		return nil, err
	}
	if met.ActivePipelines, err = m.Int64UpDownCounter("vcplay.active_pipelines",
		metric.WithDescription("Number of running decoder pipelines."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vcplay.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records the duration and count of one handled command.
func (m *Metrics) RecordCommand(ctx context.Context, command, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("outcome", outcome),
	)
	m.CommandDuration.Record(ctx, d.Seconds(), attrs)
	m.Commands.Add(ctx, 1, attrs)
}

// RecordSourceResolve records the latency of one source resolution.
func (m *Metrics) RecordSourceResolve(ctx context.Context, outcome string, d time.Duration) {
	m.SourceResolveDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSourceError increments the source error counter for kind.
func (m *Metrics) RecordSourceError(ctx context.Context, kind string) {
	m.SourceErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFetchRetry increments the retry counter for host.
func (m *Metrics) RecordFetchRetry(ctx context.Context, host string) {
	m.FetchRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("host", host)),
	)
}
