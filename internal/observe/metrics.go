// Package observe provides application-wide observability primitives for
// chorus: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chorus metrics.
const meterName = "github.com/driftglass/chorus"

// Metrics holds all OpenTelemetry metric instruments for the connection
// runtime. All fields are safe for concurrent use — the underlying OTel
// types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from dial start to TCP/TLS connected.
	ConnectDuration metric.Float64Histogram

	// CommitDuration tracks MLS commit processing latency.
	CommitDuration metric.Float64Histogram

	// RTPSendJitter tracks the deviation between intended and actual RTP
	// packet release time under the "recorded" pacing strategy.
	RTPSendJitter metric.Float64Histogram

	// --- Counters ---

	// ConnectRetries counts connect-retry attempts. Use with attributes:
	//   attribute.String("remote", ...)
	ConnectRetries metric.Int64Counter

	// AEADFailures counts AEAD open failures on received RTP packets. Use
	// with attributes: attribute.Int64("ssrc", ...)
	AEADFailures metric.Int64Counter

	// EpochTransitions counts completed DAVE epoch transitions. Use with
	// attribute: attribute.String("group_id", ...)
	EpochTransitions metric.Int64Counter

	// --- Error counters ---

	// ConnectionErrors counts terminal connection errors by kind. Use with
	// attributes: attribute.String("kind", ...)
	ConnectionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live TLS/plaintext connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveVoiceSessions tracks the number of live voice sessions.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("chorus.connect.duration",
		metric.WithDescription("Latency from dial start to connected state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommitDuration, err = m.Float64Histogram("chorus.mls.commit.duration",
		metric.WithDescription("Latency of MLS commit processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RTPSendJitter, err = m.Float64Histogram("chorus.voice.rtp.send_jitter",
		metric.WithDescription("Deviation between intended and actual RTP packet release time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ConnectRetries, err = m.Int64Counter("chorus.connect.retries",
		metric.WithDescription("Total TCP/TLS connect retries by remote."),
	); err != nil {
		return nil, err
	}
	if met.AEADFailures, err = m.Int64Counter("chorus.voice.aead_failures",
		metric.WithDescription("Total AEAD open failures on received RTP packets."),
	); err != nil {
		return nil, err
	}
	if met.EpochTransitions, err = m.Int64Counter("chorus.dave.epoch_transitions",
		metric.WithDescription("Total completed DAVE epoch transitions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ConnectionErrors, err = m.Int64Counter("chorus.connection.errors",
		metric.WithDescription("Total terminal connection errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("chorus.active_connections",
		metric.WithDescription("Number of live TLS/plaintext connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("chorus.active_voice_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chorus.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnectRetry is a convenience method that records a connect-retry
// counter increment for the given remote address.
func (m *Metrics) RecordConnectRetry(ctx context.Context, remote string) {
	m.ConnectRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("remote", remote)),
	)
}

// RecordAEADFailure is a convenience method that records an AEAD open
// failure for the given SSRC.
func (m *Metrics) RecordAEADFailure(ctx context.Context, ssrc uint32) {
	m.AEADFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.Int64("ssrc", int64(ssrc))),
	)
}

// RecordEpochTransition is a convenience method that records a completed
// DAVE epoch transition for the given group.
func (m *Metrics) RecordEpochTransition(ctx context.Context, groupID string) {
	m.EpochTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("group_id", groupID)),
	)
}

// RecordConnectionError is a convenience method that records a terminal
// connection error by kind (see the error taxonomy in package transport).
func (m *Metrics) RecordConnectionError(ctx context.Context, kind string) {
	m.ConnectionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
