// Package observe provides application-wide observability primitives for
// voxwire: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Turn latency histograms ---

	// TurnFirstToken tracks time from user utterance to first streamed
	// response content.
	TurnFirstToken metric.Float64Histogram

	// TurnFinalText tracks time from user utterance to final response text.
	TurnFinalText metric.Float64Histogram

	// TurnTotal tracks time from user utterance to the end of response audio.
	TurnTotal metric.Float64Histogram

	// --- Counters ---

	// Reconnects counts socket reconnect attempts.
	Reconnects metric.Int64Counter

	// BargeIns counts finalized playback interruptions. Use with attribute:
	//   attribute.String("trigger", ...)
	BargeIns metric.Int64Counter

	// DroppedCaptureBlocks counts microphone blocks discarded because no
	// socket was open or a send failed.
	DroppedCaptureBlocks metric.Int64Counter

	// DecodeErrors counts inbound messages the envelope decoder rejected.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ConnectionUp is 1 while a socket is open, 0 otherwise.
	ConnectionUp metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational turn latencies.
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
	if met.TurnFirstToken, err = m.Float64Histogram("voxwire.turn.first_token",
		metric.WithDescription("Latency from user utterance to first streamed token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnFinalText, err = m.Float64Histogram("voxwire.turn.final_text",
		metric.WithDescription("Latency from user utterance to final response text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnTotal, err = m.Float64Histogram("voxwire.turn.total",
		metric.WithDescription("Latency from user utterance to end of response audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Reconnects, err = m.Int64Counter("voxwire.transport.reconnects",
		metric.WithDescription("Total socket reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxwire.bargein.events",
		metric.WithDescription("Total finalized barge-in events by trigger."),
	); err != nil {
		return nil, err
	}
	if met.DroppedCaptureBlocks, err = m.Int64Counter("voxwire.capture.dropped_blocks",
		metric.WithDescription("Total capture blocks dropped while no socket was open."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxwire.decode.errors",
		metric.WithDescription("Total inbound messages rejected by the envelope decoder."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ConnectionUp, err = m.Int64UpDownCounter("voxwire.transport.connection_up",
		metric.WithDescription("1 while a socket is open, 0 otherwise."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxwire.http.request.duration",
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

// RecordBargeIn records a finalized barge-in event with its trigger kind.
func (m *Metrics) RecordBargeIn(ctx context.Context, trigger string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordTurn records a completed turn's latency series in one call. Zero
// durations are skipped so synthesized turns do not distort the histograms.
func (m *Metrics) RecordTurn(ctx context.Context, firstToken, finalText, total float64) {
	if firstToken > 0 {
		m.TurnFirstToken.Record(ctx, firstToken)
	}
	if finalText > 0 {
		m.TurnFinalText.Record(ctx, finalText)
	}
	if total > 0 {
		m.TurnTotal.Record(ctx, total)
	}
}

// RecordDecodeError records one rejected inbound message.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}
