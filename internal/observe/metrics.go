// Package observe provides observability primitives for the device runtime:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// for the local status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via /metrics. A package-level default [Metrics] instance ([DefaultMetrics])
// is provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all device metrics.
const meterName = "github.com/MrWong99/glyphoxa-edge"

// Queue names used with [Metrics.RecordDroppedPacket].
const (
	QueueOutbound  = "outbound"
	QueueDecode    = "decode"
	QueueTimestamp = "timestamp"
)

// Metrics holds all OpenTelemetry metric instruments for the runtime.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Codec latency ---

	// EncodeDuration tracks the time to encode one captured frame.
	EncodeDuration metric.Float64Histogram

	// DecodeDuration tracks decode + resample + render of one inbound frame.
	DecodeDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts device state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// DroppedPackets counts audio packets discarded by a queue policy. Use
	// with attribute:
	//   attribute.String("queue", ...)
	DroppedPackets metric.Int64Counter

	// SendFailures counts failed transmissions. Use with attribute:
	//   attribute.String("kind", "audio"|"control")
	SendFailures metric.Int64Counter

	// ChannelOpens counts audio channel open attempts. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ChannelOpens metric.Int64Counter

	// ToolCalls counts device tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// OTAChecks counts version checks. Use with attribute:
	//   attribute.String("status", ...)
	OTAChecks metric.Int64Counter

	// --- Gauges ---

	// ExecutorPending reports queued plus running background jobs.
	ExecutorPending metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// codecBuckets defines histogram bucket boundaries (in seconds) for per-frame
// codec work, which must stay well below one 60 ms frame.
var codecBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.06, 0.1, 0.25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("glyphoxa_edge.encode.duration",
		metric.WithDescription("Latency of encoding one captured audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(codecBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeDuration, err = m.Float64Histogram("glyphoxa_edge.decode.duration",
		metric.WithDescription("Latency of decoding and rendering one inbound audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(codecBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StateTransitions, err = m.Int64Counter("glyphoxa_edge.state.transitions",
		metric.WithDescription("Total device state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPackets, err = m.Int64Counter("glyphoxa_edge.audio.dropped_packets",
		metric.WithDescription("Total audio packets dropped by queue policy."),
	); err != nil {
		return nil, err
	}
	if met.SendFailures, err = m.Int64Counter("glyphoxa_edge.protocol.send_failures",
		metric.WithDescription("Total failed protocol sends by kind."),
	); err != nil {
		return nil, err
	}
	if met.ChannelOpens, err = m.Int64Counter("glyphoxa_edge.protocol.channel_opens",
		metric.WithDescription("Total audio channel open attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("glyphoxa_edge.tool.calls",
		metric.WithDescription("Total device tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.OTAChecks, err = m.Int64Counter("glyphoxa_edge.ota.checks",
		metric.WithDescription("Total firmware version checks by status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ExecutorPending, err = m.Int64Gauge("glyphoxa_edge.executor.pending",
		metric.WithDescription("Background executor jobs queued or running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("glyphoxa_edge.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordStateTransition records one device state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDroppedPacket records one packet dropped by queue.
func (m *Metrics) RecordDroppedPacket(ctx context.Context, queue string) {
	m.DroppedPackets.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordSendFailure records one failed send of the given kind.
func (m *Metrics) RecordSendFailure(ctx context.Context, kind string) {
	m.SendFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordChannelOpen records an audio channel open attempt.
func (m *Metrics) RecordChannelOpen(ctx context.Context, status string) {
	m.ChannelOpens.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordOTACheck records one firmware version check.
func (m *Metrics) RecordOTACheck(ctx context.Context, status string) {
	m.OTAChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
