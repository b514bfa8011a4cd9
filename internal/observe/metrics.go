// Package observe wires verbe into OpenTelemetry: metric instruments, span
// helpers, trace-aware logging and the HTTP middleware for the daemon.
//
// Instruments are created against a [metric.MeterProvider]. Production code
// uses [DefaultMetrics], which binds to the global provider installed by
// [InitProvider]; tests build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/verbe"

// Metrics groups the instruments recorded by the voice engines, the
// controller and the HTTP surface. Safe for concurrent use.
type Metrics struct {
	CommandDuration     metric.Float64Histogram // stop to draft, seconds
	ImageDuration       metric.Float64Histogram // attributes: status
	LiveSessionDuration metric.Float64Histogram

	ProviderRequests metric.Int64Counter // provider, kind, status
	ProviderErrors   metric.Int64Counter // provider, kind
	ToolCalls        metric.Int64Counter // tool, status
	ModeStarts       metric.Int64Counter // mode

	ActiveLiveSessions metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram // route, status
}

var (
	// Image generation regularly takes close to a minute.
	latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180}
	sessionBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}
	httpBuckets    = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}
)

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		CommandDuration:     b.seconds("verbe.command.duration", "Latency from end of recording to draft in command mode.", latencyBuckets),
		ImageDuration:       b.seconds("verbe.image.duration", "Latency of image generation.", latencyBuckets),
		LiveSessionDuration: b.seconds("verbe.live.session.duration", "Duration of connected live sessions.", sessionBuckets),
		ProviderRequests:    b.counter("verbe.provider.requests", "Provider requests by provider, kind and status."),
		ProviderErrors:      b.counter("verbe.provider.errors", "Provider errors by provider and kind."),
		ToolCalls:           b.counter("verbe.tool.calls", "Live tool invocations by tool and status."),
		ModeStarts:          b.counter("verbe.mode.starts", "Voice mode starts by mode."),
		HTTPRequestDuration: b.seconds("verbe.http.request.duration", "HTTP request latency by route and status.", httpBuckets),
	}
	met.ActiveLiveSessions, b.err = orErr(b.err, func() (metric.Int64UpDownCounter, error) {
		return b.m.Int64UpDownCounter("verbe.live.active_sessions",
			metric.WithDescription("Connected live sessions."))
	})
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// builder keeps the first instrument error and skips creation afterwards.
type builder struct {
	m   metric.Meter
	err error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := orErr(b.err, func() (metric.Float64Histogram, error) {
		return b.m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	})
	b.err = err
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := orErr(b.err, func() (metric.Int64Counter, error) {
		return b.m.Int64Counter(name, metric.WithDescription(desc))
	})
	b.err = err
	return c
}

func orErr[T any](prev error, create func() (T, error)) (T, error) {
	if prev != nil {
		var zero T
		return zero, prev
	}
	return create()
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// DefaultMetrics returns the process-wide instruments bound to the global
// meter provider. The global provider delegates, so calling this before
// [InitProvider] is fine.
func DefaultMetrics() *Metrics { return defaultMetrics() }

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind)))
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
}

func (m *Metrics) RecordModeStart(ctx context.Context, mode string) {
	m.ModeStarts.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}
