package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records postbox metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish with the number of matched subscriptions.
	RecordPublish(ctx context.Context, channel, topic string, matched int)

	// RecordDispatch records how long a dispatch took and whether it failed.
	RecordDispatch(ctx context.Context, channel, topic string, duration time.Duration, err error)

	// RecordCallbackFailure records a single failed callback.
	RecordCallbackFailure(ctx context.Context, channel, topic string, panicked bool)

	// RecordSubscriptions records a change in the number of live subscriptions.
	RecordSubscriptions(ctx context.Context, delta int64)

	// RecordComposition records a composition that completed its sequence.
	// windowExpired is true when the sequence completed outside its time window.
	RecordComposition(ctx context.Context, steps int, windowExpired bool)

	// RecordRequest records a request/response round trip.
	RecordRequest(ctx context.Context, channel, topic string, replied bool, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes        metric.Int64Counter
	deliveries       metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	dispatchErrors   metric.Int64Counter
	callbackFailures metric.Int64Counter
	subscriptions    metric.Int64UpDownCounter
	compositions     metric.Int64Counter
	requests         metric.Int64Counter
	requestLatency   metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("postbox")

	publishes, err := meter.Int64Counter("postbox.publish.count",
		metric.WithDescription("Number of published envelopes"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("postbox.delivery.count",
		metric.WithDescription("Number of callback deliveries attempted"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("postbox.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("postbox.dispatch.errors",
		metric.WithDescription("Number of dispatches with failed or skipped callbacks"),
	)
	if err != nil {
		return nil, err
	}

	callbackFailures, err := meter.Int64Counter("postbox.callback.failures",
		metric.WithDescription("Number of failed subscriber callbacks"),
	)
	if err != nil {
		return nil, err
	}

	subscriptions, err := meter.Int64UpDownCounter("postbox.subscriptions.active",
		metric.WithDescription("Number of live subscriptions"),
	)
	if err != nil {
		return nil, err
	}

	compositions, err := meter.Int64Counter("postbox.composition.completed",
		metric.WithDescription("Number of completed composition sequences"),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter("postbox.request.count",
		metric.WithDescription("Number of request/response round trips"),
	)
	if err != nil {
		return nil, err
	}

	requestLatency, err := meter.Float64Histogram("postbox.request.latency_ms",
		metric.WithDescription("Request/response latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:        publishes,
		deliveries:       deliveries,
		dispatchLatency:  dispatchLatency,
		dispatchErrors:   dispatchErrors,
		callbackFailures: callbackFailures,
		subscriptions:    subscriptions,
		compositions:     compositions,
		requests:         requests,
		requestLatency:   requestLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func routeAttrs(channel, topic string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("topic", topic),
	)
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, channel, topic string, matched int) {
	attrs := routeAttrs(channel, topic)
	m.publishes.Add(ctx, 1, attrs)
	m.deliveries.Add(ctx, int64(matched), attrs)
}

// RecordDispatch records dispatch latency and errors.
func (m *otelMetrics) RecordDispatch(ctx context.Context, channel, topic string, duration time.Duration, err error) {
	attrs := routeAttrs(channel, topic)
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.dispatchErrors.Add(ctx, 1, attrs)
	}
}

// RecordCallbackFailure records a failed callback.
func (m *otelMetrics) RecordCallbackFailure(ctx context.Context, channel, topic string, panicked bool) {
	m.callbackFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("topic", topic),
		attribute.Bool("panicked", panicked),
	))
}

// RecordSubscriptions records a change in live subscriptions.
func (m *otelMetrics) RecordSubscriptions(ctx context.Context, delta int64) {
	m.subscriptions.Add(ctx, delta)
}

// RecordComposition records a completed composition.
func (m *otelMetrics) RecordComposition(ctx context.Context, steps int, windowExpired bool) {
	m.compositions.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("steps", steps),
		attribute.Bool("window_expired", windowExpired),
	))
}

// RecordRequest records a request/response round trip.
func (m *otelMetrics) RecordRequest(ctx context.Context, channel, topic string, replied bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("topic", topic),
		attribute.Bool("replied", replied),
	)
	m.requests.Add(ctx, 1, attrs)
	m.requestLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}
