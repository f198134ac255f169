// Package observability provides structured logging, metrics, and tracing
// helpers for postbox.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// LogSubscribe logs a new subscription.
func LogSubscribe(logger *slog.Logger, id, channel, topic string) {
	if logger == nil {
		return
	}
	logger.Debug("subscription added",
		slog.String("subscription_id", id),
		slog.String("channel", channel),
		slog.String("topic", topic),
	)
}

// LogUnsubscribe logs a released subscription.
func LogUnsubscribe(logger *slog.Logger, id string) {
	if logger == nil {
		return
	}
	logger.Debug("subscription released",
		slog.String("subscription_id", id),
	)
}

// LogPublish logs a completed dispatch.
func LogPublish(logger *slog.Logger, channel, topic string, delivered int, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("envelope published",
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.Int("delivered", delivered),
		slog.Float64("duration_ms", float64(duration.Microseconds())/1000),
	)
}

// LogCallbackFailure logs a subscriber callback that failed during dispatch.
func LogCallbackFailure(logger *slog.Logger, subscriptionID, channel, topic string, err error, panicked bool) {
	if logger == nil {
		return
	}
	logger.Warn("subscriber callback failed",
		slog.String("subscription_id", subscriptionID),
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.Bool("panicked", panicked),
		slog.String("error", err.Error()),
	)
}

// LogDispatchSkipped logs callbacks that never started because the publish was cancelled.
func LogDispatchSkipped(logger *slog.Logger, channel, topic string, skipped int, cause error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.Int("skipped", skipped),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	logger.Debug("dispatch cancelled", attrs...)
}

// LogJournalError logs a failure to record a callback failure (non-fatal).
func LogJournalError(logger *slog.Logger, subscriptionID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("failure journal write failed",
		slog.String("subscription_id", subscriptionID),
		slog.String("error", err.Error()),
	)
}

// LogCompositionComplete logs a composition whose sequence completed.
func LogCompositionComplete(logger *slog.Logger, subscriptionID string, steps int, windowExpired bool) {
	if logger == nil {
		return
	}
	logger.Debug("composition completed",
		slog.String("subscription_id", subscriptionID),
		slog.Int("steps", steps),
		slog.Bool("window_expired", windowExpired),
	)
}

// LogRequestTimeout logs a request that received no reply in time.
func LogRequestTimeout(logger *slog.Logger, channel, topic, correlationID string, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("request timed out",
		slog.String("channel", channel),
		slog.String("topic", topic),
		slog.String("correlation_id", correlationID),
		slog.Duration("timeout", timeout),
	)
}
