// Package reqrep layers request/response on top of a postbox bus.
//
// A request wraps its payload in a *Message carrying a fresh correlation ID
// and waits on a private subscription whose channel and topic are both that
// ID. A responder calls Reply with the request envelope, which publishes the
// answer to the private subscription.
//
//	box.Subscribe("math", "square", func(ctx context.Context, env postbox.Envelope) error {
//	    n := reqrep.Unwrap(env).(int)
//	    return reqrep.Reply(ctx, box, env, n*n)
//	})
//
//	reply, ok, err := reqrep.Request(ctx, box, "math", "square", 7)
//	// reply == 49, ok == true
//
// No reply within the timeout is not an error: Request returns ok == false.
package reqrep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/observability"
)

// DefaultTimeout is how long Request waits for a reply by default.
const DefaultTimeout = 5 * time.Second

// ErrNotRequest is returned by Reply when the envelope does not carry a request.
var ErrNotRequest = fmt.Errorf("%w: envelope is not a request", postbox.ErrInvalidArgument)

// Message is the payload of requests and replies.
type Message struct {
	CorrelationID string `json:"correlation_id"`
	Data          any    `json:"data,omitempty"`
}

type requestConfig struct {
	timeout time.Duration
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	logger  *slog.Logger
}

// Option configures a request.
type Option func(*requestConfig)

// WithTimeout sets how long to wait for a reply.
// Default: DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records request count and latency.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *requestConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing wraps each request in a span.
func WithTracing(enabled bool) Option {
	return func(c *requestConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithLogger logs timed-out requests at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *requestConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Request publishes data on (channel, topic) and waits for a reply.
//
// It returns (reply, true, nil) when a reply arrives and (nil, false, nil)
// when the timeout elapses first. Argument errors and errors from starting
// the publish are returned as err; if ctx is done before a reply, ctx.Err()
// is returned. The private reply subscription is always released before
// Request returns.
func Request(ctx context.Context, bus postbox.Bus, channel, topic string, data any, opts ...Option) (reply any, ok bool, err error) {
	if bus == nil {
		return nil, false, fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}

	cfg := requestConfig{
		timeout: DefaultTimeout,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		logger:  observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := uuid.NewString()
	ctx, span := cfg.spans.StartRequestSpan(ctx, channel, topic, id)
	defer func() { cfg.spans.EndSpanWithError(span, err) }()

	start := time.Now()
	defer func() {
		if err == nil {
			cfg.metrics.RecordRequest(ctx, channel, topic, ok, time.Since(start))
		}
	}()

	replies := make(chan any, 1)
	var once sync.Once
	sub, err := bus.Subscribe(id, id, func(_ context.Context, env postbox.Envelope) error {
		msg, isMsg := env.Data.(*Message)
		if !isMsg {
			return nil
		}
		once.Do(func() { replies <- msg.Data })
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	defer sub.Unsubscribe()

	// Delivery runs in the background; its outcome belongs to the responders.
	if _, err := bus.PublishAsync(ctx, channel, topic, &Message{CorrelationID: id, Data: data}); err != nil {
		return nil, false, err
	}

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		cfg.spans.AddSpanEvent(ctx, "reply received")
		return r, true, nil
	case <-timer.C:
		observability.LogRequestTimeout(cfg.logger, channel, topic, id, cfg.timeout)
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// RequestAs is Request with the reply converted to T. A reply of another
// type is reported as an error; a timeout yields the zero T and ok == false.
func RequestAs[T any](ctx context.Context, bus postbox.Bus, channel, topic string, data any, opts ...Option) (T, bool, error) {
	var zero T
	reply, ok, err := Request(ctx, bus, channel, topic, data, opts...)
	if err != nil || !ok {
		return zero, ok, err
	}
	if reply == nil {
		return zero, true, nil
	}
	typed, isT := reply.(T)
	if !isT {
		return zero, true, fmt.Errorf("reply has type %T, want %T", reply, zero)
	}
	return typed, true, nil
}

// Reply answers the request carried by env.
// It returns ErrNotRequest when env does not carry a *Message.
func Reply(ctx context.Context, bus postbox.Bus, env postbox.Envelope, data any) error {
	if bus == nil {
		return fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}
	req, isReq := env.Data.(*Message)
	if !isReq || req == nil {
		return ErrNotRequest
	}
	_, err := bus.PublishAsync(ctx, req.CorrelationID, req.CorrelationID, &Message{
		CorrelationID: req.CorrelationID,
		Data:          data,
	})
	return err
}

// IsRequest reports whether env carries a request or reply.
func IsRequest(env postbox.Envelope) bool {
	msg, ok := env.Data.(*Message)
	return ok && msg != nil
}

// Unwrap returns the payload inside a request or reply, or env.Data
// unchanged for ordinary envelopes.
func Unwrap(env postbox.Envelope) any {
	if msg, ok := env.Data.(*Message); ok && msg != nil {
		return msg.Data
	}
	return env.Data
}
