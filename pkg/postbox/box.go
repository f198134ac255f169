package postbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/postbox/pkg/postbox/journal"
	"github.com/randalmurphal/postbox/pkg/postbox/observability"
)

// Bus is the contract every postbox component depends on.
// *Box implements it; Intercept wraps one.
type Bus interface {
	// Subscribe registers handler for envelopes matching the channel and topic patterns.
	Subscribe(channel, topic string, handler Handler) (Subscription, error)

	// SubscribeWhen is Subscribe with an additional filter.
	SubscribeWhen(channel, topic string, handler Handler, filter Filter) (Subscription, error)

	// Publish delivers data to every matching subscription and waits for all callbacks.
	Publish(ctx context.Context, channel, topic string, data any) error

	// PublishAsync starts delivery and returns immediately.
	PublishAsync(ctx context.Context, channel, topic string, data any) (*Delivery, error)
}

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// ID returns the subscription identifier.
	ID() string

	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe()
}

// Box is the in-process message bus.
//
// A Box is safe for concurrent use. Publishing and subscribing may happen
// from any goroutine, including from inside a callback.
type Box struct {
	registry  Registry
	publisher Publisher
	matcher   Matcher
	journal   journal.Journal

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Compile-time interface check.
var _ Bus = (*Box)(nil)

// New creates a Box. Without options it uses a MemoryRegistry with the
// default WildcardMatcher, a ParallelPublisher, and no logging, metrics,
// tracing, or journal.
func New(opts ...Option) *Box {
	b := &Box{
		publisher: ParallelPublisher{},
		logger:    observability.DiscardLogger(),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.matcher == nil {
		b.matcher = DefaultMatcher()
	}
	if b.registry == nil {
		b.registry = NewMemoryRegistry(b.matcher)
	}
	return b
}

// Subscribe implements Bus.
func (b *Box) Subscribe(channel, topic string, handler Handler) (Subscription, error) {
	return b.SubscribeWhen(channel, topic, handler, nil)
}

// SubscribeWhen implements Bus. A nil filter accepts every envelope.
func (b *Box) SubscribeWhen(channel, topic string, handler Handler, filter Filter) (Subscription, error) {
	if err := validatePattern("channel", channel); err != nil {
		return nil, err
	}
	if err := validatePattern("topic", topic); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, invalidArgument("handler is required")
	}

	rec, err := b.registry.Subscribe(channel, topic, handler, filter)
	if err != nil {
		return nil, err
	}

	observability.LogSubscribe(b.logger, rec.ID, channel, topic)
	b.metrics.RecordSubscriptions(context.Background(), 1)

	return &handle{id: rec.ID, box: b}, nil
}

// Publish implements Bus.
//
// Publish blocks until every matched callback has finished. Callback failures
// do not stop delivery to other subscribers; they are logged, recorded in the
// journal if one is configured, and returned together as a *DispatchError.
// Publishing with no matching subscriptions is not an error.
func (b *Box) Publish(ctx context.Context, channel, topic string, data any) error {
	if err := validateName("channel", channel); err != nil {
		return err
	}
	if err := validateName("topic", topic); err != nil {
		return err
	}
	return b.publish(ctx, NewEnvelope(channel, topic, data))
}

func (b *Box) publish(ctx context.Context, env Envelope) (err error) {
	ctx, span := b.spans.StartPublishSpan(ctx, env.Channel, env.Topic)
	defer func() { b.spans.EndSpanWithError(span, err) }()

	start := time.Now()

	records, err := b.registry.Match(env)
	var rejected []*CallbackError
	if err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			return err
		}
		rejected = de.Failures
	}
	b.metrics.RecordPublish(ctx, env.Channel, env.Topic, len(records))

	err = withFailures(env, b.publisher.Dispatch(ctx, records, env), rejected)
	duration := time.Since(start)
	b.metrics.RecordDispatch(ctx, env.Channel, env.Topic, duration, err)

	if err != nil {
		b.report(ctx, err)
	}
	observability.LogPublish(b.logger, env.Channel, env.Topic, len(records), duration)
	return err
}

// report logs, counts, and journals the failures carried by a dispatch error.
func (b *Box) report(ctx context.Context, err error) {
	for _, f := range CallbackFailures(err) {
		observability.LogCallbackFailure(b.logger, f.SubscriptionID, f.Channel, f.Topic, f.Err, f.Panicked)
		b.metrics.RecordCallbackFailure(ctx, f.Channel, f.Topic, f.Panicked)

		if b.journal == nil {
			continue
		}
		entry := journal.Entry{
			SubscriptionID: f.SubscriptionID,
			Channel:        f.Channel,
			Topic:          f.Topic,
			Error:          f.Err.Error(),
			Panicked:       f.Panicked,
			FailedAt:       time.Now().UTC(),
		}
		// The publish context may already be done; journaling must still happen.
		if jerr := b.journal.Record(context.WithoutCancel(ctx), entry); jerr != nil {
			observability.LogJournalError(b.logger, f.SubscriptionID, jerr)
		}
	}

	var de *DispatchError
	if errors.As(err, &de) && de.Skipped > 0 {
		observability.LogDispatchSkipped(b.logger, de.Channel, de.Topic, de.Skipped, de.Cause)
	}
}

// PublishAsync implements Bus.
//
// Argument errors are returned immediately. Delivery then runs in its own
// goroutine; the returned Delivery reports its outcome.
func (b *Box) PublishAsync(ctx context.Context, channel, topic string, data any) (*Delivery, error) {
	if err := validateName("channel", channel); err != nil {
		return nil, err
	}
	if err := validateName("topic", topic); err != nil {
		return nil, err
	}

	return b.publishEnvelopeAsync(ctx, NewEnvelope(channel, topic, data))
}

func (b *Box) publishEnvelope(ctx context.Context, env Envelope) error {
	return b.publish(ctx, env)
}

func (b *Box) publishEnvelopeAsync(ctx context.Context, env Envelope) (*Delivery, error) {
	d := newDelivery()
	go func() {
		d.finish(b.publish(ctx, env))
	}()
	return d, nil
}

// Len returns the number of live subscriptions.
func (b *Box) Len() int {
	return b.registry.Len()
}

// Journal returns the configured failure journal, or nil.
func (b *Box) Journal() journal.Journal {
	return b.journal
}

// Close releases resources owned by the box, such as its failure journal.
// Subscriptions are left in place.
func (b *Box) Close() error {
	if b.journal == nil {
		return nil
	}
	return b.journal.Close()
}

func (b *Box) release(id string) {
	b.registry.Release(id)
	observability.LogUnsubscribe(b.logger, id)
	b.metrics.RecordSubscriptions(context.Background(), -1)
}

// handle is the Subscription returned by Box.
type handle struct {
	id   string
	box  *Box
	once sync.Once
}

func (h *handle) ID() string { return h.id }

func (h *handle) Unsubscribe() {
	h.once.Do(func() { h.box.release(h.id) })
}

// Delivery tracks an asynchronous publish.
type Delivery struct {
	done chan struct{}
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

// Done is closed once every callback has finished.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until delivery has finished and returns its error.
func (d *Delivery) Wait() error {
	<-d.done
	return d.err
}

// Err returns the delivery error, or nil if delivery succeeded or is still running.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// validatePattern checks a subscription pattern.
func validatePattern(kind, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return invalidArgument("%s pattern must not be empty", kind)
	}
	return nil
}

// validateName checks a published name. Published names are literal.
func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return invalidArgument("%s must not be empty", kind)
	}
	if strings.Contains(name, All) {
		return invalidArgument("%s %q must not contain the wildcard token", kind, name)
	}
	return nil
}
