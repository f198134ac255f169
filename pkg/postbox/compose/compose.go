// Package compose fires a handler when an ordered sequence of events has
// been published, optionally within a time window.
//
//	sub, err := compose.When(box, "orders", "created", nil).
//	    And("payments", "captured", nil).
//	    And("shipping", "dispatched", nil).
//	    InTime(10 * time.Minute).
//	    Subscribe(func(ctx context.Context, env postbox.Envelope) error {
//	        // env is the "shipping/dispatched" envelope that completed the sequence.
//	        return nil
//	    })
//
// A composition watches every envelope on the bus. Each envelope either
// advances the sequence by matching the next expected step, or breaks it:
// any envelope that does not match the expected step resets progress to the
// first step, and that envelope is not itself checked against the first step.
// Once the last step matches, the sequence resets and the handler runs if the
// whole sequence arrived strictly within the window.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/observability"
)

// step is one expected event of a sequence.
type step struct {
	channel string
	topic   string
	filter  postbox.Filter
}

// Composition is a sequence of expected events.
// Build it with When and And, then activate it with Subscribe.
type Composition struct {
	bus     postbox.Bus
	steps   []step
	window  time.Duration
	now     func() time.Time
	matcher postbox.Matcher
	metrics observability.MetricsRecorder
	logger  *slog.Logger
	err     error

	mu          sync.Mutex
	index       int
	windowStart time.Time
	onComplete  postbox.Handler
	sub         postbox.Subscription
}

// When starts a composition whose first step is (channel, topic, filter).
// A nil filter accepts every matching envelope.
func When(bus postbox.Bus, channel, topic string, filter postbox.Filter) *Composition {
	c := &Composition{
		bus:     bus,
		now:     time.Now,
		matcher: postbox.DefaultMatcher(),
		metrics: observability.NoopMetrics{},
		logger:  observability.DiscardLogger(),
	}
	if bus == nil {
		c.err = fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}
	return c.And(channel, topic, filter)
}

// And appends a step. Argument errors are reported by Subscribe.
func (c *Composition) And(channel, topic string, filter postbox.Filter) *Composition {
	if c.err != nil {
		return c
	}
	switch {
	case strings.TrimSpace(channel) == "":
		c.err = fmt.Errorf("%w: step %d: channel must not be empty", postbox.ErrInvalidArgument, len(c.steps))
		return c
	case strings.TrimSpace(topic) == "":
		c.err = fmt.Errorf("%w: step %d: topic must not be empty", postbox.ErrInvalidArgument, len(c.steps))
		return c
	}
	if filter == nil {
		filter = postbox.Always
	}
	c.steps = append(c.steps, step{channel: channel, topic: topic, filter: filter})
	return c
}

// InTime requires the last step to arrive less than d after the first.
// Zero disables the window.
func (c *Composition) InTime(d time.Duration) *Composition {
	if d < 0 {
		c.err = fmt.Errorf("%w: negative window %s", postbox.ErrInvalidArgument, d)
		return c
	}
	c.window = d
	return c
}

// WithClock replaces time.Now, mainly for tests.
func (c *Composition) WithClock(now func() time.Time) *Composition {
	if now != nil {
		c.now = now
	}
	return c
}

// WithMatcher sets the matcher used to compare step patterns with envelopes.
func (c *Composition) WithMatcher(m postbox.Matcher) *Composition {
	if m != nil {
		c.matcher = m
	}
	return c
}

// WithMetrics records completed sequences.
func (c *Composition) WithMetrics(m observability.MetricsRecorder) *Composition {
	if m != nil {
		c.metrics = m
	}
	return c
}

// WithLogger logs completed sequences at debug level.
func (c *Composition) WithLogger(logger *slog.Logger) *Composition {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Steps returns the number of steps in the sequence.
func (c *Composition) Steps() int {
	return len(c.steps)
}

// Subscribe activates the composition. handler receives the envelope that
// completed the sequence. Unsubscribing the returned handle stops the
// composition. A composition can be subscribed only once.
func (c *Composition) Subscribe(handler postbox.Handler) (postbox.Subscription, error) {
	if c.err != nil {
		return nil, c.err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", postbox.ErrInvalidArgument)
	}
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("%w: composition has no steps", postbox.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onComplete != nil {
		return nil, fmt.Errorf("%w: composition already subscribed", postbox.ErrInvalidArgument)
	}
	c.onComplete = handler

	sub, err := c.bus.Subscribe(postbox.All, postbox.All, c.receive)
	if err != nil {
		c.onComplete = nil
		return nil, err
	}
	c.sub = sub
	return sub, nil
}

// receive feeds env to the state machine and runs the handler when the
// sequence completes within the window.
func (c *Composition) receive(ctx context.Context, env postbox.Envelope) error {
	fire, err := c.advance(env)
	if err != nil || fire.handler == nil {
		return err
	}

	c.metrics.RecordComposition(ctx, len(c.steps), fire.expired)
	observability.LogCompositionComplete(c.logger, fire.subID, len(c.steps), fire.expired)
	if fire.expired {
		return nil
	}
	return fire.handler(ctx, env)
}

// completion is the outcome of a finished sequence, captured under the lock.
type completion struct {
	handler postbox.Handler
	subID   string
	expired bool
}

// advance moves the sequence forward by one envelope. Step filters run under
// the composition lock and must not publish on the bus synchronously.
func (c *Composition) advance(env postbox.Envelope) (completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched, err := c.steps[c.index].matches(c.matcher, env)
	if err != nil || !matched {
		c.index = 0
		return completion{}, err
	}

	now := c.now()
	if c.index == 0 {
		c.windowStart = now
	}
	c.index++
	if c.index < len(c.steps) {
		return completion{}, nil
	}

	c.index = 0
	return completion{
		handler: c.onComplete,
		subID:   c.sub.ID(),
		expired: c.window > 0 && now.Sub(c.windowStart) >= c.window,
	}, nil
}

// matches reports whether env satisfies the step. A panicking filter is
// reported as an error and counts as a non-match.
func (s step) matches(m postbox.Matcher, env postbox.Envelope) (ok bool, err error) {
	if ok, err = m.Match(s.channel, env.Channel); err != nil || !ok {
		return false, err
	}
	if ok, err = m.Match(s.topic, env.Topic); err != nil || !ok {
		return false, err
	}

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("step filter for %s/%s panicked: %v", s.channel, s.topic, r)
		}
	}()
	return s.filter(env), nil
}

// Progress returns how many steps of the current sequence have matched.
func (c *Composition) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}
