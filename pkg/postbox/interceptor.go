package postbox

import (
	"context"
)

// Hook observes an envelope around a publish.
//
// When the wrapped bus is a *Box, or an interceptor around one, the hook
// receives the very envelope that subscribers receive, timestamp included.
// Any other Bus builds its own envelope, so its Timestamp can differ.
type Hook func(ctx context.Context, env Envelope)

// envelopeBus is implemented by buses that can deliver a prebuilt envelope.
type envelopeBus interface {
	publishEnvelope(ctx context.Context, env Envelope) error
	publishEnvelopeAsync(ctx context.Context, env Envelope) (*Delivery, error)
}

var (
	_ envelopeBus = (*Box)(nil)
	_ envelopeBus = (*interceptor)(nil)
)

// Intercept wraps bus so that before runs ahead of every publish and after
// runs once delivery has finished. Either hook may be nil. Subscriptions
// pass straight through to bus.
//
// Hooks are not called for publishes rejected by argument validation.
func Intercept(bus Bus, before, after Hook) (Bus, error) {
	if bus == nil {
		return nil, invalidArgument("bus is required")
	}
	return &interceptor{bus: bus, before: before, after: after}, nil
}

// InterceptBefore wraps bus with a hook that runs ahead of every publish.
func InterceptBefore(bus Bus, before Hook) (Bus, error) {
	if before == nil {
		return nil, invalidArgument("before hook is required")
	}
	return Intercept(bus, before, nil)
}

// InterceptAfter wraps bus with a hook that runs after every publish.
func InterceptAfter(bus Bus, after Hook) (Bus, error) {
	if after == nil {
		return nil, invalidArgument("after hook is required")
	}
	return Intercept(bus, nil, after)
}

type interceptor struct {
	bus    Bus
	before Hook
	after  Hook
}

func (i *interceptor) Subscribe(channel, topic string, handler Handler) (Subscription, error) {
	return i.bus.Subscribe(channel, topic, handler)
}

func (i *interceptor) SubscribeWhen(channel, topic string, handler Handler, filter Filter) (Subscription, error) {
	return i.bus.SubscribeWhen(channel, topic, handler, filter)
}

func (i *interceptor) Publish(ctx context.Context, channel, topic string, data any) error {
	env, err := i.envelope(channel, topic, data)
	if err != nil {
		return err
	}
	return i.publishEnvelope(ctx, env)
}

// PublishAsync runs the before hook synchronously. The returned Delivery
// completes after the after hook has run.
func (i *interceptor) PublishAsync(ctx context.Context, channel, topic string, data any) (*Delivery, error) {
	env, err := i.envelope(channel, topic, data)
	if err != nil {
		return nil, err
	}
	return i.publishEnvelopeAsync(ctx, env)
}

func (i *interceptor) publishEnvelope(ctx context.Context, env Envelope) error {
	if i.before != nil {
		i.before(ctx, env)
	}
	var err error
	if eb, ok := i.bus.(envelopeBus); ok {
		err = eb.publishEnvelope(ctx, env)
	} else {
		err = i.bus.Publish(ctx, env.Channel, env.Topic, env.Data)
	}
	if i.after != nil {
		i.after(ctx, env)
	}
	return err
}

func (i *interceptor) publishEnvelopeAsync(ctx context.Context, env Envelope) (*Delivery, error) {
	if i.before != nil {
		i.before(ctx, env)
	}
	var (
		inner *Delivery
		err   error
	)
	if eb, ok := i.bus.(envelopeBus); ok {
		inner, err = eb.publishEnvelopeAsync(ctx, env)
	} else {
		inner, err = i.bus.PublishAsync(ctx, env.Channel, env.Topic, env.Data)
	}
	if err != nil {
		return nil, err
	}
	if i.after == nil {
		return inner, nil
	}

	outer := newDelivery()
	go func() {
		err := inner.Wait()
		i.after(ctx, env)
		outer.finish(err)
	}()
	return outer, nil
}

func (i *interceptor) envelope(channel, topic string, data any) (Envelope, error) {
	if err := validateName("channel", channel); err != nil {
		return Envelope{}, err
	}
	if err := validateName("topic", topic); err != nil {
		return Envelope{}, err
	}
	return NewEnvelope(channel, topic, data), nil
}
