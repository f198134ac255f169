package postbox

import (
	"context"
	"strings"
)

// Channel binds a channel name to a bus.
//
//	orders := postbox.NewChannel(box, "orders")
//	created := orders.Topic("created")
//	sub, err := created.Subscribe(handler)
//	err = created.Publish(ctx, order)
//
// An invalid name is reported by the first operation on a Topic built from it.
type Channel struct {
	bus  Bus
	name string
	err  error
}

// NewChannel returns a Channel for name on bus.
func NewChannel(bus Bus, name string) *Channel {
	c := &Channel{bus: bus, name: name}
	switch {
	case bus == nil:
		c.err = invalidArgument("bus is required")
	case strings.TrimSpace(name) == "":
		c.err = invalidArgument("channel must not be empty")
	}
	return c
}

// AnyChannel returns a Channel matching every channel name.
func AnyChannel(bus Bus) *Channel {
	return NewChannel(bus, All)
}

// AnyChannelAndTopic returns a Topic matching every channel and topic.
func AnyChannelAndTopic(bus Bus) *Topic {
	return AnyChannel(bus).AnyTopic()
}

// Channel returns a fluent Channel for name on b.
func (b *Box) Channel(name string) *Channel {
	return NewChannel(b, name)
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Topic returns a Topic for name within this channel.
func (c *Channel) Topic(name string) *Topic {
	t := &Topic{bus: c.bus, channel: c.name, name: name, err: c.err}
	if t.err == nil && strings.TrimSpace(name) == "" {
		t.err = invalidArgument("topic must not be empty")
	}
	return t
}

// AnyTopic returns a Topic matching every topic in this channel.
func (c *Channel) AnyTopic() *Topic {
	return c.Topic(All)
}

// Topic is a channel and topic pair bound to a bus.
type Topic struct {
	bus     Bus
	channel string
	name    string
	err     error
}

// Channel returns the channel name.
func (t *Topic) Channel() string { return t.channel }

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

// String returns the topic name.
func (t *Topic) String() string { return t.name }

// Subscribe registers handler for this channel and topic.
func (t *Topic) Subscribe(handler Handler) (Subscription, error) {
	return t.SubscribeWhen(handler, nil)
}

// SubscribeWhen registers handler with a filter.
func (t *Topic) SubscribeWhen(handler Handler, filter Filter) (Subscription, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.bus.SubscribeWhen(t.channel, t.name, handler, filter)
}

// Publish publishes data on this channel and topic.
func (t *Topic) Publish(ctx context.Context, data any) error {
	if t.err != nil {
		return t.err
	}
	return t.bus.Publish(ctx, t.channel, t.name, data)
}

// PublishAsync publishes data without waiting for delivery.
func (t *Topic) PublishAsync(ctx context.Context, data any) (*Delivery, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.bus.PublishAsync(ctx, t.channel, t.name, data)
}
