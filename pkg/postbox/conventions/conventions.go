// Package conventions derives channel and topic names from payload types.
//
//	cb := conventions.New(box)
//	conventions.AddChannelConvention(cb, func(o Order) string { return "orders" })
//	conventions.AddTopicConvention(cb, func(o Order) string { return o.Status })
//
//	err := conventions.Publish(ctx, cb, Order{ID: 1, Status: "created"}) // orders/created
//
// Conventions are registered per concrete Go type. Resolution looks for a
// convention registered for the payload's dynamic type, then for the static
// type parameter (useful for interface types), then the catch-all set with
// AnyChannelConvention or AnyTopicConvention. There is no inheritance walk.
package conventions

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/randalmurphal/postbox/pkg/postbox"
)

// ErrNoConvention is returned when no convention covers a payload type.
var ErrNoConvention = fmt.Errorf("%w: no convention", postbox.ErrInvalidArgument)

// Convention derives a name from a payload.
type Convention func(data any) string

// Box is a bus that can also publish by convention.
// The embedded Bus is used for every publish and subscription.
type Box struct {
	postbox.Bus

	mu         sync.RWMutex
	channels   map[reflect.Type]Convention
	topics     map[reflect.Type]Convention
	anyChannel Convention
	anyTopic   Convention
}

// New wraps bus.
func New(bus postbox.Bus) *Box {
	return &Box{
		Bus:      bus,
		channels: make(map[reflect.Type]Convention),
		topics:   make(map[reflect.Type]Convention),
	}
}

// AddChannelConvention registers how payloads of type T choose their channel.
// A later registration for the same type replaces the earlier one.
func AddChannelConvention[T any](b *Box, fn func(T) string) *Box {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[reflect.TypeFor[T]()] = typed(fn)
	return b
}

// AddTopicConvention registers how payloads of type T choose their topic.
func AddTopicConvention[T any](b *Box, fn func(T) string) *Box {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[reflect.TypeFor[T]()] = typed(fn)
	return b
}

// AnyChannelConvention sets the channel convention used when no type matches.
func (b *Box) AnyChannelConvention(fn Convention) *Box {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anyChannel = fn
	return b
}

// AnyTopicConvention sets the topic convention used when no type matches.
func (b *Box) AnyTopicConvention(fn Convention) *Box {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anyTopic = fn
	return b
}

func typed[T any](fn func(T) string) Convention {
	return func(data any) string {
		v, _ := data.(T)
		return fn(v)
	}
}

// Resolve returns the channel and topic for data.
func Resolve[T any](b *Box, data T) (channel, topic string, err error) {
	static := reflect.TypeFor[T]()
	dynamic := reflect.TypeOf(any(data))

	b.mu.RLock()
	chConv := lookup(b.channels, b.anyChannel, dynamic, static)
	tpConv := lookup(b.topics, b.anyTopic, dynamic, static)
	b.mu.RUnlock()

	if chConv == nil {
		return "", "", fmt.Errorf("%w for channel of %s", ErrNoConvention, static)
	}
	if tpConv == nil {
		return "", "", fmt.Errorf("%w for topic of %s", ErrNoConvention, static)
	}
	return chConv(data), tpConv(data), nil
}

func lookup(table map[reflect.Type]Convention, fallback Convention, dynamic, static reflect.Type) Convention {
	if dynamic != nil {
		if c, ok := table[dynamic]; ok {
			return c
		}
	}
	if c, ok := table[static]; ok {
		return c
	}
	return fallback
}

// Publish publishes data on the channel and topic its conventions produce.
func Publish[T any](ctx context.Context, b *Box, data T) error {
	channel, topic, err := Resolve(b, data)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, topic, data)
}

// PublishAsync is Publish without waiting for delivery.
func PublishAsync[T any](ctx context.Context, b *Box, data T) (*postbox.Delivery, error) {
	channel, topic, err := Resolve(b, data)
	if err != nil {
		return nil, err
	}
	return b.Bus.PublishAsync(ctx, channel, topic, data)
}

// Subscribe delivers every payload of type T published anywhere on the bus.
func Subscribe[T any](b *Box, fn func(ctx context.Context, msg T) error) (postbox.Subscription, error) {
	return postbox.SubscribeTyped(b.Bus, postbox.All, postbox.All, fn)
}
