package postbox

import (
	"context"
	"strings"
)

// MessageHandler handles payloads of type T.
type MessageHandler[T any] interface {
	Handle(ctx context.Context, msg T) error
}

// AsyncMessageHandler starts handling a payload of type T and reports the
// outcome on the returned channel. A nil channel means the work is already done.
type AsyncMessageHandler[T any] interface {
	HandleAsync(ctx context.Context, msg T) <-chan error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc[T any] func(ctx context.Context, msg T) error

// Handle calls f(ctx, msg).
func (f HandlerFunc[T]) Handle(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// SubscribeTyped subscribes fn to envelopes whose payload is a T.
// Envelopes carrying other payload types are filtered out.
func SubscribeTyped[T any](bus Bus, channel, topic string, fn func(ctx context.Context, msg T) error) (Subscription, error) {
	if bus == nil {
		return nil, invalidArgument("bus is required")
	}
	if fn == nil {
		return nil, invalidArgument("handler is required")
	}
	return bus.SubscribeWhen(channel, topic, func(ctx context.Context, env Envelope) error {
		return fn(ctx, env.Data.(T))
	}, DataIs[T]())
}

// AddHandler subscribes h to payloads of type T. An empty channel or topic
// matches everything.
func AddHandler[T any](bus Bus, h MessageHandler[T], channel, topic string) (Subscription, error) {
	if h == nil {
		return nil, invalidArgument("handler is required")
	}
	return SubscribeTyped(bus, orAll(channel), orAll(topic), h.Handle)
}

// AddAsyncHandler subscribes h to payloads of type T. The dispatch waits for
// the channel returned by HandleAsync, so failures are reported like any
// other callback failure. An empty channel or topic matches everything.
func AddAsyncHandler[T any](bus Bus, h AsyncMessageHandler[T], channel, topic string) (Subscription, error) {
	if h == nil {
		return nil, invalidArgument("handler is required")
	}
	return SubscribeTyped(bus, orAll(channel), orAll(topic), func(ctx context.Context, msg T) error {
		done := h.HandleAsync(ctx, msg)
		if done == nil {
			return nil
		}
		return <-done
	})
}

func orAll(name string) string {
	if strings.TrimSpace(name) == "" {
		return All
	}
	return name
}
