package postbox

import (
	"context"
	"time"
)

// All is the wildcard token. As a pattern it matches any sequence of characters.
const All = "*"

// Envelope wraps a published payload together with its routing names.
// Envelopes are passed by value and are never modified by the bus.
type Envelope struct {
	// Channel is the published channel name.
	Channel string `json:"channel"`

	// Topic is the published topic name.
	Topic string `json:"topic"`

	// Timestamp is when the envelope was created (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Data is the opaque payload.
	Data any `json:"data,omitempty"`
}

// NewEnvelope creates an envelope stamped with the current UTC time.
func NewEnvelope(channel, topic string, data any) Envelope {
	return Envelope{
		Channel:   channel,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes a delivered envelope.
// Returning an error marks this delivery as failed without affecting other subscribers.
type Handler func(ctx context.Context, env Envelope) error

// Filter decides whether an envelope is delivered to a subscription.
type Filter func(env Envelope) bool

// Always is the default filter: it accepts every envelope.
func Always(Envelope) bool { return true }

// Func adapts a plain callback that cannot fail to a Handler.
func Func(fn func(env Envelope)) Handler {
	return func(_ context.Context, env Envelope) error {
		fn(env)
		return nil
	}
}

// DataIs returns a filter accepting envelopes whose payload has type T.
func DataIs[T any]() Filter {
	return func(env Envelope) bool {
		_, ok := env.Data.(T)
		return ok
	}
}
