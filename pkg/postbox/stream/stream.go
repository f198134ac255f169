// Package stream exposes a subscription as a Go channel.
//
//	s, err := stream.Observe(box, "sensors", "*")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	for env := range s.C() {
//	    fmt.Println(env.Topic, env.Data)
//	}
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/postbox/pkg/postbox"
)

// DefaultBufferSize is the channel capacity used by Observe.
const DefaultBufferSize = 64

type config struct {
	buffer     int
	filter     postbox.Filter
	dropOnFull bool
}

// Option configures a Stream.
type Option func(*config)

// WithBuffer sets the channel capacity. Default: DefaultBufferSize.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.buffer = n
		}
	}
}

// WithFilter only streams envelopes accepted by f.
func WithFilter(f postbox.Filter) Option {
	return func(c *config) {
		c.filter = f
	}
}

// WithDropOnFull discards envelopes instead of blocking the publisher
// when the consumer falls behind. Dropped envelopes are counted.
func WithDropOnFull() Option {
	return func(c *config) {
		c.dropOnFull = true
	}
}

// Stream delivers matching envelopes on a channel until closed.
//
// By default a full buffer blocks the publishing callback until the consumer
// catches up, the publish context is done, or the stream is closed.
type Stream struct {
	ch         chan postbox.Envelope
	done       chan struct{}
	dropOnFull bool
	dropped    atomic.Int64

	mu     sync.RWMutex
	closed bool

	sub       postbox.Subscription
	closeOnce sync.Once
}

// Observe subscribes to (channel, topic) and streams every delivery.
func Observe(bus postbox.Bus, channel, topic string, opts ...Option) (*Stream, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}
	s, filter := newStream(opts)
	sub, err := bus.SubscribeWhen(channel, topic, s.push, filter)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

// ObserveTopic streams a fluent Topic.
func ObserveTopic(t *postbox.Topic, opts ...Option) (*Stream, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: topic is required", postbox.ErrInvalidArgument)
	}
	s, filter := newStream(opts)
	sub, err := t.SubscribeWhen(s.push, filter)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func newStream(opts []Option) (*Stream, postbox.Filter) {
	cfg := config{buffer: DefaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Stream{
		ch:         make(chan postbox.Envelope, cfg.buffer),
		done:       make(chan struct{}),
		dropOnFull: cfg.dropOnFull,
	}, cfg.filter
}

func (s *Stream) push(ctx context.Context, env postbox.Envelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	if s.dropOnFull {
		select {
		case s.ch <- env:
		default:
			s.dropped.Add(1)
		}
		return nil
	}

	select {
	case s.ch <- env:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns the envelope channel. It is closed by Close.
func (s *Stream) C() <-chan postbox.Envelope {
	return s.ch
}

// Dropped returns how many envelopes were discarded by WithDropOnFull.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Close releases the subscription and closes the channel.
// Buffered envelopes can still be drained. Close is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.sub.Unsubscribe()
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Batch groups envelopes from s into slices of up to size. A partial batch
// is flushed when s is closed. The returned channel is closed when s is
// drained or ctx is done.
func Batch(ctx context.Context, s *Stream, size int) <-chan []postbox.Envelope {
	if size <= 0 {
		size = 1
	}
	out := make(chan []postbox.Envelope)

	go func() {
		defer close(out)

		batch := make([]postbox.Envelope, 0, size)
		emit := func() bool {
			select {
			case out <- batch:
				batch = make([]postbox.Envelope, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case env, ok := <-s.C():
				if !ok {
					if len(batch) > 0 {
						emit()
					}
					return
				}
				batch = append(batch, env)
				if len(batch) == size && !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
