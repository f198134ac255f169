package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/stream"
)

func publishN(t *testing.T, box *postbox.Box, channel, topic string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, box.Publish(context.Background(), channel, topic, i))
	}
}

func drain(s *stream.Stream) []any {
	var out []any
	for env := range s.C() {
		out = append(out, env.Data)
	}
	return out
}

func TestObserve(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "sensors", "*")
	require.NoError(t, err)

	publishN(t, box, "sensors", "temp", 3)
	require.NoError(t, box.Publish(context.Background(), "other", "temp", "ignored"))

	s.Close()
	assert.Equal(t, []any{0, 1, 2}, drain(s), "buffered envelopes survive Close")
	assert.Zero(t, box.Len())
}

func TestObserve_Filter(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "n", "n", stream.WithFilter(func(env postbox.Envelope) bool {
		return env.Data.(int)%2 == 0
	}))
	require.NoError(t, err)

	publishN(t, box, "n", "n", 5)
	s.Close()
	assert.Equal(t, []any{0, 2, 4}, drain(s))
}

func TestObserve_DropOnFull(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "c", "t", stream.WithBuffer(2), stream.WithDropOnFull())
	require.NoError(t, err)

	publishN(t, box, "c", "t", 5)
	assert.Equal(t, int64(3), s.Dropped())

	s.Close()
	assert.Equal(t, []any{0, 1}, drain(s))
}

func TestObserve_BlocksUntilConsumed(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "c", "t", stream.WithBuffer(0))
	require.NoError(t, err)
	defer s.Close()

	published := make(chan error, 1)
	go func() {
		published <- box.Publish(context.Background(), "c", "t", "x")
	}()

	select {
	case <-published:
		t.Fatal("publish returned before the envelope was consumed")
	case <-time.After(20 * time.Millisecond):
	}

	env := <-s.C()
	assert.Equal(t, "x", env.Data)
	require.NoError(t, <-published)
}

func TestObserve_CloseReleasesBlockedPublisher(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "c", "t", stream.WithBuffer(0))
	require.NoError(t, err)

	published := make(chan error, 1)
	go func() {
		published <- box.Publish(context.Background(), "c", "t", "x")
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
}

func TestObserve_PublishContextCancelled(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "c", "t", stream.WithBuffer(0))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = box.Publish(ctx, "c", "t", "x")
	require.Error(t, err)
	failures := postbox.CallbackFailures(err)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], context.DeadlineExceeded)
}

func TestClose_Idempotent(t *testing.T) {
	box := postbox.New()
	s, err := stream.Observe(box, "c", "t")
	require.NoError(t, err)

	s.Close()
	s.Close()

	require.NoError(t, box.Publish(context.Background(), "c", "t", nil))
	_, open := <-s.C()
	assert.False(t, open)
}

func TestObserveTopic(t *testing.T) {
	box := postbox.New()
	s, err := stream.ObserveTopic(box.Channel("metrics").Topic("cpu"))
	require.NoError(t, err)

	publishN(t, box, "metrics", "cpu", 2)
	publishN(t, box, "metrics", "mem", 2)
	s.Close()
	assert.Equal(t, []any{0, 1}, drain(s))
}

func TestObserve_InvalidArguments(t *testing.T) {
	_, err := stream.Observe(nil, "c", "t")
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = stream.Observe(postbox.New(), "", "t")
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = stream.ObserveTopic(nil)
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	_, err = stream.ObserveTopic(postbox.New().Channel("").Topic("t"))
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)
}

func TestBatch(t *testing.T) {
	b := postbox.New()
	s, err := stream.Observe(b, "c", "t")
	require.NoError(t, err)

	batches := stream.Batch(context.Background(), s, 2)
	publishN(t, b, "c", "t", 5)
	s.Close()

	var sizes []int
	var all []any
	for batch := range batches {
		sizes = append(sizes, len(batch))
		for _, env := range batch {
			all = append(all, env.Data)
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes, "partial batch flushed on close")
	assert.Equal(t, []any{0, 1, 2, 3, 4}, all)
}

func TestBatch_ContextCancelled(t *testing.T) {
	b := postbox.New()
	s, err := stream.Observe(b, "c", "t")
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	batches := stream.Batch(ctx, s, 10)
	cancel()

	select {
	case _, open := <-batches:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("batch channel not closed after cancel")
	}
}
