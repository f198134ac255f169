package conventions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/conventions"
)

type order struct {
	ID     int
	Status string
}

type refund struct {
	Amount int
}

type event interface {
	Kind() string
}

type userSignedUp struct{ User string }

func (userSignedUp) Kind() string { return "signup" }

// routes captures where envelopes were published.
type routes struct {
	mu   sync.Mutex
	seen []string
}

func (r *routes) handle(_ context.Context, env postbox.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, env.Channel+"/"+env.Topic)
	return nil
}

func (r *routes) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func newBox(t *testing.T) (*conventions.Box, *routes) {
	t.Helper()
	cb := conventions.New(postbox.New())
	var r routes
	_, err := cb.Subscribe(postbox.All, postbox.All, r.handle)
	require.NoError(t, err)
	return cb, &r
}

func TestPublish_TypeConventions(t *testing.T) {
	cb, r := newBox(t)
	conventions.AddChannelConvention(cb, func(order) string { return "orders" })
	conventions.AddTopicConvention(cb, func(o order) string { return o.Status })

	require.NoError(t, conventions.Publish(context.Background(), cb, order{ID: 1, Status: "created"}))
	require.NoError(t, conventions.Publish(context.Background(), cb, order{ID: 1, Status: "shipped"}))

	assert.Equal(t, []string{"orders/created", "orders/shipped"}, r.get())
}

func TestPublish_AnyFallback(t *testing.T) {
	cb, r := newBox(t)
	conventions.AddChannelConvention(cb, func(order) string { return "orders" })
	cb.AnyChannelConvention(func(data any) string { return "misc" }).
		AnyTopicConvention(func(data any) string { return fmt.Sprintf("%T", data) })

	require.NoError(t, conventions.Publish(context.Background(), cb, order{}))
	require.NoError(t, conventions.Publish(context.Background(), cb, refund{Amount: 5}))

	assert.Equal(t, []string{"orders/conventions_test.order", "misc/conventions_test.refund"}, r.get())
}

func TestResolve_DynamicTypeBeforeStatic(t *testing.T) {
	cb := conventions.New(postbox.New())
	conventions.AddChannelConvention(cb, func(e event) string { return "events" })
	conventions.AddTopicConvention(cb, func(e event) string { return e.Kind() })
	conventions.AddChannelConvention(cb, func(userSignedUp) string { return "users" })

	var e event = userSignedUp{User: "ada"}
	channel, topic, err := conventions.Resolve(cb, e)
	require.NoError(t, err)
	assert.Equal(t, "users", channel, "dynamic type wins")
	assert.Equal(t, "signup", topic, "static interface type is the second choice")
}

func TestResolve_LaterRegistrationReplaces(t *testing.T) {
	cb := conventions.New(postbox.New())
	conventions.AddChannelConvention(cb, func(order) string { return "v1" })
	conventions.AddChannelConvention(cb, func(order) string { return "v2" })
	conventions.AddTopicConvention(cb, func(order) string { return "t" })

	channel, _, err := conventions.Resolve(cb, order{})
	require.NoError(t, err)
	assert.Equal(t, "v2", channel)
}

func TestResolve_NoConvention(t *testing.T) {
	cb := conventions.New(postbox.New())

	_, _, err := conventions.Resolve(cb, refund{})
	assert.ErrorIs(t, err, conventions.ErrNoConvention)
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)

	conventions.AddChannelConvention(cb, func(refund) string { return "refunds" })
	_, _, err = conventions.Resolve(cb, refund{})
	assert.ErrorIs(t, err, conventions.ErrNoConvention)
	assert.ErrorContains(t, err, "topic")

	err = conventions.Publish(context.Background(), cb, refund{})
	assert.ErrorIs(t, err, conventions.ErrNoConvention)
}

func TestPublish_InvalidDerivedName(t *testing.T) {
	cb, _ := newBox(t)
	conventions.AddChannelConvention(cb, func(order) string { return "" })
	conventions.AddTopicConvention(cb, func(order) string { return "t" })

	err := conventions.Publish(context.Background(), cb, order{})
	assert.ErrorIs(t, err, postbox.ErrInvalidArgument)
}

func TestPublishAsync(t *testing.T) {
	cb, r := newBox(t)
	conventions.AddChannelConvention(cb, func(order) string { return "orders" })
	conventions.AddTopicConvention(cb, func(o order) string { return o.Status })

	d, err := conventions.PublishAsync(context.Background(), cb, order{Status: "paid"})
	require.NoError(t, err)
	require.NoError(t, d.Wait())
	assert.Equal(t, []string{"orders/paid"}, r.get())

	_, err = conventions.PublishAsync(context.Background(), cb, refund{})
	assert.ErrorIs(t, err, conventions.ErrNoConvention)
}

func TestSubscribe_ByType(t *testing.T) {
	cb := conventions.New(postbox.New())
	conventions.AddChannelConvention(cb, func(order) string { return "orders" })
	conventions.AddTopicConvention(cb, func(o order) string { return o.Status })
	conventions.AddChannelConvention(cb, func(refund) string { return "refunds" })
	conventions.AddTopicConvention(cb, func(refund) string { return "issued" })

	var got []order
	_, err := conventions.Subscribe(cb, func(_ context.Context, o order) error {
		got = append(got, o)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, conventions.Publish(context.Background(), cb, order{ID: 7, Status: "created"}))
	require.NoError(t, conventions.Publish(context.Background(), cb, refund{Amount: 1}))

	assert.Equal(t, []order{{ID: 7, Status: "created"}}, got)
}
