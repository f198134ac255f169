// Package cqrs separates commands from queries on a postbox bus.
//
// Commands change state and are sent without waiting for their handlers.
// Queries return a value and travel as request/response, so the caller
// blocks until a handler replies or the timeout elapses.
//
//	cqrs.HandleQuery(box, "accounts", "balance",
//	    cqrs.QueryHandlerFunc[BalanceQuery, int](func(ctx context.Context, q BalanceQuery) (int, error) {
//	        return ledger.Balance(q.Account), nil
//	    }))
//
//	balance, ok, err := cqrs.Query[BalanceQuery, int](ctx, box, "accounts", "balance", BalanceQuery{Account: "a-1"})
package cqrs

import (
	"context"
	"fmt"

	"github.com/randalmurphal/postbox/pkg/postbox"
	"github.com/randalmurphal/postbox/pkg/postbox/reqrep"
)

// QueryHandler answers queries of type Q with results of type R.
type QueryHandler[Q, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc[Q, R any] func(ctx context.Context, query Q) (R, error)

// Handle calls f(ctx, query).
func (f QueryHandlerFunc[Q, R]) Handle(ctx context.Context, query Q) (R, error) {
	return f(ctx, query)
}

// SendCommand publishes cmd without waiting for its handlers.
func SendCommand[C any](ctx context.Context, bus postbox.Bus, channel, topic string, cmd C) (*postbox.Delivery, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}
	if any(cmd) == nil {
		return nil, fmt.Errorf("%w: command is required", postbox.ErrInvalidArgument)
	}
	return bus.PublishAsync(ctx, channel, topic, cmd)
}

// HandleCommand subscribes h to commands of type C.
// An empty channel or topic matches everything.
func HandleCommand[C any](bus postbox.Bus, channel, topic string, h postbox.MessageHandler[C]) (postbox.Subscription, error) {
	return postbox.AddHandler(bus, h, channel, topic)
}

// HandleCommandAsync subscribes an asynchronous handler to commands of type C.
func HandleCommandAsync[C any](bus postbox.Bus, channel, topic string, h postbox.AsyncMessageHandler[C]) (postbox.Subscription, error) {
	return postbox.AddAsyncHandler(bus, h, channel, topic)
}

// Query sends query and waits for the result. A timeout returns the zero R
// with ok == false.
func Query[Q, R any](ctx context.Context, bus postbox.Bus, channel, topic string, query Q, opts ...reqrep.Option) (result R, ok bool, err error) {
	if any(query) == nil {
		return result, false, fmt.Errorf("%w: query is required", postbox.ErrInvalidArgument)
	}
	return reqrep.RequestAs[R](ctx, bus, channel, topic, query, opts...)
}

// HandleQuery subscribes h to queries of type Q on (channel, topic) and
// replies with its result. When h fails no reply is sent, so the caller
// times out, and the failure is reported to the bus like any callback error.
func HandleQuery[Q, R any](bus postbox.Bus, channel, topic string, h QueryHandler[Q, R]) (postbox.Subscription, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: bus is required", postbox.ErrInvalidArgument)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: handler is required", postbox.ErrInvalidArgument)
	}

	isQuery := func(env postbox.Envelope) bool {
		if !reqrep.IsRequest(env) {
			return false
		}
		_, ok := reqrep.Unwrap(env).(Q)
		return ok
	}

	return bus.SubscribeWhen(channel, topic, func(ctx context.Context, env postbox.Envelope) error {
		result, err := h.Handle(ctx, reqrep.Unwrap(env).(Q))
		if err != nil {
			return err
		}
		return reqrep.Reply(ctx, bus, env, result)
	}, isQuery)
}
