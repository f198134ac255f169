/*
Package postbox provides an in-process publish/subscribe message bus.

# Overview

Producers publish a payload under a channel and a topic. Consumers subscribe
with channel and topic patterns, where "*" matches any run of characters,
plus an optional filter on the envelope. Every matching subscription receives
the envelope; a failing or panicking subscriber never affects the others.

postbox is deliberately small:
  - No persistence or replay: only subscriptions live at publish time see a message
  - No cross-process transport
  - Best-effort delivery with failures reported to the publisher

# Basic Usage

	box := postbox.New(postbox.WithLogger(slog.Default()))

	sub, err := box.Subscribe("orders", "*", func(ctx context.Context, env postbox.Envelope) error {
	    fmt.Println(env.Topic, env.Data)
	    return nil
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer sub.Unsubscribe()

	// Blocks until every subscriber has returned.
	err = box.Publish(ctx, "orders", "created", Order{ID: 42})

Callback failures come back as a *DispatchError:

	if err := box.Publish(ctx, "orders", "created", order); err != nil {
	    for _, f := range postbox.CallbackFailures(err) {
	        log.Printf("subscriber %s failed: %v", f.SubscriptionID, f.Err)
	    }
	}

# Patterns

Channel and topic patterns are matched independently against the full
published name:

	"orders"      matches "orders" only
	"order*"      matches "orders", "order-archive"
	"*.created"   matches "user.created", "order.created"
	"*"           matches any name

Published names never contain "*".

# Fluent API

	orders := box.Channel("orders")
	orders.Topic("created").Subscribe(handler)
	orders.Topic("created").Publish(ctx, order)

# Delivery Policies

ParallelPublisher (the default) runs every matched callback in its own
goroutine and waits for all of them. SequentialPublisher runs them one after
another in subscription order. Both stop starting new callbacks once the
publish context is done.

# Related Packages

  - compose: react to an ordered sequence of events within a time window
  - reqrep: request/response over the bus with per-call correlation IDs
  - conventions: derive channel and topic from the payload type
  - stream: consume a subscription as a Go channel
  - journal: record failed callbacks in memory or SQLite
  - config: load bus options from YAML or JSON

# Observability

	box := postbox.New(
	    postbox.WithLogger(logger),
	    postbox.WithMetrics(true),
	    postbox.WithTracing(true),
	    postbox.WithJournal(journal.NewMemoryJournal(0)),
	)

Metrics and spans use the global OpenTelemetry providers.
*/
package postbox
