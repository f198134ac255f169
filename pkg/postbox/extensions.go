package postbox

import (
	"context"
	"strings"
	"sync"
)

// Once subscribes handler for a single delivery. The subscription releases
// itself before the handler runs, and concurrent publishes cannot invoke the
// handler twice.
func Once(bus Bus, channel, topic string, handler Handler, filter Filter) (Subscription, error) {
	if bus == nil {
		return nil, invalidArgument("bus is required")
	}
	if handler == nil {
		return nil, invalidArgument("handler is required")
	}

	o := &onceSubscription{}
	sub, err := bus.SubscribeWhen(channel, topic, func(ctx context.Context, env Envelope) error {
		if !o.claim() {
			return nil
		}
		return handler(ctx, env)
	}, filter)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.sub = sub
	fired := o.fired
	o.mu.Unlock()

	// A publish running concurrently with SubscribeWhen may already have fired.
	if fired {
		sub.Unsubscribe()
	}
	return o, nil
}

type onceSubscription struct {
	mu    sync.Mutex
	fired bool
	sub   Subscription
}

// claim marks the subscription as fired. Only the first caller gets true.
func (o *onceSubscription) claim() bool {
	o.mu.Lock()
	if o.fired {
		o.mu.Unlock()
		return false
	}
	o.fired = true
	sub := o.sub
	o.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	return true
}

func (o *onceSubscription) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sub == nil {
		return ""
	}
	return o.sub.ID()
}

func (o *onceSubscription) Unsubscribe() {
	o.mu.Lock()
	o.fired = true
	sub := o.sub
	o.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// SubscribeMultiple subscribes handler to every combination of the
// comma-separated channel and topic lists:
//
//	postbox.SubscribeMultiple(box, "orders, invoices", "created,deleted", h, nil)
//
// registers four subscriptions behind a single handle. If any subscription
// fails, those already made are released.
func SubscribeMultiple(bus Bus, channels, topics string, handler Handler, filter Filter) (Subscription, error) {
	if bus == nil {
		return nil, invalidArgument("bus is required")
	}
	chs := splitNames(channels)
	if len(chs) == 0 {
		return nil, invalidArgument("no channels in %q", channels)
	}
	tps := splitNames(topics)
	if len(tps) == 0 {
		return nil, invalidArgument("no topics in %q", topics)
	}

	multi := &multiSubscription{subs: make([]Subscription, 0, len(chs)*len(tps))}
	for _, ch := range chs {
		for _, tp := range tps {
			sub, err := bus.SubscribeWhen(ch, tp, handler, filter)
			if err != nil {
				multi.Unsubscribe()
				return nil, err
			}
			multi.subs = append(multi.subs, sub)
		}
	}
	return multi, nil
}

func splitNames(list string) []string {
	var names []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

type multiSubscription struct {
	subs []Subscription
}

// ID returns the member subscription IDs joined by commas.
func (m *multiSubscription) ID() string {
	ids := make([]string, len(m.subs))
	for i, s := range m.subs {
		ids[i] = s.ID()
	}
	return strings.Join(ids, ",")
}

func (m *multiSubscription) Unsubscribe() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
}
