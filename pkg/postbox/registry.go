package postbox

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Record is a live subscription stored in a Registry.
// Records are created by Registry.Subscribe and never modified afterwards.
type Record struct {
	ID             string
	ChannelPattern string
	TopicPattern   string
	Filter         Filter
	Handler        Handler
}

// Registry stores active subscriptions and answers which of them match an envelope.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Subscribe stores a new subscription. A nil filter accepts everything.
	Subscribe(channelPattern, topicPattern string, handler Handler, filter Filter) (*Record, error)

	// Release removes the subscription with the given ID.
	// Releasing an unknown or already released ID is a no-op.
	Release(id string)

	// Match returns the subscriptions whose patterns and filter accept env.
	// A filter that panics excludes its subscription. Those panics come back
	// as a *DispatchError together with the remaining matches.
	Match(env Envelope) ([]*Record, error)

	// Len returns the number of live subscriptions.
	Len() int
}

// MemoryRegistry is the in-memory Registry used by default.
//
// Entries are owned by the registry until Release is called: nothing
// disappears implicitly. Match scans a snapshot taken under a read lock, so
// subscriptions added after the scan starts may not be seen by that scan.
type MemoryRegistry struct {
	matcher Matcher

	mu    sync.RWMutex
	byID  map[string]*Record
	order []*Record // insertion order
}

// NewMemoryRegistry creates an empty registry using matcher for pattern checks.
// A nil matcher uses DefaultMatcher.
func NewMemoryRegistry(matcher Matcher) *MemoryRegistry {
	if matcher == nil {
		matcher = DefaultMatcher()
	}
	return &MemoryRegistry{
		matcher: matcher,
		byID:    make(map[string]*Record),
	}
}

// Subscribe implements Registry.
func (r *MemoryRegistry) Subscribe(channelPattern, topicPattern string, handler Handler, filter Filter) (*Record, error) {
	if handler == nil {
		return nil, invalidArgument("handler is required")
	}
	if filter == nil {
		filter = Always
	}

	rec := &Record{
		ID:             uuid.NewString(),
		ChannelPattern: channelPattern,
		TopicPattern:   topicPattern,
		Filter:         filter,
		Handler:        handler,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
	r.order = append(r.order, rec)

	return rec, nil
}

// Release implements Registry.
func (r *MemoryRegistry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if i := slices.Index(r.order, rec); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// Match implements Registry.
// Filters run outside the lock so they may safely call back into the bus.
func (r *MemoryRegistry) Match(env Envelope) ([]*Record, error) {
	r.mu.RLock()
	snapshot := slices.Clone(r.order)
	r.mu.RUnlock()

	var (
		matched  []*Record
		failures []*CallbackError
	)
	for _, rec := range snapshot {
		ok, err := r.matcher.Match(rec.ChannelPattern, env.Channel)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if ok, err = r.matcher.Match(rec.TopicPattern, env.Topic); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		ok, ferr := accepts(rec, env)
		if ferr != nil {
			failures = append(failures, ferr)
			continue
		}
		if ok {
			matched = append(matched, rec)
		}
	}
	return matched, dispatchResult(env, failures, 0, nil)
}

// accepts runs the subscription filter, turning a panic into a CallbackError.
func accepts(rec *Record, env Envelope) (ok bool, ferr *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			ferr = &CallbackError{
				SubscriptionID: rec.ID,
				Channel:        env.Channel,
				Topic:          env.Topic,
				Err:            fmt.Errorf("filter: %v\n%s", r, debug.Stack()),
				Panicked:       true,
			}
		}
	}()
	return rec.Filter(env), nil
}

// Len implements Registry.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Has reports whether a subscription with the given ID is live.
func (r *MemoryRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}
