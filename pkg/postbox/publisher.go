package postbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Publisher delivers one envelope to a set of matched subscriptions.
//
// Every implementation must isolate callbacks: a failing or panicking
// callback never prevents delivery to the others. Once ctx is done, callbacks
// that have not started yet are skipped; callbacks already running are never
// interrupted. Failures are reported as a *DispatchError.
type Publisher interface {
	Dispatch(ctx context.Context, records []*Record, env Envelope) error
}

// ParallelPublisher invokes every callback in its own goroutine and waits for
// all of them. There is no ordering between callbacks.
type ParallelPublisher struct {
	// MaxConcurrency bounds the number of callbacks running at once for a
	// single dispatch. Zero means unbounded.
	MaxConcurrency int
}

// Dispatch implements Publisher.
func (p ParallelPublisher) Dispatch(ctx context.Context, records []*Record, env Envelope) error {
	if len(records) == 0 {
		return nil
	}

	var sem chan struct{}
	if p.MaxConcurrency > 0 {
		sem = make(chan struct{}, p.MaxConcurrency)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []*CallbackError
		skipped  int
	)

dispatch:
	for i, rec := range records {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				skipped = len(records) - i
				break dispatch
			}
		}
		if ctx.Err() != nil {
			if sem != nil {
				<-sem
			}
			skipped = len(records) - i
			break
		}

		wg.Add(1)
		go func(rec *Record) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			if ferr := invoke(ctx, rec, env); ferr != nil {
				mu.Lock()
				failures = append(failures, ferr)
				mu.Unlock()
			}
		}(rec)
	}

	wg.Wait()
	return dispatchResult(env, failures, skipped, ctx.Err())
}

// SequentialPublisher invokes callbacks one after another in the calling
// goroutine, in the order the registry returned them.
type SequentialPublisher struct{}

// Dispatch implements Publisher.
func (SequentialPublisher) Dispatch(ctx context.Context, records []*Record, env Envelope) error {
	var (
		failures []*CallbackError
		skipped  int
	)
	for i, rec := range records {
		if ctx.Err() != nil {
			skipped = len(records) - i
			break
		}
		if ferr := invoke(ctx, rec, env); ferr != nil {
			failures = append(failures, ferr)
		}
	}
	return dispatchResult(env, failures, skipped, ctx.Err())
}

// invoke runs a single callback, converting errors and panics into a CallbackError.
func invoke(ctx context.Context, rec *Record, env Envelope) (ferr *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			ferr = &CallbackError{
				SubscriptionID: rec.ID,
				Channel:        env.Channel,
				Topic:          env.Topic,
				Err:            fmt.Errorf("%v\n%s", r, debug.Stack()),
				Panicked:       true,
			}
		}
	}()

	if err := rec.Handler(ctx, env); err != nil {
		return &CallbackError{
			SubscriptionID: rec.ID,
			Channel:        env.Channel,
			Topic:          env.Topic,
			Err:            err,
		}
	}
	return nil
}

func dispatchResult(env Envelope, failures []*CallbackError, skipped int, cause error) error {
	if len(failures) == 0 && skipped == 0 {
		return nil
	}
	de := &DispatchError{
		Channel:  env.Channel,
		Topic:    env.Topic,
		Failures: failures,
		Skipped:  skipped,
	}
	if skipped > 0 {
		de.Cause = cause
	}
	return de
}
