package postbox

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidArgument is wrapped by every argument validation failure.
// Use errors.Is(err, ErrInvalidArgument) to detect caller errors.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CallbackError records a single subscriber callback that failed during dispatch.
type CallbackError struct {
	// SubscriptionID identifies the failing subscription.
	SubscriptionID string

	// Channel and Topic are the published names of the envelope.
	Channel string
	Topic   string

	// Err is the error returned by the callback, or a description of the panic.
	Err error

	// Panicked is true when the callback panicked instead of returning an error.
	Panicked bool
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("subscription %s on %s/%s panicked: %v", e.SubscriptionID, e.Channel, e.Topic, e.Err)
	}
	return fmt.Sprintf("subscription %s on %s/%s: %v", e.SubscriptionID, e.Channel, e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// DispatchError aggregates the outcome of a dispatch in which at least one
// callback failed or was skipped because the context was done.
type DispatchError struct {
	Channel string
	Topic   string

	// Failures holds one entry per failed callback.
	Failures []*CallbackError

	// Skipped counts callbacks that never started due to cancellation.
	Skipped int

	// Cause is the context error when Skipped > 0.
	Cause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dispatch %s/%s:", e.Channel, e.Topic)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " %d callback(s) failed", len(e.Failures))
	}
	if e.Skipped > 0 {
		if len(e.Failures) > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %d callback(s) skipped: %v", e.Skipped, e.Cause)
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " (first: %v)", e.Failures[0])
	}
	return b.String()
}

// Unwrap exposes every callback failure and the cancellation cause to
// errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// CallbackFailures extracts the callback failures carried by err, if any.
func CallbackFailures(err error) []*CallbackError {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Failures
	}
	return nil
}

// withFailures prepends failures found before dispatch, such as panicking
// filters, to the error returned by the publisher.
func withFailures(env Envelope, err error, early []*CallbackError) error {
	if len(early) == 0 {
		return err
	}
	var de *DispatchError
	if errors.As(err, &de) {
		de.Failures = append(slices.Clone(early), de.Failures...)
		return err
	}
	merged := &DispatchError{Channel: env.Channel, Topic: env.Topic, Failures: early}
	if err != nil {
		return errors.Join(err, merged)
	}
	return merged
}
