// Package journal records subscriber callbacks that failed during dispatch.
//
// A journal is a diagnostic trail, not a message store: entries describe the
// failure (which subscription, which names, what error) and never carry the
// payload, so nothing in the journal can be replayed onto the bus.
package journal

import (
	"context"
	"errors"
	"time"
)

// Entry describes one failed callback invocation.
type Entry struct {
	SubscriptionID string    `json:"subscription_id"`
	Channel        string    `json:"channel"`
	Topic          string    `json:"topic"`
	Error          string    `json:"error"`
	Panicked       bool      `json:"panicked"`
	FailedAt       time.Time `json:"failed_at"`
}

// Journal stores failure entries.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Record appends an entry.
	Record(ctx context.Context, entry Entry) error

	// List returns up to limit entries, most recent first.
	// A non-positive limit returns every entry.
	List(ctx context.Context, limit int) ([]Entry, error)

	// ListBySubscription returns the entries for one subscription, most recent first.
	ListBySubscription(ctx context.Context, subscriptionID string) ([]Entry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases any resources (connections, files).
	Close() error
}

// ErrClosed indicates the journal has been closed.
var ErrClosed = errors.New("journal closed")
