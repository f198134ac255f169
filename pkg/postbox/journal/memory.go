package journal

import (
	"context"
	"sync"
)

// DefaultMemorySize is the number of entries a MemoryJournal keeps by default.
const DefaultMemorySize = 1000

// MemoryJournal keeps the most recent entries in memory.
// When full, the oldest entry is dropped.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry // oldest first
	maxSize int
	dropped int64
	closed  bool
}

// NewMemoryJournal creates a journal holding up to maxSize entries.
// A non-positive size uses DefaultMemorySize.
func NewMemoryJournal(maxSize int) *MemoryJournal {
	if maxSize <= 0 {
		maxSize = DefaultMemorySize
	}
	return &MemoryJournal{maxSize: maxSize}
}

// Record implements Journal.
func (j *MemoryJournal) Record(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if len(j.entries) >= j.maxSize {
		j.entries = j.entries[1:]
		j.dropped++
	}
	j.entries = append(j.entries, entry)
	return nil
}

// List implements Journal.
func (j *MemoryJournal) List(_ context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}
	n := len(j.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, j.entries[i])
	}
	return result, nil
}

// ListBySubscription implements Journal.
func (j *MemoryJournal) ListBySubscription(_ context.Context, subscriptionID string) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}
	var result []Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].SubscriptionID == subscriptionID {
			result = append(result, j.entries[i])
		}
	}
	return result, nil
}

// Count implements Journal.
func (j *MemoryJournal) Count(_ context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ErrClosed
	}
	return len(j.entries), nil
}

// Dropped returns how many entries were evicted because the journal was full.
func (j *MemoryJournal) Dropped() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.dropped
}

// Clear implements Journal.
func (j *MemoryJournal) Clear(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	j.entries = nil
	return nil
}

// Close implements Journal.
func (j *MemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.entries = nil
	return nil
}
