package postbox

import "sync"

var (
	defaultMu  sync.RWMutex
	defaultBox *Box
)

// Default returns the process-wide Box, creating it with New() on first use.
//
// Default exists for applications that want a single shared bus. Library
// code should accept a Bus instead.
func Default() *Box {
	defaultMu.RLock()
	b := defaultBox
	defaultMu.RUnlock()
	if b != nil {
		return b
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBox == nil {
		defaultBox = New()
	}
	return defaultBox
}

// SetDefault replaces the process-wide Box and returns a function restoring
// the previous one. A nil b resets to lazy creation.
//
//	restore := postbox.SetDefault(postbox.New(postbox.WithPublisher(postbox.SequentialPublisher{})))
//	defer restore()
func SetDefault(b *Box) (restore func()) {
	defaultMu.Lock()
	prev := defaultBox
	defaultBox = b
	defaultMu.Unlock()

	return func() {
		defaultMu.Lock()
		defaultBox = prev
		defaultMu.Unlock()
	}
}
