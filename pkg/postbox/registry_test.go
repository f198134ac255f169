package postbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler(context.Context, Envelope) error { return nil }

func TestMemoryRegistry_SubscribeAndMatch(t *testing.T) {
	r := NewMemoryRegistry(nil)

	exact, err := r.Subscribe("c", "t", nopHandler, nil)
	require.NoError(t, err)
	wild, err := r.Subscribe("*", "*", nopHandler, nil)
	require.NoError(t, err)
	_, err = r.Subscribe("c", "other", nopHandler, nil)
	require.NoError(t, err)

	assert.NotEqual(t, exact.ID, wild.ID)
	assert.Equal(t, 3, r.Len())

	matched, err := r.Match(NewEnvelope("c", "t", nil))
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, exact.ID, matched[0].ID, "insertion order is kept")
	assert.Equal(t, wild.ID, matched[1].ID)
}

func TestMemoryRegistry_NilHandler(t *testing.T) {
	r := NewMemoryRegistry(nil)

	_, err := r.Subscribe("c", "t", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, 0, r.Len())
}

func TestMemoryRegistry_Filter(t *testing.T) {
	r := NewMemoryRegistry(nil)

	_, err := r.Subscribe("c", "t", nopHandler, DataIs[int]())
	require.NoError(t, err)

	matched, err := r.Match(NewEnvelope("c", "t", "text"))
	require.NoError(t, err)
	assert.Empty(t, matched)

	matched, err = r.Match(NewEnvelope("c", "t", 42))
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestMemoryRegistry_PanickingFilterIsExcluded(t *testing.T) {
	r := NewMemoryRegistry(nil)

	bad, err := r.Subscribe("c", "t", nopHandler, func(env Envelope) bool {
		return env.Data.(int) > 0
	})
	require.NoError(t, err)
	good, err := r.Subscribe("c", "t", nopHandler, nil)
	require.NoError(t, err)

	matched, err := r.Match(NewEnvelope("c", "t", "text"))
	require.Len(t, matched, 1)
	assert.Equal(t, good.ID, matched[0].ID)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	require.Len(t, de.Failures, 1)
	assert.Equal(t, bad.ID, de.Failures[0].SubscriptionID)
	assert.True(t, de.Failures[0].Panicked)
	assert.Contains(t, de.Failures[0].Err.Error(), "filter")
}

func TestMemoryRegistry_ReleaseIsIdempotent(t *testing.T) {
	r := NewMemoryRegistry(nil)

	rec, err := r.Subscribe("c", "t", nopHandler, nil)
	require.NoError(t, err)
	assert.True(t, r.Has(rec.ID))

	r.Release(rec.ID)
	r.Release(rec.ID)
	r.Release("unknown")

	assert.False(t, r.Has(rec.ID))
	assert.Equal(t, 0, r.Len())

	matched, err := r.Match(NewEnvelope("c", "t", nil))
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestMemoryRegistry_SurvivesGC(t *testing.T) {
	r := NewMemoryRegistry(nil)

	// The caller keeps no reference to the record or the handler.
	func() {
		_, err := r.Subscribe("c", "t", func(context.Context, Envelope) error { return nil }, nil)
		require.NoError(t, err)
	}()

	for i := 0; i < 3; i++ {
		runtime.GC()
	}

	matched, err := r.Match(NewEnvelope("c", "t", nil))
	require.NoError(t, err)
	assert.Len(t, matched, 1)
}

func TestMemoryRegistry_MatcherError(t *testing.T) {
	r := NewMemoryRegistry(nil)
	_, err := r.Subscribe("*", "*", nopHandler, nil)
	require.NoError(t, err)

	_, err = r.Match(Envelope{Channel: "c*", Topic: "t"})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestMemoryRegistry_FilterMayUseRegistry(t *testing.T) {
	r := NewMemoryRegistry(nil)

	_, err := r.Subscribe("c", "t", nopHandler, func(Envelope) bool {
		// Would deadlock if filters ran under the registry lock.
		_, err := r.Subscribe("x", "y", nopHandler, nil)
		return err == nil
	})
	require.NoError(t, err)

	matched, err := r.Match(NewEnvelope("c", "t", nil))
	require.NoError(t, err)
	assert.Len(t, matched, 1)
	assert.Equal(t, 2, r.Len())
}

func TestMemoryRegistry_Concurrent(t *testing.T) {
	r := NewMemoryRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := r.Subscribe(fmt.Sprintf("c%d", i), "*", nopHandler, nil)
			if !assert.NoError(t, err) {
				return
			}
			_, err = r.Match(NewEnvelope(fmt.Sprintf("c%d", i), "t", nil))
			assert.NoError(t, err)
			if i%2 == 0 {
				r.Release(rec.ID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Len())
}
