package engine_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexdb/vertex/engine"
)

func TestForEach_BoundsConcurrencyAndProcessesEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var inFlight, maxInFlight int32
	var mu sync.Mutex
	var processed []int

	err := engine.ForEach(context.Background(), items, engine.ForEachOptions{Concurrency: 2}, func(ctx context.Context, n int) error {
		cur := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if cur > int32(maxInFlight) {
			maxInFlight = cur
		}
		mu.Unlock()
		defer atomic.AddInt32(&inFlight, -1)

		mu.Lock()
		processed = append(processed, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight, int32(2))
	assert.Len(t, processed, len(items))
}

func TestForEach_RetriesBeforeRecordingFailure(t *testing.T) {
	attempts := 0
	err := engine.ForEach(context.Background(), []int{1}, engine.ForEachOptions{Retries: 2}, func(ctx context.Context, n int) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("attempt %d failed", attempts)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestForEach_CollectsErrorsWithoutStopOnError(t *testing.T) {
	err := engine.ForEach(context.Background(), []int{1, 2, 3}, engine.ForEachOptions{}, func(ctx context.Context, n int) error {
		if n == 2 {
			return fmt.Errorf("bad item")
		}
		return nil
	})
	require.Error(t, err)
}

func TestForEach_ReportsProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	err := engine.ForEach(context.Background(), []int{1, 2, 3}, engine.ForEachOptions{
		OnProgress: func(done, total int) {
			mu.Lock()
			seen = append(seen, done)
			mu.Unlock()
			assert.Equal(t, 3, total)
		},
	}, func(ctx context.Context, n int) error { return nil })
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}
