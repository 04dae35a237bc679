package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_MarkProcessed(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	first, _ = store.MarkProcessed(ctx, "evt", time.Minute)
	assert.False(t, first)

	now = now.Add(2 * time.Minute)
	first, _ = store.MarkProcessed(ctx, "evt", time.Minute)
	assert.True(t, first)

	require.NoError(t, store.Forget(ctx, "evt"))
	first, _ = store.MarkProcessed(ctx, "evt", time.Minute)
	assert.True(t, first)
}

func TestMemoryStore_CheckRateLimit(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := store.CheckRateLimit(ctx, "u1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := store.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.False(t, allowed)

	allowed, _ = store.CheckRateLimit(ctx, "u2", 2, time.Minute)
	assert.True(t, allowed, "keys are independent")

	now = now.Add(time.Minute)
	allowed, _ = store.CheckRateLimit(ctx, "u1", 2, time.Minute)
	assert.True(t, allowed, "window reset")
}

func TestMemoryStore_ConcurrentMarkProcessed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, _ := store.MarkProcessed(ctx, "same", time.Hour)
			if first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)
}
