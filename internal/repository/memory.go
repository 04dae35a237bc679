package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process stand-in for RedisStore.
type MemoryStore struct {
	mu         sync.Mutex
	processed  map[string]time.Time
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processed:  make(map[string]time.Time),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (m *MemoryStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiresAt, ok := m.processed[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	m.processed[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.processed, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CheckRateLimit(_ context.Context, key string, limit int64, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.rateLimits[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		m.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
