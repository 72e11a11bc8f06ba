package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend used for dry runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func memKey(namespace, key string) string { return namespace + "\x00" + key }

// GetCacheEntry returns a copy of the stored entry or nil.
func (m *MemoryBackend) GetCacheEntry(_ context.Context, namespace, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(namespace, key)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// PutCacheEntry upserts the entry.
func (m *MemoryBackend) PutCacheEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memKey(e.Namespace, e.Key)] = e
	return nil
}

// DeleteExpiredCacheEntries removes entries whose expiry is before now.
func (m *MemoryBackend) DeleteExpiredCacheEntries(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.ExpiresAt.Before(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// ListExpiringCacheEntries lists entries with expiry in [now, until],
// soonest first.
func (m *MemoryBackend) ListExpiringCacheEntries(_ context.Context, now, until time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if !e.ExpiresAt.Before(now) && !e.ExpiresAt.After(until) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// Len returns the number of stored entries, expired included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
