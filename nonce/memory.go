package nonce

import (
	"context"
	"sync"
	"time"
)

const (
	memoryPurgeBatch    = 128
	memoryPurgeInterval = time.Second
)

// MemoryStore is an in-process Guard. It is suitable for a single verifier
// instance; replicas need a shared store.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	lastPurge time.Time
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

func (m *MemoryStore) CheckAndRecord(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := validate(nonce, ttl); err != nil {
		return false, err
	}

	key := Key(nonce)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.purge(now)

	if exp, ok := m.entries[key]; ok && now.Before(exp) {
		return false, nil
	}

	m.entries[key] = now.Add(ttl)

	return true, nil
}

// Len returns the number of retained nonces, including expired entries not
// yet purged.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// purge removes a bounded batch of expired entries, at most once per
// interval. Caller holds mu.
func (m *MemoryStore) purge(now time.Time) {
	if now.Sub(m.lastPurge) < memoryPurgeInterval {
		return
	}

	m.lastPurge = now
	removed := 0

	for key, exp := range m.entries {
		if removed >= memoryPurgeBatch {
			return
		}

		if !now.Before(exp) {
			delete(m.entries, key)
			removed++
		}
	}
}
