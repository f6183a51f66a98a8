package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a map-backed Store honouring per-tier TTLs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]memEntry),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry (for testing).
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || m.lapsed(e) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(key)
	return nil
}

func (m *MemoryStore) Apply(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.Ops() {
		switch op.Kind {
		case OpSet:
			m.set(op.Key, op.Value)
		case OpRemove:
			delete(m.entries, op.Key)
		case OpTouch:
			m.touch(op.Key)
		}
	}
	return nil
}

// Prune drops lapsed entries and reports how many were removed.
func (m *MemoryStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if m.lapsed(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *MemoryStore) set(key Key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = memEntry{value: v, expiresAt: m.expiry(key)}
}

func (m *MemoryStore) touch(key Key) {
	e, ok := m.entries[key]
	if !ok || key.TTL() == 0 || m.lapsed(e) {
		return
	}
	e.expiresAt = m.expiry(key)
	m.entries[key] = e
}

func (m *MemoryStore) expiry(key Key) time.Time {
	if ttl := key.TTL(); ttl > 0 {
		return m.now().Add(ttl)
	}
	return time.Time{}
}

func (m *MemoryStore) lapsed(e memEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
