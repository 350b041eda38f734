package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a bounded in-process TTL store. When full it evicts the
// entry closest to expiry.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memEntry
	maxEntries int
	evictions  int64
	now        func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

const defaultMaxEntries = 10000

// NewMemoryStore creates a memory store. maxEntries <= 0 uses the default.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// NewMemoryStoreWithClock injects the clock, for simulated-time tests.
func NewMemoryStoreWithClock(maxEntries int, now func() time.Time) *MemoryStore {
	s := NewMemoryStore(maxEntries)
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		// re-check under the write lock: Set may have replaced the entry
		if cur, ok := s.entries[key]; ok && s.now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictSoonest()
	}
	s.entries[key] = memEntry{value: v, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len reports the live entry count (expired entries included until touched).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictSoonest drops the entry nearest to expiry; caller holds the write
// lock.
func (s *MemoryStore) evictSoonest() {
	var victim string
	var soonest time.Time
	for k, e := range s.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim = k
			soonest = e.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
		s.evictions++
	}
}
