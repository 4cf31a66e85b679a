package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps reservations in a process-local TTL cache.
type MemoryStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryStore constructs an empty store; expired entries are purged every ttl/2.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/2)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (State, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if cached, ok := s.cache.Get(id); ok {
		record := cached.(Record)
		state, err := stateOf(record, fingerprint)
		return state, record, err
	}
	record := Record{Fingerprint: fingerprint, ExpiresAt: time.Now().Add(ttl)}
	s.cache.Set(id, record, ttl)
	return StateNew, record, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, record Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if cached, ok := s.cache.Get(id); ok && cached.(Record).Fingerprint != record.Fingerprint {
		return ErrFingerprintMismatch
	}
	record.Completed = true
	record.ExpiresAt = time.Now().Add(ttl)
	s.cache.Set(id, record, ttl)
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.cache.Delete(documentID(key))
	return nil
}
