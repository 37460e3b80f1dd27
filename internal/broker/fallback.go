package broker

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// fallbackEntry carries its own deadline; the LRU's cache-wide TTL is only
// a backstop for entries never read again.
type fallbackEntry struct {
	value     []byte
	expiresAt time.Time
}

// FallbackStore is a bounded in-memory stand-in used while the broker is
// unreachable. Writes land here so job state survives short outages; the
// store is drained back to the broker after reconnection. Entries carry a
// per-key TTL and the whole store is capacity-bounded, so a long outage
// degrades to losing the oldest state rather than exhausting memory.
type FallbackStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, fallbackEntry]
}

// fallbackSweepTTL is the cache-level expiry backstop.
const fallbackSweepTTL = time.Hour

func NewFallbackStore(maxEntries int) *FallbackStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &FallbackStore{
		cache: expirable.NewLRU[string, fallbackEntry](maxEntries, nil, fallbackSweepTTL),
	}
}

func (s *FallbackStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := fallbackEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.cache.Add(key, e)
}

func (s *FallbackStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (s *FallbackStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

func (s *FallbackStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Drain hands every live entry to fn and removes the ones fn accepts.
// Entries fn rejects stay for the next drain attempt.
func (s *FallbackStore) Drain(fn func(key string, value []byte, ttl time.Duration) bool) {
	s.mu.Lock()
	keys := s.cache.Keys()
	type item struct {
		key string
		e   fallbackEntry
	}
	items := make([]item, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.cache.Get(k); ok {
			items = append(items, item{key: k, e: e})
		}
	}
	s.mu.Unlock()

	now := time.Now()
	for _, it := range items {
		if !it.e.expiresAt.IsZero() && now.After(it.e.expiresAt) {
			s.Delete(it.key)
			continue
		}
		ttl := time.Duration(0)
		if !it.e.expiresAt.IsZero() {
			ttl = time.Until(it.e.expiresAt)
		}
		if fn(it.key, it.e.value, ttl) {
			s.Delete(it.key)
		}
	}
}
