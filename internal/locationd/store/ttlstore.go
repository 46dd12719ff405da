// Package store provides a small generic in-memory store with TTL
// expiry, used for short-lived diagnostic state such as the recent-fix
// history exposed by the HTTP API.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// TTLStore maps keys to values that expire after a per-entry TTL. A
// background loop evicts expired entries; reads never return them even
// before eviction runs.
type TTLStore[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]*entry[V]
	stopCh  chan struct{}
	onEvict func(key K, value V)
}

// New creates a store whose eviction loop runs every cleanupInterval.
func New[K comparable, V any](cleanupInterval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:  make(map[K]*entry[V]),
		stopCh: make(chan struct{}),
	}
	go s.evictLoop(cleanupInterval)
	return s
}

// SetOnEvict registers fn to run for entries removed by the eviction
// loop. It is not called for manual Delete.
func (s *TTLStore[K, V]) SetOnEvict(fn func(key K, value V)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Set stores value under key for ttl.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	s.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns the live value for key, if any.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok || e.expired(time.Now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key. Returns whether it was present.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// All returns a snapshot of the live entries.
func (s *TTLStore[K, V]) All() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make(map[K]V)
	for key, e := range s.items {
		if !e.expired(now) {
			out[key] = e.value
		}
	}
	return out
}

// Close stops the eviction loop and drops all entries.
func (s *TTLStore[K, V]) Close() {
	close(s.stopCh)
	s.mu.Lock()
	s.items = make(map[K]*entry[V])
	s.mu.Unlock()
}

func (s *TTLStore[K, V]) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TTLStore[K, V]) evictExpired() {
	now := time.Now()
	type evicted struct {
		key   K
		value V
	}
	s.mu.Lock()
	var gone []evicted
	for key, e := range s.items {
		if e.expired(now) {
			gone = append(gone, evicted{key, e.value})
			delete(s.items, key)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	// Callbacks run outside the critical section to avoid deadlocks.
	if onEvict != nil {
		for _, e := range gone {
			onEvict(e.key, e.value)
		}
	}
}
