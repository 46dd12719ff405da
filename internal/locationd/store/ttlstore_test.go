package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s := New[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestExpiredEntriesAreInvisible(t *testing.T) {
	// Long cleanup interval: expiry must be enforced on read, not just by
	// the eviction loop.
	s := New[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.All())
}

func TestDelete(t *testing.T) {
	s := New[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	s := New[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	s.Set("a", 2, time.Minute)
	got, _ := s.Get("a")
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, s.Len())
}

func TestEvictionLoopCallsOnEvict(t *testing.T) {
	s := New[string, int](5 * time.Millisecond)
	defer s.Close()

	var mu sync.Mutex
	evicted := make(map[string]int)
	s.SetOnEvict(func(key string, value int) {
		mu.Lock()
		evicted[key] = value
		mu.Unlock()
	})

	s.Set("a", 1, time.Millisecond)
	s.Set("keep", 2, time.Hour)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, evicted["a"])
	mu.Unlock()
	_, ok := s.Get("keep")
	assert.True(t, ok)
}

func TestCloseDropsEntries(t *testing.T) {
	s := New[string, int](time.Hour)
	s.Set("a", 1, time.Minute)
	s.Close()
	_, ok := s.Get("a")
	assert.False(t, ok)
}
