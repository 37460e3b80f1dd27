package broker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackStoreSetGet(t *testing.T) {
	s := NewFallbackStore(16)

	s.Set("job:1", []byte(`{"id":"1"}`), time.Minute)
	got, ok := s.Get("job:1")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"id":"1"}`), got)

	_, ok = s.Get("job:missing")
	assert.False(t, ok)
}

func TestFallbackStorePerKeyTTL(t *testing.T) {
	s := NewFallbackStore(16)

	s.Set("short", []byte("a"), time.Millisecond)
	s.Set("long", []byte("b"), time.Minute)

	time.Sleep(10 * time.Millisecond)

	_, ok := s.Get("short")
	assert.False(t, ok, "expired entry must not be served")

	got, ok := s.Get("long")
	require.True(t, ok)
	assert.Equal(t, []byte("b"), got)
}

func TestFallbackStoreCapacityBound(t *testing.T) {
	s := NewFallbackStore(4)
	for i := 0; i < 20; i++ {
		s.Set(fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}
	assert.LessOrEqual(t, s.Len(), 4)

	// The most recent entries survive eviction.
	_, ok := s.Get("k19")
	assert.True(t, ok)
}

func TestFallbackStoreDelete(t *testing.T) {
	s := NewFallbackStore(16)
	s.Set("k", []byte("v"), time.Minute)
	s.Delete("k")
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestFallbackStoreDrain(t *testing.T) {
	s := NewFallbackStore(16)
	s.Set("a", []byte("1"), time.Minute)
	s.Set("b", []byte("2"), time.Minute)
	s.Set("c", []byte("3"), time.Minute)

	accepted := map[string]string{}
	s.Drain(func(key string, value []byte, ttl time.Duration) bool {
		if key == "b" {
			return false // simulate a write that failed again
		}
		accepted[key] = string(value)
		assert.Greater(t, ttl, time.Duration(0))
		return true
	})

	assert.Len(t, accepted, 2)
	assert.Equal(t, "1", accepted["a"])
	assert.Equal(t, "3", accepted["c"])

	// Rejected entries stay for the next drain.
	_, ok := s.Get("b")
	assert.True(t, ok)
	_, ok = s.Get("a")
	assert.False(t, ok)
}
