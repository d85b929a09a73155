// ABOUTME: Tests for the dedupe cache used for duplicate suppression and ticket single-use.
// ABOUTME: Validates TTL expiration, size limits, eviction, value caching, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Check_NotSeen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_Check_Seen(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("my-key")

	assert.True(t, cache.Check("my-key"))
}

func TestCache_Check_Expired(t *testing.T) {
	// Use a very short TTL for testing
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("expiring-key")
	assert.True(t, cache.Check("expiring-key"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_CheckAndMark(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First call marks, second detects the duplicate
	assert.False(t, cache.CheckAndMark("once"))
	assert.True(t, cache.CheckAndMark("once"))
}

func TestCache_CheckAndMark_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	// Many goroutines race on the same key; exactly one may win
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestCache_PutAndGet(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// Get on unmarked key
	_, ok := cache.Get("k")
	assert.False(t, ok)

	cache.Mark("k")

	// Marked but no value yet
	_, ok = cache.Get("k")
	assert.False(t, ok)

	cache.Put("k", "cached-reply")
	v, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "cached-reply", v)
}

func TestCache_Put_IgnoresUnknownKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Put("ghost", "value")
	_, ok := cache.Get("ghost")
	assert.False(t, ok)
}

func TestCache_Get_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Mark("k")
	cache.Put("k", 42)

	time.Sleep(20 * time.Millisecond)

	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Mark("k")
	cache.Forget("k")

	assert.False(t, cache.Check("k"))
	// The key can be marked fresh again
	assert.False(t, cache.CheckAndMark("k"))

	// Forgetting an unknown key is a no-op
	cache.Forget("never-seen")
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Mark("key-1")
	cache.Mark("key-2")
	cache.Mark("key-3")
	cache.Mark("key-4") // evicts key-1

	assert.False(t, cache.Check("key-1"))
	assert.True(t, cache.Check("key-2"))
	assert.True(t, cache.Check("key-3"))
	assert.True(t, cache.Check("key-4"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New(5*time.Minute, 10000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				cache.Mark(key)
				cache.Put(key, j)
				cache.Check(key)
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestCache_Close_Idempotent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Close()
	cache.Close() // must not panic
}
