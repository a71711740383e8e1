package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCounterIncrement(t *testing.T) {
	c := NewLocalCounter()

	w := c.Increment("key", time.Minute)
	assert.Equal(t, int64(1), w.Count)
	assert.True(t, w.ResetAt.After(time.Now()), "reset time should be in the future")

	w = c.Increment("key", time.Minute)
	assert.Equal(t, int64(2), w.Count)

	// Distinct keys count independently
	w = c.Increment("other", time.Minute)
	assert.Equal(t, int64(1), w.Count)
}

func TestLocalCounterWindowExpiry(t *testing.T) {
	c := NewLocalCounter()

	w := c.Increment("key", 10*time.Millisecond)
	assert.Equal(t, int64(1), w.Count)
	w = c.Increment("key", 10*time.Millisecond)
	assert.Equal(t, int64(2), w.Count)

	time.Sleep(20 * time.Millisecond)

	w = c.Increment("key", 10*time.Millisecond)
	assert.Equal(t, int64(1), w.Count, "expired window should restart at 1")
}

func TestLocalCounterPeek(t *testing.T) {
	c := NewLocalCounter()

	_, ok := c.Peek("missing")
	assert.False(t, ok)

	c.Increment("key", 10*time.Millisecond)
	w, ok := c.Peek("key")
	require.True(t, ok)
	assert.Equal(t, int64(1), w.Count)

	time.Sleep(20 * time.Millisecond)

	_, ok = c.Peek("key")
	assert.False(t, ok, "expired window should not be visible")
}

func TestLocalCounterEviction(t *testing.T) {
	c := NewLocalCounter()

	c.Increment("short", 5*time.Millisecond)
	c.Increment("long", time.Minute)

	time.Sleep(10 * time.Millisecond)
	c.evictExpired()

	_, ok := c.Peek("short")
	assert.False(t, ok)
	_, ok = c.Peek("long")
	assert.True(t, ok)
}

func TestLocalCounterConcurrentIncrements(t *testing.T) {
	c := NewLocalCounter()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Increment("shared", time.Minute)
			}
		}()
	}
	wg.Wait()

	w, ok := c.Peek("shared")
	require.True(t, ok)
	assert.Equal(t, int64(goroutines*perGoroutine), w.Count, "no increments should be lost")
}

func TestLocalCounterReset(t *testing.T) {
	c := NewLocalCounter()

	for i := 0; i < 5; i++ {
		c.Increment(fmt.Sprintf("key-%d", i), time.Minute)
	}
	c.Reset()

	for i := 0; i < 5; i++ {
		_, ok := c.Peek(fmt.Sprintf("key-%d", i))
		assert.False(t, ok)
	}
}
