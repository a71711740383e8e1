package ratelimit

import (
	"sync"
	"time"
)

// Window is one key's counter state in the local fallback.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// LocalCounter is the in-process sliding-window fallback used when the shared
// counter store is unreachable. It only provides single-process correctness:
// while the store is down, each replica counts independently, so the
// effective limit across N replicas is up to N times the configured one.
// That degradation is accepted; the alternative is denying all traffic
// whenever Redis is down.
//
// The zero value is not usable; construct with NewLocalCounter. The counter
// is safe for concurrent use within one process.
type LocalCounter struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewLocalCounter creates an empty fallback counter.
func NewLocalCounter() *LocalCounter {
	return &LocalCounter{
		windows: make(map[string]*Window),
	}
}

// Increment bumps the counter for key, starting a fresh window of the given
// duration when none exists or the previous one has expired.
func (c *LocalCounter) Increment(key string, window time.Duration) Window {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = &Window{ResetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.Count++

	return *w
}

// Peek returns the current window for key without charging it. The second
// return value is false when no live window exists; expired windows are
// evicted on the way out.
func (c *LocalCounter) Peek(key string) (Window, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok {
		return Window{}, false
	}
	if !now.Before(w.ResetAt) {
		delete(c.windows, key)
		return Window{}, false
	}

	return *w, true
}

// Reset drops all windows. Intended for test isolation.
func (c *LocalCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[string]*Window)
}

// evictExpired removes dead windows so the map does not grow unbounded under
// a churning key space.
func (c *LocalCounter) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, w := range c.windows {
		if !now.Before(w.ResetAt) {
			delete(c.windows, key)
		}
	}
}

// StartEviction runs periodic eviction until the returned stop function is
// called.
func (c *LocalCounter) StartEviction(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.evictExpired()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
