package service

import "sync"

// missTracker counts callers currently resolving a cache miss per key. More than one
// caller on a key is a stampede; singleflight collapses them to one upstream call.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// Enter registers a miss on key and returns the number of concurrent misses including
// this one. Call leave once the miss is resolved.
func (t *missTracker) Enter(key string) (n int, leave func()) {
	t.mu.Lock()
	t.active[key]++
	n = t.active[key]
	t.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.active[key] <= 1 {
				delete(t.active, key)
				return
			}
			t.active[key]--
		})
	}
}

// Active returns the number of unresolved misses on key.
func (t *missTracker) Active(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[key]
}
