package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/wetdry-service/internal/models"
)

// Cache defines the interface for daily climate caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.DailyClimate, bool, error)
	Set(ctx context.Context, key string, value models.DailyClimate, ttl time.Duration) error
}

// Key builds the cache key for one (date, location) pair. Coordinates are rounded to
// 4 decimal places (~11 m), below the resolution of the reanalysis grid.
func Key(date time.Time, coord models.Coordinate) string {
	return fmt.Sprintf("%s@%.4f,%.4f", date.UTC().Format(time.DateOnly), coord.Lat, coord.Lon)
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	clock clockwork.Clock
}

type cacheEntry struct {
	value     models.DailyClimate
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance on the wall clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache whose expiry is driven by clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get returns (data, true, nil) on hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.DailyClimate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.DailyClimate{}, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return models.DailyClimate{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores data with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.DailyClimate, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
