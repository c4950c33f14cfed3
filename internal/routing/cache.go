package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/observability"
)

// DefaultCacheEntries caps a cache built by NewCache.
const DefaultCacheEntries = 10000

// Cache is a small in-memory TTL cache for route lookups keyed by the
// coordinate sequence. Only successful lookups are stored. Expired entries
// are swept on Set at most once per TTL, and when the cache is full the
// entry closest to expiry is evicted.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	lastSweep  time.Time
	now        func() time.Time
}

type cacheEntry struct {
	v  models.Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL holding at most
// DefaultCacheEntries routes.
func NewCache(ttl time.Duration) *Cache {
	return NewCacheWithLimit(ttl, DefaultCacheEntries)
}

// NewCacheWithLimit is NewCache with an explicit size cap; limit <= 0 means
// unbounded.
func NewCacheWithLimit(ttl time.Duration, limit int) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, maxEntries: limit, now: time.Now, lastSweep: time.Now()}
}

func keyFor(op string, coords []models.Coord) string {
	var b strings.Builder
	b.WriteString(op)
	for _, c := range coords {
		b.WriteByte('|')
		b.WriteString(fmtCoord(c))
	}
	return b.String()
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns a copy of the cached route and true if present and not expired.
func (c *Cache) Get(key string) (models.Route, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return models.Route{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return models.Route{}, false
	}
	return e.v.Clone(), true
}

// Set stores a copy of the route in the cache.
func (c *Cache) Set(key string, v models.Route) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastSweep) > c.ttl {
		c.sweepLocked(now)
	}
	if _, exists := c.store[key]; !exists && c.maxEntries > 0 && len(c.store) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.store) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.store[key] = cacheEntry{v: v.Clone(), ts: now}
}

func (c *Cache) sweepLocked(now time.Time) {
	for k, e := range c.store {
		if now.Sub(e.ts) > c.ttl {
			delete(c.store, k)
		}
	}
	c.lastSweep = now
}

func (c *Cache) evictOldestLocked() {
	var (
		oldest string
		ts     time.Time
		found  bool
	)
	for k, e := range c.store {
		if !found || e.ts.Before(ts) {
			oldest, ts, found = k, e.ts, true
		}
	}
	if found {
		delete(c.store, oldest)
	}
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// CachedOracle serves repeated direct and optimised route lookups from a
// Cache. Road snapping is passed through.
type CachedOracle struct {
	Oracle
	cache *Cache
}

func NewCachedOracle(next Oracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{Oracle: next, cache: NewCache(ttl)}
}

func (c *CachedOracle) DirectRoute(ctx context.Context, start, end models.Coord) (models.Route, error) {
	k := keyFor("direct", []models.Coord{start, end})
	if r, ok := c.cache.Get(k); ok {
		observability.OracleCacheHits.WithLabelValues("direct").Inc()
		return r, nil
	}
	r, err := c.Oracle.DirectRoute(ctx, start, end)
	if err != nil {
		return models.Route{}, err
	}
	c.cache.Set(k, r)
	return r, nil
}

func (c *CachedOracle) OptimizedRoute(ctx context.Context, coords []models.Coord) (models.Route, error) {
	if err := checkWaypointCount(len(coords)); err != nil {
		return models.Route{}, err
	}
	k := keyFor("optimized", coords)
	if r, ok := c.cache.Get(k); ok {
		observability.OracleCacheHits.WithLabelValues("optimized").Inc()
		return r, nil
	}
	r, err := c.Oracle.OptimizedRoute(ctx, coords)
	if err != nil {
		return models.Route{}, err
	}
	c.cache.Set(k, r)
	return r, nil
}
