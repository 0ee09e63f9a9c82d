// Package cache is the in-process, TTL-bounded memoization of resolved
// setting values. Entries are dropped on invalidation, never refreshed
// eagerly; the next read triggers a fresh resolution.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lotkeeper/lotkeeper/internal/settings/value"
)

// Entry pairs a resolved value with the scope that satisfied it, so a
// cache hit keeps its provenance.
type Entry struct {
	Value value.Value
	Scope string
}

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotkeeper_settings_cache_hits_total",
		Help: "Resolved setting reads served from the in-process cache.",
	})
	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotkeeper_settings_cache_misses_total",
		Help: "Resolved setting reads that required a fresh resolution.",
	})
)

// Cache memoizes resolved values per (category, key, variant). The
// variant encodes the requester's scope instance so overrides for
// different locations or users do not collide.
type Cache struct {
	items *ttlcache.Cache[string, Entry]

	mu   sync.Mutex
	gens map[string]*atomic.Uint64

	defaultTTL time.Duration
}

// New creates a cache with the given fallback TTL for categories
// without an explicit one. Call Start once to enable expiry reaping and
// Stop on shutdown.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		items:      ttlcache.New[string, Entry](),
		gens:       make(map[string]*atomic.Uint64),
		defaultTTL: defaultTTL,
	}
}

// Start runs the expiry reaper. Blocks; run in a goroutine.
func (c *Cache) Start() { c.items.Start() }

// Stop terminates the expiry reaper.
func (c *Cache) Stop() { c.items.Stop() }

func (c *Cache) generation(category string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen, ok := c.gens[category]
	if !ok {
		gen = &atomic.Uint64{}
		c.gens[category] = gen
	}

	return gen
}

func (c *Cache) entryKey(category, key, variant string) string {
	gen := c.generation(category).Load()

	return fmt.Sprintf("%d|%s|%s|%s", gen, category, key, variant)
}

// Get returns the cached entry for a key variant, or a miss.
func (c *Cache) Get(category, key, variant string) (Entry, bool) {
	item := c.items.Get(c.entryKey(category, key, variant))
	if item == nil {
		misses.Inc()

		return Entry{}, false
	}

	hits.Inc()

	return item.Value(), true
}

// Put stores a resolved entry under the category's TTL.
func (c *Cache) Put(category, key, variant string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.items.Set(c.entryKey(category, key, variant), e, ttl)
}

// Invalidate drops every cached variant of one (category, key),
// typically on a write confirmation or an inbound change notification.
func (c *Cache) Invalidate(category, key string) {
	gen := c.generation(category).Load()
	prefix := fmt.Sprintf("%d|%s|%s|", gen, category, key)

	for _, entryKey := range c.items.Keys() {
		if strings.HasPrefix(entryKey, prefix) {
			c.items.Delete(entryKey)
		}
	}
}

// InvalidateCategory atomically retires every entry of a category by
// bumping its generation. Concurrent readers observe either the old
// generation's entries or an empty new generation, never a mix; TTL
// expiry reclaims the orphaned entries.
func (c *Cache) InvalidateCategory(category string) {
	c.generation(category).Add(1)
}
