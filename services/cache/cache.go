package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"vodstream/config"
	"vodstream/models"
)

// Tier names where a cache hit was served from.
type Tier string

const (
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
)

type entry struct {
	key       string
	value     []byte
	createdAt time.Time
	ttl       time.Duration
	size      int64
	elem      *list.Element
}

// Cache is the two-tier result cache: a bounded in-memory LRU map checked
// first, backed by a slower persistent tier. A disk hit is promoted back
// into memory. All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	items    map[string]*entry
	lru      *list.List // front = most recently used
	curBytes int64
	maxItems int
	maxBytes int64

	disk *diskTier

	group singleflight.Group

	memoryHits    atomic.Int64
	diskHits      atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	sharedCalls   atomic.Int64
	writesSkipped atomic.Int64

	now func() time.Time
}

// New builds the cache from settings. fs carries the persistent tier; pass
// afero.NewMemMapFs in tests.
func New(cfg config.CacheSettings, fs afero.Fs) *Cache {
	c := &Cache{
		items:    make(map[string]*entry),
		lru:      list.New(),
		maxItems: cfg.MemoryMaxItems,
		maxBytes: cfg.MemoryMaxBytes,
		now:      time.Now,
	}
	if cfg.DiskTierEnabled {
		c.disk = newDiskTier(fs, cfg.Directory)
	}
	return c
}

// Get returns the cached envelope for key, with the tier it was found in.
// Expired entries are never returned and are lazily evicted.
func (c *Cache) Get(key string) (models.Result, Tier, bool) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if now.Sub(e.createdAt) > e.ttl {
			c.removeLocked(e)
			c.mu.Unlock()
		} else {
			c.lru.MoveToFront(e.elem)
			value := append([]byte(nil), e.value...)
			c.mu.Unlock()
			var res models.Result
			if err := json.Unmarshal(value, &res); err == nil {
				c.memoryHits.Add(1)
				return res, TierMemory, true
			}
		}
	} else {
		c.mu.Unlock()
	}

	if c.disk != nil {
		if value, createdAt, ttl, ok := c.disk.get(key, now); ok {
			var res models.Result
			if err := json.Unmarshal(value, &res); err == nil {
				c.diskHits.Add(1)
				// Promote into memory with the remaining ttl.
				remaining := ttl - now.Sub(createdAt)
				if remaining > 0 {
					c.putMemory(key, value, remaining)
				}
				return res, TierDisk, true
			}
		}
	}

	c.misses.Add(1)
	return models.Result{}, "", false
}

// Put stores the envelope under key in both tiers. Error envelopes are
// refused so a transient upstream failure never poisons later queries.
func (c *Cache) Put(key string, res models.Result, ttl time.Duration) {
	if ttl <= 0 || res.IsError() {
		c.writesSkipped.Add(1)
		return
	}
	value, err := json.Marshal(res)
	if err != nil {
		c.writesSkipped.Add(1)
		return
	}
	c.putMemory(key, value, ttl)
	if c.disk != nil {
		if err := c.disk.put(key, value, c.now(), ttl); err != nil {
			// Storage errors degrade to memory-only behavior.
			log.Printf("[cache] disk tier write failed: %v", err)
		}
	}
}

func (c *Cache) putMemory(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.items[key]; ok {
		c.removeLocked(old)
	}
	e := &entry{
		key:       key,
		value:     value,
		createdAt: c.now(),
		ttl:       ttl,
		size:      int64(len(value)),
	}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
	c.curBytes += e.size
	c.evictLocked()
}

// evictLocked drops least-recently-used entries until bounds are satisfied.
func (c *Cache) evictLocked() {
	for (c.maxItems > 0 && len(c.items) > c.maxItems) || (c.maxBytes > 0 && c.curBytes > c.maxBytes) {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*entry))
		c.evictions.Add(1)
	}
}

func (c *Cache) removeLocked(e *entry) {
	if _, ok := c.items[e.key]; !ok {
		return
	}
	delete(c.items, e.key)
	c.lru.Remove(e.elem)
	c.curBytes -= e.size
}

// Invalidate drops every entry whose key starts with prefix, in both tiers.
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	for key, e := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(e)
		}
	}
	c.mu.Unlock()
	if c.disk != nil {
		c.disk.invalidate(prefix)
	}
}

// SweepExpired walks both tiers and drops entries past their ttl, returning
// how many were removed.
func (c *Cache) SweepExpired() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for _, e := range c.items {
		if now.Sub(e.createdAt) > e.ttl {
			c.removeLocked(e)
			removed++
		}
	}
	c.mu.Unlock()
	if c.disk != nil {
		removed += c.disk.sweep(now)
	}
	return removed
}

// Fetch returns the cached value for key or executes fn to produce it,
// collapsing concurrent misses for the same key into a single upstream call.
// Results produced under a cancelled context are returned but not cached.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (models.Result, error)) (models.Result, bool, error) {
	if res, _, ok := c.Get(key); ok {
		return res, true, nil
	}
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Another flight may have populated the cache while we queued.
		if res, _, ok := c.Get(key); ok {
			return res, nil
		}
		res, err := fn(ctx)
		if err != nil {
			return res, err
		}
		if ctx.Err() != nil {
			// Cancelled computations must not write partial results.
			c.writesSkipped.Add(1)
			return res, ctx.Err()
		}
		c.Put(key, res, ttl)
		return res, nil
	})
	if shared {
		c.sharedCalls.Add(1)
	}
	if err != nil {
		return models.ErrorResult(err.Error()), false, err
	}
	return v.(models.Result), false, nil
}

// Stats returns a point-in-time view of cache behavior.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	entries := len(c.items)
	size := c.curBytes
	c.mu.Unlock()
	return models.CacheStats{
		MemoryHits:    c.memoryHits.Load(),
		DiskHits:      c.diskHits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Entries:       entries,
		SizeBytes:     size,
		SharedCalls:   c.sharedCalls.Load(),
		WritesSkipped: c.writesSkipped.Load(),
	}
}
