package validator

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querypilot/querypilot/internal/observability"
)

const (
	defaultCacheEntries = 1024
	defaultCacheMaxAge  = time.Hour
)

type CacheOptions struct {
	MaxEntries int
	// MaxAge bounds how long an entry is served; <= 0 uses one hour.
	MaxAge time.Duration
	Now    func() time.Time
}

type cacheEntry struct {
	parsed  Parsed
	created time.Time
	seq     uint64
}

type orderItem struct {
	key string
	seq uint64
}

// ParseCache keeps parse results keyed by normalised SQL text. Reads share a
// lock; writes only add absent keys, so racing writers of one key keep the
// first result. Size is bounded first-in first-out and entries expire.
type ParseCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	order      []orderItem
	seq        uint64
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time

	group singleflight.Group
}

func NewParseCache(opts CacheOptions) *ParseCache {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCacheMaxAge
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ParseCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		maxAge:     maxAge,
		now:        now,
	}
}

func (c *ParseCache) Get(key string) (Parsed, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Parsed{}, false
	}
	if c.now().Sub(entry.created) > c.maxAge {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current.seq == entry.seq {
			delete(c.entries, key)
		}
		c.compactLocked()
		c.mu.Unlock()
		return Parsed{}, false
	}
	return entry.parsed, true
}

// Add stores parsed under key unless a live entry exists. It reports whether
// the value was stored.
func (c *ParseCache) Add(key string, parsed Parsed) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if existing, ok := c.entries[key]; ok && now.Sub(existing.created) <= c.maxAge {
		return false
	}
	c.seq++
	c.entries[key] = &cacheEntry{parsed: parsed, created: now, seq: c.seq}
	c.order = append(c.order, orderItem{key: key, seq: c.seq})
	for len(c.entries) > c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if entry, ok := c.entries[oldest.key]; ok && entry.seq == oldest.seq {
			delete(c.entries, oldest.key)
		}
	}
	c.compactLocked()
	return true
}

func (c *ParseCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.compactLocked()
	c.mu.Unlock()
}

// compactLocked drops order items whose entry was replaced or removed once
// they outnumber twice the entry bound. The caller holds mu.
func (c *ParseCache) compactLocked() {
	if len(c.order) <= 2*c.maxEntries {
		return
	}
	live := make([]orderItem, 0, len(c.entries))
	for _, item := range c.order {
		if entry, ok := c.entries[item.key]; ok && entry.seq == item.seq {
			live = append(live, item)
		}
	}
	c.order = live
}

func (c *ParseCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
	c.mu.Unlock()
}

func (c *ParseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load returns the cached value for key or runs parse once for all concurrent
// callers of the same key. Results are stored only when store reports true.
func (c *ParseCache) Load(key string, parse func() (Parsed, bool, error)) (Parsed, bool, error) {
	if parsed, ok := c.Get(key); ok {
		observability.ObserveParseCache(true)
		return parsed, true, nil
	}
	observability.ObserveParseCache(false)
	value, err, _ := c.group.Do(key, func() (any, error) {
		parsed, store, err := parse()
		if err != nil {
			return Parsed{}, err
		}
		if store {
			c.Add(key, parsed)
		}
		return parsed, nil
	})
	if err != nil {
		return Parsed{}, false, err
	}
	return value.(Parsed), false, nil
}
