package advisor

import (
	"sync"
	"time"
)

// VerdictCache stores verdicts keyed by fingerprint. Implementations must
// expire entries a fixed duration after insertion: repeated reads never
// extend a lifetime.
type VerdictCache interface {
	Get(fp Fingerprint) (Verdict, bool)
	Put(fp Fingerprint, v Verdict)
	Len() int
}

type cacheEntry struct {
	verdict  Verdict
	expireAt time.Time
}

// MemoryCache is the default in-process VerdictCache. Expired entries are
// evicted lazily on access; there is no size bound and no background sweeper.
type MemoryCache struct {
	mu  sync.RWMutex
	m   map[string]cacheEntry
	ttl time.Duration

	now func() time.Time // test hook
}

// NewMemoryCache creates a cache whose entries live for ttl after insertion.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryCache{
		m:   make(map[string]cacheEntry),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the cached verdict if present and not expired. An expired
// entry reads as a miss and is removed.
func (c *MemoryCache) Get(fp Fingerprint) (Verdict, bool) {
	key := fp.Key()

	c.mu.RLock()
	entry, ok := c.m[key]
	c.mu.RUnlock()

	if !ok {
		return Verdict{}, false
	}
	if c.now().After(entry.expireAt) {
		c.mu.Lock()
		// Re-check under the write lock; a fresh Put may have raced us.
		if cur, ok := c.m[key]; ok && c.now().After(cur.expireAt) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return Verdict{}, false
	}
	return entry.verdict, true
}

// Put stores a verdict. The expiry clock starts at insertion.
func (c *MemoryCache) Put(fp Fingerprint, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fp.Key()] = cacheEntry{verdict: v, expireAt: c.now().Add(c.ttl)}
}

// Len reports stored entries, counting not-yet-evicted expired ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
