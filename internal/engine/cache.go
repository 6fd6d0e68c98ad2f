package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/provider-cascade/internal/adapter/observability"
	"github.com/fairyhunter13/provider-cascade/internal/domain"
)

// DefaultCacheEntries is the default result cache capacity.
const DefaultCacheEntries = 100

// cacheEntry pairs a validated result with its insertion time.
type cacheEntry struct {
	result     domain.ValidatedResult
	insertedAt time.Time
}

// ResultCache is a capacity-bound cache of validated results keyed by
// request fingerprint. Eviction is oldest-inserted-first, deliberately not
// LRU. Safe for concurrent use.
type ResultCache struct {
	mu       sync.RWMutex
	capacity int
	m        map[string]cacheEntry
	ord      []string
	now      func() time.Time
}

// NewResultCache creates a cache holding at most capacity entries.
// capacity <= 0 falls back to DefaultCacheEntries.
func NewResultCache(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	return &ResultCache{
		capacity: capacity,
		m:        make(map[string]cacheEntry),
		ord:      make([]string, 0, capacity),
		now:      time.Now,
	}
}

// Get returns the cached result for a fingerprint.
func (c *ResultCache) Get(fingerprint string) (domain.ValidatedResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[fingerprint]
	if !ok {
		return domain.ValidatedResult{}, false
	}
	return e.result, true
}

// Put stores a result under a fingerprint, evicting the oldest-inserted
// entry when the capacity is exceeded.
func (c *ResultCache) Put(fingerprint string, res domain.ValidatedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[fingerprint]; exists {
		c.m[fingerprint] = cacheEntry{result: res, insertedAt: c.now()}
		return
	}
	if len(c.ord) >= c.capacity {
		oldest := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, oldest)
	}
	c.m[fingerprint] = cacheEntry{result: res, insertedAt: c.now()}
	c.ord = append(c.ord, fingerprint)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func shortKey(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// Fingerprint derives the deterministic cache key from a request's defining
// inputs.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strings.TrimSpace(p)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedCascade wraps a cascade with result caching for deterministic-input
// operations such as URL extraction. Generative calls must not be cached;
// repeated calls may legitimately differ.
type CachedCascade struct {
	cascade *Cascade
	cache   *ResultCache
}

// NewCachedCascade wraps cascade with cache.
func NewCachedCascade(cascade *Cascade, cache *ResultCache) *CachedCascade {
	return &CachedCascade{cascade: cascade, cache: cache}
}

// Execute returns a cached result for the fingerprint when present,
// otherwise runs the cascade and caches an accepted, non-degraded result.
func (cc *CachedCascade) Execute(ctx context.Context, cap domain.Capability, fingerprint string, invoke domain.InvokeFunc) (domain.ValidatedResult, error) {
	if res, ok := cc.cache.Get(fingerprint); ok {
		slog.Debug("result cache hit",
			slog.String("capability", string(cap)),
			slog.String("fingerprint", shortKey(fingerprint)))
		observability.CacheRequestsTotal.WithLabelValues(string(cap), "hit").Inc()
		return res, nil
	}
	observability.CacheRequestsTotal.WithLabelValues(string(cap), "miss").Inc()
	res, err := cc.cascade.Execute(ctx, cap, invoke)
	if err != nil {
		return domain.ValidatedResult{}, err
	}
	// Degraded results are served but not memoized; a later call should
	// get the chance to produce a full-quality result.
	if !res.Degraded {
		cc.cache.Put(fingerprint, res)
	}
	return res, nil
}
