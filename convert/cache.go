package convert

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"sheet-to-json/parsers"
)

// LoadFunc produces the conversion result for a file URL.
type LoadFunc func(ctx context.Context, fileURL string) (*parsers.ConversionResult, error)

type cacheEntry struct {
	result  *parsers.ConversionResult
	expires time.Time
}

// ResultCache keeps recent synchronous conversions so paging through a file
// does not download it again for every page. A zero TTL disables caching and
// every lookup re-fetches. Concurrent loads of the same URL share one fetch.
type ResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewResultCache creates a cache holding results for ttl.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func fingerprint(fileURL string) string {
	sum := blake2b.Sum256([]byte(fileURL))
	return hex.EncodeToString(sum[:])
}

// Get returns a live cached result for fileURL.
func (c *ResultCache) Get(fileURL string) (*parsers.ConversionResult, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	key := fingerprint(fileURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Put stores result for fileURL and drops expired entries.
func (c *ResultCache) Put(fileURL string, result *parsers.ConversionResult) {
	if c.ttl <= 0 || result == nil {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.entries[fingerprint(fileURL)] = cacheEntry{result: result, expires: now.Add(c.ttl)}
}

// Load returns the cached result for fileURL or calls load and caches what it returns.
func (c *ResultCache) Load(ctx context.Context, fileURL string, load LoadFunc) (*parsers.ConversionResult, error) {
	if result, ok := c.Get(fileURL); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return result, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(fingerprint(fileURL), func() (any, error) {
		result, err := load(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		c.Put(fileURL, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*parsers.ConversionResult), nil
}

// Len returns the number of stored entries, expired ones included.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
