// cache.go provides an in-memory implementation of PriceCache.
//
// Entries are keyed with entity.CacheKey and stored encoded, exactly as the
// persistent adapters store them, so the same decode path is exercised.
//
// All operations are thread-safe. Data is lost on process restart.
// For production use, use the disk, Redis, Postgres or S3 implementation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time check that PriceCache implements outbound.PriceCache
var _ outbound.PriceCache = (*PriceCache)(nil)

// PriceCache is an in-memory implementation of the PriceCache port.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

// NewPriceCache creates a new in-memory price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string][]byte),
	}
}

// Get returns the cached entry or nil if absent.
func (c *PriceCache) Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("price cache is closed")
	}

	data, ok := c.entries[entity.CacheKey(token, block)]
	if !ok {
		return nil, nil
	}
	return entity.UnmarshalCacheEntry(data)
}

// Set stores the price.
func (c *PriceCache) Set(ctx context.Context, token string, block uint64, price float64) error {
	entry, err := entity.NewCacheEntry(price)
	if err != nil {
		return err
	}
	data, err := entry.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("price cache is closed")
	}
	c.entries[entity.CacheKey(token, block)] = data
	return nil
}

// Len returns the number of cached entries.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close marks the cache closed; further calls fail.
func (c *PriceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
