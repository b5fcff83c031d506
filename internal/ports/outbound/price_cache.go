package outbound

import (
	"context"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
)

// PriceCache persists computed prices keyed by token and block.
// Implementations derive keys with entity.CacheKey, so tokens differing only
// in letter case share an entry. All methods must be safe for concurrent use.
type PriceCache interface {
	// Get returns the cached entry for the token at the block.
	// Returns nil, nil if nothing is cached. Stored values that fail to decode
	// are reported as errors.
	Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error)

	// Set stores price under the token and block, stamped with the current time.
	// Invalid prices (NaN, infinite, negative) are rejected before any write.
	Set(ctx context.Context, token string, block uint64, price float64) error

	// Close releases the underlying store.
	Close() error
}
