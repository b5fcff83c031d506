package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time check that PriceCache implements outbound.PriceCache.
var _ outbound.PriceCache = (*PriceCache)(nil)

const createPriceCacheTable = `
	CREATE TABLE IF NOT EXISTS price_cache (
		cache_key TEXT PRIMARY KEY,
		price     DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		cached_at TIMESTAMPTZ NOT NULL
	)
`

// PriceCache stores prices in a price_cache table keyed by token:block.
// It takes ownership of the pool and closes it on Close.
type PriceCache struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPriceCache creates a PostgreSQL price cache.
func NewPriceCache(pool *pgxpool.Pool, logger *slog.Logger) (*PriceCache, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceCache{
		pool:   pool,
		logger: logger.With("component", "postgres-cache"),
	}, nil
}

// EnsureSchema creates the price_cache table if it does not exist.
func (c *PriceCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, createPriceCacheTable); err != nil {
		return fmt.Errorf("creating price_cache table: %w", err)
	}
	return nil
}

// Get returns the cached entry or nil on a miss.
func (c *PriceCache) Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	var (
		price    float64
		cachedAt time.Time
	)
	err := c.pool.QueryRow(ctx, `
		SELECT price, cached_at
		FROM price_cache
		WHERE cache_key = $1
	`, entity.CacheKey(token, block)).Scan(&price, &cachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cached price: %w", err)
	}

	entry := &entity.CacheEntry{Price: price, CachedAt: cachedAt.UTC()}
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cached price: %w", err)
	}
	return entry, nil
}

// Set upserts the price. The last writer wins.
func (c *PriceCache) Set(ctx context.Context, token string, block uint64, price float64) error {
	entry, err := entity.NewCacheEntry(price)
	if err != nil {
		return err
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO price_cache (cache_key, price, cached_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE
		SET price = EXCLUDED.price, cached_at = EXCLUDED.cached_at
	`, entity.CacheKey(token, block), entry.Price, entry.CachedAt)
	if err != nil {
		return fmt.Errorf("upserting cached price: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (c *PriceCache) Close() error {
	c.pool.Close()
	return nil
}
