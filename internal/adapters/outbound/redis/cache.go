// Package redis provides a Redis implementation of the PriceCache port.
//
// Prices are stored as JSON entries under prefix:token:block keys. A zero TTL
// keeps entries forever, which suits historical prices that never change.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time check that PriceCache implements outbound.PriceCache
var _ outbound.PriceCache = (*PriceCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long cached prices live; zero means no expiry
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "stl-price",
	}
}

// PriceCache is a Redis implementation of the outbound.PriceCache port.
type PriceCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewPriceCache creates a new Redis price cache.
func NewPriceCache(cfg Config, logger *slog.Logger) (*PriceCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("redis TTL must not be negative")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &PriceCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *PriceCache) Close() error {
	return c.client.Close()
}

// key generates a cache key in the format prefix:token:block
func (c *PriceCache) key(token string, block uint64) string {
	if c.keyPrefix == "" {
		return entity.CacheKey(token, block)
	}
	return c.keyPrefix + entity.CacheKeySeparator + entity.CacheKey(token, block)
}

// Get retrieves a cached price. Returns nil, nil on a miss.
func (c *PriceCache) Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.key(token, block)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return entity.UnmarshalCacheEntry(data)
}

// Set caches a price.
func (c *PriceCache) Set(ctx context.Context, token string, block uint64, price float64) error {
	entry, err := entity.NewCacheEntry(price)
	if err != nil {
		return err
	}
	data, err := entry.Marshal()
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(token, block), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache price: %w", err)
	}
	return nil
}
