// Package boltdb provides a disk-backed implementation of the PriceCache port.
//
// Entries live in a single bbolt file under a configurable root directory,
// so cached prices survive process restarts. The file is opened lazily on
// first use; concurrent first callers share one initialization and may give
// up on it when their context ends. A failed initialization is remembered for
// RetryCooldown, during which callers fail fast instead of waiting on the
// file lock again.
package boltdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time check that PriceCache implements outbound.PriceCache
var _ outbound.PriceCache = (*PriceCache)(nil)

var bucketName = []byte("prices")

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("price cache is closed")
	// ErrUnavailable is returned while a failed open is cooling down.
	ErrUnavailable = errors.New("price cache unavailable")
)

// Config holds disk cache configuration.
type Config struct {
	// Dir is the root directory; it is created on first use.
	Dir string
	// FileName is the database file inside Dir.
	FileName string
	// OpenTimeout bounds how long to wait for the file lock held by another process.
	OpenTimeout time.Duration
	// RetryCooldown is how long a failed open is reported without retrying.
	RetryCooldown time.Duration
}

// ConfigDefaults returns sensible defaults for the disk cache.
func ConfigDefaults() Config {
	return Config{
		Dir:           "/data/cache",
		FileName:      "prices.db",
		OpenTimeout:   1 * time.Second,
		RetryCooldown: 5 * time.Second,
	}
}

// PriceCache is a bbolt implementation of the outbound.PriceCache port.
type PriceCache struct {
	cfg    Config
	logger *slog.Logger

	group singleflight.Group
	now   func() time.Time

	// mu guards publishing the handle against Close and the failure state.
	mu       sync.Mutex
	failedAt time.Time
	lastErr  error

	db     atomic.Pointer[bolt.DB]
	closed atomic.Bool
	opens  atomic.Int32
}

// NewPriceCache creates a disk cache. No I/O happens until the first Get or Set.
func NewPriceCache(cfg Config, logger *slog.Logger) (*PriceCache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	defaults := ConfigDefaults()
	if cfg.FileName == "" {
		cfg.FileName = defaults.FileName
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.RetryCooldown < 0 {
		return nil, fmt.Errorf("retry cooldown must not be negative, got %v", cfg.RetryCooldown)
	}
	if cfg.RetryCooldown == 0 {
		cfg.RetryCooldown = defaults.RetryCooldown
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PriceCache{
		cfg:    cfg,
		logger: logger.With("component", "disk-cache"),
		now:    time.Now,
	}, nil
}

// Path returns the database file location.
func (c *PriceCache) Path() string {
	return filepath.Join(c.cfg.Dir, c.cfg.FileName)
}

// handle returns the open database, opening it on first use. Callers waiting
// on an open in progress return when ctx ends; the open itself carries on.
func (c *PriceCache) handle(ctx context.Context) (*bolt.DB, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if db := c.db.Load(); db != nil {
		return db, nil
	}
	if err := c.coolingDown(); err != nil {
		return nil, err
	}

	ch := c.group.DoChan("open", func() (any, error) {
		return c.open()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*bolt.DB), nil
	}
}

func (c *PriceCache) coolingDown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastErr == nil {
		return nil
	}
	if since := c.now().Sub(c.failedAt); since < c.cfg.RetryCooldown {
		return fmt.Errorf("%w: open failed %s ago: %v", ErrUnavailable, since.Round(time.Millisecond), c.lastErr)
	}
	return nil
}

func (c *PriceCache) open() (*bolt.DB, error) {
	if db := c.db.Load(); db != nil {
		return db, nil
	}

	db, err := c.openFile()
	if err != nil {
		c.mu.Lock()
		c.failedAt = c.now()
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("failed to open price cache", "path", c.Path(), "retryIn", c.cfg.RetryCooldown, "error", err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		_ = db.Close()
		return nil, ErrClosed
	}
	c.lastErr = nil
	c.db.Store(db)
	c.opens.Add(1)
	c.logger.Info("opened price cache", "path", c.Path())
	return db, nil
}

func (c *PriceCache) openFile() (*bolt.DB, error) {
	if err := os.MkdirAll(c.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(c.Path(), 0o600, &bolt.Options{Timeout: c.cfg.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	return db, nil
}

// Get returns the cached entry or nil if absent.
func (c *PriceCache) Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketName)
		}
		// Values are only valid for the life of the transaction.
		if v := b.Get([]byte(entity.CacheKey(token, block))); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	if data == nil {
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

	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := c.handle(ctx)
	if err != nil {
		return err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketName)
		}
		return b.Put([]byte(entity.CacheKey(token, block)), data)
	}); err != nil {
		return fmt.Errorf("failed to write price: %w", err)
	}
	return nil
}

// Close closes the database file if it was opened.
func (c *PriceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed.Store(true)
	db := c.db.Swap(nil)
	if db == nil {
		return nil
	}
	return db.Close()
}
