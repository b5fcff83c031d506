// Package s3 provides an S3-backed implementation of the PriceCache port.
//
// Each price is a small JSON object at {prefix}{token}:{block}.json, which
// lets several API instances share one cache without a database.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// maxEntrySize bounds how much of an object is read; real entries are well under 100 bytes.
const maxEntrySize = 4 << 10

// s3API defines the subset of S3 operations needed by the PriceCache.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Compile-time check that PriceCache implements outbound.PriceCache
var _ outbound.PriceCache = (*PriceCache)(nil)

// Config holds S3 cache configuration.
type Config struct {
	// Bucket holds the cache objects.
	Bucket string
	// Prefix is prepended to every object key (e.g., "prices/ethereum/").
	Prefix string
}

// PriceCache implements outbound.PriceCache on top of S3.
type PriceCache struct {
	client s3API
	bucket string
	prefix string
	logger *slog.Logger
}

// NewPriceCache creates an S3 price cache with optional S3 client options.
func NewPriceCache(awsCfg aws.Config, cfg Config, logger *slog.Logger, optFns ...func(*s3.Options)) (*PriceCache, error) {
	return newPriceCache(s3.NewFromConfig(awsCfg, optFns...), cfg, logger)
}

func newPriceCache(client s3API, cfg Config, logger *slog.Logger) (*PriceCache, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceCache{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With("component", "s3-cache"),
	}, nil
}

func (c *PriceCache) key(token string, block uint64) string {
	return c.prefix + entity.CacheKey(token, block) + ".json"
}

// Get returns the cached entry or nil if the object does not exist.
func (c *PriceCache) Get(ctx context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	key := c.key(token, block)
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get object %s/%s: %w", c.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", c.bucket, key, err)
	}
	return entity.UnmarshalCacheEntry(data)
}

// Set writes the price object, replacing any previous one.
func (c *PriceCache) Set(ctx context.Context, token string, block uint64, price float64) error {
	entry, err := entity.NewCacheEntry(price)
	if err != nil {
		return err
	}
	data, err := entry.Marshal()
	if err != nil {
		return err
	}

	key := c.key(token, block)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write object %s/%s: %w", c.bucket, key, err)
	}

	c.logger.Debug("wrote price to S3", "key", key)
	return nil
}

// Close is a no-op; the S3 client holds no resources that need releasing.
func (c *PriceCache) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}
