package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/archon-research/stl/price-api/internal/adapters/outbound/boltdb"
	"github.com/archon-research/stl/price-api/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/price-api/internal/adapters/outbound/postgres"
	rediscache "github.com/archon-research/stl/price-api/internal/adapters/outbound/redis"
	s3cache "github.com/archon-research/stl/price-api/internal/adapters/outbound/s3"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// openCache builds the cache backend selected by cfg.cacheBackend.
//
// Only misconfiguration is fatal. A backend that is unreachable at startup is
// logged; lookups then degrade to cache misses.
func openCache(ctx context.Context, cfg cliConfig, logger *slog.Logger) (outbound.PriceCache, error) {
	switch cfg.cacheBackend {
	case cacheDisk:
		boltCfg := boltdb.ConfigDefaults()
		boltCfg.Dir = cfg.cacheDir
		cache, err := boltdb.NewPriceCache(boltCfg, logger)
		if err != nil {
			return nil, err
		}
		return cache, nil

	case cacheRedis:
		redisCfg := rediscache.ConfigDefaults()
		redisCfg.Addr = cfg.redisAddr
		redisCfg.Password = cfg.redisPassword
		redisCfg.DB = cfg.redisDB
		redisCfg.TTL = cfg.cacheTTL
		cache, err := rediscache.NewPriceCache(redisCfg, logger)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := cache.Ping(pingCtx); err != nil {
			logger.Warn("redis not reachable at startup", "addr", cfg.redisAddr, "error", err)
		}
		return cache, nil

	case cachePostgres:
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.databaseURL))
		if err != nil {
			return nil, err
		}
		cache, err := postgres.NewPriceCache(pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := cache.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return cache, nil

	case cacheS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.awsRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		var optFns []func(*s3.Options)
		if cfg.s3Endpoint != "" {
			optFns = append(optFns, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.s3Endpoint)
				o.UsePathStyle = true
			})
		}
		cache, err := s3cache.NewPriceCache(awsCfg, s3cache.Config{
			Bucket: cfg.s3Bucket,
			Prefix: cfg.s3Prefix,
		}, logger, optFns...)
		if err != nil {
			return nil, err
		}
		return cache, nil

	case cacheMemory:
		logger.Warn("using in-memory cache; prices are lost on restart")
		return memory.NewPriceCache(), nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.cacheBackend)
	}
}

// shutdownWithTimeout runs a telemetry shutdown func with its own deadline,
// since the run context is already cancelled by the time it is called.
func shutdownWithTimeout(logger *slog.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "error", err)
	}
}
