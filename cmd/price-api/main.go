// Package main runs the price API: an HTTP service that returns the USD price
// of a token at a block, read from an on-chain oracle and cached per
// (token, block).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/archon-research/stl/price-api/internal/adapters/inbound/http"
	"github.com/archon-research/stl/price-api/internal/adapters/outbound/aaveoracle"
	"github.com/archon-research/stl/price-api/internal/adapters/outbound/boltdb"
	rediscache "github.com/archon-research/stl/price-api/internal/adapters/outbound/redis"
	"github.com/archon-research/stl/price-api/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/price-api/internal/pkg/env"
	"github.com/archon-research/stl/price-api/internal/pkg/logging"
	"github.com/archon-research/stl/price-api/internal/pkg/retry"
	"github.com/archon-research/stl/price-api/internal/services/price_resolver"
)

const serviceName = "stl-price-api"

// Build-time variables - can be set via ldflags, otherwise populated from Go's build info.
var (
	GitCommit string
	GitBranch string
	BuildTime string
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Missing files are fine; real environment variables take precedence.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// Cache backends selectable with CACHE_BACKEND or -cache.
const (
	cacheDisk     = "disk"
	cacheRedis    = "redis"
	cachePostgres = "postgres"
	cacheS3       = "s3"
	cacheMemory   = "memory"
)

type cliConfig struct {
	showVersion bool

	chain    string
	httpAddr string
	rpcURL   string

	oracleAddress  common.Address
	oracleDecimals int
	oracleRPS      float64
	oracleTimeout  time.Duration

	cacheBackend  string
	cacheDir      string
	redisAddr     string
	redisPassword string
	redisDB       int
	cacheTTL      time.Duration
	databaseURL   string
	s3Bucket      string
	s3Prefix      string
	awsRegion     string
	s3Endpoint    string

	otlpEndpoint string
	environment  string
	logFormat    string
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("price-api", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (default $HTTP_ADDR or :8000)")
	chain := fs.String("chain", "", "Chain name reported by the API (default $CHAIN_NAME or ethereum)")
	cache := fs.String("cache", "", "Cache backend: disk, redis, postgres, s3 or memory (default $CACHE_BACKEND or disk)")
	showVersion := fs.Bool("version", false, "Show version information and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if *showVersion {
		return cliConfig{showVersion: true}, nil
	}

	cfg := cliConfig{
		chain:         firstNonEmpty(*chain, env.Get("CHAIN_NAME", "ethereum")),
		httpAddr:      firstNonEmpty(*addr, env.Get("HTTP_ADDR", ":8000")),
		rpcURL:        env.Get("RPC_URL", ""),
		cacheBackend:  strings.ToLower(firstNonEmpty(*cache, env.Get("CACHE_BACKEND", cacheDisk))),
		cacheDir:      env.Get("CACHE_DIR", boltdb.ConfigDefaults().Dir),
		redisAddr:     env.Get("REDIS_ADDR", rediscache.ConfigDefaults().Addr),
		redisPassword: env.Get("REDIS_PASSWORD", ""),
		databaseURL:   env.Get("DATABASE_URL", ""),
		s3Bucket:      env.Get("CACHE_S3_BUCKET", ""),
		s3Prefix:      env.Get("CACHE_S3_PREFIX", ""),
		awsRegion:     env.Get("AWS_REGION", "eu-west-1"),
		s3Endpoint:    env.Get("AWS_S3_ENDPOINT", ""),
		otlpEndpoint:  env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		environment:   env.Get("ENVIRONMENT", "development"),
		logFormat:     env.Get("LOG_FORMAT", logging.FormatText),
	}

	if cfg.rpcURL == "" {
		return cliConfig{}, fmt.Errorf("RPC_URL environment variable is required")
	}

	oracleDefaults := aaveoracle.ConfigDefaults()
	oracleAddr := env.Get("ORACLE_ADDRESS", oracleDefaults.OracleAddress.Hex())
	if !common.IsHexAddress(oracleAddr) {
		return cliConfig{}, fmt.Errorf("ORACLE_ADDRESS must be a hex address, got %q", oracleAddr)
	}
	cfg.oracleAddress = common.HexToAddress(oracleAddr)

	var err error
	if cfg.oracleDecimals, err = env.GetInt("ORACLE_DECIMALS", oracleDefaults.Decimals); err != nil {
		return cliConfig{}, err
	}
	if cfg.oracleRPS, err = env.GetFloat("ORACLE_RPS", 0); err != nil {
		return cliConfig{}, err
	}
	if cfg.oracleTimeout, err = env.GetDuration("ORACLE_TIMEOUT", oracleDefaults.CallTimeout); err != nil {
		return cliConfig{}, err
	}
	if cfg.redisDB, err = env.GetInt("REDIS_DB", 0); err != nil {
		return cliConfig{}, err
	}
	if cfg.cacheTTL, err = env.GetDuration("CACHE_TTL", 0); err != nil {
		return cliConfig{}, err
	}

	switch cfg.cacheBackend {
	case cacheDisk:
		if cfg.cacheDir == "" {
			return cliConfig{}, fmt.Errorf("CACHE_DIR is required for the disk cache")
		}
	case cacheRedis:
		if cfg.redisAddr == "" {
			return cliConfig{}, fmt.Errorf("REDIS_ADDR is required for the redis cache")
		}
	case cachePostgres:
		if cfg.databaseURL == "" {
			return cliConfig{}, fmt.Errorf("DATABASE_URL is required for the postgres cache")
		}
	case cacheS3:
		if cfg.s3Bucket == "" {
			return cliConfig{}, fmt.Errorf("CACHE_S3_BUCKET is required for the s3 cache")
		}
	case cacheMemory:
	default:
		return cliConfig{}, fmt.Errorf("unknown cache backend %q (want disk, redis, postgres, s3 or memory)", cfg.cacheBackend)
	}

	return cfg, nil
}

// startupRetry bounds how long the service waits for the node before giving up.
var startupRetry = retry.Config{
	MaxAttempts:    5,
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         true,
}

type chainHead struct {
	chainID string
	block   uint64
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newLogger builds the process logger. Configured secrets never reach the output.
func newLogger(cfg cliConfig) (*slog.Logger, error) {
	base, err := logging.NewHandler(os.Stdout, cfg.logFormat, env.ParseLogLevel(slog.LevelInfo))
	if err != nil {
		return nil, err
	}
	return slog.New(logging.NewRedactingHandler(base, logging.RedactOptions{
		RPCURL:  cfg.rpcURL,
		Secrets: []string{cfg.redisPassword, cfg.databaseURL},
	})), nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	if cfg.showVersion {
		fmt.Printf("price-api\n")
		fmt.Printf("  Commit:     %s\n", GitCommit)
		fmt.Printf("  Branch:     %s\n", GitBranch)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		return nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting price API",
		"commit", GitCommit,
		"chain", cfg.chain,
		"addr", cfg.httpAddr,
		"cache", cfg.cacheBackend,
		"oracle", cfg.oracleAddress.Hex(),
	)

	meterProvider, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: GitCommit,
		Environment:    cfg.environment,
		OTLPEndpoint:   cfg.otlpEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer shutdownWithTimeout(logger, "meter provider", meterProvider.Shutdown)

	tracerCfg := telemetry.TracerConfigDefaults()
	tracerCfg.ServiceName = serviceName
	tracerCfg.ServiceVersion = GitCommit
	tracerCfg.Environment = cfg.environment
	tracerCfg.OTLPEndpoint = cfg.otlpEndpoint
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerCfg)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer shutdownWithTimeout(logger, "tracer", shutdownTracer)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	conn, err := aaveoracle.Dial(ctx, cfg.rpcURL, 0)
	if err != nil {
		return err
	}
	defer conn.Close()

	oracle, err := aaveoracle.NewClient(conn, aaveoracle.Config{
		OracleAddress:     cfg.oracleAddress,
		Decimals:          cfg.oracleDecimals,
		RequestsPerSecond: cfg.oracleRPS,
		CallTimeout:       cfg.oracleTimeout,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating oracle client: %w", err)
	}

	cache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening %s cache: %w", cfg.cacheBackend, err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close cache", "error", err)
		}
	}()

	resolver, err := price_resolver.NewResolver(oracle, price_resolver.ResolverConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}

	service, err := price_resolver.NewService(price_resolver.ServiceConfig{
		Chain:  cfg.chain,
		Logger: logger,
	}, cache, resolver, oracle, metrics)
	if err != nil {
		return fmt.Errorf("creating price service: %w", err)
	}

	var shuttingDown atomic.Bool
	serverCfg := httpadapter.ServerConfigDefaults()
	serverCfg.Addr = cfg.httpAddr
	serverCfg.Logger = logger
	serverCfg.MetricsHandler = meterProvider.Handler()
	server := httpadapter.NewServer(serverCfg, httpadapter.NewHandler(service, logger), service, &shuttingDown)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.ListenAndServe)

	g.Go(func() error {
		head, err := retry.Do(gctx, startupRetry, price_resolver.IsTransient,
			func(attempt int, err error, backoff time.Duration) {
				logger.Warn("chain connectivity check failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
			},
			func(ctx context.Context, _ int) (chainHead, error) {
				chainID, block, err := conn.Check(ctx)
				if err != nil {
					return chainHead{}, err
				}
				return chainHead{chainID: chainID.String(), block: block}, nil
			})
		if err != nil {
			if gctx.Err() != nil {
				return nil
			}
			logger.Error("chain connectivity check failed; staying not ready", "error", err)
			return nil
		}
		service.MarkReady()
		logger.Info("chain connectivity verified", "chainID", head.chainID, "head", head.block)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shuttingDown.Store(true)
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down HTTP server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("price API stopped")
	return nil
}
