package price_resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/pkg/logging"
	"github.com/archon-research/stl/price-api/internal/ports/inbound"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

const (
	// tracerName is the instrumentation name for this service.
	tracerName = "github.com/archon-research/stl/price-api/internal/services/price_resolver"

	// statusInvalidRequest is the metric status for requests rejected before lookup.
	statusInvalidRequest = "invalid_request"
)

// Compile-time checks that Service implements the inbound ports.
var (
	_ inbound.PriceService  = (*Service)(nil)
	_ inbound.HealthChecker = (*Service)(nil)
)

// ServiceConfig holds configuration for the price service.
type ServiceConfig struct {
	// Chain is the network name reported in responses and metric labels.
	Chain string

	Logger *slog.Logger
}

// Service orchestrates validation, cache lookup, oracle resolution and metrics
// for a single price request.
type Service struct {
	chain    string
	cache    outbound.PriceCache
	resolver *Resolver
	heights  outbound.BlockHeightProvider
	metrics  outbound.PriceMetrics
	logger   *slog.Logger

	ready atomic.Bool
}

// NewService creates a new price service.
func NewService(
	config ServiceConfig,
	cache outbound.PriceCache,
	resolver *Resolver,
	heights outbound.BlockHeightProvider,
	metrics outbound.PriceMetrics,
) (*Service, error) {
	if config.Chain == "" {
		return nil, fmt.Errorf("chain cannot be empty")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if heights == nil {
		return nil, fmt.Errorf("block height provider cannot be nil")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		chain:    config.Chain,
		cache:    cache,
		resolver: resolver,
		heights:  heights,
		metrics:  metrics,
		logger:   logger.With("component", "price-service", "chain", config.Chain),
	}, nil
}

// Chain returns the network name.
func (s *Service) Chain() string {
	return s.chain
}

// MarkReady records that the chain connectivity check has passed.
func (s *Service) MarkReady() {
	s.ready.Store(true)
}

// IsReady reports whether the service may receive traffic.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether the process is alive. Oracle failures are
// per-request outcomes and do not make the service unhealthy.
func (s *Service) IsHealthy() bool {
	return true
}

// GetPrice validates the request and returns the price of the token at the
// block (or at the chain head when block is nil).
func (s *Service) GetPrice(ctx context.Context, token string, block *string) (inbound.PriceQuote, error) {
	req, err := entity.ParsePriceRequest(token, block)
	if err != nil {
		s.metrics.RecordRequest(ctx, s.chain, statusInvalidRequest)
		return inbound.PriceQuote{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "price.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("chain", s.chain),
			attribute.String("token", req.Token()),
		),
	)
	defer span.End()

	blockNum, ok := req.Block()
	if !ok {
		blockNum, err = s.heights.LatestBlock(ctx)
		if err != nil {
			outcome := entity.Outcome{Status: entity.OutcomeUnknownFailure, Err: err}
			if IsTransient(err) {
				outcome.Status = entity.OutcomeTransientFailure
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to resolve latest block")
			s.logger.Error("latest block lookup failed",
				"token_prefix", logging.TokenPrefix(req.Token()),
				"error", err,
			)
			s.metrics.RecordRequest(ctx, s.chain, outcome.Status.String())
			// Block 0 marks "latest" in the caller-facing message.
			return inbound.PriceQuote{}, &entity.ResolutionError{Status: outcome.Status, Token: req.Token(), Cause: err}
		}
		req = req.WithBlock(blockNum)
	}
	span.SetAttributes(attribute.String("block", strconv.FormatUint(blockNum, 10)))

	outcome := s.resolve(ctx, req.Token(), blockNum)
	span.SetAttributes(attribute.String("outcome", outcome.Status.String()))
	s.metrics.RecordRequest(ctx, s.chain, outcome.Status.String())

	if !outcome.Status.Succeeded() {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
		}
		span.SetStatus(codes.Error, outcome.Status.String())
		return inbound.PriceQuote{}, &entity.ResolutionError{
			Status: outcome.Status,
			Token:  req.Token(),
			Block:  blockNum,
			Cause:  outcome.Err,
		}
	}

	return inbound.PriceQuote{
		Chain:  s.chain,
		Token:  req.Token(),
		Block:  blockNum,
		Price:  outcome.Price,
		Cached: outcome.Status == entity.OutcomeHit,
	}, nil
}

// resolve serves from the cache when possible and otherwise asks the resolver.
// Cache failures degrade to a miss or a skipped write; they never fail the request.
func (s *Service) resolve(ctx context.Context, token string, block uint64) entity.Outcome {
	log := s.logger.With("token_prefix", logging.TokenPrefix(token), "block", block)

	lookupStart := time.Now()
	entry, err := s.cache.Get(ctx, token, block)
	if err != nil {
		log.Warn("cache read failed, treating as miss", "error", err)
	} else if entry != nil {
		log.Info("cache hit", "price", entry.Price, "duration_ms", time.Since(lookupStart).Milliseconds())
		return entity.Outcome{Status: entity.OutcomeHit, Price: entry.Price}
	}

	start := time.Now()
	outcome := s.resolver.Resolve(ctx, token, block)
	elapsed := time.Since(start)

	switch outcome.Status {
	case entity.OutcomeFresh:
		s.metrics.RecordOracleLatency(ctx, s.chain, elapsed)
		log.Info("price computed", "price", outcome.Price, "duration_ms", elapsed.Milliseconds())
		if err := s.cache.Set(ctx, token, block, outcome.Price); err != nil {
			log.Warn("cache write failed", "error", err)
		}
	case entity.OutcomeNotFound:
		s.metrics.RecordOracleLatency(ctx, s.chain, elapsed)
		log.Info("no price available", "duration_ms", elapsed.Milliseconds())
	case entity.OutcomeInvalidValue:
		s.metrics.RecordOracleLatency(ctx, s.chain, elapsed)
		log.Warn("oracle returned invalid price", "duration_ms", elapsed.Milliseconds(), "error", outcome.Err)
	default:
		log.Error("price lookup failed",
			"status", outcome.Status.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", outcome.Err,
		)
	}

	return outcome
}
