// Package price_resolver turns a validated (token, block) pair into a price:
// it consults the cache, calls the oracle with bounded retries, validates the
// answer, and records what happened.
package price_resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/pkg/logging"
	"github.com/archon-research/stl/price-api/internal/pkg/retry"
	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// Retry is the oracle retry policy. Defaults to retry.DefaultConfig().
	Retry *retry.Config

	Logger *slog.Logger
}

// Resolver calls the oracle with retries and classifies the answer.
// It holds no per-request state and never writes the cache.
type Resolver struct {
	oracle outbound.PriceOracle
	retry  retry.Config
	logger *slog.Logger
}

// NewResolver creates a Resolver over the given oracle.
func NewResolver(oracle outbound.PriceOracle, config ResolverConfig) (*Resolver, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}

	policy := retry.DefaultConfig()
	if config.Retry != nil {
		policy = *config.Retry
	}
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", policy.MaxAttempts)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		oracle: oracle,
		retry:  policy,
		logger: logger.With("component", "price-resolver"),
	}, nil
}

// errNoPrice marks an attempt where the oracle had no price. It shares the
// retry budget with real failures.
var errNoPrice = errors.New("oracle has no price")

// Resolve asks the oracle for the price of token at block.
//
// Errors and "no price" answers are retried up to the configured attempt
// count unless the context is done; the status reflects the final attempt.
// The returned status is never OutcomeHit.
func (r *Resolver) Resolve(ctx context.Context, token string, block uint64) entity.Outcome {
	addr := common.HexToAddress(token)

	price, err := retry.Do(ctx, r.retry,
		func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, context.Canceled)
		},
		func(attempt int, err error, backoff time.Duration) {
			r.logger.Warn("oracle attempt unsuccessful, retrying",
				"token_prefix", logging.TokenPrefix(token),
				"block", block,
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
		func(ctx context.Context, _ int) (float64, error) {
			price, found, err := r.oracle.FetchPrice(ctx, addr, block)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, errNoPrice
			}
			return price, nil
		},
	)

	if err != nil {
		if errors.Is(err, errNoPrice) {
			return entity.Outcome{Status: entity.OutcomeNotFound}
		}
		status := entity.OutcomeUnknownFailure
		if IsTransient(err) {
			status = entity.OutcomeTransientFailure
		}
		return entity.Outcome{Status: status, Err: err}
	}

	if err := entity.ValidatePrice(price); err != nil {
		return entity.Outcome{Status: entity.OutcomeInvalidValue, Err: err}
	}

	return entity.Outcome{Status: entity.OutcomeFresh, Price: price}
}

// IsTransient reports whether err looks like a temporary oracle or network
// problem rather than a permanent failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, outbound.ErrOracleUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	}

	return false
}
