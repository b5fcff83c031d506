package outbound

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOracleUnavailable marks oracle failures that are worth retrying
// (rate limits, timeouts, node hiccups).
var ErrOracleUnavailable = errors.New("price oracle unavailable")

// PriceOracle computes the price of a token at a given block.
// The computation itself is opaque to callers.
type PriceOracle interface {
	// FetchPrice returns the USD price of token at block.
	// found is false when the oracle has no price for the token at that block;
	// this is a normal outcome, not an error.
	FetchPrice(ctx context.Context, token common.Address, block uint64) (price float64, found bool, err error)
}

// BlockHeightProvider resolves the "latest" block for requests that omit one.
type BlockHeightProvider interface {
	LatestBlock(ctx context.Context) (uint64, error)
}
