// Package aaveoracle reads token prices from an Aave V3-style price oracle
// over Ethereum JSON-RPC.
//
// The oracle exposes getAssetPrice(address) returning a uint256 scaled by a
// fixed number of decimals (8 for the USD-denominated Aave V3 oracle). Calls
// are made with eth_call pinned to the requested block.
package aaveoracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time checks that Client implements the oracle ports.
var (
	_ outbound.PriceOracle         = (*Client)(nil)
	_ outbound.BlockHeightProvider = (*Client)(nil)
)

// MainnetAaveV3Oracle is the Aave V3 AaveOracle deployment on Ethereum mainnet.
var MainnetAaveV3Oracle = common.HexToAddress("0x54586bE62E3c3580375aE3723C145253060Ca0C2")

// revertErrorCode is the JSON-RPC error code geth-compatible nodes use for reverts.
const revertErrorCode = 3

// maxDecimals bounds the price scale to what a uint256 answer can meaningfully carry.
const maxDecimals = 77

// ContractCaller is the subset of ethclient.Client used by Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures the oracle client.
type Config struct {
	// OracleAddress is the oracle contract.
	OracleAddress common.Address
	// Decimals is the fixed-point scale of the oracle's answers.
	Decimals int
	// RequestsPerSecond limits outgoing calls; zero disables limiting.
	RequestsPerSecond float64
	// CallTimeout bounds a single RPC call; zero means only the caller's context applies.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// ConfigDefaults returns a Config pointing at the mainnet Aave V3 oracle.
func ConfigDefaults() Config {
	return Config{
		OracleAddress: MainnetAaveV3Oracle,
		Decimals:      8,
		CallTimeout:   30 * time.Second,
	}
}

// Client implements outbound.PriceOracle and outbound.BlockHeightProvider.
type Client struct {
	caller      ContractCaller
	abi         *abi.ABI
	oracle      common.Address
	divisor     *big.Float
	limiter     *rate.Limiter
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates an oracle client over the given caller.
func NewClient(caller ContractCaller, cfg Config) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.OracleAddress == (common.Address{}) {
		return nil, fmt.Errorf("oracle address is required")
	}
	if cfg.Decimals < 0 || cfg.Decimals > maxDecimals {
		return nil, fmt.Errorf("oracle decimals must be between 0 and %d, got %d", maxDecimals, cfg.Decimals)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must not be negative")
	}
	if cfg.CallTimeout < 0 {
		return nil, fmt.Errorf("call timeout must not be negative")
	}

	parsed, err := parseABI(oracleABI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle ABI: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Decimals)), nil)

	return &Client{
		caller:      caller,
		abi:         parsed,
		oracle:      cfg.OracleAddress,
		divisor:     new(big.Float).SetInt(scale),
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
		logger:      logger.With("component", "aave-oracle", "oracle", cfg.OracleAddress.Hex()),
	}, nil
}

// FetchPrice returns the oracle price of token at block. found is false when
// the oracle has no price for the token there (a revert, empty return data
// or a zero answer).
func (c *Client) FetchPrice(ctx context.Context, token common.Address, block uint64) (float64, bool, error) {
	data, err := c.abi.Pack("getAssetPrice", token)
	if err != nil {
		return 0, false, fmt.Errorf("packing getAssetPrice: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return 0, false, err
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.caller.CallContract(callCtx, ethereum.CallMsg{To: &c.oracle, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		if isRevert(err) {
			c.logger.Debug("oracle call reverted", "token_prefix", token.Hex()[:10], "block", block, "error", err)
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("calling getAssetPrice at block %d: %w", block, err)
	}

	// No code at the oracle address at this block.
	if len(out) == 0 {
		return 0, false, nil
	}

	unpacked, err := c.abi.Unpack("getAssetPrice", out)
	if err != nil {
		return 0, false, fmt.Errorf("unpacking getAssetPrice at block %d: %w", block, err)
	}
	if len(unpacked) != 1 {
		return 0, false, fmt.Errorf("expected 1 return value from getAssetPrice, got %d", len(unpacked))
	}
	raw, ok := unpacked[0].(*big.Int)
	if !ok {
		return 0, false, fmt.Errorf("unexpected getAssetPrice return type %T", unpacked[0])
	}
	if raw.Sign() == 0 {
		return 0, false, nil
	}

	return c.toFloat(raw), true, nil
}

// LatestBlock returns the current chain head.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.caller.BlockNumber(callCtx)
	if err != nil {
		return 0, fmt.Errorf("fetching latest block: %w", err)
	}
	return n, nil
}

// toFloat scales a raw answer into a float64. Values beyond float64 range become +Inf.
func (c *Client) toFloat(raw *big.Int) float64 {
	f := new(big.Float).SetInt(raw)
	result, _ := new(big.Float).Quo(f, c.divisor).Float64()
	return result
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// isRevert reports whether err is an execution revert returned by the node.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
