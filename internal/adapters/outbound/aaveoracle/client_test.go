package aaveoracle

import (
	"context"
	"errors"
	"math"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var dai = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

type mockCaller struct {
	callContractFunc func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	blockNumberFunc  func(ctx context.Context) (uint64, error)
	calls            atomic.Int32
}

func (m *mockCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.calls.Add(1)
	if m.callContractFunc != nil {
		return m.callContractFunc(ctx, msg, blockNumber)
	}
	return nil, nil
}

func (m *mockCaller) BlockNumber(ctx context.Context) (uint64, error) {
	if m.blockNumberFunc != nil {
		return m.blockNumberFunc(ctx)
	}
	return 0, nil
}

// rpcError mimics the JSON-RPC error values returned by the go-ethereum rpc client.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

func encodeUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func returning(raw *big.Int) *mockCaller {
	return &mockCaller{
		callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			return encodeUint256(raw), nil
		},
	}
}

func newTestClient(t *testing.T, caller ContractCaller, mutate func(*Config)) *Client {
	t.Helper()
	cfg := ConfigDefaults()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(caller, cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		caller  ContractCaller
		mutate  func(*Config)
		wantErr string
	}{
		{"nil caller", nil, nil, "contract caller is required"},
		{"zero address", &mockCaller{}, func(c *Config) { c.OracleAddress = common.Address{} }, "oracle address is required"},
		{"negative decimals", &mockCaller{}, func(c *Config) { c.Decimals = -1 }, "oracle decimals"},
		{"huge decimals", &mockCaller{}, func(c *Config) { c.Decimals = 100 }, "oracle decimals"},
		{"negative rps", &mockCaller{}, func(c *Config) { c.RequestsPerSecond = -1 }, "requests per second"},
		{"negative timeout", &mockCaller{}, func(c *Config) { c.CallTimeout = -time.Second }, "call timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigDefaults()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := NewClient(tt.caller, cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFetchPrice_ScalesAnswer(t *testing.T) {
	tests := []struct {
		name     string
		raw      *big.Int
		decimals int
		want     float64
	}{
		{"one dollar at 8 decimals", big.NewInt(100_000_000), 8, 1.0},
		{"fractional", big.NewInt(99_985_000), 8, 0.99985},
		{"eth price", big.NewInt(345_612_345_678), 8, 3456.12345678},
		{"18 decimals", new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)), 18, 1.5},
		{"no decimals", big.NewInt(42), 0, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, returning(tt.raw), func(cfg *Config) { cfg.Decimals = tt.decimals })

			price, found, err := c.FetchPrice(context.Background(), dai, 18_000_000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !found {
				t.Fatal("expected found=true")
			}
			if math.Abs(price-tt.want) > 1e-9*math.Max(1, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, price)
			}
		})
	}
}

func TestFetchPrice_CallsOracleAtBlock(t *testing.T) {
	var gotTo *common.Address
	var gotBlock *big.Int
	var gotData []byte
	caller := &mockCaller{
		callContractFunc: func(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
			gotTo, gotBlock, gotData = msg.To, block, msg.Data
			return encodeUint256(big.NewInt(1)), nil
		},
	}
	c := newTestClient(t, caller, nil)

	const block = uint64(1) << 63
	if _, _, err := c.FetchPrice(context.Background(), dai, block); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotTo == nil || *gotTo != MainnetAaveV3Oracle {
		t.Errorf("expected call to %s, got %v", MainnetAaveV3Oracle.Hex(), gotTo)
	}
	if gotBlock == nil || gotBlock.Cmp(new(big.Int).SetUint64(block)) != 0 {
		t.Errorf("expected block %d, got %v", block, gotBlock)
	}
	// 4-byte selector followed by one padded address argument.
	if len(gotData) != 4+32 {
		t.Fatalf("expected 36 bytes of calldata, got %d", len(gotData))
	}
	if common.BytesToAddress(gotData[4:]) != dai {
		t.Errorf("expected token argument %s, got %x", dai.Hex(), gotData[4:])
	}
}

func TestFetchPrice_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		caller *mockCaller
	}{
		{"zero answer", returning(big.NewInt(0))},
		{"empty return data", &mockCaller{}},
		{
			name: "revert error code",
			caller: &mockCaller{callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, &rpcError{code: 3, msg: "execution reverted: 0x"}
			}},
		},
		{
			name: "revert message only",
			caller: &mockCaller{callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, errors.New("Execution reverted")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.caller, nil)
			price, found, err := c.FetchPrice(context.Background(), dai, 1)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if found || price != 0 {
				t.Errorf("expected not found, got price=%v found=%v", price, found)
			}
		})
	}
}

func TestFetchPrice_Errors(t *testing.T) {
	tests := []struct {
		name   string
		caller *mockCaller
	}{
		{
			name: "transport failure",
			caller: &mockCaller{callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, errors.New("connection refused")
			}},
		},
		{
			name: "other rpc error",
			caller: &mockCaller{callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, &rpcError{code: -32000, msg: "header not found"}
			}},
		},
		{
			name: "malformed answer",
			caller: &mockCaller{callContractFunc: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return []byte{0x01, 0x02}, nil
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.caller, nil)
			_, found, err := c.FetchPrice(context.Background(), dai, 1)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if found {
				t.Error("expected found=false on error")
			}
		})
	}
}

func TestFetchPrice_CallTimeout(t *testing.T) {
	caller := &mockCaller{
		callContractFunc: func(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := newTestClient(t, caller, func(cfg *Config) { cfg.CallTimeout = 20 * time.Millisecond })

	start := time.Now()
	_, _, err := c.FetchPrice(context.Background(), dai, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call timeout not applied, took %v", elapsed)
	}
}

func TestFetchPrice_RateLimited(t *testing.T) {
	caller := returning(big.NewInt(1))
	c := newTestClient(t, caller, func(cfg *Config) { cfg.RequestsPerSecond = 1 })

	if _, _, err := c.FetchPrice(context.Background(), dai, 1); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// The burst is spent, so the next call must wait longer than this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := c.FetchPrice(ctx, dai, 1); err == nil {
		t.Fatal("expected rate limiter to reject call under short deadline")
	}
	if n := caller.calls.Load(); n != 1 {
		t.Errorf("expected 1 RPC call, got %d", n)
	}
}

func TestLatestBlock(t *testing.T) {
	c := newTestClient(t, &mockCaller{
		blockNumberFunc: func(context.Context) (uint64, error) { return 21_000_000, nil },
	}, nil)

	n, err := c.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 21_000_000 {
		t.Errorf("expected 21000000, got %d", n)
	}

	failing := newTestClient(t, &mockCaller{
		blockNumberFunc: func(context.Context) (uint64, error) { return 0, errors.New("boom") },
	}, nil)
	if _, err := failing.LatestBlock(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestDial_RequiresURL(t *testing.T) {
	if _, err := Dial(context.Background(), "", 0); err == nil {
		t.Error("expected error for empty URL")
	}
}
