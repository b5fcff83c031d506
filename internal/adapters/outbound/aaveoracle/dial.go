package aaveoracle

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Connection is a JSON-RPC connection to an Ethereum node.
type Connection struct {
	*ethclient.Client
}

// Dial connects to rpcURL with a pooled HTTP client.
func Dial(ctx context.Context, rpcURL string, maxConns int) (*Connection, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}
	if maxConns <= 0 {
		maxConns = 16
	}

	httpClient := &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          maxConns * 2,
			MaxIdleConnsPerHost:   maxConns,
			MaxConnsPerHost:       maxConns,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC: %w", err)
	}
	return &Connection{Client: ethclient.NewClient(rpcClient)}, nil
}

// Check verifies the node answers and returns its chain ID and head block.
func (c *Connection) Check(ctx context.Context) (*big.Int, uint64, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching chain ID: %w", err)
	}
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching head block: %w", err)
	}
	return chainID, head, nil
}
