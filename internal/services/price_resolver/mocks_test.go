package price_resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/price-api/internal/domain/entity"
	"github.com/archon-research/stl/price-api/internal/pkg/retry"
)

const testToken = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

func ptr[T any](v T) *T {
	return &v
}

// fastRetry keeps the production shape (two attempts, doubling) on a millisecond scale.
func fastRetry() *retry.Config {
	return &retry.Config{
		MaxAttempts:    2,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     80 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

// =============================================================================
// Mock PriceOracle
// =============================================================================

type oracleResult struct {
	price float64
	found bool
	err   error
}

type mockOracle struct {
	fetchFunc func(ctx context.Context, token common.Address, block uint64) (float64, bool, error)
	// results are returned in order; the last one repeats.
	results []oracleResult
	calls   atomic.Int32
}

func (m *mockOracle) FetchPrice(ctx context.Context, token common.Address, block uint64) (float64, bool, error) {
	n := int(m.calls.Add(1))
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, token, block)
	}
	if len(m.results) == 0 {
		return 0, false, nil
	}
	i := n - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	r := m.results[i]
	return r.price, r.found, r.err
}

// =============================================================================
// Mock PriceCache
// =============================================================================

type mockCache struct {
	mu      sync.Mutex
	entries map[string]*entity.CacheEntry

	getErr error
	setErr error

	getCalls atomic.Int32
	setCalls atomic.Int32
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*entity.CacheEntry)}
}

func (m *mockCache) Get(_ context.Context, token string, block uint64) (*entity.CacheEntry, error) {
	m.getCalls.Add(1)
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[entity.CacheKey(token, block)], nil
}

func (m *mockCache) Set(_ context.Context, token string, block uint64, price float64) error {
	m.setCalls.Add(1)
	if m.setErr != nil {
		return m.setErr
	}
	entry, err := entity.NewCacheEntry(price)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entity.CacheKey(token, block)] = entry
	return nil
}

func (m *mockCache) Close() error {
	return nil
}

func (m *mockCache) seed(token string, block uint64, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entity.CacheKey(token, block)] = &entity.CacheEntry{Price: price, CachedAt: time.Now().UTC()}
}

// =============================================================================
// Mock BlockHeightProvider
// =============================================================================

type mockHeights struct {
	head  uint64
	err   error
	calls atomic.Int32
}

func (m *mockHeights) LatestBlock(context.Context) (uint64, error) {
	m.calls.Add(1)
	return m.head, m.err
}

// =============================================================================
// Mock PriceMetrics
// =============================================================================

type mockMetrics struct {
	mu        sync.Mutex
	statuses  []string
	latencies []time.Duration
	networks  []string
}

func (m *mockMetrics) RecordRequest(_ context.Context, network, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	m.networks = append(m.networks, network)
}

func (m *mockMetrics) RecordOracleLatency(_ context.Context, _ string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
}

func (m *mockMetrics) recorded() ([]string, []time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...), append([]time.Duration(nil), m.latencies...)
}
