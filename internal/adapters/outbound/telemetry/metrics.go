package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl/price-api/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.PriceMetrics
var _ outbound.PriceMetrics = (*Metrics)(nil)

const instrumentationName = "github.com/archon-research/stl/price-api/internal/services/price_resolver"

// Metrics implements the PriceMetrics port using OpenTelemetry.
type Metrics struct {
	requests      metric.Int64Counter
	oracleLatency metric.Float64Histogram
}

// NewMetrics creates a price metrics recorder on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates a price metrics recorder with a custom meter provider.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		"price_requests_total",
		metric.WithDescription("Total number of price requests by network and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_requests_total counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"price_oracle_duration_seconds",
		metric.WithDescription("Time spent resolving a price with the oracle, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create price_oracle_duration_seconds histogram: %w", err)
	}

	return &Metrics{
		requests:      requests,
		oracleLatency: latency,
	}, nil
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(ctx context.Context, network, status string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("network", network),
		attribute.String("status", status),
	))
}

// RecordOracleLatency records the duration of an oracle round trip.
func (m *Metrics) RecordOracleLatency(ctx context.Context, network string, d time.Duration) {
	m.oracleLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("network", network)))
}
