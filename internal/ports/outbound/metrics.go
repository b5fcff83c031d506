// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// PriceMetrics records price lookup metrics. Implementations must never panic
// or block the caller; recording failures are dropped.
type PriceMetrics interface {
	// RecordRequest counts one request for network ending with status.
	RecordRequest(ctx context.Context, network, status string)

	// RecordOracleLatency observes the duration of a completed oracle round trip.
	RecordOracleLatency(ctx context.Context, network string, d time.Duration)
}
