// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import "context"

// PriceQuote is a resolved price for a token at a block.
type PriceQuote struct {
	Chain  string
	Token  string
	Block  uint64
	Price  float64
	Cached bool
}

// PriceService defines the price lookup use case.
// Inbound adapters (HTTP handlers, CLI) call these methods.
type PriceService interface {
	// GetPrice validates the raw parameters and resolves the price.
	// A nil block means "latest". Failures are *entity.ValidationError or
	// *entity.ResolutionError; use entity.Classify to turn them into a
	// caller-facing message.
	GetPrice(ctx context.Context, token string, block *string) (PriceQuote, error)

	// Chain returns the network identifier the service prices on.
	Chain() string
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	// For the price API this means the chain connectivity check has passed.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	IsHealthy() bool
}
