package entity

import (
	"errors"
	"fmt"
)

// OutcomeStatus identifies how a price resolution ended.
type OutcomeStatus int

const (
	// OutcomeHit means the price was served from the cache.
	OutcomeHit OutcomeStatus = iota + 1
	// OutcomeFresh means the oracle returned a valid price.
	OutcomeFresh
	// OutcomeNotFound means the oracle has no price for the token at the block.
	OutcomeNotFound
	// OutcomeInvalidValue means the oracle answered with NaN, infinity or a negative number.
	OutcomeInvalidValue
	// OutcomeTransientFailure means every attempt failed with a retryable-looking error.
	OutcomeTransientFailure
	// OutcomeUnknownFailure means the lookup failed for any other reason.
	OutcomeUnknownFailure
)

// String returns the metric label for the status.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeHit:
		return "hit"
	case OutcomeFresh:
		return "fresh"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalidValue:
		return "invalid_value"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeUnknownFailure:
		return "unknown_failure"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the status carries a price.
func (s OutcomeStatus) Succeeded() bool {
	return s == OutcomeHit || s == OutcomeFresh
}

// Outcome is the result of resolving a price. Price is only meaningful when
// Status.Succeeded(); Err holds the internal cause of a failure and must
// never be shown to callers.
type Outcome struct {
	Status OutcomeStatus
	Price  float64
	Err    error
}

// ResolutionError reports a failed resolution for a token at a block.
// Block is zero when the chain head could not be determined.
type ResolutionError struct {
	Status OutcomeStatus
	Token  string
	Block  uint64
	Cause  error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolving price for %s at block %d: %s: %v", e.Token, e.Block, e.Status, e.Cause)
	}
	return fmt.Sprintf("resolving price for %s at block %d: %s", e.Token, e.Block, e.Status)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Severity tells the boundary layer which kind of response to produce.
type Severity int

const (
	SeverityClient Severity = iota + 1
	SeverityNotFound
	SeverityUpstream
	SeverityServer
)

func (s Severity) String() string {
	switch s {
	case SeverityClient:
		return "client_error"
	case SeverityNotFound:
		return "not_found"
	case SeverityUpstream:
		return "upstream_error"
	default:
		return "server_error"
	}
}

// Classification is the public face of a failure.
type Classification struct {
	Severity Severity
	Message  string
}

const genericFailureMessage = "Price lookup failed; see server logs"

// Classify maps a failure to a severity and a message that is safe to return
// to the caller. Internal error text is never included.
func Classify(err error) Classification {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return Classification{Severity: SeverityClient, Message: verr.Message}
	}

	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		return Classification{Severity: SeverityServer, Message: genericFailureMessage}
	}

	switch rerr.Status {
	case OutcomeNotFound:
		return Classification{
			Severity: SeverityNotFound,
			Message:  fmt.Sprintf("No price found for %s at block %d", rerr.Token, rerr.Block),
		}
	case OutcomeInvalidValue:
		return Classification{
			Severity: SeverityUpstream,
			Message:  fmt.Sprintf("Oracle returned an invalid price for %s at block %d", rerr.Token, rerr.Block),
		}
	case OutcomeTransientFailure, OutcomeUnknownFailure:
		if rerr.Block == 0 {
			return Classification{
				Severity: SeverityServer,
				Message:  fmt.Sprintf("Price lookup failed for %s at latest block; see server logs", rerr.Token),
			}
		}
		return Classification{
			Severity: SeverityServer,
			Message:  fmt.Sprintf("Price lookup failed for %s at block %d; see server logs", rerr.Token, rerr.Block),
		}
	case OutcomeHit, OutcomeFresh:
		// Successful statuses are never wrapped in a ResolutionError.
		return Classification{Severity: SeverityServer, Message: genericFailureMessage}
	default:
		return Classification{Severity: SeverityServer, Message: genericFailureMessage}
	}
}
