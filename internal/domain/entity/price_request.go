package entity

import (
	"math/big"
	"regexp"
	"strings"
)

// MaxBlockNumber is the largest block number a request may ask for (2^63).
// It does not fit in an int64, so block numbers are carried as uint64.
const MaxBlockNumber uint64 = 1 << 63

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsValidAddress reports whether s is a 0x-prefixed, 40 hex digit address.
// Letter case is not checked (no EIP-55 checksum validation).
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ValidationError is returned when request parameters are malformed.
// Message is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PriceRequest is a validated price lookup. The token keeps the case the
// caller supplied; the block is optional and means "latest" when absent.
type PriceRequest struct {
	token    string
	block    uint64
	hasBlock bool
}

// Token returns the requested token address as supplied by the caller.
func (r PriceRequest) Token() string {
	return r.token
}

// Block returns the requested block and whether one was given.
func (r PriceRequest) Block() (uint64, bool) {
	return r.block, r.hasBlock
}

// WithBlock returns a copy of the request pinned to the given block.
func (r PriceRequest) WithBlock(block uint64) PriceRequest {
	return PriceRequest{token: r.token, block: block, hasBlock: true}
}

// ParsePriceRequest validates raw query parameters. A nil block means the
// parameter was not supplied at all, which is different from an empty one.
// The returned error is always a *ValidationError.
func ParsePriceRequest(token string, block *string) (PriceRequest, error) {
	if token == "" {
		return PriceRequest{}, &ValidationError{Message: "Missing required parameter: token"}
	}
	if !IsValidAddress(token) {
		return PriceRequest{}, &ValidationError{Message: "Invalid token address: " + token}
	}

	req := PriceRequest{token: token}
	if block == nil {
		return req, nil
	}

	n, ok := parseBlockNumber(*block)
	if !ok {
		return PriceRequest{}, &ValidationError{Message: "Invalid block number: " + *block}
	}
	req.block = n
	req.hasBlock = true
	return req, nil
}

// parseBlockNumber accepts a base-10 integer with optional surrounding
// whitespace, sign and digit-group underscores, and checks it is within
// [1, MaxBlockNumber].
func parseBlockNumber(s string) (uint64, bool) {
	digits, ok := stripDigitSeparators(strings.TrimSpace(s))
	if !ok {
		return 0, false
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return 0, false
	}
	if n.Sign() <= 0 || !n.IsUint64() || n.Uint64() > MaxBlockNumber {
		return 0, false
	}
	return n.Uint64(), true
}

// stripDigitSeparators drops single underscores between digits, so
// "18_000_000" reads as 18000000. A leading, trailing or doubled underscore
// is rejected.
func stripDigitSeparators(s string) (string, bool) {
	if !strings.Contains(s, "_") {
		return s, true
	}

	var b strings.Builder
	body := s
	if s[0] == '+' || s[0] == '-' {
		b.WriteByte(s[0])
		body = s[1:]
	}
	for i := 0; i < len(body); i++ {
		if body[i] != '_' {
			b.WriteByte(body[i])
			continue
		}
		if i == 0 || i == len(body)-1 || !isDigit(body[i-1]) || !isDigit(body[i+1]) {
			return "", false
		}
	}
	return b.String(), true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
