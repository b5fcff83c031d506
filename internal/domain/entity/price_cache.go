package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CacheKeySeparator joins the normalized token and the block in a cache key.
const CacheKeySeparator = ":"

// ErrInvalidPrice is returned when a price is NaN, infinite or negative.
var ErrInvalidPrice = errors.New("price must be finite and non-negative")

// CacheKey derives the cache key for a token at a block.
// Format: {lowercase token}:{block}
func CacheKey(token string, block uint64) string {
	return strings.ToLower(token) + CacheKeySeparator + strconv.FormatUint(block, 10)
}

// ValidatePrice checks that p may be stored or returned as a price.
func ValidatePrice(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, p)
	}
	return nil
}

// CacheEntry is a previously computed price. Entries are written once and
// only ever replaced as a whole.
type CacheEntry struct {
	Price    float64   `json:"price"`
	CachedAt time.Time `json:"cached_at"`
}

// NewCacheEntry creates an entry stamped with the current UTC time.
func NewCacheEntry(price float64) (*CacheEntry, error) {
	if err := ValidatePrice(price); err != nil {
		return nil, err
	}
	return &CacheEntry{Price: price, CachedAt: time.Now().UTC()}, nil
}

// Validate checks the entry invariants.
func (e *CacheEntry) Validate() error {
	if err := ValidatePrice(e.Price); err != nil {
		return err
	}
	if e.CachedAt.IsZero() {
		return fmt.Errorf("cached_at must be set")
	}
	return nil
}

// Marshal encodes the entry for storage.
func (e *CacheEntry) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalCacheEntry decodes a stored entry. Values that do not decode to a
// valid entry are reported as errors so callers can treat them as a miss.
func UnmarshalCacheEntry(data []byte) (*CacheEntry, error) {
	var raw struct {
		Price    *float64  `json:"price"`
		CachedAt time.Time `json:"cached_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	if raw.Price == nil {
		return nil, fmt.Errorf("cache entry has no price")
	}
	entry := &CacheEntry{Price: *raw.Price, CachedAt: raw.CachedAt}
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache entry: %w", err)
	}
	return entry, nil
}
