package feed

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticProvider serves readings set by hand (manual feeds, tests).
type StaticProvider struct {
	mu       sync.RWMutex
	readings map[string]Reading
	failures map[string]error
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		readings: make(map[string]Reading),
		failures: make(map[string]error),
	}
}

// Set stores a raw reading and clears any injected failure.
func (s *StaticProvider) Set(ref string, price *big.Int, decimals int32, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[ref] = Reading{Price: new(big.Int).Set(price), Decimals: decimals, UpdatedAt: updatedAt}
	delete(s.failures, ref)
}

// SetDecimal stores a human price ("3000.00") scaled to the given feed precision.
func (s *StaticProvider) SetDecimal(ref string, price decimal.Decimal, decimals int32, updatedAt time.Time) {
	s.Set(ref, price.Shift(decimals).BigInt(), decimals, updatedAt)
}

// Fail makes every read of ref return err until the next Set.
func (s *StaticProvider) Fail(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[ref] = err
}

// LatestValue returns the reading set for ref.
func (s *StaticProvider) LatestValue(_ context.Context, ref string) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.failures[ref]; ok {
		return Reading{}, err
	}
	r, ok := s.readings[ref]
	if !ok {
		return Reading{}, fmt.Errorf("%s: %w", ref, ErrFeedNotFound)
	}
	r.Price = new(big.Int).Set(r.Price)
	return r, nil
}
