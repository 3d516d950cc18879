// Package feed wraps external price feeds and normalizes their readings.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"
)

var (
	ErrFeedNotFound     = errors.New("feed not found")
	ErrFeedExhausted    = errors.New("feed exhausted")
	ErrProviderNotFound = errors.New("provider not found")
)

// Reading is a raw feed value: Price scaled by 10^Decimals.
// A negative Decimals means the feed did not report its precision.
type Reading struct {
	Price     *big.Int
	Decimals  int32
	UpdatedAt time.Time
}

// Provider returns the latest value of a feed reference. It may fail or return stale data.
type Provider interface {
	LatestValue(ctx context.Context, ref string) (Reading, error)
}

// Registry maps provider names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrProviderNotFound)
	}
	return p, nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
