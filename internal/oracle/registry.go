package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/config"
	"github.com/dgnsrekt/optionvault/internal/market"
)

// Registry owns the asset and price-source tables. Every mutation bumps Version.
type Registry struct {
	mu           sync.RWMutex
	assets       map[string]Asset
	order        []string
	sources      map[string][]PriceSource
	nextSourceID int
	version      uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		assets:       make(map[string]Asset),
		sources:      make(map[string][]PriceSource),
		nextSourceID: 1,
	}
}

func validateAsset(a Asset) error {
	if a.Symbol == "" {
		return fmt.Errorf("asset symbol is required: %w", apperr.ErrInvalidArgument)
	}
	if _, ok := market.ParseClass(string(a.Class)); !ok {
		return fmt.Errorf("asset %s: unknown class %q: %w", a.Symbol, a.Class, apperr.ErrInvalidArgument)
	}
	if a.MinSources < 1 {
		return fmt.Errorf("asset %s: min sources must be >= 1: %w", a.Symbol, apperr.ErrInvalidArgument)
	}
	if a.MaxDeviationBps <= 0 || a.MaxDeviationBps > MaxConfidenceBps {
		return fmt.Errorf("asset %s: max deviation must be in (0, 10000] bps: %w", a.Symbol, apperr.ErrInvalidArgument)
	}
	return nil
}

// AddAsset registers a new asset.
func (r *Registry) AddAsset(a Asset) error {
	if err := validateAsset(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[a.Symbol]; ok {
		return fmt.Errorf("%s: %w", a.Symbol, apperr.ErrAssetExists)
	}
	r.assets[a.Symbol] = a
	r.order = append(r.order, a.Symbol)
	r.version++
	return nil
}

// UpdateAsset applies fn to a copy of the asset and stores the result if it still validates.
func (r *Registry) UpdateAsset(symbol string, fn func(*Asset)) (Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%s: %w", symbol, apperr.ErrAssetNotFound)
	}
	fn(&a)
	a.Symbol = symbol
	if err := validateAsset(a); err != nil {
		return Asset{}, err
	}
	r.assets[symbol] = a
	r.version++
	return a, nil
}

// Asset returns a copy of the asset.
func (r *Registry) Asset(symbol string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[symbol]
	return a, ok
}

// Assets returns every asset in registration order.
func (r *Registry) Assets() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Asset, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.assets[s])
	}
	return out
}

// ActiveAssets returns every active asset in registration order.
func (r *Registry) ActiveAssets() []Asset {
	var out []Asset
	for _, a := range r.Assets() {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// AddSource attaches a source to an existing asset and assigns its id.
func (r *Registry) AddSource(src PriceSource) (PriceSource, error) {
	if src.Provider == "" || src.Ref == "" {
		return PriceSource{}, fmt.Errorf("source provider and ref are required: %w", apperr.ErrInvalidArgument)
	}
	if src.WeightBps <= 0 || src.WeightBps > MaxConfidenceBps {
		return PriceSource{}, fmt.Errorf("source weight must be in (0, 10000] bps: %w", apperr.ErrInvalidArgument)
	}
	if src.Staleness <= 0 {
		return PriceSource{}, fmt.Errorf("source staleness must be positive: %w", apperr.ErrInvalidArgument)
	}
	if src.Decimals < 0 || src.Decimals > 36 {
		return PriceSource{}, fmt.Errorf("source decimals must be in [0, 36]: %w", apperr.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[src.Asset]; !ok {
		return PriceSource{}, fmt.Errorf("%s: %w", src.Asset, apperr.ErrAssetNotFound)
	}
	src.ID = r.nextSourceID
	r.nextSourceID++
	r.sources[src.Asset] = append(r.sources[src.Asset], src)
	r.version++
	return src, nil
}

// SetSourceActive toggles one source.
func (r *Registry) SetSourceActive(symbol string, id int, active bool) (PriceSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.sources[symbol] {
		if s.ID == id {
			r.sources[symbol][i].Active = active
			r.version++
			return r.sources[symbol][i], nil
		}
	}
	return PriceSource{}, fmt.Errorf("source %d of %s: %w", id, symbol, apperr.ErrInvalidArgument)
}

// Sources returns a copy of the asset's configured sources.
func (r *Registry) Sources(symbol string) []PriceSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PriceSource, len(r.sources[symbol]))
	copy(out, r.sources[symbol])
	return out
}

// Version returns the mutation counter.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// LoadRegistry builds a registry from configuration.
func LoadRegistry(cfg *config.Registry) (*Registry, error) {
	r := NewRegistry()
	for _, ac := range cfg.Assets {
		a := Asset{
			Symbol:          ac.Symbol,
			Class:           market.Class(ac.Class),
			Active:          ac.IsActive(),
			MinSources:      ac.MinSources,
			MaxDeviationBps: ac.MaxDeviationBps,
			Continuous:      ac.Continuous,
		}
		if err := r.AddAsset(a); err != nil {
			return nil, err
		}
		for _, sc := range ac.Sources {
			_, err := r.AddSource(PriceSource{
				Asset:       ac.Symbol,
				Provider:    sc.Provider,
				Ref:         sc.Ref,
				WeightBps:   sc.WeightBps,
				Staleness:   secondsToDuration(sc.StalenessSec),
				Decimals:    sc.Decimals,
				Active:      sc.IsActive(),
				Description: sc.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", ac.Symbol, err)
			}
		}
	}
	return r, nil
}

func secondsToDuration(sec int64) time.Duration {
	return time.Duration(sec) * time.Second
}
