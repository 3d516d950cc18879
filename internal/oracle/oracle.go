// Package oracle aggregates, validates and synthesizes asset prices.
//
// The Oracle facade owns the asset registry and routes reads to the Aggregator
// (real feeds) or the SyntheticPricer (off-hours continuous trading). Admin
// mutators take an explicit access.Caller.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/notify"
)

type emergencyPrice struct {
	price decimal.Decimal
	setBy string
	at    time.Time
}

// Options wires an Oracle. Nil collaborators get in-memory or no-op defaults.
type Options struct {
	Registry        *Registry
	Providers       *feed.Registry
	Cache           PriceCache
	Hours           market.Hours
	Policy          Policy
	SyntheticPolicy SyntheticPolicy
	Access          *access.Policy
	Journal         audit.Journal
	Notifier        notify.Notifier
	Now             func() time.Time
	Logger          *zap.Logger
}

// Oracle is the price facade over the registry, aggregator and synthetic pricer.
type Oracle struct {
	registry *Registry
	agg      *Aggregator
	synth    *SyntheticPricer
	policy   Policy
	access   *access.Policy
	journal  audit.Journal
	notifier notify.Notifier
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.RWMutex
	emergency map[string]emergencyPrice
}

// New creates a new Oracle.
func New(opts Options) *Oracle {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Providers == nil {
		opts.Providers = feed.NewRegistry()
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.SyntheticPolicy == (SyntheticPolicy{}) {
		opts.SyntheticPolicy = DefaultSyntheticPolicy()
	}
	if opts.Hours == nil {
		opts.Hours = market.NewCalendar()
	}
	if opts.Access == nil {
		opts.Access = access.NewPolicy()
	}
	if opts.Journal == nil {
		opts.Journal = audit.Discard{}
	}
	if opts.Notifier == nil {
		opts.Notifier = &notify.NoopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	adapter := feed.NewAdapter(opts.Providers, opts.Now, opts.Logger)
	agg := NewAggregator(opts.Registry, adapter, opts.Cache, opts.Policy, opts.Now, opts.Logger)

	return &Oracle{
		registry:  opts.Registry,
		agg:       agg,
		synth:     NewSyntheticPricer(opts.Registry, agg, opts.Hours, opts.SyntheticPolicy, opts.Now, opts.Logger),
		policy:    opts.Policy,
		access:    opts.Access,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		now:       opts.Now,
		logger:    opts.Logger,
		emergency: make(map[string]emergencyPrice),
	}
}

// Registry returns the asset registry.
func (o *Oracle) Registry() *Registry { return o.registry }

// Synthetic returns the synthetic pricer.
func (o *Oracle) Synthetic() *SyntheticPricer { return o.synth }

// HealthyConfidenceBps is the confidence at or above which a price is considered healthy.
func (o *Oracle) HealthyConfidenceBps() int64 { return o.policy.HealthyConfidenceBps }

func (o *Oracle) record(ctx context.Context, e audit.Event) {
	if err := o.journal.Record(ctx, e); err != nil {
		o.logger.Warn("audit journal write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// GetAggregatedPrice recomputes the asset's price from its sources without committing it.
func (o *Oracle) GetAggregatedPrice(ctx context.Context, symbol string) (AggregatedPrice, error) {
	return o.agg.GetAggregatedPrice(ctx, symbol)
}

// UpdateAssetPrice refreshes and commits the asset's price. A fresh real price for a
// continuous-trading asset whose market is open resets its synthetic state.
func (o *Oracle) UpdateAssetPrice(ctx context.Context, symbol string) (AggregatedPrice, error) {
	p, err := o.agg.UpdateAssetPrice(ctx, symbol)
	if err != nil {
		return AggregatedPrice{}, err
	}
	if a, ok := o.registry.Asset(symbol); ok && a.Continuous && o.synth.IsRealMarketOpen(a) {
		o.synth.Resync(p)
	}
	return p, nil
}

// CheckCircuitBreaker reports the assets whose last update deviated beyond their limit.
func (o *Oracle) CheckCircuitBreaker(ctx context.Context) (bool, []string) {
	return o.agg.CheckCircuitBreaker(ctx)
}

// IsMarketOpen reports whether the asset trades now. Continuous assets are always open.
func (o *Oracle) IsMarketOpen(symbol string) (bool, error) {
	return o.synth.IsMarketOpen(symbol)
}

// GetSyntheticPrice returns the 24/7 price, whether the real market is open, and confidence.
func (o *Oracle) GetSyntheticPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, int64, error) {
	return o.synth.GetSyntheticPrice(ctx, symbol)
}

// Update24x7Price applies off-hours adjustment factors. Admin only.
func (o *Oracle) Update24x7Price(ctx context.Context, caller access.Caller, symbol string, afterHours, news decimal.Decimal) (SyntheticState, error) {
	if err := o.access.RequireAdmin(caller); err != nil {
		return SyntheticState{}, err
	}
	st, err := o.synth.Update24x7Price(ctx, symbol, afterHours, news)
	if err != nil {
		return SyntheticState{}, err
	}
	o.record(ctx, audit.NewEvent(audit.KindSyntheticUpdate, caller.ID).
		WithAsset(symbol).
		With("price", st.SyntheticPrice.String()).
		With("after_hours_multiplier", afterHours.String()).
		With("news_impact_factor", news.String()))
	return st, nil
}

// BatchUpdate24x7Prices applies each update independently; one failure never undoes another.
func (o *Oracle) BatchUpdate24x7Prices(ctx context.Context, caller access.Caller, updates []SyntheticUpdate) ([]SyntheticResult, error) {
	if err := o.access.RequireAdmin(caller); err != nil {
		return nil, err
	}
	results := make([]SyntheticResult, len(updates))
	for i, u := range updates {
		results[i].Symbol = u.Symbol
		st, err := o.Update24x7Price(ctx, caller, u.Symbol, u.AfterHoursMultiplier, u.NewsImpactFactor)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Price = st.SyntheticPrice
		results[i].ConfidenceBps = st.ConfidenceBps()
	}
	return results, nil
}

// SetContinuousTrading flags an asset for 24/7 synthetic pricing. Admin only.
func (o *Oracle) SetContinuousTrading(ctx context.Context, caller access.Caller, symbol string, enabled bool) (Asset, error) {
	if err := o.access.RequireAdmin(caller); err != nil {
		return Asset{}, err
	}
	a, err := o.registry.UpdateAsset(symbol, func(a *Asset) { a.Continuous = enabled })
	if err != nil {
		return Asset{}, err
	}
	if !enabled {
		o.synth.Forget(symbol)
	}
	o.record(ctx, audit.NewEvent(audit.KindContinuousTrading, caller.ID).
		WithAsset(symbol).
		With("enabled", fmt.Sprint(enabled)))
	return a, nil
}

// GetPrice returns the normalized price consumers should use; it fails only when no price exists.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	d, err := o.GetPriceData(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, apperr.ErrStalePriceData)
	}
	return d.Price, nil
}

// GetPriceData reads the emergency override, the synthetic price (continuous asset,
// closed market) or the last committed aggregation, in that order.
func (o *Oracle) GetPriceData(ctx context.Context, symbol string) (PriceData, error) {
	a, err := o.agg.activeAsset(symbol)
	if err != nil {
		return PriceData{}, err
	}

	if ep, ok := o.EmergencyPrice(symbol); ok {
		return PriceData{
			Symbol:        symbol,
			Price:         ep,
			Timestamp:     o.emergencySetAt(symbol),
			ConfidenceBps: MaxConfidenceBps,
			Status:        StatusFresh,
			Emergency:     true,
		}, nil
	}

	if a.Continuous && !o.synth.IsRealMarketOpen(a) {
		if st, ok := o.synth.State(symbol); ok && st.SyntheticPrice.IsPositive() {
			d := PriceData{
				Symbol:        symbol,
				Price:         st.SyntheticPrice,
				Timestamp:     st.UpdatedAt,
				ConfidenceBps: st.ConfidenceBps(),
				Status:        StatusFresh,
				Synthetic:     true,
			}
			if d.ConfidenceBps < o.policy.HealthyConfidenceBps {
				d.Status = StatusDegraded
			}
			return d, nil
		}
	}

	p, ok := o.agg.Cached(ctx, symbol)
	if !ok {
		if p, err = o.agg.GetAggregatedPrice(ctx, symbol); err != nil {
			return PriceData{}, err
		}
	}
	p = o.expireAtRead(a, p)

	return PriceData{
		Symbol:        symbol,
		Price:         p.WeightedPrice,
		Timestamp:     p.Timestamp,
		ConfidenceBps: p.ConfidenceBps,
		DeviationBps:  p.DeviationBps,
		Deviating:     p.Deviating,
		Status:        p.Status,
	}, nil
}

// expireAtRead marks a committed price stale once it is older than every source's staleness threshold.
func (o *Oracle) expireAtRead(a Asset, p AggregatedPrice) AggregatedPrice {
	if p.Status == StatusStale {
		return p
	}
	var limit time.Duration
	for _, s := range o.registry.Sources(a.Symbol) {
		if s.Active && s.Staleness > limit {
			limit = s.Staleness
		}
	}
	if limit > 0 && o.now().Sub(p.Timestamp) > limit {
		p.Status = StatusStale
		p.ConfidenceBps = 0
	}
	return p
}

// GetBatchPrices reads each asset independently and reports per-item failures.
func (o *Oracle) GetBatchPrices(ctx context.Context, symbols []string) []BatchPrice {
	out := make([]BatchPrice, len(symbols))
	for i, s := range symbols {
		out[i].Symbol = s
		d, err := o.GetPriceData(ctx, s)
		if err == nil && !d.Price.IsPositive() {
			err = fmt.Errorf("no price for %s: %w", s, apperr.ErrStalePriceData)
		}
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Price = d.Price
		out[i].Timestamp = d.Timestamp
	}
	return out
}

// GetOracleHealth averages confidence over active assets and counts the stale ones.
func (o *Oracle) GetOracleHealth(ctx context.Context) Health {
	all := o.registry.Assets()
	h := Health{TotalAssets: len(all)}

	var total int64
	for _, a := range all {
		if !a.Active {
			continue
		}
		h.ActiveAssets++
		d, err := o.GetPriceData(ctx, a.Symbol)
		if err != nil || d.Status == StatusStale {
			h.StaleCount++
		}
		if err == nil {
			total += d.ConfidenceBps
		}
	}
	if h.ActiveAssets > 0 {
		h.AvgConfidenceBps = total / int64(h.ActiveAssets)
	}
	return h
}

// AddAsset registers an asset. Admin only.
func (o *Oracle) AddAsset(ctx context.Context, caller access.Caller, a Asset) error {
	if err := o.access.RequireAdmin(caller); err != nil {
		return err
	}
	if err := o.registry.AddAsset(a); err != nil {
		return err
	}
	o.record(ctx, audit.NewEvent(audit.KindAssetAdded, caller.ID).
		WithAsset(a.Symbol).
		With("class", string(a.Class)).
		With("continuous", fmt.Sprint(a.Continuous)))
	return nil
}

// DeactivateAsset stops pricing an asset. Assets are never deleted. Admin only.
func (o *Oracle) DeactivateAsset(ctx context.Context, caller access.Caller, symbol string) error {
	if err := o.access.RequireAdmin(caller); err != nil {
		return err
	}
	if _, err := o.registry.UpdateAsset(symbol, func(a *Asset) { a.Active = false }); err != nil {
		return err
	}
	o.record(ctx, audit.NewEvent(audit.KindAssetDeactivated, caller.ID).WithAsset(symbol))
	return nil
}

// AddPriceSource attaches a feed to an asset. Admin only.
func (o *Oracle) AddPriceSource(ctx context.Context, caller access.Caller, src PriceSource) (PriceSource, error) {
	if err := o.access.RequireAdmin(caller); err != nil {
		return PriceSource{}, err
	}
	added, err := o.registry.AddSource(src)
	if err != nil {
		return PriceSource{}, err
	}
	o.record(ctx, audit.NewEvent(audit.KindSourceAdded, caller.ID).
		WithAsset(added.Asset).
		With("source_id", fmt.Sprint(added.ID)).
		With("provider", added.Provider).
		With("ref", added.Ref))
	return added, nil
}

// SetSourceActive enables or disables one source. Admin only.
func (o *Oracle) SetSourceActive(ctx context.Context, caller access.Caller, symbol string, id int, active bool) (PriceSource, error) {
	if err := o.access.RequireAdmin(caller); err != nil {
		return PriceSource{}, err
	}
	src, err := o.registry.SetSourceActive(symbol, id, active)
	if err != nil {
		return PriceSource{}, err
	}
	o.record(ctx, audit.NewEvent(audit.KindSourceToggled, caller.ID).
		WithAsset(symbol).
		With("source_id", fmt.Sprint(id)).
		With("active", fmt.Sprint(active)))
	return src, nil
}

// SetEmergencyPrice overrides aggregation for an asset until cleared. Admin only, journaled and notified.
func (o *Oracle) SetEmergencyPrice(ctx context.Context, caller access.Caller, symbol string, price decimal.Decimal) error {
	if err := o.access.RequireAdmin(caller); err != nil {
		return err
	}
	if _, ok := o.registry.Asset(symbol); !ok {
		return fmt.Errorf("%s: %w", symbol, apperr.ErrAssetNotFound)
	}
	if !price.IsPositive() {
		return fmt.Errorf("emergency price must be positive: %w", apperr.ErrInvalidArgument)
	}
	price = feed.Normalize(price)

	o.mu.Lock()
	o.emergency[symbol] = emergencyPrice{price: price, setBy: caller.ID, at: o.now()}
	o.mu.Unlock()

	o.logger.Warn("emergency price set",
		zap.String("asset", symbol),
		zap.String("price", price.String()),
		zap.String("actor", caller.ID),
	)
	o.record(ctx, audit.NewEvent(audit.KindEmergencyPriceSet, caller.ID).
		WithAsset(symbol).
		With("price", price.String()))
	if err := o.notifier.SendEmergencyPrice(ctx, symbol, price, caller.ID); err != nil {
		o.logger.Warn("emergency price notification failed", zap.Error(err))
	}
	return nil
}

// ClearEmergencyPrice resumes aggregation for an asset. Clearing an absent override is a no-op.
func (o *Oracle) ClearEmergencyPrice(ctx context.Context, caller access.Caller, symbol string) error {
	if err := o.access.RequireAdmin(caller); err != nil {
		return err
	}

	o.mu.Lock()
	_, ok := o.emergency[symbol]
	delete(o.emergency, symbol)
	o.mu.Unlock()
	if !ok {
		return nil
	}

	o.logger.Warn("emergency price cleared", zap.String("asset", symbol), zap.String("actor", caller.ID))
	o.record(ctx, audit.NewEvent(audit.KindEmergencyPriceCleared, caller.ID).WithAsset(symbol))
	if err := o.notifier.SendEmergencyCleared(ctx, symbol, caller.ID); err != nil {
		o.logger.Warn("emergency clear notification failed", zap.Error(err))
	}
	return nil
}

// EmergencyPrice returns the active override, if any.
func (o *Oracle) EmergencyPrice(symbol string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ep, ok := o.emergency[symbol]
	return ep.price, ok
}

func (o *Oracle) emergencySetAt(symbol string) time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.emergency[symbol].at
}

// GetStockAvailability lists every active stock and whether it can trade right now.
func (o *Oracle) GetStockAvailability() []Availability {
	var out []Availability
	for _, a := range o.registry.ActiveAssets() {
		if a.Class != market.Stock {
			continue
		}
		open := o.synth.IsRealMarketOpen(a)
		out = append(out, Availability{
			Symbol:         a.Symbol,
			Continuous:     a.Continuous,
			RealMarketOpen: open,
			Tradeable:      a.Continuous || open,
		})
	}
	return out
}
