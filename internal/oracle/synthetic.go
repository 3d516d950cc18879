package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/market"
)

// SyntheticPricer derives off-hours prices for continuous-trading assets from the
// last real price and compounding adjustment factors.
type SyntheticPricer struct {
	registry *Registry
	agg      *Aggregator
	hours    market.Hours
	policy   SyntheticPolicy
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.RWMutex
	states map[string]*SyntheticState
}

// NewSyntheticPricer creates a new SyntheticPricer.
func NewSyntheticPricer(registry *Registry, agg *Aggregator, hours market.Hours, policy SyntheticPolicy, now func() time.Time, logger *zap.Logger) *SyntheticPricer {
	if now == nil {
		now = time.Now
	}
	return &SyntheticPricer{
		registry: registry,
		agg:      agg,
		hours:    hours,
		policy:   policy,
		now:      now,
		logger:   logger,
		states:   make(map[string]*SyntheticState),
	}
}

// IsRealMarketOpen consults the trading calendar only.
func (s *SyntheticPricer) IsRealMarketOpen(a Asset) bool {
	return s.hours.IsAuthoritativeMarketOpen(a.Class, s.now())
}

// IsMarketOpen is always true for continuous-trading assets.
func (s *SyntheticPricer) IsMarketOpen(symbol string) (bool, error) {
	a, err := s.agg.activeAsset(symbol)
	if err != nil {
		return false, err
	}
	if a.Continuous {
		return true, nil
	}
	return s.IsRealMarketOpen(a), nil
}

// Update24x7Price compounds the cumulative factors and reprices off the last real price.
// It only applies while the authoritative market is closed.
func (s *SyntheticPricer) Update24x7Price(ctx context.Context, symbol string, afterHours, news decimal.Decimal) (SyntheticState, error) {
	a, err := s.agg.activeAsset(symbol)
	if err != nil {
		return SyntheticState{}, err
	}
	if !a.Continuous {
		return SyntheticState{}, fmt.Errorf("asset %s is not flagged for continuous trading: %w", symbol, apperr.ErrInvalidArgument)
	}
	if !afterHours.IsPositive() || !news.IsPositive() {
		return SyntheticState{}, fmt.Errorf("adjustment factors must be positive: %w", apperr.ErrInvalidArgument)
	}
	if s.IsRealMarketOpen(a) {
		return SyntheticState{}, fmt.Errorf("%s: %w", symbol, apperr.ErrMarketOpen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[symbol]
	if !ok || !st.LastRealPrice.IsPositive() {
		cached, found := s.agg.Cached(ctx, symbol)
		if !found || !cached.WeightedPrice.IsPositive() {
			return SyntheticState{}, fmt.Errorf("no real price to derive %s from: %w", symbol, apperr.ErrStalePriceData)
		}
		st = seedState(cached)
		s.states[symbol] = st
	}

	st.AfterHoursMultiplier = st.AfterHoursMultiplier.Mul(afterHours)
	st.NewsImpactFactor = st.NewsImpactFactor.Mul(news)
	st.SyntheticPrice = feed.Normalize(st.LastRealPrice.Mul(st.AfterHoursMultiplier).Mul(st.NewsImpactFactor))
	st.ConfidenceDecayBps = s.decay(st)
	st.UpdatedAt = s.now()

	s.logger.Info("synthetic price updated",
		zap.String("asset", symbol),
		zap.String("price", st.SyntheticPrice.String()),
		zap.String("after_hours_multiplier", st.AfterHoursMultiplier.String()),
		zap.String("news_impact_factor", st.NewsImpactFactor.String()),
		zap.Int64("confidence_bps", st.ConfidenceBps()),
	)
	return *st, nil
}

// decay is linear in hours since the last real price; confidence never drops below the floor
// unless the real price itself was already below it.
func (s *SyntheticPricer) decay(st *SyntheticState) int64 {
	elapsed := s.now().Sub(st.LastRealTimestamp)
	if elapsed < 0 {
		elapsed = 0
	}
	d := int64(elapsed.Hours() * float64(s.policy.DecayPerHourBps))

	floor := s.policy.FloorBps
	if st.BaseConfidenceBps < floor {
		floor = st.BaseConfidenceBps
	}
	if st.BaseConfidenceBps-d < floor {
		d = st.BaseConfidenceBps - floor
	}
	return d
}

func seedState(p AggregatedPrice) *SyntheticState {
	return &SyntheticState{
		Symbol:               p.Symbol,
		LastRealPrice:        p.WeightedPrice,
		LastRealTimestamp:    p.Timestamp,
		BaseConfidenceBps:    p.ConfidenceBps,
		AfterHoursMultiplier: decimal.NewFromInt(1),
		NewsImpactFactor:     decimal.NewFromInt(1),
		SyntheticPrice:       p.WeightedPrice,
		UpdatedAt:            p.Timestamp,
	}
}

// Resync resets the state to a fresh real-market price. Stale aggregations are ignored.
func (s *SyntheticPricer) Resync(p AggregatedPrice) {
	if p.Status == StatusStale || !p.WeightedPrice.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[p.Symbol] = seedState(p)
}

// Forget drops the state of an asset leaving continuous trading.
func (s *SyntheticPricer) Forget(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, symbol)
}

// State returns a copy of the asset's synthetic state.
func (s *SyntheticPricer) State(symbol string) (SyntheticState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[symbol]
	if !ok {
		return SyntheticState{}, false
	}
	return *st, true
}

// GetSyntheticPrice returns the price a consumer should use right now. Non-continuous
// assets and open markets forward the committed aggregated price.
func (s *SyntheticPricer) GetSyntheticPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, int64, error) {
	a, err := s.agg.activeAsset(symbol)
	if err != nil {
		return decimal.Zero, false, 0, err
	}
	realOpen := s.IsRealMarketOpen(a)

	if a.Continuous && !realOpen {
		if st, ok := s.State(symbol); ok && st.SyntheticPrice.IsPositive() {
			return st.SyntheticPrice, false, st.ConfidenceBps(), nil
		}
	}

	p, ok := s.agg.Cached(ctx, symbol)
	if !ok {
		if p, err = s.agg.GetAggregatedPrice(ctx, symbol); err != nil {
			return decimal.Zero, realOpen, 0, err
		}
	}
	return p.WeightedPrice, realOpen, p.ConfidenceBps, nil
}
