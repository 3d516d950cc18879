package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/feed"
)

var bps = decimal.NewFromInt(MaxConfidenceBps)

// Aggregator combines the sources of an asset into one price with a confidence score.
type Aggregator struct {
	registry *Registry
	adapter  *feed.Adapter
	cache    PriceCache
	policy   Policy
	now      func() time.Time
	logger   *zap.Logger

	// commit serializes UpdateAssetPrice so deviation is measured against the last commit.
	commit sync.Mutex
}

// NewAggregator creates a new Aggregator.
func NewAggregator(registry *Registry, adapter *feed.Adapter, cache PriceCache, policy Policy, now func() time.Time, logger *zap.Logger) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		registry: registry,
		adapter:  adapter,
		cache:    cache,
		policy:   policy,
		now:      now,
		logger:   logger,
	}
}

func (g *Aggregator) activeAsset(symbol string) (Asset, error) {
	a, ok := g.registry.Asset(symbol)
	if !ok {
		return Asset{}, fmt.Errorf("%s: %w", symbol, apperr.ErrAssetNotFound)
	}
	if !a.Active {
		return Asset{}, fmt.Errorf("asset %s is inactive: %w", symbol, apperr.ErrAssetNotFound)
	}
	return a, nil
}

// Cached returns the last committed aggregation.
func (g *Aggregator) Cached(ctx context.Context, symbol string) (AggregatedPrice, bool) {
	p, ok, err := g.cache.Get(ctx, symbol)
	if err != nil {
		g.logger.Warn("price cache read failed", zap.String("asset", symbol), zap.Error(err))
		return AggregatedPrice{}, false
	}
	return p, ok
}

// GetAggregatedPrice recomputes the asset's price from its sources without committing it.
// Deviation is measured against the last committed price.
func (g *Aggregator) GetAggregatedPrice(ctx context.Context, symbol string) (AggregatedPrice, error) {
	asset, err := g.activeAsset(symbol)
	if err != nil {
		return AggregatedPrice{}, err
	}
	prev, ok := g.Cached(ctx, symbol)
	if !ok {
		return g.compute(ctx, asset, nil), nil
	}
	return g.compute(ctx, asset, &prev), nil
}

// UpdateAssetPrice pulls every source once and commits the result to the cache.
// A stale aggregation keeps the previous price and clears the deviation flag.
func (g *Aggregator) UpdateAssetPrice(ctx context.Context, symbol string) (AggregatedPrice, error) {
	asset, err := g.activeAsset(symbol)
	if err != nil {
		return AggregatedPrice{}, err
	}

	g.commit.Lock()
	defer g.commit.Unlock()

	var agg AggregatedPrice
	if prev, ok := g.Cached(ctx, symbol); ok {
		agg = g.compute(ctx, asset, &prev)
	} else {
		agg = g.compute(ctx, asset, nil)
	}

	if err := g.cache.Set(ctx, agg); err != nil {
		return AggregatedPrice{}, fmt.Errorf("committing %s: %w", symbol, err)
	}

	if agg.Deviating {
		g.logger.Warn("price deviation exceeds limit",
			zap.String("asset", symbol),
			zap.Int64("deviation_bps", agg.DeviationBps),
			zap.Int64("max_deviation_bps", asset.MaxDeviationBps),
		)
	}
	g.logger.Debug("price updated",
		zap.String("asset", symbol),
		zap.String("price", agg.WeightedPrice.String()),
		zap.Int64("confidence_bps", agg.ConfidenceBps),
		zap.String("status", string(agg.Status)),
	)
	return agg, nil
}

// CheckCircuitBreaker returns the active assets whose last committed update deviated.
// It does not halt anything.
func (g *Aggregator) CheckCircuitBreaker(ctx context.Context) (bool, []string) {
	var tripped []string
	for _, a := range g.registry.ActiveAssets() {
		if p, ok := g.Cached(ctx, a.Symbol); ok && p.Deviating {
			tripped = append(tripped, a.Symbol)
		}
	}
	return len(tripped) > 0, tripped
}

func (g *Aggregator) compute(ctx context.Context, asset Asset, prev *AggregatedPrice) AggregatedPrice {
	agg := AggregatedPrice{Symbol: asset.Symbol}

	var (
		prices     []decimal.Decimal
		weighted   decimal.Decimal
		configured int
	)
	for _, src := range g.registry.Sources(asset.Symbol) {
		if !src.Active {
			continue
		}
		configured++

		q := g.adapter.Fetch(ctx, src.feedSource())
		if !q.Valid {
			g.logger.Debug("source excluded",
				zap.String("asset", asset.Symbol),
				zap.Int("source_id", src.ID),
				zap.String("reason", q.Reason),
			)
			continue
		}

		prices = append(prices, q.Price)
		weighted = weighted.Add(q.Price.Mul(decimal.NewFromInt(src.WeightBps)))
		agg.TotalWeight += src.WeightBps
		if q.UpdatedAt.After(agg.Timestamp) {
			agg.Timestamp = q.UpdatedAt
		}
	}

	agg.ValidSourceCount = len(prices)
	if agg.ValidSourceCount == 0 {
		agg.Status = StatusStale
		if prev != nil {
			agg.WeightedPrice = prev.WeightedPrice
			agg.MedianPrice = prev.WeightedPrice
			agg.AveragePrice = prev.WeightedPrice
			agg.MinPrice = prev.WeightedPrice
			agg.MaxPrice = prev.WeightedPrice
			agg.Timestamp = prev.Timestamp
		}
		return agg
	}

	agg.WeightedPrice = weighted.DivRound(decimal.NewFromInt(agg.TotalWeight), feed.PriceDecimals)
	agg.MedianPrice = median(prices)
	agg.AveragePrice = decimal.Sum(prices[0], prices[1:]...).DivRound(decimal.NewFromInt(int64(len(prices))), feed.PriceDecimals)
	agg.MinPrice = decimal.Min(prices[0], prices[1:]...)
	agg.MaxPrice = decimal.Max(prices[0], prices[1:]...)

	agg.ConfidenceBps = g.confidence(configured, agg)
	if agg.ValidSourceCount < asset.MinSources {
		agg.Status = StatusDegraded
	} else {
		agg.Status = StatusFresh
	}

	if prev != nil && prev.WeightedPrice.IsPositive() {
		agg.DeviationBps = agg.WeightedPrice.Sub(prev.WeightedPrice).Abs().Mul(bps).Div(prev.WeightedPrice).IntPart()
		agg.Deviating = agg.DeviationBps > asset.MaxDeviationBps
	}
	return agg
}

// confidence starts at full and is penalized for missing sources and for the max-min spread relative to the median.
// The spread penalty is capped at one missing source, so losing a valid source never raises confidence.
func (g *Aggregator) confidence(configured int, agg AggregatedPrice) int64 {
	missing := int64(configured - agg.ValidSourceCount)
	missingPenalty := missing * g.policy.MissingSourcePenaltyBps / int64(configured)

	spreadBps := agg.MaxPrice.Sub(agg.MinPrice).Mul(bps).Div(agg.MedianPrice).IntPart()
	spreadPenalty := min(spreadBps*g.policy.SpreadPenaltyMultiplier, g.policy.MissingSourcePenaltyBps/int64(configured))

	return clampBps(MaxConfidenceBps - missingPenalty - spreadPenalty)
}

func median(prices []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).DivRound(decimal.NewFromInt(2), feed.PriceDecimals)
}

func clampBps(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v > MaxConfidenceBps {
		return MaxConfidenceBps
	}
	return v
}
