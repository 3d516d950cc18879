// Package keeper runs periodic maintenance: price refresh, circuit-breaker
// sweep and option expiry.
package keeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/updater"
)

// AssetLister lists the assets to refresh.
type AssetLister interface {
	ActiveAssets() []oracle.Asset
}

// Updater refreshes prices in bulk.
type Updater interface {
	Execute(ctx context.Context, symbols []string) (*updater.BatchResult, error)
}

// Sweeper halts newly tripped assets.
type Sweeper interface {
	Sweep(ctx context.Context) []string
	CheckCircuitBreaker(ctx context.Context) (bool, []string)
}

// Expirer settles options past expiry.
type Expirer interface {
	ExpireDue(ctx context.Context, caller access.Caller) []lifecycle.ExpireResult
}

// HealthReporter summarizes oracle health.
type HealthReporter interface {
	GetOracleHealth(ctx context.Context) oracle.Health
}

// Gauges receives the health figures computed on every tick.
type Gauges interface {
	SetOracleHealth(h oracle.Health)
	SetTripped(n int)
}

// Options configures a Keeper.
type Options struct {
	Assets   AssetLister
	Updater  Updater
	Risk     Sweeper
	Expirer  Expirer
	Health   HealthReporter
	Gauges   Gauges
	Hours    market.Hours
	Interval time.Duration
	Now      func() time.Time
	Logger   *zap.Logger
}

// TickResult summarizes one maintenance pass.
type TickResult struct {
	Updates       *updater.BatchResult
	NewlyTripped  []string
	Expired       int
	ExpireErrors  int
	StockSession  bool
	Health        oracle.Health
	TrippedAssets int
}

// Keeper runs the periodic maintenance cycle.
type Keeper struct {
	opts Options

	sessionKnown bool
	stocksOpen   bool
}

// New creates a new Keeper.
func New(opts Options) *Keeper {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Hours == nil {
		opts.Hours = market.NewCalendar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Keeper{opts: opts}
}

// Run ticks once immediately and then every interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	k.opts.Logger.Info("keeper started", zap.Duration("interval", k.opts.Interval))

	k.Tick(ctx)

	ticker := time.NewTicker(k.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.opts.Logger.Info("keeper stopping")
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick performs one maintenance pass. Steps run in order and a failing step
// never prevents the later ones.
func (k *Keeper) Tick(ctx context.Context) TickResult {
	start := k.opts.Now()
	var res TickResult

	k.logSession(start, &res)

	if k.opts.Assets != nil && k.opts.Updater != nil {
		var symbols []string
		for _, a := range k.opts.Assets.ActiveAssets() {
			symbols = append(symbols, a.Symbol)
		}
		batch, err := k.opts.Updater.Execute(ctx, symbols)
		if err != nil {
			k.opts.Logger.Warn("price refresh interrupted", zap.Error(err))
		}
		res.Updates = batch
	}
	if ctx.Err() != nil {
		return res
	}

	if k.opts.Risk != nil {
		res.NewlyTripped = k.opts.Risk.Sweep(ctx)
		_, tripped := k.opts.Risk.CheckCircuitBreaker(ctx)
		res.TrippedAssets = len(tripped)
	}

	if k.opts.Expirer != nil {
		for _, r := range k.opts.Expirer.ExpireDue(ctx, access.System) {
			switch {
			case r.Err != nil:
				res.ExpireErrors++
				k.opts.Logger.Warn("expiry failed", zap.Uint64("option_id", r.ID), zap.Error(r.Err))
			case r.Expired:
				res.Expired++
			}
		}
	}

	if k.opts.Health != nil {
		res.Health = k.opts.Health.GetOracleHealth(ctx)
	}
	if k.opts.Gauges != nil {
		k.opts.Gauges.SetOracleHealth(res.Health)
		k.opts.Gauges.SetTripped(res.TrippedAssets)
	}

	fields := []zap.Field{
		zap.Int("expired", res.Expired),
		zap.Strings("newly_tripped", res.NewlyTripped),
		zap.Int64("avg_confidence_bps", res.Health.AvgConfidenceBps),
		zap.Int("stale", res.Health.StaleCount),
		zap.Duration("duration", k.opts.Now().Sub(start)),
	}
	if res.Updates != nil {
		fields = append(fields,
			zap.Int("fresh", res.Updates.Fresh),
			zap.Int("degraded", res.Updates.Degraded),
			zap.Int("update_failures", res.Updates.Failed))
	}
	k.opts.Logger.Debug("keeper tick", fields...)
	return res
}

// logSession logs stock session transitions once per change.
func (k *Keeper) logSession(now time.Time, res *TickResult) {
	open := k.opts.Hours.IsAuthoritativeMarketOpen(market.Stock, now)
	res.StockSession = open
	if k.sessionKnown && open == k.stocksOpen {
		return
	}
	k.sessionKnown = true
	k.stocksOpen = open
	if open {
		k.opts.Logger.Info("stock session open", zap.Time("at", now))
	} else {
		k.opts.Logger.Info("stock session closed, continuous assets use synthetic pricing", zap.Time("at", now))
	}
}
