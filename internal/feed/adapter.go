package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceDecimals is the common decimal base every price is normalized to.
const PriceDecimals = 18

// Source describes how one price source reads its feed.
type Source struct {
	Provider  string
	Ref       string
	Staleness time.Duration
	Decimals  int32
	Active    bool
}

// Quote is a normalized reading. Invalid quotes carry the reason they were excluded.
type Quote struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
	Valid     bool
	Reason    string
}

// Adapter binds sources to providers and normalizes their readings.
type Adapter struct {
	providers *Registry
	now       func() time.Time
	logger    *zap.Logger
}

// NewAdapter creates a new Adapter.
func NewAdapter(providers *Registry, now func() time.Time, logger *zap.Logger) *Adapter {
	if now == nil {
		now = time.Now
	}
	return &Adapter{providers: providers, now: now, logger: logger}
}

// Fetch reads one source. It never fails: any provider problem yields an invalid quote.
func (a *Adapter) Fetch(ctx context.Context, src Source) Quote {
	if !src.Active {
		return Quote{Reason: "inactive"}
	}

	p, err := a.providers.Get(src.Provider)
	if err != nil {
		return Quote{Reason: err.Error()}
	}

	r, err := p.LatestValue(ctx, src.Ref)
	if err != nil {
		a.logger.Debug("feed read failed", zap.String("provider", src.Provider), zap.String("ref", src.Ref), zap.Error(err))
		return Quote{Reason: err.Error()}
	}
	if r.Price == nil {
		return Quote{Reason: "empty price"}
	}

	decimals := src.Decimals
	if r.Decimals >= 0 {
		decimals = r.Decimals
	}

	q := Quote{
		Price:     Normalize(decimal.NewFromBigInt(r.Price, -decimals)),
		UpdatedAt: r.UpdatedAt,
	}

	switch {
	case !q.Price.IsPositive():
		q.Reason = "non-positive price"
	case a.now().Sub(r.UpdatedAt) > src.Staleness:
		q.Reason = "stale"
	default:
		q.Valid = true
	}
	return q
}

// Normalize truncates a price to the common decimal base.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(PriceDecimals)
}
