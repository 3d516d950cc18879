package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/market"
)

func TestSingleSourceNormalizesTo18Decimals(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto})
	f.addSource(t, "ETH", "eth-usd", 10000, time.Hour)
	f.setPrice("eth-usd", "3000.00", 10*time.Second)

	p, err := f.oracle.GetAggregatedPrice(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := p.WeightedPrice.Shift(feed.PriceDecimals).BigInt().String(); got != "3000000000000000000000" {
		t.Errorf("expected 3000e18, got %s", got)
	}
	if p.ConfidenceBps != 10000 {
		t.Errorf("expected confidence 10000, got %d", p.ConfidenceBps)
	}
	if p.Status != StatusFresh {
		t.Errorf("expected FRESH, got %s", p.Status)
	}
}

func TestWeightedMedianAverage(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "BTC", Class: market.Crypto})
	f.addSource(t, "BTC", "a", 5000, time.Hour)
	f.addSource(t, "BTC", "b", 3000, time.Hour)
	f.addSource(t, "BTC", "c", 2000, time.Hour)
	f.setPrice("a", "100", 0)
	f.setPrice("b", "102", 0)
	f.setPrice("c", "104", 0)

	p, err := f.oracle.GetAggregatedPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatal(err)
	}

	assertPrice(t, "weighted", p.WeightedPrice, "101.4")
	assertPrice(t, "median", p.MedianPrice, "102")
	assertPrice(t, "average", p.AveragePrice, "102")
	assertPrice(t, "min", p.MinPrice, "100")
	assertPrice(t, "max", p.MaxPrice, "104")
	if p.TotalWeight != 10000 || p.ValidSourceCount != 3 {
		t.Errorf("unexpected weight/count %d/%d", p.TotalWeight, p.ValidSourceCount)
	}
	// spread = 4/102 = 392 bps, penalty x2
	if p.ConfidenceBps != 10000-784 {
		t.Errorf("expected confidence 9216, got %d", p.ConfidenceBps)
	}
	if p.MinPrice.GreaterThan(p.MedianPrice) || p.MedianPrice.GreaterThan(p.MaxPrice) ||
		p.MinPrice.GreaterThan(p.AveragePrice) || p.AveragePrice.GreaterThan(p.MaxPrice) {
		t.Error("min <= median, average <= max violated")
	}
}

func TestEvenMedian(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "SOL", Class: market.Crypto})
	f.addSource(t, "SOL", "a", 5000, time.Hour)
	f.addSource(t, "SOL", "b", 5000, time.Hour)
	f.setPrice("a", "10", 0)
	f.setPrice("b", "11", 0)

	p, _ := f.oracle.GetAggregatedPrice(context.Background(), "SOL")
	assertPrice(t, "median", p.MedianPrice, "10.5")
}

func TestStaleSourceExcluded(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto, MinSources: 2})
	f.addSource(t, "ETH", "fresh", 5000, time.Hour)
	f.addSource(t, "ETH", "old", 5000, time.Hour)
	f.setPrice("fresh", "100", time.Minute)
	f.setPrice("old", "500", 2*time.Hour)

	p, _ := f.oracle.GetAggregatedPrice(context.Background(), "ETH")

	if p.ValidSourceCount != 1 {
		t.Errorf("expected 1 valid source, got %d", p.ValidSourceCount)
	}
	assertPrice(t, "weighted", p.WeightedPrice, "100")
	if p.ConfidenceBps != 7500 {
		t.Errorf("expected 7500 after one missing of two, got %d", p.ConfidenceBps)
	}
	if p.Status != StatusDegraded {
		t.Errorf("expected DEGRADED below min sources, got %s", p.Status)
	}
}

func TestConfidenceDropsWithEachLostSource(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto})
	refs := []string{"a", "b", "c"}
	for _, r := range refs {
		f.addSource(t, "ETH", r, 3000, time.Hour)
		f.setPrice(r, "2000", 0)
	}

	last := int64(MaxConfidenceBps + 1)
	for i := 0; i < len(refs); i++ {
		p, _ := f.oracle.GetAggregatedPrice(context.Background(), "ETH")
		if p.ConfidenceBps >= last {
			t.Errorf("confidence did not drop with %d valid sources: %d >= %d", p.ValidSourceCount, p.ConfidenceBps, last)
		}
		last = p.ConfidenceBps
		f.static.Fail(refs[i], errors.New("down"))
	}

	p, _ := f.oracle.GetAggregatedPrice(context.Background(), "ETH")
	if p.ConfidenceBps != 0 || p.Status != StatusStale {
		t.Errorf("all sources down should give STALE/0, got %s/%d", p.Status, p.ConfidenceBps)
	}
}

func TestLosingOutlierNeverRaisesConfidence(t *testing.T) {
	for _, order := range [][]string{{"c", "a", "b"}, {"a", "c", "b"}} {
		f := newFixture(t)
		f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto})
		for ref, price := range map[string]string{"a": "100", "b": "100", "c": "110"} {
			f.addSource(t, "ETH", ref, 3000, time.Hour)
			f.setPrice(ref, price, 0)
		}

		p, _ := f.oracle.GetAggregatedPrice(context.Background(), "ETH")
		// spread 1000 bps x2 is capped at one missing source, 5000/3
		if p.ConfidenceBps != 10000-1666 {
			t.Fatalf("expected capped spread penalty 8334, got %d", p.ConfidenceBps)
		}

		last := p.ConfidenceBps
		for _, ref := range order[:2] {
			f.static.Fail(ref, errors.New("down"))
			p, _ = f.oracle.GetAggregatedPrice(context.Background(), "ETH")
			if p.ConfidenceBps > last {
				t.Errorf("order %v: losing %s raised confidence %d -> %d", order, ref, last, p.ConfidenceBps)
			}
			last = p.ConfidenceBps
		}
	}
}

func TestTotalFailureFreezesCachedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto})
	f.addSource(t, "ETH", "a", 10000, time.Hour)

	p, _ := f.oracle.UpdateAssetPrice(ctx, "ETH")
	if !p.WeightedPrice.IsZero() || p.Status != StatusStale {
		t.Errorf("no history and no sources should give zero STALE, got %s %s", p.WeightedPrice, p.Status)
	}

	f.setPrice("a", "3000", 0)
	committed, _ := f.oracle.UpdateAssetPrice(ctx, "ETH")

	f.static.Fail("a", errors.New("timeout"))
	f.clock.Advance(time.Minute)
	p, err := f.oracle.UpdateAssetPrice(ctx, "ETH")
	if err != nil {
		t.Fatal(err)
	}
	assertPrice(t, "frozen", p.WeightedPrice, "3000")
	if p.ConfidenceBps != 0 || p.Status != StatusStale {
		t.Errorf("expected STALE/0, got %s/%d", p.Status, p.ConfidenceBps)
	}
	if !p.Timestamp.Equal(committed.Timestamp) {
		t.Error("frozen price should keep its original timestamp")
	}
}

func TestDeviationTripsBreakerOnlyOnCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto, MaxDeviationBps: 1000})
	f.addSource(t, "ETH", "a", 10000, time.Hour)

	f.setPrice("a", "100", 0)
	if _, err := f.oracle.UpdateAssetPrice(ctx, "ETH"); err != nil {
		t.Fatal(err)
	}

	f.setPrice("a", "120", 0)
	p, _ := f.oracle.GetAggregatedPrice(ctx, "ETH")
	if !p.Deviating || p.DeviationBps != 2000 {
		t.Errorf("expected 2000 bps deviation, got %d (%v)", p.DeviationBps, p.Deviating)
	}
	if tripped, _ := f.oracle.CheckCircuitBreaker(ctx); tripped {
		t.Error("a read must not trip the breaker")
	}

	if _, err := f.oracle.UpdateAssetPrice(ctx, "ETH"); err != nil {
		t.Fatal(err)
	}
	tripped, assets := f.oracle.CheckCircuitBreaker(ctx)
	if !tripped || len(assets) != 1 || assets[0] != "ETH" {
		t.Errorf("expected ETH tripped, got %v %v", tripped, assets)
	}

	// Stable follow-up clears the flag.
	if _, err := f.oracle.UpdateAssetPrice(ctx, "ETH"); err != nil {
		t.Fatal(err)
	}
	if tripped, _ := f.oracle.CheckCircuitBreaker(ctx); tripped {
		t.Error("stable price should clear the deviation flag")
	}
}

func TestFreshButDeviatingAndStaleButNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addAsset(t, Asset{Symbol: "ETH", Class: market.Crypto, MaxDeviationBps: 500})
	f.addSource(t, "ETH", "a", 10000, time.Hour)

	f.setPrice("a", "100", 0)
	_, _ = f.oracle.UpdateAssetPrice(ctx, "ETH")

	f.setPrice("a", "200", 0)
	p, _ := f.oracle.UpdateAssetPrice(ctx, "ETH")
	if p.Status != StatusFresh || !p.Deviating {
		t.Errorf("expected fresh and deviating, got %s/%v", p.Status, p.Deviating)
	}

	f.setPrice("a", "200", 3*time.Hour)
	p, _ = f.oracle.UpdateAssetPrice(ctx, "ETH")
	if p.Status != StatusStale || p.Deviating {
		t.Errorf("expected stale and not deviating, got %s/%v", p.Status, p.Deviating)
	}
}

func TestUnknownAndInactiveAssets(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, Asset{Symbol: "OLD", Class: market.Crypto})
	if err := f.oracle.DeactivateAsset(context.Background(), admin, "OLD"); err != nil {
		t.Fatal(err)
	}

	for _, s := range []string{"NOPE", "OLD"} {
		if _, err := f.oracle.GetAggregatedPrice(context.Background(), s); !errors.Is(err, apperr.ErrAssetNotFound) {
			t.Errorf("%s: expected ErrAssetNotFound, got %v", s, err)
		}
	}
}
