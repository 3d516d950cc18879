package feed

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestAdapter(now time.Time) (*Adapter, *StaticProvider) {
	static := NewStaticProvider()
	reg := NewRegistry()
	reg.Register("static", static)
	return NewAdapter(reg, func() time.Time { return now }, zap.NewNop()), static
}

func TestFetchNormalizesTo18Decimals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, static := newTestAdapter(now)
	static.Set("eth-usd", big.NewInt(300000000000), 8, now.Add(-10*time.Second))

	q := a.Fetch(context.Background(), Source{Provider: "static", Ref: "eth-usd", Staleness: time.Hour, Decimals: 8, Active: true})
	if !q.Valid {
		t.Fatalf("expected valid quote, got reason %q", q.Reason)
	}

	want, _ := new(big.Int).SetString("3000000000000000000000", 10)
	if got := q.Price.Shift(PriceDecimals).BigInt(); got.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestFetchUsesSourceDecimalsWhenFeedIsSilent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, static := newTestAdapter(now)
	static.Set("eur-usd", big.NewInt(108500), -1, now)

	q := a.Fetch(context.Background(), Source{Provider: "static", Ref: "eur-usd", Staleness: time.Minute, Decimals: 5, Active: true})
	if !q.Price.Equal(decimal.RequireFromString("1.085")) {
		t.Errorf("expected 1.085, got %s", q.Price)
	}
}

func TestFetchInvalidQuotes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, static := newTestAdapter(now)
	static.Set("stale", big.NewInt(100), 0, now.Add(-2*time.Hour))
	static.Set("zero", big.NewInt(0), 0, now)
	static.Fail("broken", errors.New("connection reset"))

	tests := []struct {
		name   string
		src    Source
		reason string
	}{
		{"stale", Source{Provider: "static", Ref: "stale", Staleness: time.Hour, Active: true}, "stale"},
		{"zero price", Source{Provider: "static", Ref: "zero", Staleness: time.Hour, Active: true}, "non-positive price"},
		{"inactive", Source{Provider: "static", Ref: "zero", Staleness: time.Hour}, "inactive"},
		{"provider failure", Source{Provider: "static", Ref: "broken", Staleness: time.Hour, Active: true}, "connection reset"},
		{"unknown provider", Source{Provider: "carrier", Ref: "x", Staleness: time.Hour, Active: true}, "carrier: provider not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := a.Fetch(context.Background(), tt.src)
			if q.Valid {
				t.Fatal("expected invalid quote")
			}
			if q.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, q.Reason)
			}
		})
	}
}

func TestStaticProviderSetDecimal(t *testing.T) {
	static := NewStaticProvider()
	static.SetDecimal("btc", decimal.RequireFromString("40000.5"), 8, time.Unix(1, 0))

	r, err := static.LatestValue(context.Background(), "btc")
	if err != nil {
		t.Fatal(err)
	}
	if r.Price.String() != "4000050000000" {
		t.Errorf("unexpected raw price %s", r.Price)
	}

	if _, err := static.LatestValue(context.Background(), "missing"); !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("expected ErrFeedNotFound, got %v", err)
	}
}
