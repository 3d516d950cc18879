package oracle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/market"
)

var (
	admin  = access.Caller{ID: "admin"}
	nobody = access.Caller{ID: "nobody"}
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	oracle  *Oracle
	static  *feed.StaticProvider
	clock   *testClock
	journal *audit.Memory
	hours   market.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	static := feed.NewStaticProvider()
	providers := feed.NewRegistry()
	providers.Register("static", static)

	f := &fixture{
		static:  static,
		clock:   &testClock{t: time.Unix(1_700_000_000, 0)},
		journal: audit.NewMemory(0),
		hours:   market.Fixed{market.Crypto: true},
	}
	f.oracle = New(Options{
		Providers: providers,
		Hours:     f.hours,
		Access:    access.NewPolicy(admin.ID),
		Journal:   f.journal,
		Now:       f.clock.Now,
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) addAsset(t *testing.T, a Asset) {
	t.Helper()
	if a.MinSources == 0 {
		a.MinSources = 1
	}
	if a.MaxDeviationBps == 0 {
		a.MaxDeviationBps = 1000
	}
	a.Active = true
	if err := f.oracle.registry.AddAsset(a); err != nil {
		t.Fatalf("add asset: %v", err)
	}
}

func (f *fixture) addSource(t *testing.T, symbol, ref string, weight int64, staleness time.Duration) PriceSource {
	t.Helper()
	src, err := f.oracle.registry.AddSource(PriceSource{
		Asset:     symbol,
		Provider:  "static",
		Ref:       ref,
		WeightBps: weight,
		Staleness: staleness,
		Decimals:  8,
		Active:    true,
	})
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	return src
}

// setPrice publishes a human price with 8 feed decimals, updated age ago.
func (f *fixture) setPrice(ref, price string, age time.Duration) {
	f.static.SetDecimal(ref, decimal.RequireFromString(price), 8, f.clock.Now().Add(-age))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertPrice(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}
