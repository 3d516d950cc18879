package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/funds"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/vault"
)

var (
	domain = order.Domain{Name: "OptionVault", Version: "1", VerifyingTarget: "test"}
	taker  = access.Caller{ID: "taker"}
	start  = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]oracle.PriceData
}

func (f *fakePrices) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = oracle.PriceData{Symbol: symbol, Price: d(price), ConfidenceBps: 10000, Status: oracle.StatusFresh}
}

func (f *fakePrices) GetPriceData(_ context.Context, symbol string) (oracle.PriceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return oracle.PriceData{}, apperr.ErrAssetNotFound
	}
	return p, nil
}

type fakeAssets map[string]oracle.Asset

func (f fakeAssets) Asset(symbol string) (oracle.Asset, bool) {
	a, ok := f[symbol]
	return a, ok
}

type fakeGate struct{ blocked map[string]error }

func (g fakeGate) Gate(_ context.Context, symbol string) error { return g.blocked[symbol] }

type failingFunds struct {
	funds.Transferer
	failAsset string
}

func (f failingFunds) Transfer(ctx context.Context, from, to, asset string, amount decimal.Decimal) error {
	if asset == f.failAsset {
		return apperr.ErrInsufficientFunds
	}
	return f.Transferer.Transfer(ctx, from, to, asset, amount)
}

type fixture struct {
	mgr     *Manager
	prices  *fakePrices
	vault   *vault.Vault
	ledger  *ledger.Ledger
	book    *funds.Book
	journal *audit.Memory
	gate    fakeGate
	maker   *order.Signer
	now     time.Time
}

func newFixture(t *testing.T, feeBps int64) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		prices:  &fakePrices{prices: make(map[string]oracle.PriceData)},
		ledger:  ledger.New(),
		book:    funds.NewBook(),
		journal: audit.NewMemory(0),
		gate:    fakeGate{blocked: make(map[string]error)},
		now:     start,
	}
	f.vault = vault.New(access.NewPolicy(), f.journal, zap.NewNop())
	for _, tc := range []vault.TokenConfig{
		{Symbol: "ETH", Accepted: true, CollateralFactorBps: 8000, LiquidationThresholdBps: 8500},
		{Symbol: "USDC", Accepted: true, CollateralFactorBps: 9500, LiquidationThresholdBps: 9700, Stable: true},
	} {
		if err := f.vault.SetTokenConfig(ctx, access.System, tc); err != nil {
			t.Fatal(err)
		}
	}

	var err error
	if f.maker, err = order.GenerateSigner(domain); err != nil {
		t.Fatal(err)
	}
	_ = f.book.Credit(f.maker.Account(), "ETH", d("10"))
	_ = f.book.Credit(f.maker.Account(), "USDC", d("100000"))
	_ = f.book.Credit(taker.ID, "USDC", d("1000"))

	f.prices.set("ETH", "3500")
	f.prices.set("BTC", "41000")

	f.mgr = New(Options{
		Config: Config{CollateralRatio: 150, ProtocolFeeBps: feeBps, FeeRecipient: "protocol", Volatility: 0.6, RiskFreeRate: 0.05, OracleRef: "oracle"},
		Prices: f.prices,
		Assets: fakeAssets{
			"ETH": {Symbol: "ETH", Class: market.Crypto, Active: true},
			"BTC": {Symbol: "BTC", Class: market.Crypto, Active: true},
		},
		Vault:    f.vault,
		Ledger:   f.ledger,
		Funds:    f.book,
		Verifier: order.NewVerifier(domain),
		Gate:     f.gate,
		Journal:  f.journal,
		Now:      func() time.Time { return f.now },
		Logger:   zap.NewNop(),
	})
	return f
}

func spec(typ order.OptionType, underlying, strike, size string, expiry time.Time) order.OptionSpec {
	return order.OptionSpec{
		AssetType:    market.Crypto,
		Underlying:   underlying,
		Type:         typ,
		Style:        order.European,
		Strike:       d(strike),
		Expiry:       expiry,
		ContractSize: d(size),
		Oracle:       "oracle",
	}
}

func (f *fixture) order(t *testing.T, s order.OptionSpec, token, amount, premium string) (order.OptionOrder, []byte) {
	t.Helper()
	raw, err := order.EncodeSpec(s)
	if err != nil {
		t.Fatal(err)
	}
	o := order.OptionOrder{
		Maker:            f.maker.Account(),
		CollateralAsset:  token,
		CollateralAmount: d(amount),
		PremiumAsset:     "USDC",
		PremiumAmount:    d(premium),
		Salt:             s.Underlying + string(s.Type) + amount + premium,
		Expiration:       f.now.Add(time.Hour),
		Spec:             raw,
	}
	sig, err := f.maker.Sign(o)
	if err != nil {
		t.Fatal(err)
	}
	return o, sig
}

func TestRequiredCollateral(t *testing.T) {
	put := spec(order.Put, "BTC", "40000", "0.1", start)
	if got := RequiredCollateral(put, 150); !got.Equal(d("6000")) {
		t.Errorf("put collateral: expected 6000, got %s", got)
	}
	call := spec(order.Call, "ETH", "3000", "2.5", start)
	if got := RequiredCollateral(call, 150); !got.Equal(d("2.5")) {
		t.Errorf("call collateral: expected 2.5, got %s", got)
	}
}

func TestIntrinsicValue(t *testing.T) {
	tests := []struct {
		typ   order.OptionType
		price string
		want  string
	}{
		{order.Call, "3500", "500"},
		{order.Put, "3500", "0"},
		{order.Put, "2800", "200"},
		{order.Call, "3000", "0"},
	}
	for _, tt := range tests {
		got := IntrinsicValue(spec(tt.typ, "ETH", "3000", "1", start), d(tt.price))
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s at %s: expected %s, got %s", tt.typ, tt.price, tt.want, got)
		}
	}
}

func TestFillPutLocksCollateralAndPaysPremium(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	maker := f.maker.Account()
	before := f.vault.Locked(maker, "USDC")

	o, sig := f.order(t, spec(order.Put, "BTC", "40000", "0.1", start.Add(24*time.Hour)), "USDC", "6000", "200")
	opt, err := f.mgr.FillOrder(ctx, taker, o, sig)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if opt.ID != 1 || opt.Holder != taker.ID || opt.Writer != maker {
		t.Errorf("unexpected option %+v", opt)
	}

	if got := f.vault.Locked(maker, "USDC").Sub(before); !got.Equal(d("6000")) {
		t.Errorf("locked delta: expected 6000, got %s", got)
	}
	if got := f.book.BalanceOf(vault.Escrow, "USDC"); !got.Equal(d("6000")) {
		t.Errorf("escrow: expected 6000, got %s", got)
	}
	// 1% fee on 200.
	if got := f.book.BalanceOf(taker.ID, "USDC"); !got.Equal(d("800")) {
		t.Errorf("taker: expected 800, got %s", got)
	}
	if got := f.book.BalanceOf("protocol", "USDC"); !got.Equal(d("2")) {
		t.Errorf("fee: expected 2, got %s", got)
	}
	if got := f.book.BalanceOf(maker, "USDC"); !got.Equal(d("94198")) {
		t.Errorf("maker: expected 94198, got %s", got)
	}
	if len(f.journal.OfKind(audit.KindOrderFilled)) != 1 {
		t.Error("fill should be journaled")
	}

	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrOrderAlreadyFilled) {
		t.Errorf("refill: expected ErrOrderAlreadyFilled, got %v", err)
	}
}

func TestFillExpiredOrderChangesNothing(t *testing.T) {
	f := newFixture(t, 0)
	o, _ := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	o.Expiration = start.Add(-time.Second)
	sig, _ := f.maker.Sign(o)

	_, err := f.mgr.FillOrder(context.Background(), taker, o, sig)
	if !errors.Is(err, apperr.ErrOrderExpired) {
		t.Fatalf("expected ErrOrderExpired, got %v", err)
	}
	if !f.vault.TotalLocked("ETH").IsZero() {
		t.Error("no collateral may be locked")
	}
	if !f.book.BalanceOf(taker.ID, "USDC").Equal(d("1000")) {
		t.Error("no premium may be transferred")
	}
	if f.ledger.Stats().Total != 0 {
		t.Error("no option may be created")
	}
}

func TestFillRejections(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	future := start.Add(24 * time.Hour)

	o, sig := f.order(t, spec(order.Put, "BTC", "40000", "0.1", future), "USDC", "5999", "10")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrInsufficientCollateral) {
		t.Errorf("short collateral: expected ErrInsufficientCollateral, got %v", err)
	}

	o, sig = f.order(t, spec(order.Call, "DOGE", "1", "1", future), "ETH", "1", "10")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrInvalidSpecification) {
		t.Errorf("unknown underlying: expected ErrInvalidSpecification, got %v", err)
	}

	o, sig = f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(-time.Hour)), "ETH", "1", "10")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrInvalidSpecification) {
		t.Errorf("past expiry: expected ErrInvalidSpecification, got %v", err)
	}

	bad := spec(order.Call, "ETH", "3000", "1", future)
	bad.Oracle = "elsewhere"
	o, sig = f.order(t, bad, "ETH", "1", "10")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrInvalidSpecification) {
		t.Errorf("unresolved oracle: expected ErrInvalidSpecification, got %v", err)
	}

	o, sig = f.order(t, spec(order.Put, "ETH", "3000", "1", future), "ETH", "4500", "10")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrTokenNotAccepted) {
		t.Errorf("put on volatile collateral: expected ErrTokenNotAccepted, got %v", err)
	}

	o, sig = f.order(t, spec(order.Call, "ETH", "3000", "1", future), "ETH", "1", "10")
	o.PremiumAmount = d("1")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("tampered order: expected ErrSignatureInvalid, got %v", err)
	}

	o, sig = f.order(t, spec(order.Call, "ETH", "3000", "1", future), "ETH", "1", "11")
	o.Taker = "someone"
	sig, _ = f.maker.Sign(o)
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("wrong taker: expected ErrUnauthorized, got %v", err)
	}

	f.gate.blocked["ETH"] = apperr.ErrCircuitBreakerTripped
	o, sig = f.order(t, spec(order.Call, "ETH", "3000", "1", future), "ETH", "1", "12")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrCircuitBreakerTripped) {
		t.Errorf("halted asset: expected ErrCircuitBreakerTripped, got %v", err)
	}

	if !f.vault.TotalLocked("ETH").IsZero() || !f.vault.TotalLocked("USDC").IsZero() || f.ledger.Stats().Total != 0 {
		t.Error("rejected fills must not change state")
	}
}

func TestFillRollsBackWhenPremiumFails(t *testing.T) {
	f := newFixture(t, 0)
	f.mgr.funds = failingFunds{Transferer: f.book, failAsset: "USDC"}
	maker := f.maker.Account()

	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	if _, err := f.mgr.FillOrder(context.Background(), taker, o, sig); !errors.Is(err, apperr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !f.vault.Locked(maker, "ETH").IsZero() {
		t.Error("lock should be rolled back")
	}
	if !f.book.BalanceOf(maker, "ETH").Equal(d("10")) || !f.book.BalanceOf(vault.Escrow, "ETH").IsZero() {
		t.Error("collateral transfer should be rolled back")
	}
}

func TestFillCapExceeded(t *testing.T) {
	f := newFixture(t, 0)
	_ = f.vault.SetTokenConfig(context.Background(), access.System, vault.TokenConfig{
		Symbol: "USDC", Accepted: true, Stable: true, MaxExposure: d("5000"),
	})
	o, sig := f.order(t, spec(order.Put, "BTC", "40000", "0.1", start.Add(24*time.Hour)), "USDC", "6000", "10")
	if _, err := f.mgr.FillOrder(context.Background(), taker, o, sig); !errors.Is(err, apperr.ErrExposureCapExceeded) {
		t.Errorf("expected ErrExposureCapExceeded, got %v", err)
	}
}

func TestExerciseCallPaysHolderAndReturnsRemainder(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	maker := f.maker.Account()

	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	opt, err := f.mgr.FillOrder(ctx, taker, o, sig)
	if err != nil {
		t.Fatal(err)
	}
	f.prices.set("ETH", "4000")

	if _, err := f.mgr.ExerciseOption(ctx, access.Caller{ID: maker}, opt.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("writer exercise: expected ErrUnauthorized, got %v", err)
	}

	res, err := f.mgr.ExerciseOption(ctx, taker, opt.ID)
	if err != nil {
		t.Fatal(err)
	}
	// 1000 of intrinsic value is 0.25 ETH at 4000.
	if !res.Intrinsic.Equal(d("1000")) || !res.Payout.Equal(d("0.25")) || !res.Remainder.Equal(d("0.75")) {
		t.Errorf("unexpected split %+v", res)
	}
	if !f.book.BalanceOf(taker.ID, "ETH").Equal(d("0.25")) || !f.book.BalanceOf(maker, "ETH").Equal(d("9.75")) {
		t.Errorf("unexpected balances holder=%s writer=%s", f.book.BalanceOf(taker.ID, "ETH"), f.book.BalanceOf(maker, "ETH"))
	}
	if !f.vault.Locked(maker, "ETH").IsZero() || !f.book.BalanceOf(vault.Escrow, "ETH").IsZero() {
		t.Error("all collateral should be released")
	}

	if _, err := f.mgr.ExerciseOption(ctx, taker, opt.ID); !errors.Is(err, apperr.ErrAlreadyExercised) {
		t.Errorf("second exercise: expected ErrAlreadyExercised, got %v", err)
	}
	if !f.book.BalanceOf(taker.ID, "ETH").Equal(d("0.25")) {
		t.Error("second exercise must not pay again")
	}
}

func TestExerciseOutOfTheMoneyClosesWithoutPayout(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	maker := f.maker.Account()

	o, sig := f.order(t, spec(order.Put, "ETH", "3000", "1", start.Add(24*time.Hour)), "USDC", "4500", "50")
	opt, err := f.mgr.FillOrder(ctx, taker, o, sig)
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.mgr.ExerciseOption(ctx, taker, opt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Intrinsic.IsZero() || !res.Payout.IsZero() || !res.Remainder.Equal(d("4500")) {
		t.Errorf("unexpected split %+v", res)
	}
	got, _ := f.mgr.GetOption(opt.ID)
	if !got.Exercised || got.Expired {
		t.Errorf("option should be exercised only: %+v", got)
	}
	if !f.book.BalanceOf(maker, "USDC").Equal(d("100050")) {
		t.Errorf("writer should get everything back plus premium, has %s", f.book.BalanceOf(maker, "USDC"))
	}
}

func TestExerciseAtExpiryFails(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	expiry := start.Add(time.Hour)

	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", expiry), "ETH", "1", "50")
	opt, err := f.mgr.FillOrder(ctx, taker, o, sig)
	if err != nil {
		t.Fatal(err)
	}

	f.now = expiry
	if _, err := f.mgr.ExerciseOption(ctx, taker, opt.ID); !errors.Is(err, apperr.ErrOptionExpired) {
		t.Errorf("expected ErrOptionExpired, got %v", err)
	}
	got, _ := f.mgr.GetOption(opt.ID)
	if got.Closed() {
		t.Error("a failed exercise must not expire the option")
	}
}

func TestExerciseRefusesStalePrice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	opt, _ := f.mgr.FillOrder(ctx, taker, o, sig)

	f.prices.prices["ETH"] = oracle.PriceData{Symbol: "ETH", Price: d("3500"), Status: oracle.StatusStale}
	if _, err := f.mgr.ExerciseOption(ctx, taker, opt.ID); !errors.Is(err, apperr.ErrStalePriceData) {
		t.Errorf("expected ErrStalePriceData, got %v", err)
	}
}

func TestExpireOptionsIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	maker := f.maker.Account()
	expiry := start.Add(time.Hour)

	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "2", expiry), "ETH", "2", "50")
	opt, err := f.mgr.FillOrder(ctx, taker, o, sig)
	if err != nil {
		t.Fatal(err)
	}

	res := f.mgr.ExpireOptions(ctx, access.System, []uint64{opt.ID})
	if !errors.Is(res[0].Err, apperr.ErrOptionNotYetExpired) {
		t.Fatalf("early expiry: expected ErrOptionNotYetExpired, got %v", res[0].Err)
	}

	f.now = expiry
	res = f.mgr.ExpireOptions(ctx, access.System, []uint64{opt.ID, 99})
	if !res[0].Expired || res[0].Err != nil {
		t.Fatalf("expected expiry, got %+v", res[0])
	}
	if !errors.Is(res[1].Err, apperr.ErrOptionNotFound) {
		t.Errorf("unknown id: expected ErrOptionNotFound, got %v", res[1].Err)
	}
	after := f.book.BalanceOf(maker, "ETH")
	if !after.Equal(d("10")) || !f.vault.Locked(maker, "ETH").IsZero() {
		t.Errorf("writer should get all collateral back, has %s", after)
	}

	res = f.mgr.ExpireOptions(ctx, access.System, []uint64{opt.ID})
	if res[0].Expired || res[0].Err != nil {
		t.Errorf("second expiry should be a no-op, got %+v", res[0])
	}
	if !f.book.BalanceOf(maker, "ETH").Equal(after) {
		t.Error("second expiry must not move funds")
	}
	if n := len(f.journal.OfKind(audit.KindOptionExpired)); n != 1 {
		t.Errorf("expected one expiry event, got %d", n)
	}
	if _, err := f.mgr.ExerciseOption(ctx, taker, opt.ID); !errors.Is(err, apperr.ErrAlreadyExpired) {
		t.Errorf("exercise after expiry: expected ErrAlreadyExpired, got %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	for i, h := range []time.Duration{time.Hour, 3 * time.Hour} {
		o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(h)), "ETH", "1", string(rune('1'+i)))
		if _, err := f.mgr.FillOrder(ctx, taker, o, sig); err != nil {
			t.Fatal(err)
		}
	}
	f.now = start.Add(2 * time.Hour)
	res := f.mgr.ExpireDue(ctx, access.System)
	if len(res) != 1 || res[0].ID != 1 || !res[0].Expired {
		t.Errorf("expected only option 1 to expire, got %+v", res)
	}
}

func TestConcurrentExercisePaysOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	opt, _ := f.mgr.FillOrder(ctx, taker, o, sig)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.ExerciseOption(ctx, taker, opt.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Errorf("expected exactly one successful exercise, got %d", ok)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	maker := access.Caller{ID: f.maker.Account()}
	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")

	if err := f.mgr.CancelOrder(ctx, taker, o); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.mgr.CancelOrder(ctx, maker, o); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.CancelOrder(ctx, maker, o); err != nil {
		t.Errorf("repeat cancel should be a no-op, got %v", err)
	}
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); !errors.Is(err, apperr.ErrOrderCancelled) {
		t.Errorf("expected ErrOrderCancelled, got %v", err)
	}
}

func TestGetOptionPrice(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	q, err := f.mgr.GetOptionPrice(ctx, spec(order.Call, "ETH", "3000", "1", start.Add(30*24*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if !q.Premium.GreaterThanOrEqual(d("500")) {
		t.Errorf("in-the-money call must quote at least intrinsic, got %s", q.Premium)
	}

	q, err = f.mgr.GetOptionPrice(ctx, spec(order.Put, "ETH", "100", "1", start.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if !q.Premium.IsPositive() {
		t.Errorf("far out-of-the-money put must still quote > 0, got %s", q.Premium)
	}

	if _, err := f.mgr.GetOptionPrice(ctx, spec(order.Call, "DOGE", "1", "1", start.Add(time.Hour))); !errors.Is(err, apperr.ErrInvalidSpecification) {
		t.Errorf("expected ErrInvalidSpecification, got %v", err)
	}
}

func TestUserOptions(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	o, sig := f.order(t, spec(order.Call, "ETH", "3000", "1", start.Add(24*time.Hour)), "ETH", "1", "50")
	if _, err := f.mgr.FillOrder(ctx, taker, o, sig); err != nil {
		t.Fatal(err)
	}
	if ids := f.mgr.GetUserOptions(taker.ID); len(ids) != 1 {
		t.Errorf("holder should see 1 option, got %v", ids)
	}
	if ids := f.mgr.GetUserOptions(f.maker.Account()); len(ids) != 1 {
		t.Errorf("writer should see 1 option, got %v", ids)
	}
	if _, ok := f.mgr.IsFilled(o.ID(domain)); !ok {
		t.Error("order should be marked filled")
	}
}
