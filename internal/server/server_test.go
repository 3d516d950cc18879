package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/funds"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/metrics"
	"github.com/dgnsrekt/optionvault/internal/notify"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/risk"
	"github.com/dgnsrekt/optionvault/internal/vault"
)

var domain = order.Domain{Name: "OptionVault", Version: "1", VerifyingTarget: "test"}

type testEnv struct {
	srv    *httptest.Server
	static *feed.StaticProvider
	oracle *oracle.Oracle
	book   *funds.Book
	maker  *order.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	policy := access.NewPolicy("admin")
	journal := audit.NewMemory(0)

	static := feed.NewStaticProvider()
	providers := feed.NewRegistry()
	providers.Register("static", static)

	o := oracle.New(oracle.Options{
		Providers: providers,
		Hours:     market.Fixed{market.Crypto: true},
		Access:    policy,
		Journal:   journal,
		Logger:    logger,
	})
	v := vault.New(policy, journal, logger)
	l := ledger.New()
	book := funds.NewBook()
	m := metrics.New()
	rm := risk.New(o, v, l, policy, journal, &notify.NoopNotifier{}, nil, logger)
	lm := lifecycle.New(lifecycle.Options{
		Config:   lifecycle.Config{CollateralRatio: 150, ProtocolFeeBps: 30, FeeRecipient: "protocol", Volatility: 0.6, RiskFreeRate: 0.05, OracleRef: "oracle"},
		Prices:   o,
		Assets:   o.Registry(),
		Vault:    v,
		Ledger:   l,
		Funds:    book,
		Verifier: order.NewVerifier(domain),
		Gate:     rm,
		Journal:  journal,
		Observer: m,
		Logger:   logger,
	})

	s := NewServer(Deps{
		Access:    policy,
		Oracle:    o,
		Lifecycle: lm,
		Risk:      rm,
		Vault:     v,
		Ledger:    l,
		Funds:     book,
		Metrics:   m,
	}, logger)
	router, err := NewRouter(s, logger)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	maker, err := order.GenerateSigner(domain)
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{srv: httptest.NewServer(router), static: static, oracle: o, book: book, maker: maker}
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// listETH registers ETH with one static source and commits a price of 3000.
func (e *testEnv) listETH(t *testing.T) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/v1/admin/assets", "admin", map[string]any{
		"symbol": "ETH", "class": "CRYPTO",
	})
	if status != http.StatusCreated {
		t.Fatalf("add asset: %d %v", status, body)
	}
	status, body = e.do(t, http.MethodPost, "/v1/admin/assets/ETH/sources", "admin", map[string]any{
		"provider": "static", "ref": "eth-usd", "weight_bps": 10000, "staleness_sec": 3600, "decimals": 8,
	})
	if status != http.StatusCreated {
		t.Fatalf("add source: %d %v", status, body)
	}
	e.static.SetDecimal("eth-usd", decimal.RequireFromString("3000"), 8, time.Now())
	if status, body = e.do(t, http.MethodPost, "/v1/admin/assets/ETH/refresh", "admin", nil); status != http.StatusOK {
		t.Fatalf("refresh: %d %v", status, body)
	}
}

func TestServiceHealth(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/v1/health", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", status, body)
	}
	if _, ok := body["oracle"].(map[string]any); !ok {
		t.Errorf("expected oracle health, got %v", body)
	}
}

func TestPriceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.listETH(t)

	status, body := env.do(t, http.MethodGet, "/v1/prices/ETH", "", nil)
	if status != http.StatusOK {
		t.Fatalf("price data: %d %v", status, body)
	}
	if body["status"] != string(oracle.StatusFresh) {
		t.Errorf("expected FRESH, got %v", body["status"])
	}
	price, _ := decimal.NewFromString(body["price"].(string))
	if !price.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("expected 3000, got %v", body["price"])
	}

	status, body = env.do(t, http.MethodGet, "/v1/prices/eth/spot", "", nil)
	if status != http.StatusOK || body["symbol"] != "ETH" {
		t.Errorf("lowercase symbols should resolve: %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/prices/DOGE", "", nil)
	if status != http.StatusNotFound || errorCode(body) != "ASSET_NOT_FOUND" {
		t.Errorf("expected 404 ASSET_NOT_FOUND, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/prices?symbols=ETH,DOGE", "", nil)
	if status != http.StatusOK {
		t.Fatalf("batch: %d %v", status, body)
	}
	items, _ := body["prices"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 batch items, got %v", body)
	}
	if first := items[0].(map[string]any); first["error"] != nil {
		t.Errorf("ETH should succeed, got %v", first)
	}
	if second := items[1].(map[string]any); second["error"] == nil {
		t.Errorf("DOGE should carry an error, got %v", second)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/v1/admin/assets", "mallory", map[string]any{
		"symbol": "ETH", "class": "CRYPTO",
	})
	if status != http.StatusForbidden || errorCode(body) != "UNAUTHORIZED" {
		t.Errorf("expected 403 UNAUTHORIZED, got %d %v", status, body)
	}

	status, _ = env.do(t, http.MethodPost, "/v1/admin/funds/credit", "", map[string]any{
		"account": "a", "asset": "USDC", "amount": "10",
	})
	if status != http.StatusForbidden {
		t.Errorf("anonymous credit: expected 403, got %d", status)
	}
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"unknown class", http.MethodPost, "/v1/admin/assets", map[string]any{"symbol": "ETH", "class": "BOND"}},
		{"missing class", http.MethodPost, "/v1/admin/assets", map[string]any{"symbol": "ETH"}},
		{"bad symbol", http.MethodGet, "/v1/prices/ETH.USD", nil},
		{"bad option id", http.MethodGet, "/v1/options/0", nil},
		{"short signature", http.MethodPost, "/v1/orders/fill", map[string]any{"order": map[string]any{}, "signature": "ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.path, "admin", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d %v", status, body)
			}
			if errorCode(body) == "" {
				t.Errorf("expected an error body, got %v", body)
			}
		})
	}
}

func TestFillLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.listETH(t)

	for _, tc := range []map[string]any{
		{"accepted": true, "collateral_factor_bps": 8000, "liquidation_threshold_bps": 8500},
	} {
		if status, body := env.do(t, http.MethodPut, "/v1/admin/tokens/ETH", "admin", tc); status != http.StatusOK {
			t.Fatalf("token config: %d %v", status, body)
		}
	}
	for _, credit := range []map[string]any{
		{"account": env.maker.Account(), "asset": "ETH", "amount": "5"},
		{"account": "taker", "asset": "USDC", "amount": "1000"},
	} {
		if status, body := env.do(t, http.MethodPost, "/v1/admin/funds/credit", "admin", credit); status != http.StatusOK {
			t.Fatalf("credit: %d %v", status, body)
		}
	}

	spec := order.OptionSpec{
		AssetType:    market.Crypto,
		Underlying:   "ETH",
		Type:         order.Call,
		Style:        order.American,
		Strike:       decimal.NewFromInt(3200),
		Expiry:       time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second),
		ContractSize: decimal.NewFromInt(2),
		Oracle:       "oracle",
	}

	status, body := env.do(t, http.MethodPost, "/v1/options/quote", "", map[string]any{"spec": spec})
	if status != http.StatusOK {
		t.Fatalf("quote: %d %v", status, body)
	}
	if rc, _ := decimal.NewFromString(body["required_collateral"].(string)); !rc.Equal(decimal.NewFromInt(2)) {
		t.Errorf("call collateral should equal contract size, got %v", body["required_collateral"])
	}

	raw, err := order.EncodeSpec(spec)
	if err != nil {
		t.Fatal(err)
	}
	ord := order.OptionOrder{
		Maker:            env.maker.Account(),
		CollateralAsset:  "ETH",
		CollateralAmount: decimal.NewFromInt(2),
		PremiumAsset:     "USDC",
		PremiumAmount:    decimal.NewFromInt(100),
		Salt:             "1",
		Expiration:       time.Now().Add(time.Hour).Truncate(time.Second),
		Spec:             raw,
	}
	sig, err := env.maker.Sign(ord)
	if err != nil {
		t.Fatal(err)
	}
	fill := map[string]any{"order": ord, "signature": hex.EncodeToString(sig)}

	status, body = env.do(t, http.MethodPost, "/v1/orders/fill", "taker", fill)
	if status != http.StatusCreated {
		t.Fatalf("fill: %d %v", status, body)
	}
	if body["holder"] != "taker" || body["id"] != float64(1) {
		t.Errorf("unexpected option %v", body)
	}

	status, body = env.do(t, http.MethodPost, "/v1/orders/fill", "taker", fill)
	if status != http.StatusConflict || errorCode(body) != "ORDER_ALREADY_FILLED" {
		t.Errorf("expected 409 ORDER_ALREADY_FILLED, got %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/orders/"+ord.ID(domain), "", nil)
	if status != http.StatusOK || body["filled"] != true || body["option_id"] != float64(1) {
		t.Errorf("unexpected order status %d %v", status, body)
	}

	status, body = env.do(t, http.MethodGet, "/v1/accounts/taker/options", "", nil)
	if ids, _ := body["ids"].([]any); status != http.StatusOK || len(ids) != 1 {
		t.Errorf("expected one option for the taker, got %d %v", status, body)
	}

	if locked := env.book.BalanceOf(vault.Escrow, "ETH"); !locked.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected 2 ETH in escrow, got %s", locked)
	}

	status, body = env.do(t, http.MethodPost, "/v1/options/1/exercise", "mallory", nil)
	if status != http.StatusForbidden {
		t.Errorf("only the holder may exercise, got %d %v", status, body)
	}

	// Out of the money: the whole lock returns to the writer.
	status, body = env.do(t, http.MethodPost, "/v1/options/1/exercise", "taker", nil)
	if status != http.StatusOK {
		t.Fatalf("exercise: %d %v", status, body)
	}
	if payout, _ := decimal.NewFromString(body["payout"].(string)); !payout.IsZero() {
		t.Errorf("expected zero payout, got %v", body["payout"])
	}
	if bal := env.book.BalanceOf(env.maker.Account(), "ETH"); !bal.Equal(decimal.NewFromInt(5)) {
		t.Errorf("writer should get the collateral back, got %s", bal)
	}

	status, body = env.do(t, http.MethodPost, "/v1/options/1/exercise", "taker", nil)
	if status != http.StatusConflict || errorCode(body) != "ALREADY_EXERCISED" {
		t.Errorf("expected 409 ALREADY_EXERCISED, got %d %v", status, body)
	}
}

func TestHaltBlocksFills(t *testing.T) {
	env := newTestEnv(t)
	env.listETH(t)

	if status, body := env.do(t, http.MethodPost, "/v1/admin/halts/ETH", "admin", map[string]any{"reason": "maintenance"}); status != http.StatusOK {
		t.Fatalf("halt: %d %v", status, body)
	}
	status, body := env.do(t, http.MethodGet, "/v1/risk/halts", "", nil)
	if halts, _ := body["halts"].([]any); status != http.StatusOK || len(halts) != 1 {
		t.Fatalf("expected one halt, got %d %v", status, body)
	}
	status, body = env.do(t, http.MethodGet, "/v1/assets/ETH", "", nil)
	if status != http.StatusOK || body["halted"] != true {
		t.Errorf("asset should report halted, got %d %v", status, body)
	}
	if status, body = env.do(t, http.MethodDelete, "/v1/admin/halts/ETH", "admin", nil); status != http.StatusOK {
		t.Errorf("clear halt: %d %v", status, body)
	}
}

func TestEmergencyPriceOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.listETH(t)

	if status, body := env.do(t, http.MethodPut, "/v1/admin/emergency/ETH", "admin", map[string]any{"price": "2500"}); status != http.StatusOK {
		t.Fatalf("set emergency: %d %v", status, body)
	}
	_, body := env.do(t, http.MethodGet, "/v1/prices/ETH", "", nil)
	if p, _ := decimal.NewFromString(body["price"].(string)); !p.Equal(decimal.NewFromInt(2500)) || body["confidence_bps"] != float64(10000) {
		t.Errorf("override should be served at full confidence, got %v", body)
	}
	if status, _ := env.do(t, http.MethodDelete, "/v1/admin/emergency/ETH", "admin", nil); status != http.StatusOK {
		t.Errorf("clear emergency: %d", status)
	}
}

func TestMetricsAndDocs(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/metrics", "/openapi.yaml", "/docs"} {
		resp, err := http.Get(env.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestMaskQueryToken(t *testing.T) {
	got := maskQueryToken("access_token=alice:1234-5678")
	if strings.Contains(got, "1234") || !strings.Contains(got, "alice") {
		t.Errorf("token not masked: %s", got)
	}
	if maskQueryToken("") != "" {
		t.Error("empty query should stay empty")
	}
}

func TestReloadWithoutReloader(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/v1/admin/reload", "admin", nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 without a registry file, got %d %v", status, body)
	}
}

func withParam(name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestOptionIDBinding(t *testing.T) {
	tests := []struct {
		raw  string
		want uint64
		ok   bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := optionID(withParam("id", tt.raw))
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("optionID(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
			}
			continue
		}
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("optionID(%q): expected ErrInvalidArgument, got %v", tt.raw, err)
		}
	}
}

func TestSourceIDBinding(t *testing.T) {
	var id int
	if err := bindPath(withParam("sourceId", "7"), "sourceId", &id); err != nil || id != 7 {
		t.Errorf("expected 7, got %d, %v", id, err)
	}
	if err := bindPath(withParam("sourceId", "x"), "sourceId", &id); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
