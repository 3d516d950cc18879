package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/funds"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/metrics"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/risk"
	"github.com/dgnsrekt/optionvault/internal/vault"
	"github.com/dgnsrekt/optionvault/internal/ws"
)

// Deps are the components the HTTP surface exposes. Events, Metrics, Hub and
// Reloader are optional.
type Deps struct {
	Access    *access.Policy
	Oracle    *oracle.Oracle
	Lifecycle *lifecycle.Manager
	Risk      *risk.Manager
	Vault     *vault.Vault
	Ledger    *ledger.Ledger
	Funds     *funds.Book
	Events    *audit.Broadcaster
	Metrics   *metrics.Metrics
	Hub       *ws.Hub
	Reloader  *Reloader
}

// Server implements the REST handlers.
type Server struct {
	Deps
	logger *zap.Logger
}

// NewServer creates a new Server.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	return &Server{Deps: deps, logger: logger}
}

func callerFrom(r *http.Request) access.Caller {
	id := strings.TrimSpace(r.Header.Get(ws.CallerHeader))
	if id == "" {
		id = "anonymous"
	}
	return access.Caller{ID: id}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, apperr.ErrInvalidArgument)
	}
	return nil
}

// bindPath binds a simple-style path parameter into dest.
func bindPath(r *http.Request, name string, dest any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return fmt.Errorf("invalid %s %q: %v: %w", name, chi.URLParam(r, name), err, apperr.ErrInvalidArgument)
	}
	return nil
}

func optionID(r *http.Request) (uint64, error) {
	var id uint64
	if err := bindPath(r, "id", &id); err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid option id 0: %w", apperr.ErrInvalidArgument)
	}
	return id, nil
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "symbol"))
}

// batchItem is one entry of a batch response; Error is set for failed items.
type batchItem struct {
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Error     *ErrorBody       `json:"error,omitempty"`
}

// --- oracle reads ---

// GetServiceHealth handles GET /v1/health.
func (s *Server) GetServiceHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"oracle":  s.Oracle.GetOracleHealth(r.Context()),
		"options": s.Ledger.Stats(),
	}
	if s.Hub != nil {
		resp["ws_clients"] = s.Hub.Clients()
	}
	if s.Reloader != nil {
		resp["registry_loaded_at"] = s.Reloader.LoadedAt()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBatchPrices handles GET /v1/prices.
func (s *Server) GetBatchPrices(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	for _, sym := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			symbols = append(symbols, strings.ToUpper(sym))
		}
	}

	items := make([]batchItem, 0, len(symbols))
	for _, bp := range s.Oracle.GetBatchPrices(r.Context(), symbols) {
		item := batchItem{Symbol: bp.Symbol}
		if bp.Err != nil {
			body := errorBody(bp.Err)
			item.Error = &body
		} else {
			price, ts := bp.Price, bp.Timestamp
			item.Price, item.Timestamp = &price, &ts
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": items})
}

// GetPriceData handles GET /v1/prices/{symbol}.
func (s *Server) GetPriceData(w http.ResponseWriter, r *http.Request) {
	pd, err := s.Oracle.GetPriceData(r.Context(), symbolParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pd)
}

// GetPrice handles GET /v1/prices/{symbol}/spot.
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	price, err := s.Oracle.GetPrice(r.Context(), symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": price})
}

// GetAggregatedPrice handles GET /v1/prices/{symbol}/aggregated.
func (s *Server) GetAggregatedPrice(w http.ResponseWriter, r *http.Request) {
	p, err := s.Oracle.GetAggregatedPrice(r.Context(), symbolParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetSyntheticPrice handles GET /v1/prices/{symbol}/synthetic.
func (s *Server) GetSyntheticPrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	price, realOpen, confidence, err := s.Oracle.GetSyntheticPrice(r.Context(), symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	open, err := s.Oracle.IsMarketOpen(symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":           symbol,
		"price":            price,
		"real_market_open": realOpen,
		"market_open":      open,
		"confidence_bps":   confidence,
	})
}

// GetOracleHealth handles GET /v1/oracle/health.
func (s *Server) GetOracleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Oracle.GetOracleHealth(r.Context()))
}

// CheckCircuitBreaker handles GET /v1/oracle/circuit-breaker.
func (s *Server) CheckCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	tripped, assets := s.Oracle.CheckCircuitBreaker(r.Context())
	if assets == nil {
		assets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tripped": tripped, "assets": assets})
}

// ListAssets handles GET /v1/assets.
func (s *Server) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"assets": s.Oracle.Registry().Assets()})
}

// GetAsset handles GET /v1/assets/{symbol}.
func (s *Server) GetAsset(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	a, ok := s.Oracle.Registry().Asset(symbol)
	if !ok {
		s.writeError(w, r, fmt.Errorf("asset %s: %w", symbol, apperr.ErrAssetNotFound))
		return
	}
	open, _ := s.Oracle.IsMarketOpen(symbol)
	resp := map[string]any{
		"asset":       a,
		"sources":     s.Oracle.Registry().Sources(symbol),
		"market_open": open,
		"halted":      s.Risk.IsHalted(symbol),
	}
	if price, ok := s.Oracle.EmergencyPrice(symbol); ok {
		resp["emergency_price"] = price
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStockAvailability handles GET /v1/stocks/availability.
func (s *Server) GetStockAvailability(w http.ResponseWriter, r *http.Request) {
	stocks := s.Oracle.GetStockAvailability()
	if stocks == nil {
		stocks = []oracle.Availability{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocks": stocks})
}

// --- vault and balances ---

// ListTokens handles GET /v1/tokens.
func (s *Server) ListTokens(w http.ResponseWriter, r *http.Request) {
	var tokens []vault.TokenConfig
	for _, sym := range s.Vault.GetAcceptedTokens() {
		if tc, ok := s.Vault.TokenConfig(sym); ok {
			tokens = append(tokens, tc)
		}
	}
	if tokens == nil {
		tokens = []vault.TokenConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// GetToken handles GET /v1/tokens/{symbol}.
func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	tc, ok := s.Vault.TokenConfig(symbol)
	if !ok {
		s.writeError(w, r, fmt.Errorf("token %s: %w", symbol, apperr.ErrTokenNotAccepted))
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// GetExposures handles GET /v1/vault/exposures.
func (s *Server) GetExposures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"exposures": s.Vault.Exposures()})
}

// GetBalances handles GET /v1/accounts/{account}/balances.
func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	locked := make(map[string]decimal.Decimal)
	for _, token := range s.Vault.GetAcceptedTokens() {
		if amt := s.Vault.Locked(account, token); !amt.IsZero() {
			locked[token] = amt
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":  account,
		"balances": s.Funds.Balances(account),
		"locked":   locked,
	})
}

// --- lifecycle ---

type fillRequest struct {
	Order     order.OptionOrder `json:"order"`
	Signature string            `json:"signature"`
}

// FillOrder handles POST /v1/orders/fill.
func (s *Server) FillOrder(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("signature is not hex: %w", apperr.ErrSignatureInvalid))
		return
	}
	opt, err := s.Lifecycle.FillOrder(r.Context(), callerFrom(r), req.Order, sig)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, opt)
}

// CancelOrder handles POST /v1/orders/cancel.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order order.OptionOrder `json:"order"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Lifecycle.CancelOrder(r.Context(), callerFrom(r), req.Order); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// GetOrderStatus handles GET /v1/orders/{orderId}.
func (s *Server) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	id, filled := s.Lifecycle.IsFilled(orderID)
	resp := map[string]any{"order_id": orderID, "filled": filled}
	if filled {
		resp["option_id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOptionPrice handles POST /v1/options/quote.
func (s *Server) GetOptionPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Spec order.OptionSpec `json:"spec"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Spec.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.Lifecycle.GetOptionPrice(r.Context(), req.Spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quote":               q,
		"required_collateral": s.Lifecycle.RequiredCollateral(req.Spec),
	})
}

// GetOption handles GET /v1/options/{id}.
func (s *Server) GetOption(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opt, err := s.Lifecycle.GetOption(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opt)
}

// GetUserOptions handles GET /v1/accounts/{account}/options.
func (s *Server) GetUserOptions(w http.ResponseWriter, r *http.Request) {
	ids := s.Lifecycle.GetUserOptions(chi.URLParam(r, "account"))
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

// ExerciseOption handles POST /v1/options/{id}/exercise.
func (s *Server) ExerciseOption(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Lifecycle.ExerciseOption(r.Context(), callerFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type expireItem struct {
	ID      uint64     `json:"id"`
	Expired bool       `json:"expired"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ExpireOptions handles POST /v1/options/expire.
func (s *Server) ExpireOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []uint64 `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	results := s.Lifecycle.ExpireOptions(r.Context(), callerFrom(r), req.IDs)
	items := make([]expireItem, 0, len(results))
	for _, res := range results {
		item := expireItem{ID: res.ID, Expired: res.Expired}
		if res.Err != nil {
			body := errorBody(res.Err)
			item.Error = &body
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// --- risk ---

// GetRiskReport handles GET /v1/risk/report.
func (s *Server) GetRiskReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Risk.Report(r.Context()))
}

// ListHalts handles GET /v1/risk/halts.
func (s *Server) ListHalts(w http.ResponseWriter, r *http.Request) {
	halts := s.Risk.Halts()
	if halts == nil {
		halts = []risk.Halt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"halts": halts})
}

// GetPositionHealth handles GET /v1/risk/positions/{id}.
func (s *Server) GetPositionHealth(w http.ResponseWriter, r *http.Request) {
	id, err := optionID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ph, err := s.Risk.PositionHealth(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ph)
}

// GetAccountHealth handles GET /v1/risk/accounts/{account}/{token}.
func (s *Server) GetAccountHealth(w http.ResponseWriter, r *http.Request) {
	ah, err := s.Risk.AccountHealth(r.Context(), chi.URLParam(r, "account"), strings.ToUpper(chi.URLParam(r, "token")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ah)
}

// --- admin ---

type assetInput struct {
	Symbol          string `json:"symbol"`
	Class           string `json:"class"`
	MinSources      int    `json:"min_sources"`
	MaxDeviationBps int64  `json:"max_deviation_bps"`
	Continuous      bool   `json:"continuous"`
}

// AddAsset handles POST /v1/admin/assets.
func (s *Server) AddAsset(w http.ResponseWriter, r *http.Request) {
	var in assetInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	class, ok := market.ParseClass(in.Class)
	if !ok {
		s.writeError(w, r, fmt.Errorf("unknown asset class %q: %w", in.Class, apperr.ErrInvalidArgument))
		return
	}
	if in.MinSources == 0 {
		in.MinSources = 1
	}
	if in.MaxDeviationBps == 0 {
		in.MaxDeviationBps = 1000
	}
	a := oracle.Asset{
		Symbol:          strings.ToUpper(in.Symbol),
		Class:           class,
		Active:          true,
		MinSources:      in.MinSources,
		MaxDeviationBps: in.MaxDeviationBps,
		Continuous:      in.Continuous,
	}
	if err := s.Oracle.AddAsset(r.Context(), callerFrom(r), a); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// DeactivateAsset handles POST /v1/admin/assets/{symbol}/deactivate.
func (s *Server) DeactivateAsset(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if err := s.Oracle.DeactivateAsset(r.Context(), callerFrom(r), symbol); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "active": false})
}

type sourceInput struct {
	Provider     string `json:"provider"`
	Ref          string `json:"ref"`
	WeightBps    int64  `json:"weight_bps"`
	StalenessSec int64  `json:"staleness_sec"`
	Decimals     int32  `json:"decimals"`
	Description  string `json:"description"`
}

// AddPriceSource handles POST /v1/admin/assets/{symbol}/sources.
func (s *Server) AddPriceSource(w http.ResponseWriter, r *http.Request) {
	var in sourceInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.Oracle.AddPriceSource(r.Context(), callerFrom(r), oracle.PriceSource{
		Asset:       symbolParam(r),
		Provider:    in.Provider,
		Ref:         in.Ref,
		WeightBps:   in.WeightBps,
		Staleness:   time.Duration(in.StalenessSec) * time.Second,
		Decimals:    in.Decimals,
		Active:      true,
		Description: in.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

type toggle struct {
	Enabled bool `json:"enabled"`
}

// SetSourceActive handles POST /v1/admin/assets/{symbol}/sources/{sourceId}/active.
func (s *Server) SetSourceActive(w http.ResponseWriter, r *http.Request) {
	var in toggle
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	var id int
	if err := bindPath(r, "sourceId", &id); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.Oracle.SetSourceActive(r.Context(), callerFrom(r), symbolParam(r), id, in.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// SetContinuousTrading handles POST /v1/admin/assets/{symbol}/continuous.
func (s *Server) SetContinuousTrading(w http.ResponseWriter, r *http.Request) {
	var in toggle
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.Oracle.SetContinuousTrading(r.Context(), callerFrom(r), symbolParam(r), in.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAssetPrice handles POST /v1/admin/assets/{symbol}/refresh.
func (s *Server) UpdateAssetPrice(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if err := s.Access.RequireAdmin(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Oracle.UpdateAssetPrice(r.Context(), symbolParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update24x7Price handles POST /v1/admin/synthetic/{symbol}.
func (s *Server) Update24x7Price(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AfterHoursMultiplier decimal.Decimal `json:"after_hours_multiplier"`
		NewsImpactFactor     decimal.Decimal `json:"news_impact_factor"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.Oracle.Update24x7Price(r.Context(), callerFrom(r), symbolParam(r), in.AfterHoursMultiplier, in.NewsImpactFactor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type syntheticItem struct {
	Symbol        string           `json:"symbol"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	ConfidenceBps int64            `json:"confidence_bps"`
	Error         *ErrorBody       `json:"error,omitempty"`
}

// BatchUpdate24x7Prices handles POST /v1/admin/synthetic.
func (s *Server) BatchUpdate24x7Prices(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Updates []oracle.SyntheticUpdate `json:"updates"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.Oracle.BatchUpdate24x7Prices(r.Context(), callerFrom(r), in.Updates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]syntheticItem, 0, len(results))
	for _, res := range results {
		item := syntheticItem{Symbol: res.Symbol, ConfidenceBps: res.ConfidenceBps}
		if res.Err != nil {
			body := errorBody(res.Err)
			item.Error = &body
		} else {
			price := res.Price
			item.Price = &price
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// SetEmergencyPrice handles PUT /v1/admin/emergency/{symbol}.
func (s *Server) SetEmergencyPrice(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	symbol := symbolParam(r)
	if err := s.Risk.SetEmergencyPrice(r.Context(), callerFrom(r), symbol, in.Price); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": in.Price})
}

// ClearEmergencyPrice handles DELETE /v1/admin/emergency/{symbol}.
func (s *Server) ClearEmergencyPrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if err := s.Risk.ClearEmergencyPrice(r.Context(), callerFrom(r), symbol); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "cleared": true})
}

// HaltAsset handles POST /v1/admin/halts/{symbol}.
func (s *Server) HaltAsset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if in.Reason == "" {
		in.Reason = "manual"
	}
	symbol := symbolParam(r)
	if err := s.Risk.Halt(r.Context(), callerFrom(r), symbol, in.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "halted": true})
}

// ClearHalt handles DELETE /v1/admin/halts/{symbol}.
func (s *Server) ClearHalt(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if err := s.Risk.ClearHalt(r.Context(), callerFrom(r), symbol); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "halted": false})
}

// SetTokenConfig handles PUT /v1/admin/tokens/{symbol}.
func (s *Server) SetTokenConfig(w http.ResponseWriter, r *http.Request) {
	var tc vault.TokenConfig
	if err := decodeBody(r, &tc); err != nil {
		s.writeError(w, r, err)
		return
	}
	tc.Symbol = symbolParam(r)
	if err := s.Vault.SetTokenConfig(r.Context(), callerFrom(r), tc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

// CreditAccount handles POST /v1/admin/funds/credit.
func (s *Server) CreditAccount(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if err := s.Access.RequireAdmin(caller); err != nil {
		s.writeError(w, r, err)
		return
	}
	var in struct {
		Account string          `json:"account"`
		Asset   string          `json:"asset"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := strings.ToUpper(in.Asset)
	if err := s.Funds.Credit(in.Account, asset, in.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("account credited",
		zap.String("caller", caller.ID),
		zap.String("account", in.Account),
		zap.String("asset", asset),
		zap.String("amount", in.Amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": in.Account,
		"asset":   asset,
		"balance": s.Funds.BalanceOf(in.Account, asset),
	})
}

// ReloadRegistry handles POST /v1/admin/reload.
func (s *Server) ReloadRegistry(w http.ResponseWriter, r *http.Request) {
	if s.Reloader == nil {
		s.writeError(w, r, fmt.Errorf("registry reload is not configured: %w", apperr.ErrInvalidArgument))
		return
	}
	res, err := s.Reloader.Reload(r.Context(), callerFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
