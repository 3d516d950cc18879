// Package lifecycle fills signed option orders and settles the resulting positions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/config"
	"github.com/dgnsrekt/optionvault/internal/funds"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/vault"
)

// PriceReader serves the latest committed price of an asset.
type PriceReader interface {
	GetPriceData(ctx context.Context, symbol string) (oracle.PriceData, error)
}

// AssetLookup resolves registered assets.
type AssetLookup interface {
	Asset(symbol string) (oracle.Asset, bool)
}

// Gate decides whether an asset may be traded right now.
type Gate interface {
	Gate(ctx context.Context, symbol string) error
}

// Observer receives outcome counts.
type Observer interface {
	Filled(asset string)
	Exercised(asset string)
	Expired(asset string)
	Rejected(op, code string)
}

type openGate struct{}

func (openGate) Gate(context.Context, string) error { return nil }

type noopObserver struct{}

func (noopObserver) Filled(string)           {}
func (noopObserver) Exercised(string)        {}
func (noopObserver) Expired(string)          {}
func (noopObserver) Rejected(string, string) {}

// Config holds the fill and pricing parameters.
type Config struct {
	CollateralRatio int64
	ProtocolFeeBps  int64
	FeeRecipient    string
	Volatility      float64
	RiskFreeRate    float64
	OracleRef       string
}

// ConfigFrom converts the registry lifecycle section.
func ConfigFrom(c config.LifecycleConfig) Config {
	return Config{
		CollateralRatio: c.CollateralRatio,
		ProtocolFeeBps:  c.ProtocolFeeBps,
		FeeRecipient:    c.FeeRecipient,
		Volatility:      c.Volatility,
		RiskFreeRate:    c.RiskFreeRate,
		OracleRef:       c.OracleRef,
	}
}

// Options wires a Manager to its collaborators.
type Options struct {
	Config   Config
	Prices   PriceReader
	Assets   AssetLookup
	Vault    *vault.Vault
	Ledger   *ledger.Ledger
	Funds    funds.Transferer
	Verifier *order.Verifier
	Gate     Gate
	Journal  audit.Journal
	Observer Observer
	Now      func() time.Time
	Logger   *zap.Logger
}

// ExerciseResult reports how an exercise split the locked collateral.
type ExerciseResult struct {
	Option    ledger.Option   `json:"option"`
	Price     decimal.Decimal `json:"price"`
	Intrinsic decimal.Decimal `json:"intrinsic"`
	Payout    decimal.Decimal `json:"payout"`
	Remainder decimal.Decimal `json:"remainder"`
}

// ExpireResult is the per-id outcome of ExpireOptions. Expired is false for no-ops.
type ExpireResult struct {
	ID      uint64 `json:"id"`
	Expired bool   `json:"expired"`
	Err     error  `json:"-"`
}

// Manager serializes every position mutation behind one lock.
type Manager struct {
	cfg      Config
	prices   PriceReader
	assets   AssetLookup
	vault    *vault.Vault
	ledger   *ledger.Ledger
	funds    funds.Transferer
	verifier *order.Verifier
	gate     Gate
	journal  audit.Journal
	observer Observer
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	filled    map[string]uint64
	cancelled map[string]bool
}

// New creates a new Manager.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		prices:    opts.Prices,
		assets:    opts.Assets,
		vault:     opts.Vault,
		ledger:    opts.Ledger,
		funds:     opts.Funds,
		verifier:  opts.Verifier,
		gate:      opts.Gate,
		journal:   opts.Journal,
		observer:  opts.Observer,
		now:       opts.Now,
		logger:    opts.Logger,
		filled:    make(map[string]uint64),
		cancelled: make(map[string]bool),
	}
	if m.cfg.CollateralRatio == 0 {
		m.cfg.CollateralRatio = 150
	}
	if m.cfg.OracleRef == "" {
		m.cfg.OracleRef = "optionvault-oracle"
	}
	if m.gate == nil {
		m.gate = openGate{}
	}
	if m.journal == nil {
		m.journal = audit.Discard{}
	}
	if m.observer == nil {
		m.observer = noopObserver{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// RequiredCollateral is the amount a writer locks for spec.
func (m *Manager) RequiredCollateral(spec order.OptionSpec) decimal.Decimal {
	return RequiredCollateral(spec, m.cfg.CollateralRatio)
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	if err := m.journal.Record(ctx, e); err != nil {
		m.logger.Warn("audit journal write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (m *Manager) reject(op string, err error) error {
	m.observer.Rejected(op, apperr.CodeOf(err))
	m.logger.Info("operation rejected", zap.String("op", op), zap.String("code", apperr.CodeOf(err)), zap.Error(err))
	return err
}

// validateSpec checks the spec against registered assets and the clock.
func (m *Manager) validateSpec(spec order.OptionSpec) error {
	a, ok := m.assets.Asset(spec.Underlying)
	if !ok || !a.Active {
		return fmt.Errorf("underlying %s is not an active asset: %w", spec.Underlying, apperr.ErrInvalidSpecification)
	}
	if a.Class != spec.AssetType {
		return fmt.Errorf("underlying %s is %s, spec says %s: %w", spec.Underlying, a.Class, spec.AssetType, apperr.ErrInvalidSpecification)
	}
	if !spec.Expiry.After(m.now()) {
		return fmt.Errorf("expiry %s is not in the future: %w", spec.Expiry.Format(time.RFC3339), apperr.ErrInvalidSpecification)
	}
	if spec.Oracle != m.cfg.OracleRef {
		return fmt.Errorf("oracle %q does not resolve: %w", spec.Oracle, apperr.ErrInvalidSpecification)
	}
	return nil
}

// checkCollateralToken enforces the underlying for CALLs and a stable token for PUTs.
func (m *Manager) checkCollateralToken(spec order.OptionSpec, token string) error {
	tc, ok := m.vault.TokenConfig(token)
	if !ok || !tc.Accepted {
		return fmt.Errorf("%s: %w", token, apperr.ErrTokenNotAccepted)
	}
	if spec.Type == order.Call && token != spec.Underlying {
		return fmt.Errorf("call collateral must be %s, got %s: %w", spec.Underlying, token, apperr.ErrInvalidSpecification)
	}
	if spec.Type == order.Put && !tc.Stable {
		return fmt.Errorf("put collateral must be a stable token, got %s: %w", token, apperr.ErrTokenNotAccepted)
	}
	return nil
}

// FillOrder validates a signed order and, only if every check passes, locks the
// maker's collateral, pays the premium and opens a position for the caller.
func (m *Manager) FillOrder(ctx context.Context, caller access.Caller, ord order.OptionOrder, sig []byte) (ledger.Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opt, err := m.fill(ctx, caller, ord, sig)
	if err != nil {
		return ledger.Option{}, m.reject("fill", err)
	}
	return opt, nil
}

func (m *Manager) fill(ctx context.Context, caller access.Caller, ord order.OptionOrder, sig []byte) (ledger.Option, error) {
	if err := m.verifier.Verify(ord, sig); err != nil {
		return ledger.Option{}, err
	}
	now := m.now()
	if now.After(ord.Expiration) {
		return ledger.Option{}, fmt.Errorf("order expired at %s: %w", ord.Expiration.Format(time.RFC3339), apperr.ErrOrderExpired)
	}
	orderID := ord.ID(m.verifier.Domain())
	if id, ok := m.filled[orderID]; ok {
		return ledger.Option{}, fmt.Errorf("order filled as option %d: %w", id, apperr.ErrOrderAlreadyFilled)
	}
	if m.cancelled[orderID] {
		return ledger.Option{}, apperr.ErrOrderCancelled
	}
	if caller.ID == "" || (ord.Taker != "" && caller.ID != ord.Taker) {
		return ledger.Option{}, fmt.Errorf("%s may not take this order: %w", caller, apperr.ErrUnauthorized)
	}
	if caller.ID == ord.Maker {
		return ledger.Option{}, fmt.Errorf("maker cannot take its own order: %w", apperr.ErrInvalidArgument)
	}

	spec, err := order.DecodeSpec(ord.Spec)
	if err != nil {
		return ledger.Option{}, err
	}
	if err := m.validateSpec(spec); err != nil {
		return ledger.Option{}, err
	}
	if err := m.checkCollateralToken(spec, ord.CollateralAsset); err != nil {
		return ledger.Option{}, err
	}
	required := m.RequiredCollateral(spec)
	if ord.CollateralAmount.LessThan(required) {
		return ledger.Option{}, fmt.Errorf("declared %s %s, required %s: %w",
			ord.CollateralAmount, ord.CollateralAsset, required, apperr.ErrInsufficientCollateral)
	}
	if ord.PremiumAmount.IsNegative() {
		return ledger.Option{}, fmt.Errorf("premium must not be negative: %w", apperr.ErrInvalidArgument)
	}
	if err := m.gate.Gate(ctx, spec.Underlying); err != nil {
		return ledger.Option{}, err
	}

	fee := ord.PremiumAmount.Mul(decimal.NewFromInt(m.cfg.ProtocolFeeBps)).Div(decimal.NewFromInt(10000)).Truncate(18)
	net := ord.PremiumAmount.Sub(fee)

	tx := m.begin(ctx)
	if err := m.vault.Lock(ord.Maker, ord.CollateralAsset, required); err != nil {
		return ledger.Option{}, err
	}
	tx.onRollback(func() error { return m.vault.Release(ord.Maker, ord.CollateralAsset, required) })

	steps := []transfer{
		{ord.Maker, vault.Escrow, ord.CollateralAsset, required},
		{caller.ID, ord.Maker, ord.PremiumAsset, net},
		{caller.ID, m.cfg.FeeRecipient, ord.PremiumAsset, fee},
	}
	for _, s := range steps {
		if err := tx.transfer(s); err != nil {
			tx.rollback()
			return ledger.Option{}, err
		}
	}

	opt := m.ledger.Create(ledger.Option{
		Holder:           caller.ID,
		Writer:           ord.Maker,
		Spec:             spec,
		OrderID:          orderID,
		CollateralToken:  ord.CollateralAsset,
		LockedCollateral: required,
		PremiumToken:     ord.PremiumAsset,
		Premium:          ord.PremiumAmount,
		CreatedAt:        now,
	})
	m.filled[orderID] = opt.ID

	m.record(ctx, audit.NewEvent(audit.KindOrderFilled, caller.ID).
		WithAsset(spec.Underlying).
		WithOption(opt.ID).
		With("order_id", orderID).
		With("writer", ord.Maker).
		With("collateral", required.String()+" "+ord.CollateralAsset).
		With("premium", ord.PremiumAmount.String()+" "+ord.PremiumAsset))
	m.observer.Filled(spec.Underlying)
	m.logger.Info("order filled",
		zap.Uint64("option", opt.ID),
		zap.String("underlying", spec.Underlying),
		zap.String("type", string(spec.Type)),
		zap.String("holder", caller.ID),
		zap.String("writer", ord.Maker),
		zap.String("locked", required.String()))
	return opt, nil
}

// CancelOrder lets the maker withdraw an unfilled order. Repeat cancels are no-ops.
func (m *Manager) CancelOrder(ctx context.Context, caller access.Caller, ord order.OptionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller.ID != ord.Maker {
		return m.reject("cancel", fmt.Errorf("only the maker may cancel: %w", apperr.ErrUnauthorized))
	}
	orderID := ord.ID(m.verifier.Domain())
	if _, ok := m.filled[orderID]; ok {
		return m.reject("cancel", apperr.ErrOrderAlreadyFilled)
	}
	if m.cancelled[orderID] {
		return nil
	}
	m.cancelled[orderID] = true
	m.record(ctx, audit.NewEvent(audit.KindOrderCancelled, caller.ID).With("order_id", orderID))
	return nil
}

// currentPrice reads the underlying price and refuses stale data.
func (m *Manager) currentPrice(ctx context.Context, symbol string) (oracle.PriceData, error) {
	pd, err := m.prices.GetPriceData(ctx, symbol)
	if err != nil {
		return oracle.PriceData{}, err
	}
	if pd.Status == oracle.StatusStale || !pd.Price.IsPositive() {
		return oracle.PriceData{}, fmt.Errorf("%s price is stale: %w", symbol, apperr.ErrStalePriceData)
	}
	return pd, nil
}

// tokenPrice values one unit of collateral in quote terms. Stable tokens are 1.
func (m *Manager) tokenPrice(ctx context.Context, token string, underlying oracle.PriceData) (decimal.Decimal, error) {
	if tc, ok := m.vault.TokenConfig(token); ok && tc.Stable {
		return decimal.NewFromInt(1), nil
	}
	if token == underlying.Symbol {
		return underlying.Price, nil
	}
	pd, err := m.currentPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return pd.Price, nil
}

// ExerciseOption settles an open position for its holder at the current price.
// An out-of-the-money exercise closes the position with no payout.
func (m *Manager) ExerciseOption(ctx context.Context, caller access.Caller, id uint64) (ExerciseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.exercise(ctx, caller, id)
	if err != nil {
		return ExerciseResult{}, m.reject("exercise", err)
	}
	return res, nil
}

func (m *Manager) exercise(ctx context.Context, caller access.Caller, id uint64) (ExerciseResult, error) {
	opt, err := m.ledger.Get(id)
	if err != nil {
		return ExerciseResult{}, err
	}
	if caller.ID != opt.Holder {
		return ExerciseResult{}, fmt.Errorf("%s is not the holder of option %d: %w", caller, id, apperr.ErrUnauthorized)
	}
	if opt.Exercised {
		return ExerciseResult{}, fmt.Errorf("option %d: %w", id, apperr.ErrAlreadyExercised)
	}
	if opt.Expired {
		return ExerciseResult{}, fmt.Errorf("option %d: %w", id, apperr.ErrAlreadyExpired)
	}
	now := m.now()
	if !now.Before(opt.Spec.Expiry) {
		return ExerciseResult{}, fmt.Errorf("option %d expired at %s: %w", id, opt.Spec.Expiry.Format(time.RFC3339), apperr.ErrOptionExpired)
	}
	if err := m.gate.Gate(ctx, opt.Spec.Underlying); err != nil {
		return ExerciseResult{}, err
	}

	pd, err := m.currentPrice(ctx, opt.Spec.Underlying)
	if err != nil {
		return ExerciseResult{}, err
	}
	intrinsic := IntrinsicValue(opt.Spec, pd.Price)

	payout := decimal.Zero
	if intrinsic.IsPositive() {
		unit, err := m.tokenPrice(ctx, opt.CollateralToken, pd)
		if err != nil {
			return ExerciseResult{}, err
		}
		payout = decimal.Min(intrinsic.DivRound(unit, 18), opt.LockedCollateral)
	}
	remainder := opt.LockedCollateral.Sub(payout)

	tx := m.begin(ctx)
	if err := m.vault.Release(opt.Writer, opt.CollateralToken, opt.LockedCollateral); err != nil {
		return ExerciseResult{}, err
	}
	tx.onRollback(func() error { return m.vault.Lock(opt.Writer, opt.CollateralToken, opt.LockedCollateral) })

	for _, s := range []transfer{
		{vault.Escrow, opt.Holder, opt.CollateralToken, payout},
		{vault.Escrow, opt.Writer, opt.CollateralToken, remainder},
	} {
		if err := tx.transfer(s); err != nil {
			tx.rollback()
			return ExerciseResult{}, err
		}
	}

	closed, err := m.ledger.MarkExercised(id, payout, now)
	if err != nil {
		tx.rollback()
		return ExerciseResult{}, err
	}

	m.record(ctx, audit.NewEvent(audit.KindOptionExercised, caller.ID).
		WithAsset(opt.Spec.Underlying).
		WithOption(id).
		With("price", pd.Price.String()).
		With("intrinsic", intrinsic.String()).
		With("payout", payout.String()+" "+opt.CollateralToken))
	m.observer.Exercised(opt.Spec.Underlying)
	m.logger.Info("option exercised",
		zap.Uint64("option", id),
		zap.String("price", pd.Price.String()),
		zap.String("payout", payout.String()),
		zap.String("remainder", remainder.String()))

	return ExerciseResult{Option: closed, Price: pd.Price, Intrinsic: intrinsic, Payout: payout, Remainder: remainder}, nil
}

// ExpireOptions releases collateral of due positions back to their writers. Each id
// is settled on its own; already-closed positions are no-ops.
func (m *Manager) ExpireOptions(ctx context.Context, caller access.Caller, ids []uint64) []ExpireResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ExpireResult, 0, len(ids))
	for _, id := range ids {
		expired, err := m.expire(ctx, caller, id)
		if err != nil {
			err = m.reject("expire", err)
		}
		out = append(out, ExpireResult{ID: id, Expired: expired, Err: err})
	}
	return out
}

func (m *Manager) expire(ctx context.Context, caller access.Caller, id uint64) (bool, error) {
	opt, err := m.ledger.Get(id)
	if err != nil {
		return false, err
	}
	if opt.Closed() {
		return false, nil
	}
	now := m.now()
	if now.Before(opt.Spec.Expiry) {
		return false, fmt.Errorf("option %d expires at %s: %w", id, opt.Spec.Expiry.Format(time.RFC3339), apperr.ErrOptionNotYetExpired)
	}

	tx := m.begin(ctx)
	if err := m.vault.Release(opt.Writer, opt.CollateralToken, opt.LockedCollateral); err != nil {
		return false, err
	}
	tx.onRollback(func() error { return m.vault.Lock(opt.Writer, opt.CollateralToken, opt.LockedCollateral) })
	if err := tx.transfer(transfer{vault.Escrow, opt.Writer, opt.CollateralToken, opt.LockedCollateral}); err != nil {
		tx.rollback()
		return false, err
	}
	if _, err := m.ledger.MarkExpired(id, now); err != nil {
		tx.rollback()
		return false, err
	}

	m.record(ctx, audit.NewEvent(audit.KindOptionExpired, caller.ID).
		WithAsset(opt.Spec.Underlying).
		WithOption(id).
		With("released", opt.LockedCollateral.String()+" "+opt.CollateralToken))
	m.observer.Expired(opt.Spec.Underlying)
	return true, nil
}

// ExpireDue expires every position due at the current time.
func (m *Manager) ExpireDue(ctx context.Context, caller access.Caller) []ExpireResult {
	return m.ExpireOptions(ctx, caller, m.ledger.DueForExpiry(m.now()))
}

// GetOptionPrice quotes a spec at the current oracle price.
func (m *Manager) GetOptionPrice(ctx context.Context, spec order.OptionSpec) (Quote, error) {
	if err := spec.Validate(); err != nil {
		return Quote{}, err
	}
	if err := m.validateSpec(spec); err != nil {
		return Quote{}, err
	}
	pd, err := m.currentPrice(ctx, spec.Underlying)
	if err != nil {
		return Quote{}, err
	}
	p, years := premium(spec, pd.Price, m.now(), m.cfg.Volatility, m.cfg.RiskFreeRate)
	return Quote{
		Underlying:      spec.Underlying,
		UnderlyingPrice: pd.Price,
		Premium:         p,
		Intrinsic:       IntrinsicValue(spec, pd.Price),
		Volatility:      m.cfg.Volatility,
		YearsToExpiry:   years,
		ConfidenceBps:   pd.ConfidenceBps,
	}, nil
}

// GetOption returns one option.
func (m *Manager) GetOption(id uint64) (ledger.Option, error) {
	return m.ledger.Get(id)
}

// GetUserOptions lists the ids an account holds or wrote.
func (m *Manager) GetUserOptions(account string) []uint64 {
	return m.ledger.ByAccount(account)
}

// IsFilled reports the option id created from an order, if any.
func (m *Manager) IsFilled(orderID string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.filled[orderID]
	return id, ok
}

type transfer struct {
	from, to, asset string
	amount          decimal.Decimal
}

// txn applies transfers and undoes them in reverse order on rollback.
type txn struct {
	ctx  context.Context
	m    *Manager
	undo []func() error
}

func (m *Manager) begin(ctx context.Context) *txn {
	return &txn{ctx: ctx, m: m}
}

func (t *txn) onRollback(fn func() error) {
	t.undo = append(t.undo, fn)
}

func (t *txn) transfer(s transfer) error {
	if !s.amount.IsPositive() {
		return nil
	}
	if err := t.m.funds.Transfer(t.ctx, s.from, s.to, s.asset, s.amount); err != nil {
		return fmt.Errorf("transfer %s %s from %s to %s: %w", s.amount, s.asset, s.from, s.to, err)
	}
	t.onRollback(func() error {
		return t.m.funds.Transfer(context.WithoutCancel(t.ctx), s.to, s.from, s.asset, s.amount)
	})
	return nil
}

func (t *txn) rollback() {
	var errs []error
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		t.m.logger.Error("rollback incomplete", zap.Error(err))
	}
}
