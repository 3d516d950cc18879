// Package risk watches oracle health and collateral exposure and decides when
// an asset must stop trading.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/notify"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/vault"
)

// PriceOracle is the part of the oracle facade risk monitoring consumes.
type PriceOracle interface {
	GetOracleHealth(ctx context.Context) oracle.Health
	CheckCircuitBreaker(ctx context.Context) (bool, []string)
	GetPriceData(ctx context.Context, symbol string) (oracle.PriceData, error)
	SetEmergencyPrice(ctx context.Context, caller access.Caller, symbol string, price decimal.Decimal) error
	ClearEmergencyPrice(ctx context.Context, caller access.Caller, symbol string) error
	HealthyConfidenceBps() int64
}

// Halt blocks fills and exercises on one asset until an administrator clears it.
type Halt struct {
	Asset  string    `json:"asset"`
	Reason string    `json:"reason"`
	By     string    `json:"by"`
	Since  time.Time `json:"since"`
}

// Report is the risk snapshot served to operators.
type Report struct {
	Oracle    oracle.Health    `json:"oracle"`
	Exposures []vault.Exposure `json:"exposures"`
	Tripped   []string         `json:"tripped"`
	Halted    []Halt           `json:"halted"`
	Positions ledger.Stats     `json:"positions"`
	Healthy   bool             `json:"healthy"`
}

// PositionHealth values one open position's collateral against its current liability.
type PositionHealth struct {
	ID              uint64          `json:"id"`
	Underlying      string          `json:"underlying"`
	Price           decimal.Decimal `json:"price"`
	Intrinsic       decimal.Decimal `json:"intrinsic"`
	CollateralValue decimal.Decimal `json:"collateral_value"`
	CoverageBps     int64           `json:"coverage_bps"`
	Healthy         bool            `json:"healthy"`
}

// Manager watches oracle health and gates trading.
type Manager struct {
	oracle   PriceOracle
	vault    *vault.Vault
	ledger   *ledger.Ledger
	access   *access.Policy
	journal  audit.Journal
	notifier notify.Notifier
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.RWMutex
	halts map[string]Halt
	acked map[string]time.Time // deviation acknowledged up to this price time
}

// New creates a new Manager.
func New(o PriceOracle, v *vault.Vault, l *ledger.Ledger, policy *access.Policy, journal audit.Journal, n notify.Notifier, now func() time.Time, logger *zap.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		oracle:   o,
		vault:    v,
		ledger:   l,
		access:   policy,
		journal:  journal,
		notifier: n,
		now:      now,
		logger:   logger,
		halts:    make(map[string]Halt),
		acked:    make(map[string]time.Time),
	}
}

func (m *Manager) record(ctx context.Context, e audit.Event) {
	if err := m.journal.Record(ctx, e); err != nil {
		m.logger.Warn("audit journal write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

// CheckCircuitBreaker passes through to the oracle.
func (m *Manager) CheckCircuitBreaker(ctx context.Context) (bool, []string) {
	return m.oracle.CheckCircuitBreaker(ctx)
}

// Halts returns active halts sorted by asset.
func (m *Manager) Halts() []Halt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Halt, 0, len(m.halts))
	for _, h := range m.halts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// IsHalted reports whether trading in asset is halted.
func (m *Manager) IsHalted(asset string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.halts[asset]
	return ok
}

// Report builds the current risk snapshot.
func (m *Manager) Report(ctx context.Context) Report {
	health := m.oracle.GetOracleHealth(ctx)
	tripped, assets := m.oracle.CheckCircuitBreaker(ctx)
	if assets == nil {
		assets = []string{}
	}
	r := Report{
		Oracle:    health,
		Exposures: m.vault.Exposures(),
		Tripped:   assets,
		Halted:    m.Halts(),
		Positions: m.ledger.Stats(),
	}
	r.Healthy = !tripped && len(r.Halted) == 0 && health.StaleCount == 0 &&
		(health.ActiveAssets == 0 || health.AvgConfidenceBps >= m.oracle.HealthyConfidenceBps())
	return r
}

// unacknowledged reports whether a deviation flag is newer than the last clearance.
func (m *Manager) unacknowledged(pd oracle.PriceData) bool {
	if !pd.Deviating {
		return false
	}
	m.mu.RLock()
	ack, ok := m.acked[pd.Symbol]
	m.mu.RUnlock()
	return !ok || pd.Timestamp.After(ack)
}

// halt records a halt if the asset is not already halted. It reports whether one was added.
func (m *Manager) halt(ctx context.Context, asset, reason, by string) bool {
	m.mu.Lock()
	if _, ok := m.halts[asset]; ok {
		m.mu.Unlock()
		return false
	}
	m.halts[asset] = Halt{Asset: asset, Reason: reason, By: by, Since: m.now()}
	m.mu.Unlock()

	m.logger.Warn("asset halted", zap.String("asset", asset), zap.String("reason", reason), zap.String("by", by))
	m.record(ctx, audit.NewEvent(audit.KindAssetHalted, by).WithAsset(asset).With("reason", reason))
	if err := m.notifier.SendHalt(ctx, asset, reason); err != nil {
		m.logger.Warn("halt notification failed", zap.String("asset", asset), zap.Error(err))
	}
	return true
}

// Sweep halts every asset whose circuit breaker tripped since its last clearance.
// It returns the newly halted assets.
func (m *Manager) Sweep(ctx context.Context) []string {
	_, assets := m.oracle.CheckCircuitBreaker(ctx)

	var added []string
	for _, symbol := range assets {
		if m.IsHalted(symbol) {
			continue
		}
		pd, err := m.oracle.GetPriceData(ctx, symbol)
		if err != nil || !m.unacknowledged(pd) {
			continue
		}
		m.record(ctx, audit.NewEvent(audit.KindCircuitBreakerTripped, access.System.ID).
			WithAsset(symbol).
			With("deviation_bps", fmt.Sprint(pd.DeviationBps)))
		if m.halt(ctx, symbol, "circuit breaker tripped", access.System.ID) {
			added = append(added, symbol)
		}
	}

	if len(added) > 0 {
		m.logger.Warn("circuit breaker tripped", zap.Strings("assets", added))
		if err := m.notifier.SendBreakerTripped(ctx, added); err != nil {
			m.logger.Warn("breaker notification failed", zap.Error(err))
		}
	}
	return added
}

// Halt stops trading on an asset. Admin only.
func (m *Manager) Halt(ctx context.Context, caller access.Caller, asset, reason string) error {
	if err := m.access.RequireAdmin(caller); err != nil {
		return err
	}
	if _, err := m.oracle.GetPriceData(ctx, asset); errors.Is(err, apperr.ErrAssetNotFound) {
		return err
	}
	if reason == "" {
		reason = "halted by administrator"
	}
	m.halt(ctx, asset, reason, caller.ID)
	return nil
}

// ClearHalt lifts a halt and acknowledges the current deviation so the same
// price does not trip the asset again. Clearing an asset that is not halted is a no-op.
func (m *Manager) ClearHalt(ctx context.Context, caller access.Caller, asset string) error {
	if err := m.access.RequireAdmin(caller); err != nil {
		return err
	}

	ack := m.now()
	if pd, err := m.oracle.GetPriceData(ctx, asset); err == nil && pd.Timestamp.After(ack) {
		ack = pd.Timestamp
	}

	m.mu.Lock()
	_, halted := m.halts[asset]
	delete(m.halts, asset)
	m.acked[asset] = ack
	m.mu.Unlock()

	if !halted {
		return nil
	}
	m.logger.Warn("halt cleared", zap.String("asset", asset), zap.String("by", caller.ID))
	m.record(ctx, audit.NewEvent(audit.KindHaltCleared, caller.ID).WithAsset(asset))
	if err := m.notifier.SendHaltCleared(ctx, asset, caller.ID); err != nil {
		m.logger.Warn("halt-cleared notification failed", zap.String("asset", asset), zap.Error(err))
	}
	return nil
}

// SetEmergencyPrice is the privileged override gate in front of the oracle.
func (m *Manager) SetEmergencyPrice(ctx context.Context, caller access.Caller, asset string, price decimal.Decimal) error {
	return m.oracle.SetEmergencyPrice(ctx, caller, asset, price)
}

// ClearEmergencyPrice removes an override. Admin only.
func (m *Manager) ClearEmergencyPrice(ctx context.Context, caller access.Caller, asset string) error {
	return m.oracle.ClearEmergencyPrice(ctx, caller, asset)
}

// Gate fails with CircuitBreakerTripped while an asset is halted or newly tripped,
// and with StalePriceData while its price is stale or below the healthy confidence.
func (m *Manager) Gate(ctx context.Context, asset string) error {
	if m.IsHalted(asset) {
		return fmt.Errorf("%s is halted: %w", asset, apperr.ErrCircuitBreakerTripped)
	}

	pd, err := m.oracle.GetPriceData(ctx, asset)
	if err != nil {
		return err
	}
	if m.unacknowledged(pd) {
		m.record(ctx, audit.NewEvent(audit.KindCircuitBreakerTripped, access.System.ID).
			WithAsset(asset).
			With("deviation_bps", fmt.Sprint(pd.DeviationBps)))
		m.halt(ctx, asset, "circuit breaker tripped", access.System.ID)
		return fmt.Errorf("%s deviated %d bps: %w", asset, pd.DeviationBps, apperr.ErrCircuitBreakerTripped)
	}
	if pd.Status == oracle.StatusStale {
		return fmt.Errorf("%s price is stale: %w", asset, apperr.ErrStalePriceData)
	}
	if pd.ConfidenceBps < m.oracle.HealthyConfidenceBps() {
		return fmt.Errorf("%s confidence %d bps is below %d: %w",
			asset, pd.ConfidenceBps, m.oracle.HealthyConfidenceBps(), apperr.ErrStalePriceData)
	}
	return nil
}

func (m *Manager) tokenPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	if tc, ok := m.vault.TokenConfig(token); ok && tc.Stable {
		return decimal.NewFromInt(1), nil
	}
	pd, err := m.oracle.GetPriceData(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return pd.Price, nil
}

// PositionHealth compares a position's locked collateral value with its intrinsic value.
func (m *Manager) PositionHealth(ctx context.Context, id uint64) (PositionHealth, error) {
	opt, err := m.ledger.Get(id)
	if err != nil {
		return PositionHealth{}, err
	}
	pd, err := m.oracle.GetPriceData(ctx, opt.Spec.Underlying)
	if err != nil {
		return PositionHealth{}, err
	}
	unit, err := m.tokenPrice(ctx, opt.CollateralToken)
	if err != nil {
		return PositionHealth{}, err
	}

	h := PositionHealth{
		ID:              id,
		Underlying:      opt.Spec.Underlying,
		Price:           pd.Price,
		Intrinsic:       lifecycle.IntrinsicValue(opt.Spec, pd.Price),
		CollateralValue: opt.LockedCollateral.Mul(unit),
		Healthy:         true,
	}
	if opt.Closed() {
		h.CollateralValue = decimal.Zero
		return h, nil
	}
	if h.Intrinsic.IsPositive() {
		h.CoverageBps = h.CollateralValue.Mul(decimal.NewFromInt(10000)).Div(h.Intrinsic).IntPart()
		h.Healthy = h.CollateralValue.GreaterThanOrEqual(h.Intrinsic)
	} else {
		h.CoverageBps = -1
	}
	return h, nil
}

// AccountHealth values a writer's locked token against the notional of its open
// positions collateralized by that token.
func (m *Manager) AccountHealth(ctx context.Context, writer, token string) (vault.AccountHealth, error) {
	unit, err := m.tokenPrice(ctx, token)
	if err != nil {
		return vault.AccountHealth{}, err
	}

	notional := decimal.Zero
	for _, opt := range m.ledger.Open() {
		if opt.Writer != writer || opt.CollateralToken != token {
			continue
		}
		if opt.Spec.Type == order.Put {
			notional = notional.Add(opt.Spec.Strike.Mul(opt.Spec.ContractSize))
			continue
		}
		pd, err := m.oracle.GetPriceData(ctx, opt.Spec.Underlying)
		if err != nil {
			return vault.AccountHealth{}, err
		}
		notional = notional.Add(pd.Price.Mul(opt.Spec.ContractSize))
	}
	return m.vault.AccountHealth(writer, token, unit, notional)
}
