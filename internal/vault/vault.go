// Package vault holds writers' locked collateral and the per-token risk configuration.
package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/config"
)

// Escrow is the funds account that holds locked collateral.
const Escrow = "vault:escrow"

var bps = decimal.NewFromInt(10000)

// TokenConfig is the collateral policy of one token. A zero MaxExposure means uncapped.
type TokenConfig struct {
	Symbol                  string          `json:"symbol"`
	Accepted                bool            `json:"accepted"`
	CollateralFactorBps     int64           `json:"collateral_factor_bps"`
	LiquidationThresholdBps int64           `json:"liquidation_threshold_bps"`
	MaxExposure             decimal.Decimal `json:"max_exposure"`
	Stable                  bool            `json:"stable"`
}

// Exposure is the system-wide lock on one token.
type Exposure struct {
	Token          string          `json:"token"`
	Locked         decimal.Decimal `json:"locked"`
	Cap            decimal.Decimal `json:"cap"`
	UtilizationBps int64           `json:"utilization_bps"`
}

// AccountHealth compares a writer's locked value against its notional exposure.
type AccountHealth struct {
	Writer          string          `json:"writer"`
	Token           string          `json:"token"`
	Locked          decimal.Decimal `json:"locked"`
	LockedValue     decimal.Decimal `json:"locked_value"`
	Notional        decimal.Decimal `json:"notional"`
	HealthFactorBps int64           `json:"health_factor_bps"`
	Healthy         bool            `json:"healthy"`
}

// Vault holds locked collateral per writer and token.
type Vault struct {
	access  *access.Policy
	journal audit.Journal
	logger  *zap.Logger

	mu     sync.RWMutex
	tokens map[string]TokenConfig
	locked map[string]map[string]decimal.Decimal // token -> writer -> amount
	totals map[string]decimal.Decimal
}

// New creates an empty Vault.
func New(policy *access.Policy, journal audit.Journal, logger *zap.Logger) *Vault {
	return &Vault{
		access:  policy,
		journal: journal,
		logger:  logger,
		tokens:  make(map[string]TokenConfig),
		locked:  make(map[string]map[string]decimal.Decimal),
		totals:  make(map[string]decimal.Decimal),
	}
}

// LoadTokens applies configured token policies as the System caller.
func (v *Vault) LoadTokens(ctx context.Context, tokens []config.TokenConfig) error {
	for _, tc := range tokens {
		maxExposure := decimal.Zero
		if tc.MaxExposure != "" {
			d, err := decimal.NewFromString(tc.MaxExposure)
			if err != nil {
				return fmt.Errorf("token %s: %w", tc.Symbol, err)
			}
			maxExposure = d
		}
		err := v.SetTokenConfig(ctx, access.System, TokenConfig{
			Symbol:                  tc.Symbol,
			Accepted:                tc.Accepted,
			CollateralFactorBps:     tc.CollateralFactorBps,
			LiquidationThresholdBps: tc.LiquidationThresholdBps,
			MaxExposure:             maxExposure,
			Stable:                  tc.Stable,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetTokenConfig creates or replaces a token policy. Admin only. Existing locks are kept
// even if the new cap is below them; only new locks are refused.
func (v *Vault) SetTokenConfig(ctx context.Context, caller access.Caller, cfg TokenConfig) error {
	if err := v.access.RequireAdmin(caller); err != nil {
		return err
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("token symbol is required: %w", apperr.ErrInvalidArgument)
	}
	if cfg.CollateralFactorBps < 0 || cfg.CollateralFactorBps > 10000 ||
		cfg.LiquidationThresholdBps < 0 || cfg.LiquidationThresholdBps > 10000 {
		return fmt.Errorf("token %s: factors must be in [0, 10000] bps: %w", cfg.Symbol, apperr.ErrInvalidArgument)
	}
	if cfg.MaxExposure.IsNegative() {
		return fmt.Errorf("token %s: max exposure must not be negative: %w", cfg.Symbol, apperr.ErrInvalidArgument)
	}

	v.mu.Lock()
	v.tokens[cfg.Symbol] = cfg
	v.mu.Unlock()

	e := audit.NewEvent(audit.KindTokenConfigured, caller.ID).
		With("token", cfg.Symbol).
		With("accepted", fmt.Sprint(cfg.Accepted)).
		With("max_exposure", cfg.MaxExposure.String())
	if err := v.journal.Record(ctx, e); err != nil {
		v.logger.Warn("audit journal write failed", zap.Error(err))
	}
	return nil
}

// TokenConfig returns the configuration of a token.
func (v *Vault) TokenConfig(symbol string) (TokenConfig, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.tokens[symbol]
	return c, ok
}

// GetAcceptedTokens returns the accepted token symbols, sorted.
func (v *Vault) GetAcceptedTokens() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []string
	for s, c := range v.tokens {
		if c.Accepted {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Lock adds to a writer's locked balance, refusing locks that breach the token's cap.
func (v *Vault) Lock(writer, token string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lock amount must be positive: %w", apperr.ErrInvalidArgument)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cfg, ok := v.tokens[token]
	if !ok || !cfg.Accepted {
		return fmt.Errorf("%s: %w", token, apperr.ErrTokenNotAccepted)
	}
	total := v.totals[token].Add(amount)
	if cfg.MaxExposure.IsPositive() && total.GreaterThan(cfg.MaxExposure) {
		return fmt.Errorf("%s lock of %s would reach %s over cap %s: %w",
			token, amount, total, cfg.MaxExposure, apperr.ErrExposureCapExceeded)
	}

	byWriter, ok := v.locked[token]
	if !ok {
		byWriter = make(map[string]decimal.Decimal)
		v.locked[token] = byWriter
	}
	byWriter[writer] = byWriter[writer].Add(amount)
	v.totals[token] = total
	return nil
}

// Release reduces a writer's locked balance.
func (v *Vault) Release(writer, token string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("release amount must not be negative: %w", apperr.ErrInvalidArgument)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	have := v.locked[token][writer]
	if have.LessThan(amount) {
		return fmt.Errorf("%s has %s %s locked, release of %s: %w", writer, have, token, amount, apperr.ErrInsufficientCollateral)
	}
	if amount.IsZero() {
		return nil
	}
	v.locked[token][writer] = have.Sub(amount)
	v.totals[token] = v.totals[token].Sub(amount)
	return nil
}

// Locked returns the writer's locked amount of token.
func (v *Vault) Locked(writer, token string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked[token][writer]
}

// TotalLocked returns the locked amount of token across writers.
func (v *Vault) TotalLocked(token string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totals[token]
}

// Exposures reports every configured token, sorted by symbol.
func (v *Vault) Exposures() []Exposure {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Exposure, 0, len(v.tokens))
	for s, c := range v.tokens {
		e := Exposure{Token: s, Locked: v.totals[s], Cap: c.MaxExposure}
		if c.MaxExposure.IsPositive() {
			e.UtilizationBps = e.Locked.Mul(bps).Div(c.MaxExposure).IntPart()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// AccountHealth values the writer's locked token at price. The health factor is the
// collateral-factor-adjusted value over notional; the account is healthy while notional
// stays within the liquidation threshold of the locked value.
func (v *Vault) AccountHealth(writer, token string, price, notional decimal.Decimal) (AccountHealth, error) {
	cfg, ok := v.TokenConfig(token)
	if !ok {
		return AccountHealth{}, fmt.Errorf("%s: %w", token, apperr.ErrTokenNotAccepted)
	}

	locked := v.Locked(writer, token)
	h := AccountHealth{
		Writer:      writer,
		Token:       token,
		Locked:      locked,
		LockedValue: locked.Mul(price),
		Notional:    notional,
	}

	if !notional.IsPositive() {
		h.HealthFactorBps = -1
		h.Healthy = true
		return h, nil
	}

	adjusted := h.LockedValue.Mul(decimal.NewFromInt(cfg.CollateralFactorBps))
	h.HealthFactorBps = adjusted.Div(notional).IntPart()
	limit := h.LockedValue.Mul(decimal.NewFromInt(cfg.LiquidationThresholdBps)).Div(bps)
	h.Healthy = notional.LessThanOrEqual(limit)
	return h, nil
}
