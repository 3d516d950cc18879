package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Problem is one invalid registry entry.
type Problem struct {
	Subject string
	Reason  string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	InvalidAssets  []Problem
	InvalidSources []Problem
	InvalidTokens  []Problem
	InvalidPolicy  []Problem
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidAssets) > 0 || len(e.InvalidSources) > 0 ||
		len(e.InvalidTokens) > 0 || len(e.InvalidPolicy) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("registry validation failed:\n")

	writeSection(&sb, "Invalid assets", e.InvalidAssets)
	if len(e.InvalidAssets) > 0 {
		sb.WriteString(fmt.Sprintf("\nValid classes: %s\n", sortedKeys(ValidClasses)))
	}
	writeSection(&sb, "Invalid sources", e.InvalidSources)
	if len(e.InvalidSources) > 0 {
		sb.WriteString(fmt.Sprintf("\nValid providers: %s\n", sortedKeys(ValidProviders)))
	}
	writeSection(&sb, "Invalid tokens", e.InvalidTokens)
	writeSection(&sb, "Invalid policy", e.InvalidPolicy)

	return sb.String()
}

func writeSection(sb *strings.Builder, title string, problems []Problem) {
	if len(problems) == 0 {
		return
	}
	sb.WriteString("\n" + title + ":\n")
	for _, p := range problems {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", p.Subject, p.Reason))
	}
}

// ValidateRegistry checks every asset, source, token and policy value and reports all problems at once.
func ValidateRegistry(reg *Registry) error {
	errs := &ValidationErrors{}

	seen := make(map[string]bool)
	for _, a := range reg.Assets {
		validateAsset(errs, a, seen)
	}

	seenTokens := make(map[string]bool)
	for _, t := range reg.Tokens {
		validateToken(errs, t, seenTokens)
	}

	validatePolicy(errs, reg)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateAsset(errs *ValidationErrors, a AssetConfig, seen map[string]bool) {
	if a.Symbol == "" {
		errs.InvalidAssets = append(errs.InvalidAssets, Problem{"(unnamed)", "symbol is required"})
		return
	}
	if seen[a.Symbol] {
		errs.InvalidAssets = append(errs.InvalidAssets, Problem{a.Symbol, "duplicate symbol"})
	}
	seen[a.Symbol] = true

	if !ValidClasses[a.Class] {
		errs.InvalidAssets = append(errs.InvalidAssets, Problem{a.Symbol, fmt.Sprintf("unknown class %q", a.Class)})
	}
	if a.MinSources < 1 {
		errs.InvalidAssets = append(errs.InvalidAssets, Problem{a.Symbol, "min_sources must be >= 1"})
	}
	if a.MaxDeviationBps <= 0 || a.MaxDeviationBps > MaxBps {
		errs.InvalidAssets = append(errs.InvalidAssets, Problem{a.Symbol, "max_deviation_bps must be in (0, 10000]"})
	}

	for i, s := range a.Sources {
		subject := fmt.Sprintf("%s[%d]", a.Symbol, i)
		if !ValidProviders[s.Provider] {
			errs.InvalidSources = append(errs.InvalidSources, Problem{subject, fmt.Sprintf("unknown provider %q", s.Provider)})
		}
		if s.Ref == "" {
			errs.InvalidSources = append(errs.InvalidSources, Problem{subject, "ref is required"})
		}
		if s.WeightBps <= 0 || s.WeightBps > MaxBps {
			errs.InvalidSources = append(errs.InvalidSources, Problem{subject, "weight_bps must be in (0, 10000]"})
		}
		if s.StalenessSec <= 0 {
			errs.InvalidSources = append(errs.InvalidSources, Problem{subject, "staleness_sec must be > 0"})
		}
		if s.Decimals < 0 || s.Decimals > 36 {
			errs.InvalidSources = append(errs.InvalidSources, Problem{subject, "decimals must be in [0, 36]"})
		}
	}
}

func validateToken(errs *ValidationErrors, t TokenConfig, seen map[string]bool) {
	if t.Symbol == "" {
		errs.InvalidTokens = append(errs.InvalidTokens, Problem{"(unnamed)", "symbol is required"})
		return
	}
	if seen[t.Symbol] {
		errs.InvalidTokens = append(errs.InvalidTokens, Problem{t.Symbol, "duplicate symbol"})
	}
	seen[t.Symbol] = true

	if t.CollateralFactorBps < 0 || t.CollateralFactorBps > MaxBps {
		errs.InvalidTokens = append(errs.InvalidTokens, Problem{t.Symbol, "collateral_factor_bps must be in [0, 10000]"})
	}
	if t.LiquidationThresholdBps < 0 || t.LiquidationThresholdBps > MaxBps {
		errs.InvalidTokens = append(errs.InvalidTokens, Problem{t.Symbol, "liquidation_threshold_bps must be in [0, 10000]"})
	}
	if t.MaxExposure != "" {
		d, err := decimal.NewFromString(t.MaxExposure)
		if err != nil || d.IsNegative() {
			errs.InvalidTokens = append(errs.InvalidTokens, Problem{t.Symbol, fmt.Sprintf("max_exposure %q is not a non-negative number", t.MaxExposure)})
		}
	}
}

func validatePolicy(errs *ValidationErrors, reg *Registry) {
	if !ValidReplayModes[reg.Feeds.ReplayMode] {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"feeds.replay_mode", "must be 'exhaust' or 'rotation'"})
	}
	if reg.Oracle.HealthyConfidenceBps < 0 || reg.Oracle.HealthyConfidenceBps > MaxBps {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"oracle.healthy_confidence_bps", "must be in [0, 10000]"})
	}
	if reg.Synthetic.FloorBps < 0 || reg.Synthetic.FloorBps > MaxBps {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"synthetic.floor_bps", "must be in [0, 10000]"})
	}
	if reg.Synthetic.DecayPerHourBps < 0 {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"synthetic.decay_per_hour_bps", "must be >= 0"})
	}
	if reg.Lifecycle.CollateralRatio < 100 {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"lifecycle.collateral_ratio", "must be >= 100"})
	}
	if reg.Lifecycle.ProtocolFeeBps < 0 || reg.Lifecycle.ProtocolFeeBps > MaxBps {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"lifecycle.protocol_fee_bps", "must be in [0, 10000]"})
	}
	if reg.Lifecycle.Volatility <= 0 {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"lifecycle.volatility", "must be > 0"})
	}
	if reg.Signing.Name == "" || reg.Signing.Version == "" || reg.Signing.VerifyingTarget == "" {
		errs.InvalidPolicy = append(errs.InvalidPolicy, Problem{"signing", "name, version and verifying_target are required"})
	}
}

func sortedKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
