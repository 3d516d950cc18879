package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Registry is the asset/source/token registry plus protocol policy, loaded from YAML.
type Registry struct {
	Assets    []AssetConfig   `mapstructure:"assets"`
	Tokens    []TokenConfig   `mapstructure:"tokens"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Signing   SigningConfig   `mapstructure:"signing"`
}

// AssetConfig is one asset entry of the registry.
type AssetConfig struct {
	Symbol          string         `mapstructure:"symbol"`
	Class           string         `mapstructure:"class"`
	Active          *bool          `mapstructure:"active"`
	MinSources      int            `mapstructure:"min_sources"`
	MaxDeviationBps int64          `mapstructure:"max_deviation_bps"`
	Continuous      bool           `mapstructure:"continuous"`
	Sources         []SourceConfig `mapstructure:"sources"`
}

// IsActive defaults to true when the flag is omitted.
func (a AssetConfig) IsActive() bool {
	return a.Active == nil || *a.Active
}

// SourceConfig is one price source of an asset.
type SourceConfig struct {
	Provider     string `mapstructure:"provider"`
	Ref          string `mapstructure:"ref"`
	WeightBps    int64  `mapstructure:"weight_bps"`
	StalenessSec int64  `mapstructure:"staleness_sec"`
	Decimals     int32  `mapstructure:"decimals"`
	Active       *bool  `mapstructure:"active"`
	Description  string `mapstructure:"description"`
}

// IsActive defaults to true when active is omitted.
func (s SourceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// TokenConfig is one accepted collateral token.
type TokenConfig struct {
	Symbol                  string `mapstructure:"symbol"`
	Accepted                bool   `mapstructure:"accepted"`
	CollateralFactorBps     int64  `mapstructure:"collateral_factor_bps"`
	LiquidationThresholdBps int64  `mapstructure:"liquidation_threshold_bps"`
	MaxExposure             string `mapstructure:"max_exposure"`
	Stable                  bool   `mapstructure:"stable"`
}

// FeedsConfig configures the feed providers.
type FeedsConfig struct {
	ReplayDir         string          `mapstructure:"replay_dir"`
	ReplayMode        string          `mapstructure:"replay_mode"`
	HTTPBaseURL       string          `mapstructure:"http_base_url"`
	HTTPTimeoutSec    int             `mapstructure:"http_timeout_sec"`
	HTTPRatePerSecond int             `mapstructure:"http_rate_per_second"`
	HTTPRetryCount    int             `mapstructure:"http_retry_count"`
	HTTPRetryDelayMs  int             `mapstructure:"http_retry_delay_ms"`
	Static            []StaticReading `mapstructure:"static"`
}

// StaticReading seeds the static provider at startup.
type StaticReading struct {
	Ref      string `mapstructure:"ref"`
	Price    string `mapstructure:"price"`
	Decimals int32  `mapstructure:"decimals"`
}

// OracleConfig tunes confidence scoring.
type OracleConfig struct {
	HealthyConfidenceBps    int64 `mapstructure:"healthy_confidence_bps"`
	MissingSourcePenaltyBps int64 `mapstructure:"missing_source_penalty_bps"`
	SpreadPenaltyMultiplier int64 `mapstructure:"spread_penalty_multiplier"`
}

// SyntheticConfig tunes off-hours confidence decay.
type SyntheticConfig struct {
	DecayPerHourBps int64 `mapstructure:"decay_per_hour_bps"`
	FloorBps        int64 `mapstructure:"floor_bps"`
}

// LifecycleConfig holds fill and pricing parameters.
type LifecycleConfig struct {
	CollateralRatio int64   `mapstructure:"collateral_ratio"`
	ProtocolFeeBps  int64   `mapstructure:"protocol_fee_bps"`
	FeeRecipient    string  `mapstructure:"fee_recipient"`
	Volatility      float64 `mapstructure:"volatility"`
	RiskFreeRate    float64 `mapstructure:"risk_free_rate"`
	OracleRef       string  `mapstructure:"oracle_ref"`
}

// SigningConfig is the domain orders are signed under.
type SigningConfig struct {
	Name            string `mapstructure:"name"`
	Version         string `mapstructure:"version"`
	VerifyingTarget string `mapstructure:"verifying_target"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feeds.replay_dir", "feeds")
	v.SetDefault("feeds.replay_mode", "rotation")
	v.SetDefault("feeds.http_timeout_sec", 5)
	v.SetDefault("feeds.http_rate_per_second", 10)
	v.SetDefault("feeds.http_retry_count", 2)
	v.SetDefault("feeds.http_retry_delay_ms", 200)
	v.SetDefault("oracle.healthy_confidence_bps", 7000)
	v.SetDefault("oracle.missing_source_penalty_bps", 5000)
	v.SetDefault("oracle.spread_penalty_multiplier", 2)
	v.SetDefault("synthetic.decay_per_hour_bps", 100)
	v.SetDefault("synthetic.floor_bps", 7000)
	v.SetDefault("lifecycle.collateral_ratio", 150)
	v.SetDefault("lifecycle.protocol_fee_bps", 0)
	v.SetDefault("lifecycle.fee_recipient", "protocol")
	v.SetDefault("lifecycle.volatility", 0.6)
	v.SetDefault("lifecycle.risk_free_rate", 0.05)
	v.SetDefault("lifecycle.oracle_ref", "optionvault-oracle")
	v.SetDefault("signing.name", "OptionVault")
	v.SetDefault("signing.version", "1")
	v.SetDefault("signing.verifying_target", "optionvault-local")
}

// Load reads the registry file. An empty path searches ./configs and . for registry.yaml;
// a missing file yields an empty registry with default policy.
func Load(configPath string) (*Registry, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPTIONVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("lifecycle.fee_recipient", "OPTIONVAULT_FEE_RECIPIENT")
	_ = v.BindEnv("feeds.http_base_url", "OPTIONVAULT_FEED_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("registry")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading registry: %w", err)
		}
	}

	var reg Registry
	if err := v.Unmarshal(&reg); err != nil {
		return nil, fmt.Errorf("unmarshaling registry: %w", err)
	}

	if err := ValidateRegistry(&reg); err != nil {
		return nil, err
	}

	return &reg, nil
}
