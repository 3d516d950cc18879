package oracle

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/feed"
	"github.com/dgnsrekt/optionvault/internal/market"
)

// Status of an aggregated price.
type Status string

const (
	StatusFresh    Status = "FRESH"
	StatusStale    Status = "STALE"
	StatusDegraded Status = "DEGRADED"
)

// MaxConfidenceBps is full confidence.
const MaxConfidenceBps = 10000

// Asset is a priced instrument. Assets are never deleted, only deactivated.
type Asset struct {
	Symbol          string       `json:"symbol"`
	Class           market.Class `json:"class"`
	Active          bool         `json:"active"`
	MinSources      int          `json:"min_sources"`
	MaxDeviationBps int64        `json:"max_deviation_bps"`
	Continuous      bool         `json:"continuous"`
}

// PriceSource is one redundant feed for an asset.
type PriceSource struct {
	ID          int           `json:"id"`
	Asset       string        `json:"asset"`
	Provider    string        `json:"provider"`
	Ref         string        `json:"ref"`
	WeightBps   int64         `json:"weight_bps"`
	Staleness   time.Duration `json:"staleness"`
	Decimals    int32         `json:"decimals"`
	Active      bool          `json:"active"`
	Description string        `json:"description"`
}

func (s PriceSource) feedSource() feed.Source {
	return feed.Source{
		Provider:  s.Provider,
		Ref:       s.Ref,
		Staleness: s.Staleness,
		Decimals:  s.Decimals,
		Active:    s.Active,
	}
}

// AggregatedPrice combines every valid source of an asset. Prices are normalized to 18 decimals.
type AggregatedPrice struct {
	Symbol           string          `json:"symbol"`
	WeightedPrice    decimal.Decimal `json:"weighted_price"`
	MedianPrice      decimal.Decimal `json:"median_price"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	MinPrice         decimal.Decimal `json:"min_price"`
	MaxPrice         decimal.Decimal `json:"max_price"`
	ValidSourceCount int             `json:"valid_source_count"`
	TotalWeight      int64           `json:"total_weight"`
	ConfidenceBps    int64           `json:"confidence_bps"`
	Timestamp        time.Time       `json:"timestamp"`
	Status           Status          `json:"status"`
	DeviationBps     int64           `json:"deviation_bps"`
	Deviating        bool            `json:"deviating"`
}

// PriceData is the consumer view of an asset's current price.
type PriceData struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Timestamp     time.Time       `json:"timestamp"`
	ConfidenceBps int64           `json:"confidence_bps"`
	DeviationBps  int64           `json:"deviation_bps"`
	Deviating     bool            `json:"deviating"`
	Status        Status          `json:"status"`
	Synthetic     bool            `json:"synthetic"`
	Emergency     bool            `json:"emergency"`
}

// BatchPrice is one item of a batch price read.
type BatchPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Err       error           `json:"-"`
}

// Health summarizes the oracle over all active assets.
type Health struct {
	TotalAssets      int   `json:"total_assets"`
	ActiveAssets     int   `json:"active_assets"`
	AvgConfidenceBps int64 `json:"avg_confidence_bps"`
	StaleCount       int   `json:"stale_count"`
}

// SyntheticState tracks off-hours pricing for one continuous-trading asset.
type SyntheticState struct {
	Symbol               string          `json:"symbol"`
	LastRealPrice        decimal.Decimal `json:"last_real_price"`
	LastRealTimestamp    time.Time       `json:"last_real_timestamp"`
	BaseConfidenceBps    int64           `json:"base_confidence_bps"`
	AfterHoursMultiplier decimal.Decimal `json:"after_hours_multiplier"`
	NewsImpactFactor     decimal.Decimal `json:"news_impact_factor"`
	ConfidenceDecayBps   int64           `json:"confidence_decay_bps"`
	SyntheticPrice       decimal.Decimal `json:"synthetic_price"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ConfidenceBps is the confidence after decay.
func (s SyntheticState) ConfidenceBps() int64 {
	return s.BaseConfidenceBps - s.ConfidenceDecayBps
}

// SyntheticUpdate is one item of a batch synthetic update.
type SyntheticUpdate struct {
	Symbol               string          `json:"symbol"`
	AfterHoursMultiplier decimal.Decimal `json:"after_hours_multiplier"`
	NewsImpactFactor     decimal.Decimal `json:"news_impact_factor"`
}

// SyntheticResult is the outcome of one batch synthetic update.
type SyntheticResult struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ConfidenceBps int64           `json:"confidence_bps"`
	Err           error           `json:"-"`
}

// Availability reports whether a stock can be traded right now and why.
type Availability struct {
	Symbol         string `json:"symbol"`
	Continuous     bool   `json:"continuous"`
	RealMarketOpen bool   `json:"real_market_open"`
	Tradeable      bool   `json:"tradeable"`
}

// Policy tunes confidence scoring.
type Policy struct {
	HealthyConfidenceBps    int64
	MissingSourcePenaltyBps int64
	SpreadPenaltyMultiplier int64
}

// DefaultPolicy matches the registry defaults.
func DefaultPolicy() Policy {
	return Policy{
		HealthyConfidenceBps:    7000,
		MissingSourcePenaltyBps: 5000,
		SpreadPenaltyMultiplier: 2,
	}
}

// SyntheticPolicy tunes off-hours confidence decay.
type SyntheticPolicy struct {
	DecayPerHourBps int64
	FloorBps        int64
}

// DefaultSyntheticPolicy matches the registry defaults.
func DefaultSyntheticPolicy() SyntheticPolicy {
	return SyntheticPolicy{DecayPerHourBps: 100, FloorBps: 7000}
}
