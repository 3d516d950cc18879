package lifecycle

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/order"
)

const yearSeconds = 365 * 24 * 60 * 60

// minPremium keeps every quote strictly positive.
var minPremium = decimal.New(1, -8)

// Quote is an indicative premium for a spec at the current oracle price.
type Quote struct {
	Underlying      string          `json:"underlying"`
	UnderlyingPrice decimal.Decimal `json:"underlying_price"`
	Premium         decimal.Decimal `json:"premium"`
	Intrinsic       decimal.Decimal `json:"intrinsic"`
	Volatility      float64         `json:"volatility"`
	YearsToExpiry   float64         `json:"years_to_expiry"`
	ConfidenceBps   int64           `json:"confidence_bps"`
}

// RequiredCollateral is the amount a writer must lock: the contract size of the
// underlying for a CALL, strike x size x ratio / 100 of a stable token for a PUT.
func RequiredCollateral(spec order.OptionSpec, collateralRatio int64) decimal.Decimal {
	if spec.Type == order.Call {
		return spec.ContractSize
	}
	return spec.Strike.Mul(spec.ContractSize).
		Mul(decimal.NewFromInt(collateralRatio)).
		Div(decimal.NewFromInt(100))
}

// IntrinsicValue is the in-the-money payoff at price, never negative.
func IntrinsicValue(spec order.OptionSpec, price decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if spec.Type == order.Call {
		diff = price.Sub(spec.Strike)
	} else {
		diff = spec.Strike.Sub(price)
	}
	if !diff.IsPositive() {
		return decimal.Zero
	}
	return diff.Mul(spec.ContractSize)
}

func yearsUntil(now, expiry time.Time) float64 {
	return expiry.Sub(now).Seconds() / yearSeconds
}

// blackScholes prices one unit of the underlying.
func blackScholes(typ order.OptionType, s, k, t, r, v float64) float64 {
	if t <= 0 || v <= 0 || s <= 0 || k <= 0 {
		return 0
	}
	d1 := (math.Log(s/k) + (r+0.5*v*v)*t) / (v * math.Sqrt(t))
	d2 := d1 - v*math.Sqrt(t)
	if typ == order.Call {
		return s*normCdf(d1) - k*math.Exp(-r*t)*normCdf(d2)
	}
	return k*math.Exp(-r*t)*normCdf(-d2) - s*normCdf(-d1)
}

func normCdf(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// premium floors the model value at intrinsic value and at minPremium.
func premium(spec order.OptionSpec, price decimal.Decimal, now time.Time, vol, rate float64) (decimal.Decimal, float64) {
	t := yearsUntil(now, spec.Expiry)
	unit := blackScholes(spec.Type, price.InexactFloat64(), spec.Strike.InexactFloat64(), t, rate, vol)

	value := decimal.Zero
	if !math.IsNaN(unit) && !math.IsInf(unit, 0) && unit > 0 {
		value = decimal.NewFromFloat(unit).Mul(spec.ContractSize)
	}
	value = decimal.Max(value, IntrinsicValue(spec, price), minPremium)
	return value.Truncate(18), t
}
