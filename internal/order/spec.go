// Package order defines signed option orders and the option spec they carry.
package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/optionvault/internal/apperr"
	"github.com/dgnsrekt/optionvault/internal/market"
)

// OptionType is CALL or PUT.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Style is carried on every spec but not enforced: holders may exercise before expiry.
type Style string

const (
	European Style = "EUROPEAN"
	American Style = "AMERICAN"
)

var validTypes = map[OptionType]bool{Call: true, Put: true}

var validStyles = map[Style]bool{European: true, American: true}

// OptionSpec is the decoded, structurally valid option terms.
type OptionSpec struct {
	AssetType    market.Class    `json:"asset_type"`
	Underlying   string          `json:"underlying"`
	Type         OptionType      `json:"option_type"`
	Style        Style           `json:"style"`
	Strike       decimal.Decimal `json:"strike"`
	Expiry       time.Time       `json:"expiry"`
	ContractSize decimal.Decimal `json:"contract_size"`
	Oracle       string          `json:"oracle"`
}

// wireSpec is the canonical encoding. Field order is fixed by the struct.
type wireSpec struct {
	AssetType    string `json:"asset_type"`
	Underlying   string `json:"underlying"`
	OptionType   string `json:"option_type"`
	Style        string `json:"style"`
	Strike       string `json:"strike"`
	Expiry       int64  `json:"expiry"`
	ContractSize string `json:"contract_size"`
	Oracle       string `json:"oracle"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrInvalidSpecification)
}

// Validate checks the terms that do not depend on system state.
func (s OptionSpec) Validate() error {
	if _, ok := market.ParseClass(string(s.AssetType)); !ok {
		return invalid("asset type %q", s.AssetType)
	}
	if strings.TrimSpace(s.Underlying) == "" {
		return invalid("underlying is required")
	}
	if !validTypes[s.Type] {
		return invalid("option type %q", s.Type)
	}
	if !validStyles[s.Style] {
		return invalid("style %q", s.Style)
	}
	if !s.Strike.IsPositive() {
		return invalid("strike must be positive")
	}
	if !s.ContractSize.IsPositive() {
		return invalid("contract size must be positive")
	}
	if s.Expiry.Unix() <= 0 {
		return invalid("expiry is required")
	}
	if strings.TrimSpace(s.Oracle) == "" {
		return invalid("oracle reference is required")
	}
	return nil
}

// EncodeSpec produces the canonical JSON form embedded in orders.
func EncodeSpec(s OptionSpec) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(wireSpec{
		AssetType:    string(s.AssetType),
		Underlying:   s.Underlying,
		OptionType:   string(s.Type),
		Style:        string(s.Style),
		Strike:       s.Strike.String(),
		Expiry:       s.Expiry.Unix(),
		ContractSize: s.ContractSize.String(),
		Oracle:       s.Oracle,
	})
}

// DecodeSpec parses and validates an encoded spec. Unknown fields are rejected.
func DecodeSpec(raw []byte) (OptionSpec, error) {
	var w wireSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return OptionSpec{}, invalid("decode: %v", err)
	}

	strike, err := decimal.NewFromString(w.Strike)
	if err != nil {
		return OptionSpec{}, invalid("strike %q", w.Strike)
	}
	size, err := decimal.NewFromString(w.ContractSize)
	if err != nil {
		return OptionSpec{}, invalid("contract size %q", w.ContractSize)
	}

	s := OptionSpec{
		AssetType:    market.Class(strings.ToUpper(w.AssetType)),
		Underlying:   w.Underlying,
		Type:         OptionType(strings.ToUpper(w.OptionType)),
		Style:        Style(strings.ToUpper(w.Style)),
		Strike:       strike,
		Expiry:       time.Unix(w.Expiry, 0).UTC(),
		ContractSize: size,
		Oracle:       w.Oracle,
	}
	if err := s.Validate(); err != nil {
		return OptionSpec{}, err
	}
	return s, nil
}
