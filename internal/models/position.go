// Package models defines the normalized option position record and the
// parsers that produce it from raw symbol or description text.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100.0

// hoursPerYear uses the 365.25-day convention for time-to-expiry.
const hoursPerYear = 365.25 * 24

// OptionType identifies the side of an option contract.
type OptionType string

const (
	// Call is the right to buy the underlying at the strike.
	Call OptionType = "CALL"
	// Put is the right to sell the underlying at the strike.
	Put OptionType = "PUT"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	switch t {
	case Call, Put:
		return true
	default:
		return false
	}
}

// OptionPosition is the normalized representation of one option contract
// holding. It is immutable once constructed: valuation code reads it and
// returns new value bundles, it never writes back.
type OptionPosition struct {
	Underlying   string     `json:"underlying"`
	Expiration   time.Time  `json:"expiration"`
	Strike       float64    `json:"strike"`
	Type         OptionType `json:"type"`
	Quantity     int        `json:"quantity"`
	CurrentPrice float64    `json:"current_price"` // per-contract market price; 0 means unknown
	Description  string     `json:"description"`   // original source text, diagnostics only
}

// IsShort reports whether the position is written (negative quantity).
func (p *OptionPosition) IsShort() bool {
	return p.Quantity < 0
}

// NotionalValue returns strike * multiplier * |quantity|.
func (p *OptionPosition) NotionalValue() float64 {
	return p.Strike * SharesPerContract * math.Abs(float64(p.Quantity))
}

// MarketValue returns the sign-carrying market value of the holding.
func (p *OptionPosition) MarketValue() float64 {
	return p.CurrentPrice * SharesPerContract * float64(p.Quantity)
}

// YearsToExpiry returns the time to expiration in fractional years as of
// the given instant, clamped to zero for expired contracts.
func (p *OptionPosition) YearsToExpiry(asOf time.Time) float64 {
	years := p.Expiration.Sub(asOf).Hours() / hoursPerYear
	if years < 0 {
		return 0
	}
	return years
}

// CalculateDTE returns whole days to expiration, clamped to zero.
func (p *OptionPosition) CalculateDTE(asOf time.Time) int {
	now := asOf.UTC().Truncate(24 * time.Hour)
	exp := p.Expiration.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IntrinsicValue returns the exercise value of the contract at the given
// spot price; zero when out of the money.
func (p *OptionPosition) IntrinsicValue(spot float64) float64 {
	if p.Type == Call {
		return math.Max(0, spot-p.Strike)
	}
	return math.Max(0, p.Strike-spot)
}

// Moneyness returns spot/strike for calls and strike/spot for puts, so
// values above 1.0 always mean in the money.
func (p *OptionPosition) Moneyness(spot float64) float64 {
	if p.Type == Call {
		return spot / p.Strike
	}
	return p.Strike / spot
}

// Validate ensures the record satisfies its construction invariants.
// Parsed records always pass; hand-built ones may not.
func (p *OptionPosition) Validate() error {
	if strings.TrimSpace(p.Underlying) == "" {
		return fmt.Errorf("position %q: underlying must be non-empty", p.Description)
	}
	if p.Strike <= 0 {
		return fmt.Errorf("position %q: strike must be positive (current: %.2f)", p.Description, p.Strike)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("position %q: type must be CALL or PUT (current: %q)", p.Description, p.Type)
	}
	if p.Expiration.IsZero() {
		return fmt.Errorf("position %q: expiration must be set", p.Description)
	}
	if p.CurrentPrice < 0 {
		return fmt.Errorf("position %q: current price cannot be negative (current: %.2f)", p.Description, p.CurrentPrice)
	}
	return nil
}
