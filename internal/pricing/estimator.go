package pricing

import (
	"time"

	"github.com/quantfold/optrisk/internal/models"
)

// EstimatorConfig holds the moneyness-skew and term-structure multipliers
// applied to the base volatility. The factors are heuristic, not fitted
// to a smile, so they live in configuration rather than literals.
type EstimatorConfig struct {
	BaseVol float64 `yaml:"base_vol"`

	// Moneyness skew tiers.
	DeepOTMFactor float64 `yaml:"deep_otm_factor"` // moneyness < 0.8
	OTMFactor     float64 `yaml:"otm_factor"`      // moneyness < 0.95
	ATMFactor     float64 `yaml:"atm_factor"`      // 0.95 - 1.05
	ITMFactor     float64 `yaml:"itm_factor"`      // moneyness > 1.05
	DeepITMFactor float64 `yaml:"deep_itm_factor"` // moneyness > 1.2

	// Term-structure tiers.
	UnderOneMonthFactor   float64 `yaml:"under_one_month_factor"`
	UnderThreeMonthFactor float64 `yaml:"under_three_month_factor"`
	UnderOneYearFactor    float64 `yaml:"under_one_year_factor"`
	OverOneYearFactor     float64 `yaml:"over_one_year_factor"`

	// Clamp bounds on the final estimate.
	MinVol float64 `yaml:"min_vol"`
	MaxVol float64 `yaml:"max_vol"`
}

// DefaultEstimatorConfig reflects typical equity skew shape; the deep-ITM
// factor is intentionally below the OTM factors.
var DefaultEstimatorConfig = EstimatorConfig{
	BaseVol:               0.30,
	DeepOTMFactor:         1.4,
	OTMFactor:             1.2,
	ATMFactor:             1.0,
	ITMFactor:             1.05,
	DeepITMFactor:         1.1,
	UnderOneMonthFactor:   1.2,
	UnderThreeMonthFactor: 1.1,
	UnderOneYearFactor:    1.0,
	OverOneYearFactor:     0.9,
	MinVol:                0.01,
	MaxVol:                1.5,
}

const (
	oneMonthYears   = 1.0 / 12.0
	threeMonthYears = 0.25
)

// EstimateVol produces a volatility estimate with no market price input,
// for use when price data is missing or unreliable, using the current
// clock.
func EstimateVol(pos *models.OptionPosition, spot float64, cfg EstimatorConfig) float64 {
	return EstimateVolAt(pos, spot, cfg, time.Now())
}

// EstimateVolAt applies the skew and term multipliers to the base
// volatility as of a fixed instant, clamped to the configured bounds.
// Expired contracts short-circuit to the minimum.
func EstimateVolAt(pos *models.OptionPosition, spot float64, cfg EstimatorConfig, asOf time.Time) float64 {
	t := pos.YearsToExpiry(asOf)
	if t <= expiryEpsilon {
		return cfg.MinVol
	}

	vol := cfg.BaseVol * cfg.skewFactor(pos.Moneyness(spot)) * cfg.termFactor(t)
	return clamp(vol, cfg.MinVol, cfg.MaxVol)
}

func (c EstimatorConfig) skewFactor(moneyness float64) float64 {
	switch {
	case moneyness < 0.8:
		return c.DeepOTMFactor
	case moneyness < 0.95:
		return c.OTMFactor
	case moneyness <= 1.05:
		return c.ATMFactor
	case moneyness <= 1.2:
		return c.ITMFactor
	default:
		return c.DeepITMFactor
	}
}

func (c EstimatorConfig) termFactor(years float64) float64 {
	switch {
	case years < oneMonthYears:
		return c.UnderOneMonthFactor
	case years < threeMonthYears:
		return c.UnderThreeMonthFactor
	case years <= 1.0:
		return c.UnderOneYearFactor
	default:
		return c.OverOneYearFactor
	}
}
