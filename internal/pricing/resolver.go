package pricing

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/optrisk/internal/models"
)

// DeltaSource identifies which tier of the resolution ladder produced a
// delta, in decreasing order of fidelity.
type DeltaSource string

const (
	// SourceMarketIV means Black-Scholes with solver-calibrated volatility.
	SourceMarketIV DeltaSource = "market_iv"
	// SourceEstimated means Black-Scholes with heuristic volatility.
	SourceEstimated DeltaSource = "estimated"
	// SourceOverride means Black-Scholes with caller-supplied volatility.
	SourceOverride DeltaSource = "override"
	// SourceLinear means the simplified linear-interpolation model.
	SourceLinear DeltaSource = "linear"
)

// DeltaResult is the tagged outcome of a delta resolution, so each
// degradation tier is observable by callers and tests.
type DeltaResult struct {
	Delta  float64     `json:"delta"`
	Vol    float64     `json:"vol,omitempty"` // zero for the linear tier
	Source DeltaSource `json:"source"`
}

// ResolverConfig tunes the delta resolution ladder.
type ResolverConfig struct {
	// UseBlackScholes false drops straight to the linear model.
	UseBlackScholes bool
	RiskFreeRate    float64
	// Solver results outside [MinUsableIV, MaxUsableIV] are treated as
	// unreliable and replaced by the estimator.
	MinUsableIV float64
	MaxUsableIV float64
	Solver      SolverConfig
	Estimator   EstimatorConfig
}

// DefaultResolverConfig mirrors the engine defaults.
var DefaultResolverConfig = ResolverConfig{
	UseBlackScholes: true,
	RiskFreeRate:    0.05,
	MinUsableIV:     0.01,
	MaxUsableIV:     2.00,
	Solver:          DefaultSolverConfig,
	Estimator:       DefaultEstimatorConfig,
}

// Resolver is the single entry point for delta computation. It never
// fails: resolution degrades from market-calibrated Black-Scholes through
// heuristic volatility down to the linear model before giving up.
type Resolver struct {
	cfg    ResolverConfig
	solver *Solver
	log    logrus.FieldLogger
}

// NewResolver builds a resolver around an injected diagnostic sink.
func NewResolver(log logrus.FieldLogger, cfg ...ResolverConfig) *Resolver {
	c := DefaultResolverConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return &Resolver{
		cfg:    c,
		solver: NewSolver(log, c.Solver),
		log:    log,
	}
}

// ResolveDelta resolves the position's delta using the current clock. An
// optional ivOverride skips volatility resolution.
func (r *Resolver) ResolveDelta(pos *models.OptionPosition, spot float64, ivOverride ...float64) DeltaResult {
	return r.ResolveDeltaAt(pos, spot, time.Now(), ivOverride...)
}

// ResolveDeltaAt resolves delta as of a fixed instant.
func (r *Resolver) ResolveDeltaAt(pos *models.OptionPosition, spot float64, asOf time.Time, ivOverride ...float64) DeltaResult {
	if !r.cfg.UseBlackScholes {
		return DeltaResult{Delta: linearDelta(pos, spot), Source: SourceLinear}
	}

	if r.cfg.RiskFreeRate < 0 || r.cfg.RiskFreeRate >= 1 {
		r.log.WithField("rate", r.cfg.RiskFreeRate).Warn("risk-free rate outside [0,1), using as given")
	}

	vol, source := r.resolveVol(pos, spot, asOf, ivOverride...)

	delta, err := DeltaAt(pos, spot, r.cfg.RiskFreeRate, vol, asOf)
	if err != nil {
		// Last resort: a pricing failure must never reach the caller.
		r.log.WithFields(logrus.Fields{
			"position": pos.Description,
			"vol":      vol,
		}).WithError(err).Warn("pricing delta failed, falling back to linear model")
		return DeltaResult{Delta: linearDelta(pos, spot), Source: SourceLinear}
	}
	return DeltaResult{Delta: delta, Vol: vol, Source: source}
}

// resolveVol picks the volatility input: caller override, then market
// implied volatility, then the skew/term estimate.
func (r *Resolver) resolveVol(pos *models.OptionPosition, spot float64, asOf time.Time, ivOverride ...float64) (float64, DeltaSource) {
	if len(ivOverride) > 0 {
		iv := ivOverride[0]
		if iv < ivBracketLow || iv > ivBracketHigh {
			r.log.WithFields(logrus.Fields{
				"position": pos.Description,
				"iv":       iv,
			}).Warn("IV override outside sane range, using as given")
		}
		return iv, SourceOverride
	}

	if pos.CurrentPrice > 0 {
		iv, err := r.solver.SolveAt(pos, spot, pos.CurrentPrice, r.cfg.RiskFreeRate, asOf)
		if err != nil {
			r.log.WithField("position", pos.Description).WithError(err).
				Warn("implied volatility solve failed, falling back to estimator")
		} else if iv >= r.cfg.MinUsableIV && iv <= r.cfg.MaxUsableIV {
			return iv, SourceMarketIV
		} else {
			r.log.WithFields(logrus.Fields{
				"position": pos.Description,
				"iv":       iv,
			}).Warn("implied volatility outside usable range, falling back to estimator")
		}
	}

	return EstimateVolAt(pos, spot, r.cfg.Estimator, asOf), SourceEstimated
}

// Linear-model moneyness bands: beyond them delta clamps to the extremes,
// between them it ramps linearly.
const (
	linearDeepBand    = 1.2
	linearFarBand     = 0.8
	linearClampHigh   = 0.95
	linearClampLow    = 0.05
	linearRampPerUnit = (linearClampHigh - linearClampLow) / (linearDeepBand - linearFarBand)
)

// linearDelta is the simplified moneyness-banded delta used when
// Black-Scholes is disabled or unavailable. Needs no volatility input.
func linearDelta(pos *models.OptionPosition, spot float64) float64 {
	if pos.Strike <= 0 || spot <= 0 {
		return 0
	}

	ratio := spot / pos.Strike
	var delta float64
	switch {
	case ratio >= linearDeepBand:
		delta = linearClampHigh
	case ratio <= linearFarBand:
		delta = linearClampLow
	default:
		delta = linearClampLow + (ratio-linearFarBand)*linearRampPerUnit
	}

	if pos.Type == models.Put {
		// Mirror: a put is deep in the money where a call is far out.
		delta = delta - 1
	}
	if pos.IsShort() {
		delta = -delta
	}
	return clamp(delta, -1, 1)
}
