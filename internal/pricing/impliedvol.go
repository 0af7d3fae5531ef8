package pricing

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/optrisk/internal/models"
)

const (
	// ivBracketLow and ivBracketHigh bound the bisection search.
	ivBracketLow  = 0.001
	ivBracketHigh = 3.0
	// ivFloorDefault is returned for contracts trading at or below
	// intrinsic value, where bisection cannot distinguish volatilities.
	ivFloorDefault = 0.01
	// intrinsicSlack pads the intrinsic-value comparison.
	intrinsicSlack = 1e-6
)

// SolverConfig bounds the bisection loop.
type SolverConfig struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultSolverConfig matches the engine's standard solve budget.
var DefaultSolverConfig = SolverConfig{
	MaxIterations: 100,
	Tolerance:     1e-4,
}

// Solver recovers implied volatility from an observed market price by
// bisection against the pricing core. Bisection trades quadratic
// convergence for guaranteed bracketing without derivative computation.
type Solver struct {
	cfg SolverConfig
	log logrus.FieldLogger

	// priceFn overrides the pricing core in tests; nil means PriceAt.
	priceFn func(pos *models.OptionPosition, spot, rate, vol float64, asOf time.Time) (float64, error)
}

// NewSolver builds a solver with an injected diagnostic sink.
func NewSolver(log logrus.FieldLogger, cfg ...SolverConfig) *Solver {
	c := DefaultSolverConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultSolverConfig.MaxIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultSolverConfig.Tolerance
	}
	return &Solver{cfg: c, log: log}
}

// Solve recovers the volatility reproducing targetPrice under the current
// clock.
func (s *Solver) Solve(pos *models.OptionPosition, spot, targetPrice, rate float64) (float64, error) {
	return s.SolveAt(pos, spot, targetPrice, rate, time.Now())
}

// SolveAt is Solve evaluated as of a fixed instant.
//
// Degenerate regimes resolve to documented defaults rather than errors:
// non-positive targets and expired contracts return 0, prices at or below
// intrinsic return the low floor, and targets unreachable inside the
// bracket return the bracket ceiling. An error is returned only when the
// pricing core rejects the inputs outright.
func (s *Solver) SolveAt(pos *models.OptionPosition, spot, targetPrice, rate float64, asOf time.Time) (float64, error) {
	if targetPrice <= 0 {
		s.log.WithFields(logrus.Fields{
			"position": pos.Description,
			"target":   targetPrice,
		}).Warn("non-positive target price, implied volatility degenerate")
		return 0, nil
	}

	if pos.YearsToExpiry(asOf) <= expiryEpsilon {
		// IV is undefined for expired contracts.
		return 0, nil
	}

	if targetPrice <= pos.IntrinsicValue(spot)+intrinsicSlack {
		// No meaningful time value to invert.
		return ivFloorDefault, nil
	}

	ceilingPrice, err := s.priceAt(pos, spot, rate, ivBracketHigh, asOf)
	if err != nil {
		return 0, err
	}
	if targetPrice > ceilingPrice {
		s.log.WithFields(logrus.Fields{
			"position": pos.Description,
			"target":   targetPrice,
			"ceiling":  ceilingPrice,
		}).Warn("target price unreachable within volatility bracket")
		return ivBracketHigh, nil
	}

	lo, hi := ivBracketLow, ivBracketHigh
	mid := (lo + hi) / 2
	for i := 0; i < s.cfg.MaxIterations; i++ {
		mid = (lo + hi) / 2
		price, err := s.priceAt(pos, spot, rate, mid, asOf)
		if err != nil {
			// Numerical failure at this midpoint: nudge the bracket
			// and keep going rather than aborting the solve.
			lo += s.cfg.Tolerance
			continue
		}
		if price < targetPrice {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < s.cfg.Tolerance {
			return (lo + hi) / 2, nil
		}
	}

	// Best effort after exhausting the iteration budget.
	return mid, nil
}

// priceAt is the pricing evaluation used inside the bisection loop;
// swappable in tests to exercise the failure-recovery path.
func (s *Solver) priceAt(pos *models.OptionPosition, spot, rate, vol float64, asOf time.Time) (float64, error) {
	if s.priceFn != nil {
		return s.priceFn(pos, spot, rate, vol, asOf)
	}
	return PriceAt(pos, spot, rate, vol, asOf)
}
