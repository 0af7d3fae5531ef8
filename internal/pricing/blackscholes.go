// Package pricing implements the option analytics engine: the
// Black-Scholes closed forms, the bisection implied-volatility solver,
// the heuristic volatility estimator, and the delta resolution ladder
// that ties them together.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/quantfold/optrisk/internal/models"
)

// expiryEpsilon is the time-to-expiry threshold below which a contract is
// treated as expired.
const expiryEpsilon = 1e-9

// InputError reports an invalid numeric input to a pricing function.
// These indicate an upstream data bug, not a recoverable market condition.
type InputError struct {
	Field string
	Value float64
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid pricing input: %s = %g", e.Field, e.Value)
}

// normCDF is the standard normal cumulative distribution function,
// exact via the error function: P(X <= x) = 0.5 * (1 + erf(x/sqrt(2))).
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func checkInputs(pos *models.OptionPosition, spot, vol float64) error {
	if spot <= 0 {
		return &InputError{Field: "spot", Value: spot}
	}
	if pos.Strike <= 0 {
		return &InputError{Field: "strike", Value: pos.Strike}
	}
	if vol <= 0 {
		return &InputError{Field: "vol", Value: vol}
	}
	return nil
}

// Price returns the Black-Scholes theoretical per-share price of the
// contract using the current clock. European exercise, no dividends.
func Price(pos *models.OptionPosition, spot, rate, vol float64) (float64, error) {
	return PriceAt(pos, spot, rate, vol, time.Now())
}

// PriceAt is Price evaluated as of a fixed instant.
//
// Edge cases apply in order: expired contracts price at intrinsic value,
// zero effective volatility prices at discounted intrinsic value, and
// everything else takes the closed form. The result is clamped to the
// no-arbitrage floor of zero.
func PriceAt(pos *models.OptionPosition, spot, rate, vol float64, asOf time.Time) (float64, error) {
	if err := checkInputs(pos, spot, vol); err != nil {
		return 0, err
	}

	strike := pos.Strike
	t := pos.YearsToExpiry(asOf)

	if t <= expiryEpsilon {
		return pos.IntrinsicValue(spot), nil
	}

	sqrtT := math.Sqrt(t)
	if vol*sqrtT == 0 {
		// Volatility rounds to zero dispersion: discounted intrinsic.
		discStrike := strike * math.Exp(-rate*t)
		if pos.Type == models.Call {
			return math.Max(0, spot-discStrike), nil
		}
		return math.Max(0, discStrike-spot), nil
	}

	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	var price float64
	if pos.Type == models.Call {
		price = spot*normCDF(d1) - strike*math.Exp(-rate*t)*normCDF(d2)
	} else {
		price = strike*math.Exp(-rate*t)*normCDF(-d2) - spot*normCDF(-d1)
	}
	return math.Max(0, price), nil
}

// Delta returns the Black-Scholes delta of the position using the current
// clock. Short positions carry a flipped sign.
func Delta(pos *models.OptionPosition, spot, rate, vol float64) (float64, error) {
	return DeltaAt(pos, spot, rate, vol, time.Now())
}

// DeltaAt is Delta evaluated as of a fixed instant. The result is always
// within [-1, 1].
func DeltaAt(pos *models.OptionPosition, spot, rate, vol float64, asOf time.Time) (float64, error) {
	if err := checkInputs(pos, spot, vol); err != nil {
		return 0, err
	}

	strike := pos.Strike
	t := pos.YearsToExpiry(asOf)

	if t <= expiryEpsilon {
		return signForDirection(stepDelta(pos, spot, strike), pos), nil
	}

	sqrtT := math.Sqrt(t)
	if vol*sqrtT == 0 {
		// Compare against the discounted strike in the zero-dispersion case.
		return signForDirection(stepDelta(pos, spot, strike*math.Exp(-rate*t)), pos), nil
	}

	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)

	delta := normCDF(d1)
	if pos.Type == models.Put {
		delta -= 1
	}
	return clamp(signForDirection(delta, pos), -1, 1), nil
}

// stepDelta is the step-function delta for contracts with no remaining
// optionality: 1/0 for calls, -1/0 for puts, by moneyness against the
// given strike threshold.
func stepDelta(pos *models.OptionPosition, spot, threshold float64) float64 {
	if pos.Type == models.Call {
		if spot > threshold {
			return 1.0
		}
		return 0.0
	}
	if spot < threshold {
		return -1.0
	}
	return 0.0
}

func signForDirection(delta float64, pos *models.OptionPosition) float64 {
	if pos.IsShort() {
		return -delta
	}
	return delta
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
