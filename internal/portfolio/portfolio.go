package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/optrisk/internal/marketdata"
	"github.com/quantfold/optrisk/internal/models"
	"github.com/quantfold/optrisk/internal/pricing"
)

// PositionValuation pairs a position with the metrics computed for it in
// one valuation pass. The position itself is never mutated.
type PositionValuation struct {
	Position             *models.OptionPosition `json:"position"`
	Spot                 float64                `json:"spot"`
	Result               pricing.DeltaResult    `json:"result"`
	Beta                 float64                `json:"beta"`
	NotionalValue        float64                `json:"notional_value"`
	DeltaExposure        float64                `json:"delta_exposure"`
	BetaAdjustedExposure float64                `json:"beta_adjusted_exposure"`
	Err                  string                 `json:"error,omitempty"`
}

// Summary aggregates one valuation pass. Exposure totals are money
// amounts, carried as decimals and rounded to cents.
type Summary struct {
	AsOf                      time.Time       `json:"as_of"`
	Positions                 int             `json:"positions"`
	Valued                    int             `json:"valued"`
	Failed                    int             `json:"failed"`
	TotalNotional             decimal.Decimal `json:"total_notional"`
	TotalMarketValue          decimal.Decimal `json:"total_market_value"`
	TotalDeltaExposure        decimal.Decimal `json:"total_delta_exposure"`
	TotalBetaAdjustedExposure decimal.Decimal `json:"total_beta_adjusted_exposure"`
	LongDeltaExposure         decimal.Decimal `json:"long_delta_exposure"`
	ShortDeltaExposure        decimal.Decimal `json:"short_delta_exposure"`
}

// Valuer runs batch valuations: an embarrassingly parallel map over
// independent positions, bounded by the configured parallelism. Each
// position's computation reads only its own fields plus scalar market
// parameters, so no locking is needed beyond the provider's own.
type Valuer struct {
	provider    marketdata.Provider
	resolver    *pricing.Resolver
	betas       map[string]float64
	parallelism int
	log         logrus.FieldLogger
}

// NewValuer wires a batch valuer. Betas missing from the map default to 1.0.
func NewValuer(provider marketdata.Provider, resolver *pricing.Resolver, betas map[string]float64, parallelism int, log logrus.FieldLogger) *Valuer {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Valuer{
		provider:    provider,
		resolver:    resolver,
		betas:       betas,
		parallelism: parallelism,
		log:         log,
	}
}

// Value computes delta and exposure for every position. A canceled or
// expired context skips the remaining positions and returns partial
// results; per-position failures are recorded on the valuation, never
// propagated.
func (v *Valuer) Value(ctx context.Context, positions []*models.OptionPosition) ([]PositionValuation, Summary) {
	asOf := time.Now()
	results := make([]PositionValuation, len(positions))

	g := new(errgroup.Group)
	g.SetLimit(v.parallelism)
	for i, pos := range positions {
		i, pos := i, pos
		g.Go(func() error {
			results[i] = v.valueOne(ctx, pos, asOf)
			return nil
		})
	}
	// Workers record failures instead of returning them.
	_ = g.Wait()

	return results, v.summarize(results, asOf)
}

func (v *Valuer) valueOne(ctx context.Context, pos *models.OptionPosition, asOf time.Time) PositionValuation {
	pv := PositionValuation{
		Position:      pos,
		Beta:          v.betaFor(pos.Underlying),
		NotionalValue: pos.NotionalValue(),
	}

	if err := ctx.Err(); err != nil {
		pv.Err = "skipped: " + err.Error()
		return pv
	}

	spot, err := v.provider.GetSpot(ctx, pos.Underlying)
	if err != nil {
		v.log.WithField("position", pos.Description).WithError(err).Warn("no spot price, skipping valuation")
		pv.Err = err.Error()
		return pv
	}
	pv.Spot = spot

	pv.Result = v.resolver.ResolveDeltaAt(pos, spot, asOf)
	pv.DeltaExposure = pv.Result.Delta * pv.NotionalValue
	pv.BetaAdjustedExposure = pv.DeltaExposure * pv.Beta
	return pv
}

func (v *Valuer) betaFor(symbol string) float64 {
	if beta, ok := v.betas[symbol]; ok {
		return beta
	}
	return 1.0
}

func (v *Valuer) summarize(results []PositionValuation, asOf time.Time) Summary {
	s := Summary{AsOf: asOf, Positions: len(results)}

	notional := decimal.Zero
	market := decimal.Zero
	deltaExp := decimal.Zero
	betaExp := decimal.Zero
	longExp := decimal.Zero
	shortExp := decimal.Zero

	for _, pv := range results {
		if pv.Err != "" {
			s.Failed++
			continue
		}
		s.Valued++

		notional = notional.Add(decimal.NewFromFloat(pv.NotionalValue))
		market = market.Add(decimal.NewFromFloat(pv.Position.MarketValue()))
		d := decimal.NewFromFloat(pv.DeltaExposure)
		deltaExp = deltaExp.Add(d)
		betaExp = betaExp.Add(decimal.NewFromFloat(pv.BetaAdjustedExposure))
		if d.IsNegative() {
			shortExp = shortExp.Add(d)
		} else {
			longExp = longExp.Add(d)
		}
	}

	s.TotalNotional = notional.Round(2)
	s.TotalMarketValue = market.Round(2)
	s.TotalDeltaExposure = deltaExp.Round(2)
	s.TotalBetaAdjustedExposure = betaExp.Round(2)
	s.LongDeltaExposure = longExp.Round(2)
	s.ShortDeltaExposure = shortExp.Round(2)
	return s
}
