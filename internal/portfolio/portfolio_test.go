package portfolio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/optrisk/internal/marketdata"
	"github.com/quantfold/optrisk/internal/models"
	"github.com/quantfold/optrisk/internal/pricing"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// failingProvider rejects every quote request.
type failingProvider struct{}

func (failingProvider) GetSpot(context.Context, string) (float64, error) {
	return 0, errors.New("quote feed down")
}

func position(underlying string, optType models.OptionType, strike float64, quantity int, price float64) *models.OptionPosition {
	return &models.OptionPosition{
		Underlying:   underlying,
		Expiration:   time.Now().Add(180 * 24 * time.Hour),
		Strike:       strike,
		Type:         optType,
		Quantity:     quantity,
		CurrentPrice: price,
		Description:  underlying + " test position",
	}
}

func TestValue_ComputesExposures(t *testing.T) {
	provider := marketdata.NewStaticProvider(map[string]float64{
		"SPY":  550,
		"TSLA": 250,
	})
	resolver := pricing.NewResolver(testLogger())
	betas := map[string]float64{"TSLA": 1.8}
	valuer := NewValuer(provider, resolver, betas, 4, testLogger())

	positions := []*models.OptionPosition{
		position("SPY", models.Call, 540, 2, 15.0),
		position("TSLA", models.Put, 240, -1, 12.0),
	}

	results, summary := valuer.Value(context.Background(), positions)
	require.Len(t, results, 2)

	spy, tsla := results[0], results[1]
	assert.Empty(t, spy.Err)
	assert.Equal(t, 550.0, spy.Spot)
	assert.Equal(t, 1.0, spy.Beta)
	assert.Equal(t, 540*100.0*2, spy.NotionalValue)
	assert.InDelta(t, spy.Result.Delta*spy.NotionalValue, spy.DeltaExposure, 1e-9)
	assert.InDelta(t, spy.DeltaExposure, spy.BetaAdjustedExposure, 1e-9)

	assert.Empty(t, tsla.Err)
	assert.Equal(t, 1.8, tsla.Beta)
	assert.InDelta(t, tsla.DeltaExposure*1.8, tsla.BetaAdjustedExposure, 1e-9)
	// Short put carries positive delta exposure.
	assert.Greater(t, tsla.DeltaExposure, 0.0)

	assert.Equal(t, 2, summary.Positions)
	assert.Equal(t, 2, summary.Valued)
	assert.Equal(t, 0, summary.Failed)

	wantNotional := decimal.NewFromFloat(spy.NotionalValue + tsla.NotionalValue).Round(2)
	assert.True(t, summary.TotalNotional.Equal(wantNotional),
		"notional %s != %s", summary.TotalNotional, wantNotional)

	wantMarket := decimal.NewFromFloat(15.0*100*2 + 12.0*100*-1).Round(2)
	assert.True(t, summary.TotalMarketValue.Equal(wantMarket),
		"market value %s != %s", summary.TotalMarketValue, wantMarket)

	sum := summary.LongDeltaExposure.Add(summary.ShortDeltaExposure)
	assert.True(t, summary.TotalDeltaExposure.Sub(sum).Abs().LessThan(decimal.NewFromFloat(0.02)),
		"long %s + short %s != total %s", summary.LongDeltaExposure, summary.ShortDeltaExposure, summary.TotalDeltaExposure)
}

func TestValue_ProviderFailureRecordedNotFatal(t *testing.T) {
	resolver := pricing.NewResolver(testLogger())
	valuer := NewValuer(failingProvider{}, resolver, nil, 2, testLogger())

	positions := []*models.OptionPosition{
		position("SPY", models.Call, 540, 1, 15.0),
	}

	results, summary := valuer.Value(context.Background(), positions)
	require.Len(t, results, 1)
	assert.Equal(t, "quote feed down", results[0].Err)
	assert.Zero(t, results[0].Spot)
	// Notional is still reported for failed positions.
	assert.Equal(t, 540*100.0, results[0].NotionalValue)

	assert.Equal(t, 1, summary.Positions)
	assert.Equal(t, 0, summary.Valued)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.TotalNotional.IsZero())
}

func TestValue_MissingSpotInStaticProvider(t *testing.T) {
	provider := marketdata.NewStaticProvider(map[string]float64{"SPY": 550})
	resolver := pricing.NewResolver(testLogger())
	valuer := NewValuer(provider, resolver, nil, 2, testLogger())

	positions := []*models.OptionPosition{
		position("SPY", models.Call, 540, 1, 15.0),
		position("NVDA", models.Call, 120, 1, 5.0),
	}

	results, summary := valuer.Value(context.Background(), positions)
	require.Len(t, results, 2)
	assert.Empty(t, results[0].Err)
	assert.NotEmpty(t, results[1].Err)
	assert.Equal(t, 1, summary.Valued)
	assert.Equal(t, 1, summary.Failed)
}

func TestValue_CanceledContextSkips(t *testing.T) {
	provider := marketdata.NewStaticProvider(map[string]float64{"SPY": 550})
	resolver := pricing.NewResolver(testLogger())
	valuer := NewValuer(provider, resolver, nil, 2, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	positions := []*models.OptionPosition{
		position("SPY", models.Call, 540, 1, 15.0),
		position("SPY", models.Put, 500, -1, 8.0),
	}

	results, summary := valuer.Value(ctx, positions)
	require.Len(t, results, 2)
	for _, pv := range results {
		assert.Contains(t, pv.Err, "skipped")
	}
	assert.Equal(t, 2, summary.Failed)
}

func TestValue_ResultsKeepInputOrder(t *testing.T) {
	spots := map[string]float64{}
	var positions []*models.OptionPosition
	symbols := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH"}
	for i, sym := range symbols {
		spots[sym] = 100 + float64(i)
		positions = append(positions, position(sym, models.Call, 100, 1, 5.0))
	}

	valuer := NewValuer(marketdata.NewStaticProvider(spots), pricing.NewResolver(testLogger()), nil, 3, testLogger())
	results, _ := valuer.Value(context.Background(), positions)

	require.Len(t, results, len(symbols))
	for i, sym := range symbols {
		assert.Equal(t, sym, results[i].Position.Underlying)
		assert.Equal(t, spots[sym], results[i].Spot)
	}
}

func TestNewValuer_ParallelismFloor(t *testing.T) {
	v := NewValuer(failingProvider{}, pricing.NewResolver(testLogger()), nil, 0, testLogger())
	assert.Equal(t, 1, v.parallelism)
}
