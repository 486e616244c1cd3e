package strategy

import (
	"context"
	"errors"
	"testing"

	"trader/internal/classifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func stumpsAnalysis(ask float64) Analysis {
	return NewAnalysis(tickTime, map[string]float64{
		"asking_price":      ask,
		"long_candle_exit":  1.05,
		"short_candle_exit": 1.15,
		"lower_bound_ma":    1.08,
		"upper_bound_ma":    1.12,
	})
}

func TestRandomStumpsDecideBuy(t *testing.T) {
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, mock.Anything, predictOpts()).
		Return(classifier.Prediction{Label: classifier.Buy, Confidence: 0.8}, nil).Once()
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 0))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(1.10))
	require.NoError(t, err)
	assert.Equal(t, Buy, decision)

	order = requireOrder(t, order)
	want, err := s.CalcUnitsToBuy(1.10)
	require.NoError(t, err)
	assert.Equal(t, want, order.Units)
	assert.Equal(t, 45, order.Units)
	assert.Equal(t, "BUY", order.Side)
	assert.Equal(t, OrderMarket, order.Type)
	assert.Equal(t, "EUR_USD", order.Instrument)
	assert.Equal(t, 1.10, order.Price)
	assert.Equal(t, "2024-03-02T12:00:00Z", order.Expiry)
	clf.AssertExpectations(t)
}

func TestRandomStumpsDecideSendsFeatures(t *testing.T) {
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, map[string]float64{
		"asking_price":      1.10,
		"long_candle_exit":  1.05,
		"short_candle_exit": 1.15,
		"lower_bound_ma":    1.08,
		"upper_bound_ma":    1.12,
	}, predictOpts()).Return(classifier.Prediction{Label: classifier.Stay}, nil).Once()
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 0))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(1.10))
	require.NoError(t, err)
	assert.Equal(t, Stay, decision)
	assert.Nil(t, order)
	clf.AssertExpectations(t)
}

func TestRandomStumpsDecideSellWithoutHoldingsStays(t *testing.T) {
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, mock.Anything, mock.Anything).
		Return(classifier.Prediction{Label: classifier.Sell}, nil)
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 0))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(1.10))
	require.NoError(t, err)
	assert.Equal(t, Stay, decision)
	assert.Nil(t, order)
}

func TestRandomStumpsDecideSellsWholeQuoteBalance(t *testing.T) {
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, mock.Anything, mock.Anything).
		Return(classifier.Prediction{Label: classifier.Sell}, nil)
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 250))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(1.10))
	require.NoError(t, err)
	assert.Equal(t, Sell, decision)
	assert.Equal(t, 250, requireOrder(t, order).Units)
	assert.Equal(t, "SELL", order.Side)
}

func TestRandomStumpsDecideClassifierError(t *testing.T) {
	boom := errors.New("model offline")
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, mock.Anything, mock.Anything).
		Return(classifier.Prediction{}, boom).Once()
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 0))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(1.10))
	assert.Same(t, boom, err)
	assert.Equal(t, Stay, decision)
	assert.Nil(t, order)
}

func TestRandomStumpsDecideInvalidPrice(t *testing.T) {
	clf := new(mockClassifier)
	clf.On("Predict", mock.Anything, mock.Anything, mock.Anything).
		Return(classifier.Prediction{Label: classifier.Buy}, nil)
	s, err := NewRandomStumps(testDeps(clf), testParams(1000, 0))
	require.NoError(t, err)

	decision, order, err := s.Decide(context.Background(), stumpsAnalysis(0))
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.Equal(t, Stay, decision)
	assert.Nil(t, order)
}

func TestRandomStumpsDecideWithoutAnalysisPanics(t *testing.T) {
	s, err := NewRandomStumps(testDeps(new(mockClassifier)), testParams(1000, 0))
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _, _ = s.Decide(context.Background(), Analysis{})
	})
}

func TestRandomStumpsCalcUnitsToBuy(t *testing.T) {
	s, err := NewRandomStumps(testDeps(new(mockClassifier)), testParams(1000, 0))
	require.NoError(t, err)

	_, err = s.CalcUnitsToBuy(0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = s.CalcUnitsToBuy(-1)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = s.CalcUnitsToSell(0)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	prev := int(^uint(0) >> 1)
	for _, price := range []float64{0.01, 0.5, 1, 1.1, 2, 7.5, 50, 1000, 5000} {
		units, err := s.CalcUnitsToBuy(price)
		require.NoError(t, err)
		assert.LessOrEqual(t, units, prev, "price %v", price)
		prev = units
	}
}

func TestRandomStumpsAnalyze(t *testing.T) {
	s, err := NewRandomStumps(testDeps(new(mockClassifier)), testParams(1000, 0))
	require.NoError(t, err)

	analysis, err := s.Analyze(marketData(risingCandles(60, 20), 1.6))
	require.NoError(t, err)
	assert.ElementsMatch(t, randomStumpsFeatures, analysis.Keys())
	assert.Equal(t, tickTime, analysis.Time())

	ask, _ := analysis.Value("asking_price")
	assert.Equal(t, 1.6, ask)
	lower, _ := analysis.Value("lower_bound_ma")
	upper, _ := analysis.Value("upper_bound_ma")
	assert.Less(t, lower, upper)

	snapshot := s.Serialize()
	assert.Equal(t, NameRandomStumps, snapshot.Name)
	assert.Equal(t, IntervalFortyCandles, snapshot.DataWindow)
	assert.Equal(t, int64(600), snapshot.Interval)
	assert.Equal(t, "EUR_USD", snapshot.Instrument)
	assert.Equal(t, analysis.Keys(), snapshot.Indicators)
	assert.True(t, snapshot.Profit.IsZero())
}

func TestRandomStumpsAnalyzeMalformed(t *testing.T) {
	s, err := NewRandomStumps(testDeps(new(mockClassifier)), testParams(1000, 0))
	require.NoError(t, err)

	_, err = s.Analyze(MarketData{Historical: &Historical{Candles: risingCandles(40, 1)}})
	assert.ErrorIs(t, err, ErrMalformedMarketData)

	_, err = s.Analyze(MarketData{Current: &Quote{Ask: 1}})
	assert.ErrorIs(t, err, ErrMalformedMarketData)

	_, err = s.Analyze(marketData(risingCandles(10, 1), 1))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRandomStumpsAllocateTradeableAmount(t *testing.T) {
	s, err := NewRandomStumps(testDeps(new(mockClassifier)), testParams(1000, 0))
	require.NoError(t, err)

	before := s.Portfolio().BasePair().TradeableUnits
	s.AllocateTradeableAmount()
	assert.True(t, s.Portfolio().BasePair().TradeableUnits.Equal(before))
}

func TestCheckCandleExits(t *testing.T) {
	assert.Equal(t, Sell, CheckCandleExits(1.0, 1.05, 1.15))
	assert.Equal(t, Buy, CheckCandleExits(1.2, 1.05, 1.15))
	assert.Equal(t, Stay, CheckCandleExits(1.1, 1.05, 1.15))
}
