package strategy

import (
	"context"
	"fmt"

	"trader/internal/classifier"
	"trader/internal/indicator"

	"github.com/shopspring/decimal"
)

const NamePatternMatch = "PatternMatch"

const (
	TrendPositive = 1.0
	TrendNegative = -1.0
)

var patternMatchFeatures = []string{"close", "open", "high", "low"}

// PatternMatch trades a candle pattern only when it agrees with a strong,
// well-traded trend.
type PatternMatch struct {
	*base
	buyFraction           decimal.Decimal
	requiredVolume        float64
	requiredTrendStrength float64
	trendInterval         int
}

func NewPatternMatch(deps Deps, params Params) (*PatternMatch, error) {
	cfg := Config{
		Interval:    defaultInterval,
		DataWindow:  IntervalOneHundredCandles,
		Granularity: GranularityTenMinute,
	}
	b, err := newBase(NamePatternMatch, cfg, patternMatchFeatures, deps, params)
	if err != nil {
		return nil, err
	}
	return &PatternMatch{
		base:                  b,
		buyFraction:           decimal.NewFromInt(1),
		requiredVolume:        10,
		requiredTrendStrength: 25,
		trendInterval:         30,
	}, nil
}

func (s *PatternMatch) CalcUnitsToBuy(price float64) (int, error) {
	return s.unitsFor(price, s.buyFraction)
}

func (s *PatternMatch) CalcUnitsToSell(price float64) (int, error) {
	return s.quoteUnits(price)
}

func (s *PatternMatch) AllocateTradeableAmount() {
	s.portfolio.AllocateTradeableAmount()
}

func (s *PatternMatch) Analyze(data MarketData) (Analysis, error) {
	closes, highs, lows, err := s.series(data)
	if err != nil {
		return Analysis{}, err
	}
	if len(lows) < s.trendInterval {
		return Analysis{}, fmt.Errorf("%w: trend needs %d candles, have %d", ErrInsufficientData, s.trendInterval, len(lows))
	}

	trend, strength, err := s.calculateTrend(highs, lows, closes)
	if err != nil {
		return Analysis{}, err
	}
	last := data.Historical.Candles[len(data.Historical.Candles)-1]

	return s.finish(s.tickTime(data), map[string]float64{
		"asking":         data.Current.Ask,
		"volume":         last.Volume,
		"trend":          trend,
		"trend_strength": strength,
		"open":           last.Open,
		"close":          last.Close,
		"high":           last.High,
		"low":            last.Low,
	}), nil
}

// calculateTrend compares the low trendInterval candles ago with the latest
// low, and measures the trend with ADX over the same interval.
func (s *PatternMatch) calculateTrend(highs, lows, closes []float64) (float64, float64, error) {
	start := lows[len(lows)-s.trendInterval]
	end := lows[len(lows)-1]
	direction := TrendNegative
	if start < end {
		direction = TrendPositive
	}
	strength, err := indicator.TrendStrength(highs, lows, closes, s.trendInterval)
	if err != nil {
		return 0, 0, err
	}
	return direction, strength, nil
}

func (s *PatternMatch) Decide(ctx context.Context, analysis Analysis) (Decision, *Order, error) {
	asking := analysis.must("asking")
	volume := analysis.must("volume")
	trend := analysis.must("trend")
	strength := analysis.must("trend_strength")
	features := analysis.features(patternMatchFeatures)

	if volume <= s.requiredVolume || strength <= s.requiredTrendStrength {
		return Stay, nil, nil
	}
	expected := Sell
	if trend == TrendPositive {
		expected = Buy
	}

	prediction, err := s.classifier.Predict(ctx, features, classifier.PredictOptions{FormatData: true, UnwrapPrediction: true})
	if err != nil {
		return Stay, nil, err
	}
	s.logger.Info("classifier decision", "pattern", prediction.Label, "trend", expected, "confidence", prediction.Confidence)
	if Decision(prediction.Label) != expected {
		return Stay, nil, nil
	}

	order, err := s.makeOrder(s, analysis.Time(), asking, expected)
	if err != nil {
		return Stay, nil, err
	}
	if order == nil {
		return Stay, nil, nil
	}
	return expected, order, nil
}
