package strategy

import (
	"context"

	"trader/internal/classifier"
	"trader/internal/indicator"

	"github.com/shopspring/decimal"
)

const NameRandomStumps = "RandomStumps"

var randomStumpsFeatures = []string{"asking_price", "long_candle_exit", "short_candle_exit", "lower_bound_ma", "upper_bound_ma"}

// RandomStumps trades whatever side the classifier picks from the ask price,
// the chandelier exits and the Bollinger bands.
type RandomStumps struct {
	*base
	buyFraction decimal.Decimal
	bandCoef    float64
}

func NewRandomStumps(deps Deps, params Params) (*RandomStumps, error) {
	cfg := Config{
		Interval:    defaultInterval,
		DataWindow:  IntervalFortyCandles,
		Granularity: GranularityTenMinute,
	}
	b, err := newBase(NameRandomStumps, cfg, randomStumpsFeatures, deps, params)
	if err != nil {
		return nil, err
	}
	return &RandomStumps{
		base:        b,
		buyFraction: decimal.NewFromFloat(0.05),
		bandCoef:    2,
	}, nil
}

func (s *RandomStumps) CalcUnitsToBuy(price float64) (int, error) {
	return s.unitsFor(price, s.buyFraction)
}

func (s *RandomStumps) CalcUnitsToSell(price float64) (int, error) {
	return s.quoteUnits(price)
}

func (s *RandomStumps) AllocateTradeableAmount() {
	s.portfolio.AllocateTradeableAmount()
}

func (s *RandomStumps) Analyze(data MarketData) (Analysis, error) {
	closes, highs, lows, err := s.series(data)
	if err != nil {
		return Analysis{}, err
	}

	window := min(s.cfg.DataWindow, len(closes))
	lower, upper, err := indicator.BollingerBands(closes, window, s.bandCoef)
	if err != nil {
		return Analysis{}, err
	}
	longExit, shortExit, err := indicator.ChandelierExits(closes, highs, lows,
		indicator.DefaultChandelierMultiplier, indicator.TradingPeriodMonth)
	if err != nil {
		return Analysis{}, err
	}

	return s.finish(s.tickTime(data), map[string]float64{
		"asking_price":      data.Current.Ask,
		"long_candle_exit":  longExit,
		"short_candle_exit": shortExit,
		"lower_bound_ma":    lower,
		"upper_bound_ma":    upper,
	}), nil
}

func (s *RandomStumps) Decide(ctx context.Context, analysis Analysis) (Decision, *Order, error) {
	features := analysis.features(randomStumpsFeatures)

	prediction, err := s.classifier.Predict(ctx, features, classifier.PredictOptions{FormatData: true, UnwrapPrediction: true})
	if err != nil {
		return Stay, nil, err
	}
	s.logger.Info("classifier decision", "label", prediction.Label, "confidence", prediction.Confidence)

	decision := Decision(prediction.Label)
	if decision != Buy && decision != Sell {
		return Stay, nil, nil
	}
	order, err := s.makeOrder(s, analysis.Time(), features["asking_price"], decision)
	if err != nil {
		return Stay, nil, err
	}
	if order == nil {
		return Stay, nil, nil
	}
	return decision, order, nil
}
