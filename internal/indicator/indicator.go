// Package indicator implements the technical indicators used by the
// strategies. Every series is chronological: oldest sample first, latest
// sample at len-1.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

const (
	// TradingPeriodMonth is the default chandelier lookback, in candles.
	TradingPeriodMonth = 22
	// DefaultChandelierMultiplier scales ATR into the chandelier buffer.
	DefaultChandelierMultiplier = 3.0
)

var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, need, have int) error {
	return fmt.Errorf("%w: %s needs %d samples, have %d", ErrInsufficientData, name, need, have)
}

// trailing returns the last min(period, len(series)) samples.
func trailing(series []float64, period int) []float64 {
	if period > len(series) {
		period = len(series)
	}
	return series[len(series)-period:]
}

func checkWindow(name string, series []float64, period int) error {
	if period <= 0 {
		return fmt.Errorf("%s: period must be > 0, got %d", name, period)
	}
	if len(series) == 0 {
		return insufficient(name, 1, 0)
	}
	return nil
}

// MovingAverage is the arithmetic mean of the trailing min(period, len)
// samples.
func MovingAverage(series []float64, period int) (float64, error) {
	if err := checkWindow("moving average", series, period); err != nil {
		return 0, err
	}
	return mean(trailing(series, period)), nil
}

// StandardDeviation is the population standard deviation over the same
// window as MovingAverage.
func StandardDeviation(series []float64, period int) (float64, error) {
	if err := checkWindow("standard deviation", series, period); err != nil {
		return 0, err
	}
	window := trailing(series, period)
	avg := mean(window)
	sum := 0.0
	for _, v := range window {
		sum += (v - avg) * (v - avg)
	}
	return math.Sqrt(sum / float64(len(window))), nil
}

// BollingerBands returns the lower and upper band, coef standard deviations
// around the moving average.
func BollingerBands(series []float64, period int, coef float64) (lower, upper float64, err error) {
	ma, err := MovingAverage(series, period)
	if err != nil {
		return 0, 0, err
	}
	sd, err := StandardDeviation(series, period)
	if err != nil {
		return 0, 0, err
	}
	return ma - coef*sd, ma + coef*sd, nil
}

// TrueRange returns the per-sample true range. Index 0 has no previous
// close and is always 0.
func TrueRange(high, low, close []float64) ([]float64, error) {
	if len(high) != len(low) || len(low) != len(close) {
		return nil, fmt.Errorf("true range: series lengths differ (%d/%d/%d)", len(high), len(low), len(close))
	}
	if len(close) < 2 {
		return nil, insufficient("true range", 2, len(close))
	}
	return talib.TRange(high, low, close), nil
}

// AverageTrueRange is the mean true range over the trailing period samples.
// It needs period+1 samples so every sample in the window has a previous
// close.
func AverageTrueRange(high, low, close []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("average true range: period must be > 0, got %d", period)
	}
	if len(close) < period+1 {
		return 0, insufficient("average true range", period+1, len(close))
	}
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return 0, err
	}
	return mean(tr[len(tr)-period:]), nil
}

// PeriodHigh is the highest of the leading period samples.
func PeriodHigh(series []float64, period int) (float64, error) {
	if period <= 0 || len(series) < period {
		return 0, insufficient("period high", period, len(series))
	}
	high := series[0]
	for _, v := range series[1:period] {
		high = math.Max(high, v)
	}
	return high, nil
}

// PeriodLow is the lowest of the leading period samples.
func PeriodLow(series []float64, period int) (float64, error) {
	if period <= 0 || len(series) < period {
		return 0, insufficient("period low", period, len(series))
	}
	low := series[0]
	for _, v := range series[1:period] {
		low = math.Min(low, v)
	}
	return low, nil
}

// ChandelierExits returns the long and short exit levels. The period
// high/low come from the leading period closes, while the ATR uses the
// trailing window; both windows are kept as they are.
func ChandelierExits(close, high, low []float64, multiplier float64, period int) (longExit, shortExit float64, err error) {
	periodHigh, err := PeriodHigh(close, period)
	if err != nil {
		return 0, 0, err
	}
	periodLow, err := PeriodLow(close, period)
	if err != nil {
		return 0, 0, err
	}
	atr, err := AverageTrueRange(high, low, close, period)
	if err != nil {
		return 0, 0, err
	}
	return periodHigh - multiplier*atr, periodLow + multiplier*atr, nil
}

// TrendStrength is Wilder's average directional index for the latest
// sample, in [0, 100]. The ADX lookback is 2*period-1, so the first value
// sits at index 2*period-1 and 2*period samples are needed.
func TrendStrength(high, low, close []float64, period int) (float64, error) {
	if period <= 1 {
		return 0, fmt.Errorf("trend strength: period must be > 1, got %d", period)
	}
	if len(high) != len(low) || len(low) != len(close) {
		return 0, fmt.Errorf("trend strength: series lengths differ (%d/%d/%d)", len(high), len(low), len(close))
	}
	if len(close) < 2*period {
		return 0, insufficient("trend strength", 2*period, len(close))
	}
	adx := talib.Adx(high, low, close, period)
	v := adx[len(adx)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, nil
	}
	return math.Min(100, math.Max(0, v)), nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
