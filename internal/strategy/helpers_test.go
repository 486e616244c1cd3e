package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"trader/internal/classifier"
	"trader/internal/portfolio"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Predict(ctx context.Context, features map[string]float64, opts classifier.PredictOptions) (classifier.Prediction, error) {
	args := m.Called(ctx, features, opts)
	return args.Get(0).(classifier.Prediction), args.Error(1)
}

var tickTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testDeps(c classifier.Classifier) Deps {
	return Deps{
		NewClassifier: StaticClassifier(c),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return tickTime },
	}
}

func testParams(baseUnits, quoteUnits int64) Params {
	return Params{
		Instrument: "EUR_USD",
		BasePair: portfolio.Pair{
			Currency:       "usd",
			StartingUnits:  decimal.NewFromInt(baseUnits),
			TradeableUnits: decimal.NewFromInt(baseUnits),
			Units:          decimal.NewFromInt(baseUnits),
		},
		QuotePair: portfolio.Pair{
			Currency:       "eur",
			StartingUnits:  decimal.NewFromInt(quoteUnits),
			TradeableUnits: decimal.NewFromInt(quoteUnits),
			Units:          decimal.NewFromInt(quoteUnits),
		},
	}
}

// risingCandles returns n chronological candles with steadily higher prices.
func risingCandles(n int, volume float64) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		price := 1.0 + float64(i)*0.01
		candles[i] = Candle{
			Time:   tickTime.Add(time.Duration(i-n) * 10 * time.Minute),
			Open:   price - 0.002,
			High:   price + 0.005,
			Low:    price - 0.005,
			Close:  price,
			Volume: volume,
		}
	}
	return candles
}

func marketData(candles []Candle, ask float64) MarketData {
	return MarketData{
		Current:    &Quote{Time: tickTime, Ask: ask, Bid: ask - 0.0002},
		Historical: &Historical{Candles: candles},
	}
}

func predictOpts() classifier.PredictOptions {
	return classifier.PredictOptions{FormatData: true, UnwrapPrediction: true}
}

func requireOrder(t *testing.T, order *Order) *Order {
	t.Helper()
	require.NotNil(t, order)
	return order
}
