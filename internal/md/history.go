package md

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// HistoryRequest describes a warmup window ending at End.
type HistoryRequest struct {
	Symbol      string
	Feed        string
	Granularity time.Duration
	Count       int
	End         time.Time
}

// History fetches past bars so a strategy can decide on the first live bar.
type History struct {
	client *marketdata.Client
}

func NewHistory(apiKey, apiSecret string) *History {
	return &History{client: marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})}
}

// Bars returns at most req.Count bars, oldest first.
func (h *History) Bars(ctx context.Context, req HistoryRequest) ([]Bar, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	timeFrame, err := TimeFrame(req.Granularity)
	if err != nil {
		return nil, err
	}
	end := req.End
	if end.IsZero() {
		end = time.Now()
	}
	// pad the window for closed sessions
	start := end.Add(-req.Granularity * time.Duration(req.Count) * 4)

	raw, err := h.client.GetBars(req.Symbol, marketdata.GetBarsRequest{
		TimeFrame: timeFrame,
		Start:     start,
		End:       end,
		Feed:      parseFeed(req.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", req.Symbol, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(raw) > req.Count {
		raw = raw[len(raw)-req.Count:]
	}
	bars := make([]Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, Bar{
			Symbol:    req.Symbol,
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	slog.Info("history loaded", "symbol", req.Symbol, "bars", len(bars), "timeframe", timeFrame.String())
	return bars, nil
}

// TimeFrame maps a candle granularity onto the closest provider time frame.
func TimeFrame(granularity time.Duration) (marketdata.TimeFrame, error) {
	switch {
	case granularity <= 0:
		return marketdata.TimeFrame{}, fmt.Errorf("granularity must be positive, got %s", granularity)
	case granularity%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(granularity/(24*time.Hour)), marketdata.Day), nil
	case granularity%time.Hour == 0:
		return marketdata.NewTimeFrame(int(granularity/time.Hour), marketdata.Hour), nil
	case granularity%time.Minute == 0:
		return marketdata.NewTimeFrame(int(granularity/time.Minute), marketdata.Min), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("granularity %s is not a whole number of minutes", granularity)
	}
}
