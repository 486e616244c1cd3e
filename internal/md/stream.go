package md

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
)

type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

type BarHandler func(Bar)

func StartStream(ctx context.Context, apiKey, apiSecret, feed, symbol string, handler BarHandler) error {
	feedType := parseFeed(feed)
	client := stream.NewStocksClient(
		feedType,
		stream.WithCredentials(apiKey, apiSecret),
	)

	// Connect must be called before subscribing in this SDK version
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect market data stream: %w", err)
	}

	slog.Debug("connected to stream", "symbol", symbol, "feed", feedType)

	if err := client.SubscribeToBars(func(bar stream.Bar) {
		slog.Debug("received bar", "symbol", bar.Symbol, "timestamp", bar.Timestamp, "close", bar.Close)
		handler(Bar{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}, symbol); err != nil {
		return fmt.Errorf("subscribe to bars: %w", err)
	}

	slog.Debug("subscribed to bars", "symbol", symbol)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-client.Terminated():
		return fmt.Errorf("market data stream terminated: %w", err)
	}
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
