package strategy

import (
	"context"
	"errors"
	"time"

	"trader/internal/indicator"
	"trader/internal/portfolio"
	"trader/internal/store"

	"github.com/shopspring/decimal"
)

type Decision string

const (
	Stay Decision = "STAY"
	Buy  Decision = "BUY"
	Sell Decision = "SELL"
)

const OrderMarket = "MARKET"

var (
	ErrMalformedMarketData = errors.New("malformed market data")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInsufficientData    = indicator.ErrInsufficientData
)

// Quote is the current ask-side snapshot.
type Quote struct {
	Time  time.Time
	Bid   float64
	Ask   float64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Historical candles are chronological, latest last.
type Historical struct {
	Candles []Candle
}

type MarketData struct {
	Current    *Quote
	Historical *Historical
}

type Order struct {
	Instrument string  `json:"instrument"`
	Units      int     `json:"units"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Price      float64 `json:"price"`
	Expiry     string  `json:"expiry"`
}

type Config struct {
	// Interval is the advisory tick cadence.
	Interval    time.Duration
	DataWindow  int
	Granularity time.Duration
}

type SnapshotConfig struct {
	Instrument string         `json:"instrument"`
	BasePair   portfolio.Pair `json:"base_pair"`
	QuotePair  portfolio.Pair `json:"quote_pair"`
}

type Snapshot struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Config     SnapshotConfig  `json:"config"`
	Profit     decimal.Decimal `json:"profit"`
	DataWindow int             `json:"data_window"`
	Interval   int64           `json:"interval"`
	Indicators []string        `json:"indicators"`
	Instrument string          `json:"instrument"`
}

// Strategy turns market data into a decision and a sized order. A single
// Strategy is not safe for concurrent ticks.
type Strategy interface {
	ID() string
	Name() string
	Instrument() string
	Config() Config
	Portfolio() *portfolio.Portfolio
	Analyze(data MarketData) (Analysis, error)
	Decide(ctx context.Context, analysis Analysis) (Decision, *Order, error)
	CalcUnitsToBuy(price float64) (int, error)
	CalcUnitsToSell(price float64) (int, error)
	AllocateTradeableAmount()
	Serialize() Snapshot
	Record() store.Record
}
