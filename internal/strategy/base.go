package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"trader/internal/classifier"
	"trader/internal/portfolio"
	"trader/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	GranularityTenMinute = 10 * time.Minute
	GranularityHour      = time.Hour

	IntervalFortyCandles      = 40
	IntervalOneHundredCandles = 100

	defaultInterval = 600 * time.Second
	orderExpiry     = 24 * time.Hour
)

// ClassifierFactory builds the classifier a strategy consults, given its
// persisted classifier settings and the feature names it will send.
type ClassifierFactory func(cfg store.ClassifierConfig, features []string) (classifier.Classifier, error)

// StaticClassifier hands every strategy the same classifier.
func StaticClassifier(c classifier.Classifier) ClassifierFactory {
	return func(store.ClassifierConfig, []string) (classifier.Classifier, error) {
		return c, nil
	}
}

type Deps struct {
	NewClassifier ClassifierFactory
	Logger        *slog.Logger
	// Now stamps ticks whose market data carries no time.
	Now func() time.Time
}

// Params configure a fresh strategy. An empty ID gets a new one.
type Params struct {
	ID         string
	Instrument string
	BasePair   portfolio.Pair
	QuotePair  portfolio.Pair
	Classifier store.ClassifierConfig
}

type base struct {
	id            string
	name          string
	cfg           Config
	portfolio     *portfolio.Portfolio
	classifier    classifier.Classifier
	classifierCfg store.ClassifierConfig
	logger        *slog.Logger
	now           func() time.Time

	mu         sync.Mutex
	indicators []string
}

func newBase(name string, cfg Config, features []string, deps Deps, params Params) (*base, error) {
	pf, err := portfolio.New(params.Instrument, params.BasePair, params.QuotePair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrConfiguration, err)
	}
	if deps.NewClassifier == nil {
		return nil, fmt.Errorf("%w: no classifier", store.ErrConfiguration)
	}
	clf, err := deps.NewClassifier(params.Classifier, features)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("strategy", name, "strategy_id", id, "instrument", params.Instrument)
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	b := &base{
		id:            id,
		name:          name,
		cfg:           cfg,
		portfolio:     pf,
		classifier:    clf,
		classifierCfg: params.Classifier,
		logger:        logger,
		now:           now,
	}
	logger.Info("starting portfolio",
		"base", pf.BasePair().Currency, "base_tradeable", pf.BasePair().TradeableUnits.String(),
		"quote", pf.QuotePair().Currency, "quote_tradeable", pf.QuotePair().TradeableUnits.String())
	return b, nil
}

func (b *base) ID() string { return b.id }
func (b *base) Name() string { return b.name }
func (b *base) Instrument() string { return b.portfolio.Instrument() }
func (b *base) Config() Config { return b.cfg }
func (b *base) Portfolio() *portfolio.Portfolio { return b.portfolio }

func (b *base) tickTime(data MarketData) time.Time {
	if !data.Current.Time.IsZero() {
		return data.Current.Time
	}
	return b.now()
}

// series validates the market data and splits the candles into columns.
func (b *base) series(data MarketData) (closes, highs, lows []float64, err error) {
	if data.Current == nil {
		return nil, nil, nil, fmt.Errorf("%w: current snapshot missing", ErrMalformedMarketData)
	}
	if data.Historical == nil || len(data.Historical.Candles) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: historical candles missing", ErrMalformedMarketData)
	}
	candles := data.Historical.Candles
	closes = make([]float64, len(candles))
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	return closes, highs, lows, nil
}

func (b *base) finish(at time.Time, values map[string]float64) Analysis {
	analysis := NewAnalysis(at, values)
	b.mu.Lock()
	b.indicators = analysis.Keys()
	b.mu.Unlock()
	b.logAnalysis(analysis)
	return analysis
}

func (b *base) logAnalysis(analysis Analysis) {
	for _, key := range analysis.Keys() {
		v, _ := analysis.Value(key)
		b.logger.Debug("indicator", "name", key, "value", v)
	}
}

// unitsFor is floor(fraction * base tradeable / price).
func (b *base) unitsFor(price float64, fraction decimal.Decimal) (int, error) {
	if err := checkPrice(price); err != nil {
		return 0, err
	}
	budget := b.portfolio.BasePair().TradeableUnits.Mul(fraction)
	return int(budget.Div(decimal.NewFromFloat(price)).Floor().IntPart()), nil
}

// quoteUnits is the whole quote tradeable balance.
func (b *base) quoteUnits(price float64) (int, error) {
	if err := checkPrice(price); err != nil {
		return 0, err
	}
	return int(b.portfolio.QuotePair().TradeableUnits.Floor().IntPart()), nil
}

func checkPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

type sizer interface {
	CalcUnitsToBuy(price float64) (int, error)
	CalcUnitsToSell(price float64) (int, error)
}

// makeOrder sizes a market order. A nil order with nil error means the
// size came out below one unit.
func (b *base) makeOrder(s sizer, at time.Time, price float64, side Decision) (*Order, error) {
	var (
		units int
		err   error
	)
	if side == Buy {
		units, err = s.CalcUnitsToBuy(price)
	} else {
		units, err = s.CalcUnitsToSell(price)
	}
	if err != nil {
		return nil, err
	}
	b.logger.Info("calculated units", "units", units, "side", side)
	if units < 1 {
		return nil, nil
	}
	return &Order{
		Instrument: b.portfolio.Instrument(),
		Units:      units,
		Side:       string(side),
		Type:       OrderMarket,
		Price:      price,
		Expiry:     at.UTC().Add(orderExpiry).Format(time.RFC3339),
	}, nil
}

func (b *base) Serialize() Snapshot {
	b.mu.Lock()
	indicators := append([]string(nil), b.indicators...)
	b.mu.Unlock()
	return Snapshot{
		ID:   b.id,
		Name: b.name,
		Config: SnapshotConfig{
			Instrument: b.portfolio.Instrument(),
			BasePair:   b.portfolio.BasePair(),
			QuotePair:  b.portfolio.QuotePair(),
		},
		Profit:     b.portfolio.Profit(),
		DataWindow: b.cfg.DataWindow,
		Interval:   int64(b.cfg.Interval / time.Second),
		Indicators: indicators,
		Instrument: b.portfolio.Instrument(),
	}
}

func (b *base) Record() store.Record {
	return store.Record{
		ID:         b.id,
		Name:       b.name,
		Instrument: b.portfolio.Instrument(),
		BasePair:   b.portfolio.BasePair(),
		QuotePair:  b.portfolio.QuotePair(),
		Classifier: b.classifierCfg,
	}
}

// CheckCandleExits reads the ask against the chandelier exits: below the
// long exit is a SELL, above the short exit a BUY.
func CheckCandleExits(ask, longExit, shortExit float64) Decision {
	switch {
	case ask < longExit:
		return Sell
	case ask > shortExit:
		return Buy
	default:
		return Stay
	}
}
