package engine

import (
	"context"
	"testing"
	"time"

	"trader/internal/broker"
	"trader/internal/classifier"
	"trader/internal/config"
	"trader/internal/portfolio"
	"trader/internal/risk"
	"trader/internal/store"
	"trader/internal/strategy"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func engineConfig(mode config.Mode) config.Config {
	return config.Config{
		Mode:        mode,
		BarsWindow:  60,
		MaxQty:      1000,
		MaxNotional: 10000,
		TimeInForce: "day",
	}
}

func newTestEngine(t *testing.T, cfg config.Config, label classifier.Label, b Broker) (*Engine, *store.FileStore, string) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	decisions, path := newDecisionLog(t)
	p := NewPipeline(newStrategy(t, &stubClassifier{label: label}), quiet())
	e := New(cfg, "SPY", p, risk.Gate{}, b, st, decisions)
	e.now = func() time.Time { return startTime }
	return e, st, path
}

func TestEngineSubmitsAndReconciles(t *testing.T) {
	b := new(mockBroker)
	e, st, path := newTestEngine(t, engineConfig(config.ModePaper), classifier.Buy, b)
	ctx := context.Background()

	b.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req broker.OrderRequest) bool {
		return req.Symbol == "SPY" &&
			req.Side == alpaca.Buy &&
			req.Qty == 31 &&
			req.Type == alpaca.Market &&
			req.TimeInForce == alpaca.Day &&
			req.ClientOrderID == "run-SPY-1"
	})).Return(broker.OrderRef{ID: "ord-1", ClientOrderID: "run-SPY-1", Status: "accepted"}, nil).Once()

	bars := risingBars(61)
	e.Warmup(bars[:59])
	e.OnBar(ctx, bars[59])
	assert.Equal(t, StateOrderPlaced, e.pipeline.State())

	e.OnBar(ctx, bars[60])
	b.AssertNumberOfCalls(t, "PlaceOrder", 1)

	b.On("Order", mock.Anything, "ord-1").
		Return(broker.OrderStatus{OrderRef: broker.OrderRef{ID: "ord-1", Status: "new"}}, nil).Once()
	require.NoError(t, e.Reconcile(ctx))
	assert.Equal(t, StateOrderPlaced, e.pipeline.State())

	b.On("Order", mock.Anything, "ord-1").Return(broker.OrderStatus{
		OrderRef:       broker.OrderRef{ID: "ord-1", ClientOrderID: "run-SPY-1", Status: broker.StatusFilled},
		Symbol:         "SPY",
		Side:           "buy",
		FilledQty:      decimal.NewFromInt(31),
		FilledAvgPrice: decimal.RequireFromString("1.59"),
	}, nil).Once()
	require.NoError(t, e.Reconcile(ctx))
	assert.Equal(t, StateSettled, e.pipeline.State())
	b.AssertExpectations(t)

	record, err := st.Load(ctx, e.Strategy().ID())
	require.NoError(t, err)
	assert.True(t, record.QuotePair.Units.Equal(decimal.NewFromInt(31)))
	assert.True(t, record.BasePair.TradeableUnits.LessThan(decimal.NewFromInt(1000)))

	// nothing pending any more
	require.NoError(t, e.Reconcile(ctx))

	logged := readDecisions(t, path)
	assert.Equal(t, []string{"order_submitted", "awaiting_settlement", "settled_filled"}, results(logged))
	assert.Equal(t, "ord-1", logged[0].OrderID)
	assert.Equal(t, 31, logged[0].Units)
	assert.NotEmpty(t, logged[0].Indicators)
	assert.Equal(t, StateSettled, logged[2].State)
}

func TestEngineSellFillReallocates(t *testing.T) {
	b := new(mockBroker)
	e, _, path := newTestEngine(t, engineConfig(config.ModePaper), classifier.Sell, b)
	ctx := context.Background()

	pf := e.Strategy().Portfolio()
	pf.Update(portfolioBuy(40, 1.0))
	require.True(t, pf.BasePair().TradeableUnits.Equal(decimal.NewFromInt(960)))

	b.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req broker.OrderRequest) bool {
		return req.Side == alpaca.Sell && req.Qty == 40
	})).Return(broker.OrderRef{ID: "ord-2", ClientOrderID: "run-SPY-1"}, nil).Once()
	bars := risingBars(60)
	e.Warmup(bars[:59])
	e.OnBar(ctx, bars[59])

	b.On("Order", mock.Anything, "ord-2").Return(broker.OrderStatus{
		OrderRef:       broker.OrderRef{ID: "ord-2", Status: broker.StatusFilled},
		Side:           "sell",
		FilledQty:      decimal.NewFromInt(40),
		FilledAvgPrice: decimal.RequireFromString("1.59"),
	}, nil).Once()
	require.NoError(t, e.Reconcile(ctx))

	assert.True(t, pf.QuotePair().Units.IsZero())
	assert.True(t, pf.Profit().IsPositive())
	assert.True(t, pf.BasePair().TradeableUnits.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, []string{"order_submitted", "settled_filled"}, results(readDecisions(t, path)))
}

func TestEngineCanceledOrderSettlesEmpty(t *testing.T) {
	b := new(mockBroker)
	e, _, _ := newTestEngine(t, engineConfig(config.ModePaper), classifier.Buy, b)
	ctx := context.Background()

	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.OrderRef{ID: "ord-3"}, nil).Once()
	bars := risingBars(60)
	e.Warmup(bars[:59])
	e.OnBar(ctx, bars[59])

	b.On("Order", mock.Anything, "ord-3").
		Return(broker.OrderStatus{OrderRef: broker.OrderRef{ID: "ord-3", Status: broker.StatusCanceled}}, nil).Once()
	require.NoError(t, e.Reconcile(ctx))

	assert.Equal(t, StateSettled, e.pipeline.State())
	assert.True(t, e.Strategy().Portfolio().QuotePair().Units.IsZero())
	assert.True(t, e.Strategy().Portfolio().BasePair().TradeableUnits.Equal(decimal.NewFromInt(1000)))
}

func TestEngineStreamModeDryRun(t *testing.T) {
	e, _, path := newTestEngine(t, engineConfig(config.ModeStream), classifier.Buy, nil)
	bars := risingBars(60)
	e.Warmup(bars[:59])
	e.OnBar(context.Background(), bars[59])

	assert.Equal(t, StateSettled, e.pipeline.State())
	logged := readDecisions(t, path)
	require.Len(t, logged, 1)
	assert.Equal(t, "dry_run", logged[0].Result)
	assert.Equal(t, strategy.Buy, logged[0].Decision)
	assert.True(t, e.Strategy().Portfolio().QuotePair().Units.IsZero())
}

func TestEngineRiskRejectionSettles(t *testing.T) {
	cfg := engineConfig(config.ModePaper)
	cfg.KillSwitch = true
	b := new(mockBroker)
	e, _, path := newTestEngine(t, cfg, classifier.Buy, b)
	bars := risingBars(60)
	e.Warmup(bars[:59])
	e.OnBar(context.Background(), bars[59])

	b.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, StateSettled, e.pipeline.State())
	logged := readDecisions(t, path)
	require.Len(t, logged, 1)
	assert.Equal(t, "rejected", logged[0].Result)
	assert.Equal(t, risk.ErrKillSwitch.Error(), logged[0].RejectReason)
}

func TestEngineWarmingUpAndStay(t *testing.T) {
	e, _, path := newTestEngine(t, engineConfig(config.ModeStream), classifier.Stay, nil)
	bars := risingBars(60)
	e.OnBar(context.Background(), bars[0])
	e.Warmup(bars[1:58])
	e.OnBar(context.Background(), bars[59])

	assert.Equal(t, []string{"warming_up", "stay"}, results(readDecisions(t, path)))
}

func TestFillResponse(t *testing.T) {
	pending := pendingOrder{OrderID: "ord", Side: strategy.Sell, Units: 5, Price: 1.5}

	resp := fillResponse("SPY", pending, broker.OrderStatus{
		OrderRef:  broker.OrderRef{ID: "ord", Status: broker.StatusFilled},
		FilledQty: decimal.NewFromInt(5),
	})
	require.Len(t, resp.Closed, 1)
	assert.Empty(t, resp.Opened)
	assert.Equal(t, "sell", resp.Closed[0].Side)
	assert.True(t, resp.Price.Equal(decimal.NewFromFloat(1.5)), "falls back to the order price")

	resp = fillResponse("SPY", pending, broker.OrderStatus{OrderRef: broker.OrderRef{ID: "ord", Status: broker.StatusExpired}})
	assert.Empty(t, resp.Opened)
	assert.Empty(t, resp.Closed)
}

func portfolioBuy(units int, price float64) portfolio.OrderResponse {
	return portfolio.OrderResponse{Opened: portfolio.Trades{fill("seed", "buy", units, price)}}
}

func TestEngineAudit(t *testing.T) {
	e, _, _ := newTestEngine(t, engineConfig(config.ModePaper), classifier.Stay, new(mockBroker))
	ctx := context.Background()
	e.Strategy().Portfolio().Update(portfolioBuy(40, 1.0))

	h := new(mockHoldings)
	h.On("Position", mock.Anything, "SPY").Return(broker.Position{Symbol: "SPY", Qty: 40}, nil).Once()
	h.On("OpenOrders", mock.Anything).Return([]broker.OrderStatus{
		{OrderRef: broker.OrderRef{ID: "other"}, Symbol: "QQQ"},
	}, nil).Once()
	report, err := e.Audit(ctx, h)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 40, report.StrategyQty)

	h.On("Position", mock.Anything, "SPY").Return(broker.Position{Symbol: "SPY"}, nil).Once()
	h.On("OpenOrders", mock.Anything).Return([]broker.OrderStatus{
		{OrderRef: broker.OrderRef{ID: "stale"}, Symbol: "SPY"},
	}, nil).Once()
	report, err = e.Audit(ctx, h)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, 0, report.BrokerQty)
	assert.Equal(t, []string{"stale"}, report.OpenOrders)
	h.AssertExpectations(t)
}
