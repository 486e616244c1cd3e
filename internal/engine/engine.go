package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trader/internal/broker"
	"trader/internal/config"
	"trader/internal/md"
	"trader/internal/risk"
	"trader/internal/store"
	"trader/internal/strategy"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Broker is the order surface the engine needs.
type Broker interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error)
	Order(ctx context.Context, id string) (broker.OrderStatus, error)
}

type pendingOrder struct {
	OrderID       string
	ClientOrderID string
	Side          strategy.Decision
	Units         int
	Price         float64
	SubmittedAt   time.Time
}

// Engine feeds bars for one symbol into a strategy pipeline and routes the
// resulting orders.
type Engine struct {
	cfg         config.Config
	symbol      string
	pipeline    *Pipeline
	gate        risk.Gate
	broker      Broker
	store       store.Store
	decisions   *DecisionLogger
	logger      *slog.Logger
	runID       string
	orderSeqNum uint64
	now         func() time.Time

	mu            sync.Mutex
	buffer        *md.RingBuffer[md.Bar]
	pending       *pendingOrder
	lastTradeTime time.Time
}

func New(cfg config.Config, symbol string, pipeline *Pipeline, gate risk.Gate, brokerClient Broker, st store.Store, decisions *DecisionLogger) *Engine {
	window := cfg.BarsWindow
	if dw := pipeline.Strategy().Config().DataWindow; dw > window {
		window = dw
	}
	return &Engine{
		cfg:       cfg,
		symbol:    symbol,
		pipeline:  pipeline,
		gate:      gate,
		broker:    brokerClient,
		store:     st,
		decisions: decisions,
		logger:    slog.Default().With("symbol", symbol, "strategy_id", pipeline.Strategy().ID()),
		runID:     decisions.RunID(),
		now:       func() time.Time { return time.Now().UTC() },
		buffer:    md.NewRingBuffer[md.Bar](window),
	}
}

func (e *Engine) Symbol() string {
	return e.symbol
}

func (e *Engine) Strategy() strategy.Strategy {
	return e.pipeline.Strategy()
}

// Warmup seeds the bar window without deciding.
func (e *Engine) Warmup(bars []md.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bar := range bars {
		e.buffer.Add(bar)
	}
	e.logger.Info("warmup complete", "bars", e.buffer.Len(), "window", e.buffer.Cap())
}

func (e *Engine) OnBar(ctx context.Context, bar md.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	barTime := bar.Timestamp.UTC()
	e.logger.Debug("bar received", "close", bar.Close, "time", barTime.Format(time.RFC3339))
	e.buffer.Add(bar)

	result, err := e.pipeline.Tick(ctx, marketData(e.buffer.Values()))
	decision := Decision{
		RunID:      e.runID,
		Timestamp:  e.now(),
		BarTime:    barTime,
		Symbol:     e.symbol,
		StrategyID: e.pipeline.Strategy().ID(),
		Close:      bar.Close,
		Decision:   result.Decision,
		Indicators: result.Analysis.Values(),
	}

	if err != nil {
		decision.Result = tickFailure(err)
		decision.RejectReason = err.Error()
		e.finish(decision)
		e.logger.Info("tick failed", "result", decision.Result, "error", err)
		return
	}

	if result.Order == nil {
		decision.Result = "stay"
		e.settleIdle(&decision)
		e.finish(decision)
		return
	}

	order := *result.Order
	decision.Units = order.Units
	decision.Price = order.Price
	decision.Expiry = order.Expiry

	approved, err := e.gate.Evaluate(order, e.riskContext())
	if err != nil {
		decision.Result = "rejected"
		decision.RejectReason = err.Error()
		e.settleIdle(&decision)
		e.finish(decision)
		return
	}
	decision.ApprovalReason = approved.Reason

	if e.cfg.Mode == config.ModeStream || e.broker == nil {
		decision.Result = "dry_run"
		e.settleIdle(&decision)
		e.finish(decision)
		e.logger.Info("dry run", "side", order.Side, "units", order.Units, "price", order.Price)
		return
	}

	orderReq, err := e.buildOrder(approved.Order)
	if err != nil {
		decision.Result = "order_build_failed"
		decision.RejectReason = err.Error()
		e.settleIdle(&decision)
		e.finish(decision)
		return
	}

	orderRef, err := e.broker.PlaceOrder(ctx, orderReq)
	if err != nil {
		decision.Result = "order_failed"
		decision.RejectReason = err.Error()
		e.settleIdle(&decision)
		e.finish(decision)
		return
	}

	decision.Result = "order_submitted"
	decision.OrderID = orderRef.ID
	decision.ClientOrderID = orderRef.ClientOrderID
	decision.State = e.pipeline.State()
	e.decisions.Append(decision)
	e.logger.Info("order submitted", "side", order.Side, "units", order.Units, "order_id", orderRef.ID, "client_order_id", orderRef.ClientOrderID)

	e.lastTradeTime = e.now()
	e.pending = &pendingOrder{
		OrderID:       orderRef.ID,
		ClientOrderID: orderRef.ClientOrderID,
		Side:          strategy.Decision(order.Side),
		Units:         order.Units,
		Price:         order.Price,
		SubmittedAt:   e.lastTradeTime,
	}
}

// Checkpoint persists the strategy record.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := strategy.Save(ctx, e.store, e.pipeline.Strategy()); err != nil {
		return fmt.Errorf("checkpoint %s: %w", e.pipeline.Strategy().ID(), err)
	}
	return nil
}

func (e *Engine) finish(decision Decision) {
	decision.State = e.pipeline.State()
	e.decisions.Append(decision)
}

// settleIdle closes a tick that produced no broker order.
func (e *Engine) settleIdle(decision *Decision) {
	if _, err := e.pipeline.Settle(emptyResponse); err != nil {
		e.logger.Error("settle failed", "error", err)
		decision.RejectReason = err.Error()
	}
}

func (e *Engine) riskContext() risk.RiskContext {
	openOrders := 0
	if e.pending != nil {
		openOrders = 1
	}
	return risk.RiskContext{
		Now:            e.now(),
		Instrument:     e.pipeline.Strategy().Instrument(),
		PositionQty:    int(e.pipeline.Strategy().Portfolio().QuotePair().Units.IntPart()),
		OpenOrderCount: openOrders,
		LastTradeTime:  e.lastTradeTime,
		MaxQty:         e.cfg.MaxQty,
		MaxNotional:    e.cfg.MaxNotional,
		Cooldown:       e.cfg.Cooldown,
		KillSwitch:     e.cfg.KillSwitch,
	}
}

func (e *Engine) buildOrder(order strategy.Order) (broker.OrderRequest, error) {
	orderType, err := parseOrderType(order.Type)
	if err != nil {
		return broker.OrderRequest{}, err
	}
	tif, err := parseTimeInForce(e.cfg.TimeInForce)
	if err != nil {
		return broker.OrderRequest{}, err
	}
	side := alpaca.Buy
	if strategy.Decision(order.Side) == strategy.Sell {
		side = alpaca.Sell
	}
	return broker.OrderRequest{
		Symbol:        e.symbol,
		Qty:           order.Units,
		Side:          side,
		Type:          orderType,
		TimeInForce:   tif,
		ClientOrderID: e.nextClientOrderID(),
	}, nil
}

func (e *Engine) nextClientOrderID() string {
	seq := atomic.AddUint64(&e.orderSeqNum, 1)
	return fmt.Sprintf("%s-%s-%d", e.runID, e.symbol, seq)
}

func tickFailure(err error) string {
	switch {
	case errors.Is(err, strategy.ErrInsufficientData):
		return "warming_up"
	case errors.Is(err, ErrTickInProgress):
		return "skipped"
	case errors.Is(err, ErrInvalidTransition):
		return "awaiting_settlement"
	default:
		return "error"
	}
}

func marketData(bars []md.Bar) strategy.MarketData {
	candles := make([]strategy.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, strategy.Candle{
			Time:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
	}
	data := strategy.MarketData{Historical: &strategy.Historical{Candles: candles}}
	if n := len(bars); n > 0 {
		last := bars[n-1]
		data.Current = &strategy.Quote{
			Time:  last.Timestamp,
			Bid:   last.Close,
			Ask:   last.Close,
			Open:  last.Open,
			High:  last.High,
			Low:   last.Low,
			Close: last.Close,
		}
	}
	return data
}

func parseOrderType(value string) (alpaca.OrderType, error) {
	switch value {
	case strategy.OrderMarket:
		return alpaca.Market, nil
	default:
		return "", fmt.Errorf("unsupported order type: %s", value)
	}
}

func parseTimeInForce(value string) (alpaca.TimeInForce, error) {
	switch value {
	case "day":
		return alpaca.Day, nil
	case "gtc":
		return alpaca.GTC, nil
	default:
		return "", fmt.Errorf("unsupported time in force: %s", value)
	}
}
