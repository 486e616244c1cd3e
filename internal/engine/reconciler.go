package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"trader/internal/broker"
	"trader/internal/portfolio"
	"trader/internal/strategy"

	"github.com/shopspring/decimal"
)

var emptyResponse = portfolio.OrderResponse{}

type AccountReader interface {
	Account(ctx context.Context) (broker.Account, error)
}

func ReconcileLoop(ctx context.Context, engines []*Engine, account AccountReader, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range engines {
				if err := e.Reconcile(ctx); err != nil {
					e.logger.Error("reconcile failed", "error", err)
				}
			}
			if account == nil {
				continue
			}
			if acct, err := account.Account(ctx); err != nil {
				slog.Error("reconcile account failed", "error", err)
			} else {
				slog.Info("account", "equity", acct.Equity, "buying_power", acct.BuyingPower)
			}
		}
	}
}

// Reconcile settles the pending order once the broker reports it done. A
// filled sell closes the position and triggers reallocation.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil || e.broker == nil {
		return nil
	}
	status, err := e.broker.Order(ctx, e.pending.OrderID)
	if err != nil {
		return err
	}
	if !status.Done() {
		e.logger.Debug("order pending", "order_id", status.ID, "status", status.Status)
		return nil
	}

	pending := *e.pending
	settlement, err := e.pipeline.Settle(fillResponse(e.symbol, pending, status))
	if err != nil {
		return err
	}
	e.pending = nil

	closed := len(settlement.Closed) > 0
	if closed {
		if err := e.pipeline.Reallocate(); err != nil {
			return err
		}
	}

	e.decisions.Append(Decision{
		RunID:         e.runID,
		Timestamp:     e.now(),
		Symbol:        e.symbol,
		StrategyID:    e.pipeline.Strategy().ID(),
		Decision:      pending.Side,
		Units:         int(status.FilledQty.IntPart()),
		Price:         status.FilledAvgPrice.InexactFloat64(),
		State:         e.pipeline.State(),
		Result:        "settled_" + status.Status,
		OrderID:       status.ID,
		ClientOrderID: status.ClientOrderID,
		Profit:        e.pipeline.Strategy().Portfolio().Profit().String(),
	})
	e.logger.Info("order settled", "order_id", status.ID, "status", status.Status, "filled_qty", status.FilledQty.String(), "reallocated", closed)
	return e.Checkpoint(ctx)
}

// fillResponse turns a finished broker order into a fill report. Buys open
// a position; sells close it.
func fillResponse(symbol string, pending pendingOrder, status broker.OrderStatus) portfolio.OrderResponse {
	if !status.FilledQty.IsPositive() {
		return emptyResponse
	}
	price := status.FilledAvgPrice
	if !price.IsPositive() {
		price = decimal.NewFromFloat(pending.Price)
	}
	side := strings.ToLower(status.Side)
	if side == "" {
		side = strings.ToLower(string(pending.Side))
	}
	trade := portfolio.Trade{
		ID:         status.ID,
		Instrument: symbol,
		Side:       side,
		Units:      status.FilledQty,
		Price:      price,
	}
	resp := portfolio.OrderResponse{Price: price}
	if strategy.Decision(strings.ToUpper(side)) == strategy.Sell {
		resp.Closed = portfolio.Trades{trade}
	} else {
		resp.Opened = portfolio.Trades{trade}
	}
	return resp
}

// Holdings is the broker's view of resting orders and positions.
type Holdings interface {
	OpenOrders(ctx context.Context) ([]broker.OrderStatus, error)
	Position(ctx context.Context, symbol string) (broker.Position, error)
}

// AuditReport compares what the broker holds for a symbol with what the
// strategy believes it holds.
type AuditReport struct {
	Symbol      string
	BrokerQty   int
	StrategyQty int
	// OpenOrders are resting orders for the symbol that this engine is not
	// waiting on.
	OpenOrders []string
}

func (r AuditReport) Consistent() bool {
	return r.BrokerQty == r.StrategyQty && len(r.OpenOrders) == 0
}

// Audit reads the broker's position and resting orders for the engine's
// symbol. Mismatches are logged, not corrected: the strategy portfolio only
// moves through settlements.
func (e *Engine) Audit(ctx context.Context, holdings Holdings) (AuditReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := AuditReport{
		Symbol:      e.symbol,
		StrategyQty: int(e.pipeline.Strategy().Portfolio().QuotePair().Units.IntPart()),
	}
	position, err := holdings.Position(ctx, e.symbol)
	if err != nil {
		return report, err
	}
	report.BrokerQty = position.Qty

	open, err := holdings.OpenOrders(ctx)
	if err != nil {
		return report, err
	}
	for _, order := range open {
		if order.Symbol != e.symbol {
			continue
		}
		if e.pending != nil && order.ID == e.pending.OrderID {
			continue
		}
		report.OpenOrders = append(report.OpenOrders, order.ID)
	}

	if report.Consistent() {
		e.logger.Info("broker holdings match", "qty", report.BrokerQty)
	} else {
		e.logger.Warn("broker holdings differ", "broker_qty", report.BrokerQty, "strategy_qty", report.StrategyQty, "untracked_orders", report.OpenOrders)
	}
	return report, nil
}
