package risk

import (
	"errors"
	"log/slog"
	"time"

	"trader/internal/strategy"
)

var (
	ErrKillSwitch         = errors.New("kill_switch_enabled")
	ErrOpenOrderExists    = errors.New("open_order_exists")
	ErrCooldownActive     = errors.New("cooldown_active")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrMaxPosition        = errors.New("max_position_exceeded")
	ErrNoPositionToSell   = errors.New("no_position_to_sell")
	ErrMaxNotional        = errors.New("max_notional_exceeded")
	ErrUnknownOrderSide   = errors.New("unknown_order_side")
	ErrInstrumentMismatch = errors.New("instrument_mismatch")
)

type RiskContext struct {
	Now            time.Time
	Instrument     string
	PositionQty    int
	OpenOrderCount int
	LastTradeTime  time.Time
	MaxQty         int
	MaxNotional    float64
	Cooldown       time.Duration
	KillSwitch     bool
}

type Approved struct {
	Order  strategy.Order
	Reason string
}

// Gate is the last check between a strategy order and the broker.
type Gate struct{}

func (g Gate) Evaluate(order strategy.Order, ctx RiskContext) (Approved, error) {
	notional := order.Price * float64(order.Units)
	slog.Info("risk evaluation", "side", order.Side, "units", order.Units, "position", ctx.PositionQty, "price", order.Price, "notional", notional)

	reject := func(err error, attrs ...any) (Approved, error) {
		slog.Info("risk rejected", append([]any{"reason", err.Error()}, attrs...)...)
		return Approved{}, err
	}

	if ctx.KillSwitch {
		return reject(ErrKillSwitch)
	}
	if ctx.Instrument != "" && order.Instrument != ctx.Instrument {
		return reject(ErrInstrumentMismatch, "order", order.Instrument, "engine", ctx.Instrument)
	}
	if ctx.OpenOrderCount > 0 {
		return reject(ErrOpenOrderExists, "count", ctx.OpenOrderCount)
	}
	if !ctx.LastTradeTime.IsZero() && ctx.Now.Sub(ctx.LastTradeTime) < ctx.Cooldown {
		return reject(ErrCooldownActive, "remaining", ctx.Cooldown-ctx.Now.Sub(ctx.LastTradeTime))
	}
	if order.Units <= 0 {
		return reject(ErrInvalidQuantity, "units", order.Units)
	}
	switch strategy.Decision(order.Side) {
	case strategy.Buy:
		if ctx.MaxQty > 0 && order.Units+ctx.PositionQty > ctx.MaxQty {
			return reject(ErrMaxPosition, "new_qty", order.Units+ctx.PositionQty, "max", ctx.MaxQty)
		}
	case strategy.Sell:
		if ctx.PositionQty <= 0 {
			return reject(ErrNoPositionToSell)
		}
	default:
		return reject(ErrUnknownOrderSide, "side", order.Side)
	}
	if ctx.MaxNotional > 0 && notional > ctx.MaxNotional {
		return reject(ErrMaxNotional, "notional", notional, "max", ctx.MaxNotional)
	}

	slog.Info("risk approved", "side", order.Side, "units", order.Units)
	return Approved{Order: order, Reason: "approved"}, nil
}
