package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trader/internal/portfolio"
	"trader/internal/strategy"
)

var (
	ErrTickInProgress    = errors.New("tick already in progress")
	ErrInvalidTransition = errors.New("invalid pipeline transition")
)

type State string

const (
	StateCreated     State = "CREATED"
	StateAnalyzed    State = "ANALYZED"
	StateDecided     State = "DECIDED"
	StateOrderPlaced State = "ORDER_PLACED"
	StateNoAction    State = "NO_ACTION"
	StateSettled     State = "SETTLED"
)

// TickResult is what one tick produced. Order is nil unless Decision is BUY or SELL.
type TickResult struct {
	Time     time.Time
	Decision strategy.Decision
	Order    *strategy.Order
	Analysis strategy.Analysis
	State    State
}

// Pipeline runs one strategy through analyze, decide and settle.
// Ticks are sequential; a tick that overlaps another fails fast.
type Pipeline struct {
	strategy strategy.Strategy
	logger   *slog.Logger

	ticking atomic.Bool

	mu          sync.Mutex
	state       State
	reallocated bool
}

func NewPipeline(s strategy.Strategy, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		strategy: s,
		logger:   logger.With("strategy_id", s.ID(), "strategy", s.Name()),
		state:    StateCreated,
	}
}

func (p *Pipeline) Strategy() strategy.Strategy {
	return p.strategy
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Tick analyzes data and decides. A pending order must be settled first.
func (p *Pipeline) Tick(ctx context.Context, data strategy.MarketData) (TickResult, error) {
	if !p.ticking.CompareAndSwap(false, true) {
		return TickResult{Decision: strategy.Stay}, ErrTickInProgress
	}
	defer p.ticking.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	result := TickResult{Decision: strategy.Stay, State: p.state}
	switch p.state {
	case StateCreated, StateSettled:
	case StateNoAction:
		// nothing to settle
	default:
		return result, fmt.Errorf("%w: tick from %s", ErrInvalidTransition, p.state)
	}

	analysis, err := p.strategy.Analyze(data)
	if err != nil {
		p.logger.Warn("analysis failed", "error", err)
		return result, err
	}
	p.state = StateAnalyzed
	result.Analysis = analysis
	result.Time = analysis.Time()

	decision, order, err := p.strategy.Decide(ctx, analysis)
	p.state = StateDecided
	if err != nil {
		p.state = StateNoAction
		result.State = p.state
		p.logger.Warn("decision failed", "error", err)
		return result, err
	}

	if decision == strategy.Stay || order == nil {
		p.state = StateNoAction
		result.State = p.state
		return result, nil
	}
	p.state = StateOrderPlaced
	result.Decision = decision
	result.Order = order
	result.State = p.state
	p.logger.Info("order emitted", "side", order.Side, "units", order.Units, "price", order.Price, "expiry", order.Expiry)
	return result, nil
}

// Settle applies broker fills for the last tick. An empty response settles an
// order that never filled.
func (p *Pipeline) Settle(resp portfolio.OrderResponse) (portfolio.Settlement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateOrderPlaced && p.state != StateNoAction {
		return portfolio.Settlement{}, fmt.Errorf("%w: settle from %s", ErrInvalidTransition, p.state)
	}
	settlement := p.strategy.Portfolio().Update(resp)
	p.state = StateSettled
	p.reallocated = false
	p.logger.Info("settled", "opened", len(settlement.Opened), "closed", len(settlement.Closed), "profit", p.strategy.Portfolio().Profit().String())
	return settlement, nil
}

// Reallocate restores tradeable capital once per settlement.
func (p *Pipeline) Reallocate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateSettled {
		return fmt.Errorf("%w: reallocate from %s", ErrInvalidTransition, p.state)
	}
	if p.reallocated {
		return fmt.Errorf("%w: already reallocated this settlement", ErrInvalidTransition)
	}
	p.strategy.AllocateTradeableAmount()
	p.reallocated = true
	p.logger.Info("reallocated", "base_tradeable", p.strategy.Portfolio().BasePair().TradeableUnits.String())
	return nil
}
