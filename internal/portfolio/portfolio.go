package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var ErrInvalidPair = errors.New("invalid pair")

// Pair is one side of the instrument: the currency held and how much of it
// the strategy may trade. Units is the full holding.
type Pair struct {
	Currency       string          `json:"currency"`
	StartingUnits  decimal.Decimal `json:"starting_units"`
	TradeableUnits decimal.Decimal `json:"tradeable_units"`
	Units          decimal.Decimal `json:"units"`
}

// UnmarshalJSON backfills Units from TradeableUnits for records persisted
// before holdings were tracked. A present zero is kept.
func (p *Pair) UnmarshalJSON(data []byte) error {
	type plain Pair
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = Pair(decoded)
	if !gjson.GetBytes(data, "units").Exists() {
		p.Units = p.TradeableUnits
	}
	return nil
}

func (p Pair) validate(role string) error {
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("%w: %s currency is empty", ErrInvalidPair, role)
	}
	if p.StartingUnits.IsNegative() || p.TradeableUnits.IsNegative() || p.Units.IsNegative() {
		return fmt.Errorf("%w: %s units must be >= 0", ErrInvalidPair, role)
	}
	return nil
}

// Portfolio tracks the base (funding) and quote (acquired) balances of one
// strategy. Base tradeable units only grow through AllocateTradeableAmount.
type Portfolio struct {
	mu         sync.RWMutex
	instrument string
	base       Pair
	quote      Pair
	lastPrice  decimal.Decimal
}

func New(instrument string, base, quote Pair) (*Portfolio, error) {
	if strings.TrimSpace(instrument) == "" {
		return nil, fmt.Errorf("%w: instrument is empty", ErrInvalidPair)
	}
	if err := base.validate("base"); err != nil {
		return nil, err
	}
	if err := quote.validate("quote"); err != nil {
		return nil, err
	}
	return &Portfolio{instrument: instrument, base: base, quote: quote}, nil
}

func (p *Portfolio) Instrument() string {
	return p.instrument
}

func (p *Portfolio) BasePair() Pair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

func (p *Portfolio) QuotePair() Pair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quote
}

func (p *Portfolio) LastPrice() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPrice
}

// Profit values both holdings at the last settled price against the
// starting balances.
func (p *Portfolio) Profit() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profitLocked()
}

func (p *Portfolio) profitLocked() decimal.Decimal {
	current := p.base.Units.Add(p.quote.Units.Mul(p.lastPrice))
	starting := p.base.StartingUnits.Add(p.quote.StartingUnits.Mul(p.lastPrice))
	return current.Sub(starting)
}

// AllocateTradeableAmount resets the base tradeable units to the starting
// units when the portfolio is in profit. It never lowers them.
func (p *Portfolio) AllocateTradeableAmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.profitLocked().IsPositive() {
		return
	}
	if p.base.StartingUnits.GreaterThan(p.base.TradeableUnits) {
		p.base.TradeableUnits = p.base.StartingUnits
	}
}

// Update normalises a fill report, applies the fills to the balances and
// returns the normalised report.
func (p *Portfolio) Update(resp OrderResponse) Settlement {
	settlement := Settlement{
		Opened: withID(resp.Opened),
		Closed: withID(resp.Closed),
		Price:  resp.Price,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, trade := range settlement.Opened {
		p.applyLocked(trade, settlement.Price, false)
	}
	for _, trade := range settlement.Closed {
		p.applyLocked(trade, settlement.Price, true)
	}
	if settlement.Price.IsPositive() {
		p.lastPrice = settlement.Price
	}
	return settlement
}

func (p *Portfolio) applyLocked(trade Trade, fallback decimal.Decimal, closing bool) {
	price := trade.Price
	if !price.IsPositive() {
		price = fallback
	}
	units := trade.Units.Abs()
	if units.IsZero() || !price.IsPositive() {
		return
	}
	cost := units.Mul(price)
	if !closing && trade.IsBuy() {
		p.quote.Units = p.quote.Units.Add(units)
		p.quote.TradeableUnits = p.quote.TradeableUnits.Add(units)
		p.base.Units = floorZero(p.base.Units.Sub(cost))
		p.base.TradeableUnits = floorZero(p.base.TradeableUnits.Sub(cost))
		return
	}
	p.quote.Units = floorZero(p.quote.Units.Sub(units))
	p.quote.TradeableUnits = floorZero(p.quote.TradeableUnits.Sub(units))
	p.base.Units = p.base.Units.Add(cost)
}

func withID(trades Trades) []Trade {
	out := make([]Trade, 0, len(trades))
	for _, trade := range trades {
		if strings.TrimSpace(trade.ID) == "" {
			continue
		}
		out = append(out, trade)
	}
	return out
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
