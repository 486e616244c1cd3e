package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Trade is one fill record reported by the broker. Records without an ID
// are rejected or incomplete fills.
type Trade struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument,omitempty"`
	Side       string          `json:"side,omitempty"`
	Units      decimal.Decimal `json:"units"`
	Price      decimal.Decimal `json:"price"`
}

// UnmarshalJSON accepts the trade id as a string or a number.
func (t *Trade) UnmarshalJSON(data []byte) error {
	type plain Trade
	decoded := struct {
		ID json.RawMessage `json:"id"`
		*plain
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	t.ID = gjson.GetBytes(data, "id").String()
	return nil
}

func (t Trade) IsBuy() bool {
	return strings.EqualFold(strings.TrimSpace(t.Side), "buy")
}

// Trades accepts either a single record or an array on the wire; the
// broker sends both shapes for the same field.
type Trades []Trade

func (t *Trades) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	switch {
	case res.Type == gjson.Null:
		*t = nil
		return nil
	case res.IsArray():
		var trades []Trade
		if err := json.Unmarshal(data, &trades); err != nil {
			return err
		}
		*t = trades
		return nil
	case res.IsObject():
		var trade Trade
		if err := json.Unmarshal(data, &trade); err != nil {
			return err
		}
		*t = Trades{trade}
		return nil
	default:
		return fmt.Errorf("trades: expected object or array, got %s", res.Type)
	}
}

// OrderResponse is the fill report the orchestrator receives after an
// order is submitted.
type OrderResponse struct {
	Opened Trades          `json:"opened"`
	Closed Trades          `json:"closed"`
	Price  decimal.Decimal `json:"price"`
}

// Settlement is the normalised OrderResponse.
type Settlement struct {
	Opened []Trade         `json:"opened"`
	Closed []Trade         `json:"closed"`
	Price  decimal.Decimal `json:"price"`
}

func ParseOrderResponse(raw []byte) (OrderResponse, error) {
	if !gjson.ValidBytes(raw) {
		return OrderResponse{}, errors.New("order response: invalid json")
	}
	var resp OrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return OrderResponse{}, fmt.Errorf("order response: %w", err)
	}
	return resp, nil
}
