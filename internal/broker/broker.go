package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Symbol        string
	Qty           int
	Side          alpaca.Side
	Type          alpaca.OrderType
	TimeInForce   alpaca.TimeInForce
	ClientOrderID string
}

type OrderRef struct {
	ID            string
	ClientOrderID string
	Status        string
}

// OrderStatus is a broker order with its fill progress.
type OrderStatus struct {
	OrderRef
	Symbol         string
	Side           string
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
}

// Order states reported by the broker that end an order's life.
const (
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusRejected = "rejected"
)

// Done reports whether the order can no longer fill.
func (o OrderStatus) Done() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

type Position struct {
	Symbol   string
	Qty      int
	AvgEntry float64
}

type Account struct {
	Equity      float64
	BuyingPower float64
}

type Client struct {
	client *alpaca.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts)}
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if req.Qty < 1 {
		return OrderRef{}, fmt.Errorf("order quantity must be positive, got %d", req.Qty)
	}
	qty := decimal.NewFromInt(int64(req.Qty))
	order, err := c.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "type", req.Type, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place order success", "order_id", order.ID, "side", req.Side, "symbol", req.Symbol, "qty", req.Qty, "type", req.Type, "status", order.Status)
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
	}, nil
}

// Order looks up an order and its fills.
func (c *Client) Order(ctx context.Context, id string) (OrderStatus, error) {
	order, err := c.client.GetOrder(id)
	if err != nil {
		slog.Error("fetch order failed", "order_id", id, "error", err)
		return OrderStatus{}, err
	}
	status := OrderStatus{
		OrderRef: OrderRef{
			ID:            order.ID,
			ClientOrderID: order.ClientOrderID,
			Status:        string(order.Status),
		},
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		FilledQty: order.FilledQty,
	}
	if order.FilledAvgPrice != nil {
		status.FilledAvgPrice = *order.FilledAvgPrice
	}
	slog.Debug("order fetched", "order_id", id, "status", status.Status, "filled_qty", status.FilledQty.String())
	return status, nil
}

// OpenOrders lists every resting order on the account.
func (c *Client) OpenOrders(ctx context.Context) ([]OrderStatus, error) {
	req := alpaca.GetOrdersRequest{
		Status: "open",
	}
	orders, err := c.client.GetOrders(req)
	if err != nil {
		slog.Error("fetch open orders failed", "error", err)
		return nil, err
	}
	slog.Debug("open orders fetched", "count", len(orders))
	open := make([]OrderStatus, 0, len(orders))
	for _, order := range orders {
		open = append(open, OrderStatus{
			OrderRef: OrderRef{
				ID:            order.ID,
				ClientOrderID: order.ClientOrderID,
				Status:        string(order.Status),
			},
			Symbol:    order.Symbol,
			Side:      string(order.Side),
			FilledQty: order.FilledQty,
		})
	}
	return open, nil
}

// Position returns the account's holding in symbol. A symbol with no
// position reports a zero quantity.
func (c *Client) Position(ctx context.Context, symbol string) (Position, error) {
	pos, err := c.client.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return Position{Symbol: symbol}, nil
		}
		slog.Error("fetch position failed", "symbol", symbol, "error", err)
		return Position{}, err
	}
	qty := int(pos.Qty.IntPart())
	avgEntry, _ := pos.AvgEntryPrice.Float64()

	slog.Info("position fetched", "symbol", symbol, "qty", qty, "avg_entry", avgEntry)
	return Position{
		Symbol:   pos.Symbol,
		Qty:      qty,
		AvgEntry: avgEntry,
	}, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return Account{}, err
	}
	equity, _ := acct.Equity.Float64()
	buyingPower, _ := acct.BuyingPower.Float64()

	slog.Info("account fetched", "equity", equity, "buying_power", buyingPower)
	return Account{Equity: equity, BuyingPower: buyingPower}, nil
}
