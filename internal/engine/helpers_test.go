package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trader/internal/broker"
	"trader/internal/classifier"
	"trader/internal/md"
	"trader/internal/portfolio"
	"trader/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var startTime = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

// stubClassifier answers with a fixed label. When gate is set, Predict
// signals entered and waits for gate to close.
type stubClassifier struct {
	mu      sync.Mutex
	label   classifier.Label
	err     error
	calls   atomic.Int32
	entered chan struct{}
	gate    chan struct{}
}

func (c *stubClassifier) Predict(ctx context.Context, features map[string]float64, opts classifier.PredictOptions) (classifier.Prediction, error) {
	c.calls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return classifier.Prediction{Label: c.label}, c.err
}

func (c *stubClassifier) set(label classifier.Label) {
	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
}

func newStrategy(t *testing.T, clf classifier.Classifier) strategy.Strategy {
	t.Helper()
	s, err := strategy.NewRandomStumps(strategy.Deps{
		NewClassifier: strategy.StaticClassifier(clf),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return startTime },
	}, strategy.Params{
		Instrument: "SPY",
		BasePair: portfolio.Pair{
			Currency:       "USD",
			StartingUnits:  decimal.NewFromInt(1000),
			TradeableUnits: decimal.NewFromInt(1000),
			Units:          decimal.NewFromInt(1000),
		},
		QuotePair: portfolio.Pair{Currency: "SPY"},
	})
	require.NoError(t, err)
	return s
}

// risingBars returns n ten-minute bars closing at 1.00, 1.01, ...
func risingBars(n int) []md.Bar {
	bars := make([]md.Bar, n)
	for i := range bars {
		price := 1.0 + float64(i)*0.01
		bars[i] = md.Bar{
			Symbol:    "SPY",
			Timestamp: startTime.Add(time.Duration(i) * 10 * time.Minute),
			Open:      price - 0.002,
			High:      price + 0.005,
			Low:       price - 0.005,
			Close:     price,
			Volume:    10,
		}
	}
	return bars
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderRef, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(broker.OrderRef), args.Error(1)
}

func (m *mockBroker) Order(ctx context.Context, id string) (broker.OrderStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(broker.OrderStatus), args.Error(1)
}

type mockHoldings struct {
	mock.Mock
}

func (m *mockHoldings) OpenOrders(ctx context.Context) ([]broker.OrderStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]broker.OrderStatus), args.Error(1)
}

func (m *mockHoldings) Position(ctx context.Context, symbol string) (broker.Position, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(broker.Position), args.Error(1)
}

func newDecisionLog(t *testing.T) (*DecisionLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.ndjson")
	logger, err := NewDecisionLogger(path, "run")
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func readDecisions(t *testing.T, path string) []Decision {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var out []Decision
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var d Decision
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		out = append(out, d)
	}
	require.NoError(t, scanner.Err())
	return out
}

func results(decisions []Decision) []string {
	out := make([]string, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, d.Result)
	}
	return out
}
