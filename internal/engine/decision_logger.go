package engine

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"trader/internal/strategy"
)

// Decision is one NDJSON line in the decision log.
type Decision struct {
	RunID          string             `json:"run_id"`
	Timestamp      time.Time          `json:"timestamp"`
	BarTime        time.Time          `json:"bar_time,omitempty"`
	Symbol         string             `json:"symbol"`
	StrategyID     string             `json:"strategy_id"`
	Close          float64            `json:"close,omitempty"`
	Indicators     map[string]float64 `json:"indicators,omitempty"`
	Decision       strategy.Decision  `json:"decision,omitempty"`
	Units          int                `json:"units,omitempty"`
	Price          float64            `json:"price,omitempty"`
	Expiry         string             `json:"expiry,omitempty"`
	State          State              `json:"state"`
	Result         string             `json:"result"`
	ApprovalReason string             `json:"approval_reason,omitempty"`
	RejectReason   string             `json:"reject_reason,omitempty"`
	OrderID        string             `json:"order_id,omitempty"`
	ClientOrderID  string             `json:"client_order_id,omitempty"`
	Profit         string             `json:"profit,omitempty"`
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		slog.Error("marshal decision failed", "error", err)
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		slog.Error("write decision failed", "error", err)
		return
	}
	if err := d.writer.Flush(); err != nil {
		slog.Error("flush decision log failed", "error", err)
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
