// Package store persists strategy configuration keyed by strategy ID.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trader/internal/portfolio"
)

var (
	ErrConfiguration = errors.New("invalid strategy configuration")
	ErrNotFound      = errors.New("strategy not found")
)

type ClassifierConfig struct {
	ID        string `json:"classifier_id"`
	ModelPath string `json:"model_path,omitempty"`
}

// Record is the persisted configuration of one strategy.
type Record struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Instrument string           `json:"instrument"`
	BasePair   portfolio.Pair   `json:"base_pair"`
	QuotePair  portfolio.Pair   `json:"quote_pair"`
	Classifier ClassifierConfig `json:"classifier_config"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.Instrument) == "" {
		return fmt.Errorf("%w: instrument is missing", ErrConfiguration)
	}
	if strings.TrimSpace(r.BasePair.Currency) == "" {
		return fmt.Errorf("%w: base_pair currency is missing", ErrConfiguration)
	}
	if strings.TrimSpace(r.QuotePair.Currency) == "" {
		return fmt.Errorf("%w: quote_pair currency is missing", ErrConfiguration)
	}
	return nil
}

// Store must allow concurrent Load/Save for different IDs.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, id string, record Record) error
}
