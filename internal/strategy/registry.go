package strategy

import (
	"context"
	"fmt"

	"trader/internal/store"
)

// New builds a fresh strategy by name.
func New(name string, deps Deps, params Params) (Strategy, error) {
	switch name {
	case NameRandomStumps:
		s, err := NewRandomStumps(deps, params)
		if err != nil {
			return nil, err
		}
		return s, nil
	case NamePatternMatch:
		s, err := NewPatternMatch(deps, params)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", store.ErrConfiguration, name)
	}
}

// Load rehydrates a strategy from its persisted record.
func Load(ctx context.Context, st store.Store, id string, deps Deps) (Strategy, error) {
	record, err := st.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return New(record.Name, deps, Params{
		ID:         id,
		Instrument: record.Instrument,
		BasePair:   record.BasePair,
		QuotePair:  record.QuotePair,
		Classifier: record.Classifier,
	})
}

func Save(ctx context.Context, st store.Store, s Strategy) error {
	return st.Save(ctx, s.ID(), s.Record())
}
