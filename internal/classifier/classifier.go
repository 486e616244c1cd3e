// Package classifier is the boundary to the trained trade-side model.
// Strategies hand it a feature mapping and get a label back; model training
// and lifecycle live elsewhere.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("classifier unavailable")

type Label string

const (
	Buy  Label = "BUY"
	Sell Label = "SELL"
	Stay Label = "STAY"
)

func ParseLabel(v string) Label {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(Buy):
		return Buy
	case string(Sell):
		return Sell
	default:
		return Stay
	}
}

type Prediction struct {
	Label      Label
	Confidence float64
	// Scores holds the raw model output when the prediction is not unwrapped.
	Scores []float32
}

type PredictOptions struct {
	// FormatData orders the feature mapping into the model's input vector.
	FormatData bool
	// UnwrapPrediction reduces the raw class scores to a single label.
	UnwrapPrediction bool
}

// Classifier must be safe for concurrent use by independent strategies.
type Classifier interface {
	Predict(ctx context.Context, features map[string]float64, opts PredictOptions) (Prediction, error)
}

// Vectorize orders features by names. Every name must be present.
func Vectorize(features map[string]float64, names []string) ([]float32, error) {
	out := make([]float32, len(names))
	for i, name := range names {
		v, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("feature %q missing", name)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// Unwrap picks the highest scoring class. classes[i] names scores[i].
func Unwrap(scores []float32, classes []Label) (Prediction, error) {
	if len(classes) == 0 || len(scores) < len(classes) {
		return Prediction{}, fmt.Errorf("expected %d class scores, got %d", len(classes), len(scores))
	}
	best := 0
	for i := 1; i < len(classes); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return Prediction{Label: classes[best], Confidence: float64(scores[best])}, nil
}
