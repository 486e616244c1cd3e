package strategy

import (
	"fmt"
	"sort"
	"time"
)

// Analysis is the immutable result of Analyze for one tick.
type Analysis struct {
	at     time.Time
	values map[string]float64
}

func NewAnalysis(at time.Time, values map[string]float64) Analysis {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Analysis{at: at, values: copied}
}

func (a Analysis) Time() time.Time {
	return a.at
}

func (a Analysis) Value(name string) (float64, bool) {
	v, ok := a.values[name]
	return v, ok
}

func (a Analysis) Values() map[string]float64 {
	copied := make(map[string]float64, len(a.values))
	for k, v := range a.values {
		copied[k] = v
	}
	return copied
}

func (a Analysis) Keys() []string {
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// must panics on a key Analyze never produced; that is a wiring bug, not a
// market condition.
func (a Analysis) must(name string) float64 {
	v, ok := a.values[name]
	if !ok {
		panic(fmt.Sprintf("strategy: analysis has no %q; Decide called without a matching Analyze", name))
	}
	return v
}

func (a Analysis) features(names []string) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = a.must(name)
	}
	return out
}
