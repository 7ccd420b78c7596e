package markov

import (
	"fmt"
	"math"
)

// Combine merges tables into a new table. Every (state, token) weight is
// multiplied by its table's weight and summed across tables, so transitions
// seen in several sources grow stronger. Syllable counts are taken from the
// last table that has the transition. A nil weights slice weights every table
// 1.
func Combine(tables []*Table, weights []float64) (*Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables to combine", ErrValidation)
	}
	if weights == nil {
		weights = make([]float64, len(tables))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(tables) != len(weights) {
		return nil, fmt.Errorf("%w: %d tables but %d weights", ErrValidation, len(tables), len(weights))
	}

	stateSize := -1
	for i, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("%w: table %d is nil", ErrValidation, i)
		}
		if !ValidWeight(weights[i]) {
			return nil, fmt.Errorf("%w: weight %d must be finite and positive, got %g", ErrValidation, i, weights[i])
		}
		if stateSize == -1 {
			stateSize = t.stateSize
		} else if t.stateSize != stateSize {
			return nil, fmt.Errorf("%w: all tables must have the same state size (%d != %d)", ErrValidation, t.stateSize, stateSize)
		}
	}

	combined := newTable(stateSize)
	for i, t := range tables {
		for _, key := range t.order {
			tr := t.states[key]
			for _, next := range tr.list {
				combined.add(tr.state, next.Token, next.Weight*weights[i], next.Syllables)
			}
		}
	}
	combined.finalize()
	return combined, nil
}

// ValidWeight reports whether w can weight a table: finite and positive.
func ValidWeight(w float64) bool {
	return w > 0 && !math.IsInf(w, 0) && !math.IsNaN(w)
}
