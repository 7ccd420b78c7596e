package markov

import (
	"slices"

	"github.com/CTAG07/Haikoo/pkg/syllable"
)

// Transition is one candidate next token out of a state, with its accumulated
// weight and its syllable count. Sentinels always have zero syllables.
type Transition struct {
	Token     string
	Weight    float64
	Syllables int
}

// transitions holds the ordered candidates of a single state. Order is the
// order in which candidates were first seen, which keeps sampling
// reproducible under a seeded source.
type transitions struct {
	state []string
	list  []Transition
	index map[string]int
}

// Table is a syllable-annotated Markov transition table. It is immutable once
// constructed and safe for concurrent walks.
type Table struct {
	stateSize int
	states    map[string]*transitions
	order     []string

	// The all-Begin state starts every unseeded walk, so its weights are
	// summed once up front.
	beginKey        string
	beginCumulative []float64
}

func newTable(stateSize int) *Table {
	return &Table{
		stateSize: stateSize,
		states:    make(map[string]*transitions),
		beginKey:  stateKey(beginState(stateSize)),
	}
}

// add accumulates weight onto the (state, token) entry, creating it if needed.
// The syllable count is overwritten, last writer wins.
func (t *Table) add(state []string, token string, weight float64, syllables int) {
	key := stateKey(state)
	tr, ok := t.states[key]
	if !ok {
		tr = &transitions{
			state: slices.Clone(state),
			index: make(map[string]int),
		}
		t.states[key] = tr
		t.order = append(t.order, key)
	}

	if i, ok := tr.index[token]; ok {
		tr.list[i].Weight += weight
		tr.list[i].Syllables = syllables
		return
	}
	tr.index[token] = len(tr.list)
	tr.list = append(tr.list, Transition{Token: token, Weight: weight, Syllables: syllables})
}

// finalize precomputes the begin state's cumulative weights. It must be called
// once after the last add.
func (t *Table) finalize() {
	t.beginCumulative = nil
	if tr, ok := t.states[t.beginKey]; ok && len(tr.list) > 0 {
		t.beginCumulative = Cumulative(weightsOf(tr.list))
	}
}

// Build constructs a table from runs of tokens. Each run is padded with
// stateSize Begin tokens and one End token, and every window of stateSize
// tokens records the token that follows it with weight 1 per occurrence.
func Build(runs [][]string, stateSize int) *Table {
	t := newTable(stateSize)

	for _, run := range runs {
		items := make([]string, 0, len(run)+stateSize+1)
		items = append(items, beginState(stateSize)...)
		items = append(items, run...)
		items = append(items, End)

		for i := 0; i < len(run)+1; i++ {
			follow := items[i+stateSize]
			t.add(items[i:i+stateSize], follow, 1, tokenSyllables(follow))
		}
	}

	t.finalize()
	return t
}

func tokenSyllables(token string) int {
	if IsSentinel(token) {
		return 0
	}
	return syllable.Count(token)
}

func weightsOf(list []Transition) []float64 {
	weights := make([]float64, len(list))
	for i, tr := range list {
		weights[i] = tr.Weight
	}
	return weights
}

// StateSize returns the number of tokens in every state of the table.
func (t *Table) StateSize() int {
	return t.stateSize
}

// Len returns the number of states in the table.
func (t *Table) Len() int {
	return len(t.order)
}

// BeginState returns the initial state of an unseeded walk.
func (t *Table) BeginState() []string {
	return beginState(t.stateSize)
}

// States returns every state in the order it was first added.
func (t *Table) States() [][]string {
	states := make([][]string, 0, len(t.order))
	for _, key := range t.order {
		states = append(states, slices.Clone(t.states[key].state))
	}
	return states
}

// Transitions returns a copy of the candidates out of state, or nil if the
// state is unknown.
func (t *Table) Transitions(state []string) []Transition {
	tr, ok := t.states[stateKey(state)]
	if !ok {
		return nil
	}
	return slices.Clone(tr.list)
}

// SeedStates returns every state whose non-Begin tokens start with word, in
// table order. These are the states a walk can be seeded with to make a
// sentence that starts with word.
func (t *Table) SeedStates(word string) [][]string {
	var seeds [][]string
	for _, key := range t.order {
		state := t.states[key].state
		for _, token := range state {
			if token == Begin {
				continue
			}
			if token == word {
				seeds = append(seeds, slices.Clone(state))
			}
			break
		}
	}
	return seeds
}
