package markov

import (
	"fmt"
	"math/rand/v2"
)

// defaultMaxSteps bounds a single walk. A table without a reachable End would
// otherwise loop forever.
const defaultMaxSteps = 100

// WalkState carries the counters of one walk in progress. It is owned by the
// walk, never by the table.
type WalkState struct {
	// Budget is the syllable ceiling for the walk. Zero means no ceiling.
	Budget int
	// Syllables is the running syllable total, including any seed tokens.
	Syllables int
	// Words is the number of real tokens chosen so far.
	Words int
}

// Reset zeroes the running counters, keeping the budget.
func (s *WalkState) Reset() {
	s.Syllables = 0
	s.Words = 0
}

// Remaining returns how many syllables are left in the budget.
func (s *WalkState) Remaining() int {
	return s.Budget - s.Syllables
}

// Candidates is the set of transitions a ChoiceFunc picks from.
type Candidates struct {
	Transitions []Transition
	cumulative  []float64
}

// Cumulative returns the prefix sums of the candidate weights, reusing a
// precomputed array when one is available.
func (c Candidates) Cumulative() []float64 {
	if c.cumulative != nil {
		return c.cumulative
	}
	return Cumulative(weightsOf(c.Transitions))
}

// ChoiceFunc picks the next transition of a walk. Returning a transition whose
// token is End stops the walk. ChoiceFuncs must not modify ws; accounting is
// done by the caller.
type ChoiceFunc func(rng *rand.Rand, ws *WalkState, c Candidates) Transition

// Weighted is plain Markov sampling: a weighted draw over every candidate.
func Weighted(rng *rand.Rand, _ *WalkState, c Candidates) Transition {
	return c.Transitions[Pick(rng, c.Cumulative())]
}

// SyllableBudget samples only candidates that fit in the remaining syllable
// budget. Once the budget is met it ends the walk. When no real candidate fits
// it falls back to every candidate, so the walk can overshoot instead of
// dead-ending.
func SyllableBudget(rng *rand.Rand, ws *WalkState, c Candidates) Transition {
	if ws.Syllables >= ws.Budget {
		return Transition{Token: End}
	}

	remaining := ws.Remaining()
	fits := make([]Transition, 0, len(c.Transitions))
	for _, tr := range c.Transitions {
		if tr.Syllables > 0 && tr.Syllables <= remaining {
			fits = append(fits, tr)
		}
	}

	switch {
	case len(fits) == 0:
		return Weighted(rng, ws, c)
	case len(fits) == len(c.Transitions):
		return Weighted(rng, ws, c)
	default:
		return Weighted(rng, ws, Candidates{Transitions: fits})
	}
}

// walkOptions configures a walk.
type walkOptions struct {
	budget   int
	seed     []string
	maxSteps int
	chooser  ChoiceFunc
}

// WalkOption is a function that configures a walk. It's used as a variadic
// argument to Table.Walk and the TextModel sentence functions.
type WalkOption func(*walkOptions)

// WithBudget sets the syllable ceiling of the walk. Unless a chooser is set
// explicitly, a positive budget selects the SyllableBudget strategy.
func WithBudget(n int) WalkOption {
	return func(o *walkOptions) { o.budget = n }
}

// WithSeed starts the walk from state instead of the all-Begin state. The
// seed's real tokens count against the syllable budget. The state must be as
// long as the table's state size.
func WithSeed(state []string) WalkOption {
	return func(o *walkOptions) { o.seed = state }
}

// WithMaxSteps caps the number of tokens a walk may produce.
// Default: 100
func WithMaxSteps(n int) WalkOption {
	return func(o *walkOptions) { o.maxSteps = n }
}

// WithChooser overrides the choice strategy.
func WithChooser(fn ChoiceFunc) WalkOption {
	return func(o *walkOptions) { o.chooser = fn }
}

// WalkResult is the outcome of one walk.
type WalkResult struct {
	// Tokens excludes sentinels and the seed.
	Tokens    []string
	Syllables int
	Words     int
	// Truncated is set when the walk hit its step cap instead of ending.
	Truncated bool
}

// Move applies choose to the candidates of state and accounts the chosen
// token in ws. It returns End when the state has no candidates.
func (t *Table) Move(rng *rand.Rand, state []string, ws *WalkState, choose ChoiceFunc) string {
	key := stateKey(state)
	tr, ok := t.states[key]
	if !ok || len(tr.list) == 0 {
		return End
	}

	c := Candidates{Transitions: tr.list}
	if key == t.beginKey {
		c.cumulative = t.beginCumulative
	}

	next := choose(rng, ws, c)
	if next.Token == End {
		return End
	}
	ws.Syllables += next.Syllables
	ws.Words++
	return next.Token
}

// Walk generates a token sequence starting from the all-Begin state, or from
// a seed given with WithSeed, until the choice strategy returns End, the chain
// dead-ends, or the step cap is reached. A nil rng uses a randomly seeded
// source.
func (t *Table) Walk(rng *rand.Rand, opts ...WalkOption) (WalkResult, error) {
	options := &walkOptions{
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.chooser == nil {
		if options.budget > 0 {
			options.chooser = SyllableBudget
		} else {
			options.chooser = Weighted
		}
	}
	if rng == nil {
		rng = newRand()
	}

	ws := &WalkState{Budget: options.budget}
	state := t.BeginState()
	if options.seed != nil {
		if len(options.seed) != t.stateSize {
			return WalkResult{}, fmt.Errorf("%w: seed has %d tokens, table state size is %d", ErrValidation, len(options.seed), t.stateSize)
		}
		copy(state, options.seed)
		for _, token := range state {
			ws.Syllables += tokenSyllables(token)
		}
	}

	var result WalkResult
	for {
		if len(result.Tokens) >= options.maxSteps {
			result.Truncated = true
			break
		}
		next := t.Move(rng, state, ws, options.chooser)
		if next == End {
			break
		}
		result.Tokens = append(result.Tokens, next)
		copy(state, state[1:])
		state[len(state)-1] = next
	}

	result.Syllables = ws.Syllables
	result.Words = ws.Words
	return result, nil
}
