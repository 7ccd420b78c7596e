package markov

import (
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

// neverEnd picks the first non-End candidate, looping forever on cyclic tables.
func neverEnd(_ *rand.Rand, _ *WalkState, c Candidates) Transition {
	for _, tr := range c.Transitions {
		if tr.Token != End {
			return tr
		}
	}
	return Transition{Token: End}
}

func TestWalkSingleRun(t *testing.T) {
	table := Build([][]string{{"one", "fish", "two", "fish"}}, 2)

	res, err := table.Walk(fixedRand(1))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"one", "fish", "two", "fish"}
	if !reflect.DeepEqual(res.Tokens, want) {
		t.Errorf("got %v, want %v", res.Tokens, want)
	}
	if res.Syllables != 4 || res.Words != 4 || res.Truncated {
		t.Errorf("unexpected counters: %+v", res)
	}
}

func TestWalkSeed(t *testing.T) {
	table := Build([][]string{{"the", "cat", "sat"}}, 2)

	res, err := table.Walk(fixedRand(1), WithSeed([]string{Begin, "the"}))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if !reflect.DeepEqual(res.Tokens, []string{"cat", "sat"}) {
		t.Errorf("unexpected tokens %v", res.Tokens)
	}
	// The seed's real token is counted; the sentinel is not.
	if res.Syllables != 3 {
		t.Errorf("expected 3 syllables, got %d", res.Syllables)
	}

	_, err = table.Walk(fixedRand(1), WithSeed([]string{"the"}))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a short seed, got %v", err)
	}
}

func TestWalkMaxSteps(t *testing.T) {
	table := Build([][]string{{"a", "a", "a"}}, 1)

	res, err := table.Walk(fixedRand(1), WithChooser(neverEnd), WithMaxSteps(5))
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(res.Tokens) != 5 || !res.Truncated {
		t.Errorf("expected a truncated walk of 5 tokens, got %+v", res)
	}

	res, _ = table.Walk(fixedRand(1), WithChooser(neverEnd))
	if len(res.Tokens) != defaultMaxSteps || !res.Truncated {
		t.Errorf("expected the default step cap, got %d tokens", len(res.Tokens))
	}
}

func TestWalkBudget(t *testing.T) {
	table := Build([][]string{{"a", "a", "a"}}, 1)

	for i := 0; i < 3; i++ {
		res, err := table.Walk(fixedRand(uint64(i)), WithBudget(3))
		if err != nil {
			t.Fatalf("Walk failed: %v", err)
		}
		// Counters start fresh on every walk.
		if res.Syllables != 3 || len(res.Tokens) != 3 {
			t.Errorf("walk %d: expected 3 syllables over 3 tokens, got %+v", i, res)
		}
	}
}

func TestSyllableBudget(t *testing.T) {
	c := Candidates{Transitions: []Transition{
		{Token: "constellation", Weight: 100, Syllables: 4},
		{Token: "pond", Weight: 1, Syllables: 1},
		{Token: End, Weight: 1, Syllables: 0},
	}}

	// Only "pond" fits in two syllables.
	ws := &WalkState{Budget: 5, Syllables: 3}
	rng := fixedRand(7)
	for i := 0; i < 50; i++ {
		if got := SyllableBudget(rng, ws, c); got.Token != "pond" {
			t.Fatalf("expected 'pond', got %q", got.Token)
		}
	}

	// A spent budget always ends the walk.
	ws.Syllables = 5
	if got := SyllableBudget(rng, ws, c); got.Token != End {
		t.Errorf("expected End, got %q", got.Token)
	}

	// Nothing fits: every candidate is eligible again.
	ws = &WalkState{Budget: 5, Syllables: 4}
	tooLong := Candidates{Transitions: []Transition{{Token: "constellation", Weight: 1, Syllables: 4}}}
	if got := SyllableBudget(rng, ws, tooLong); got.Token != "constellation" {
		t.Errorf("expected fallback to the only candidate, got %q", got.Token)
	}
}

func TestMoveDeadEnd(t *testing.T) {
	table := Build([][]string{{"a"}}, 1)
	ws := &WalkState{}
	if got := table.Move(fixedRand(1), []string{"nowhere"}, ws, Weighted); got != End {
		t.Errorf("expected End from an unknown state, got %q", got)
	}
	if ws.Words != 0 || ws.Syllables != 0 {
		t.Errorf("dead end must not change counters: %+v", ws)
	}
}

func TestWalkReproducible(t *testing.T) {
	runs := [][]string{
		{"the", "old", "pond", "is", "still"},
		{"a", "frog", "jumps", "into", "the", "pond"},
		{"the", "sound", "of", "water", "is", "still", "here"},
		{"a", "crow", "sits", "on", "the", "old", "branch"},
	}
	table := Build(runs, 1)

	for seed := uint64(0); seed < 10; seed++ {
		a, _ := table.Walk(fixedRand(seed), WithBudget(7))
		b, _ := table.Walk(fixedRand(seed), WithBudget(7))
		if !reflect.DeepEqual(a, b) {
			t.Errorf("seed %d: walks differ: %v vs %v", seed, a.Tokens, b.Tokens)
		}
	}
}

func TestPick(t *testing.T) {
	rng := fixedRand(3)

	if got := Pick(rng, Cumulative([]float64{0, 0, 5})); got != 2 {
		t.Errorf("expected index 2, got %d", got)
	}
	for i := 0; i < 20; i++ {
		if got := Pick(rng, Cumulative([]float64{0, 0})); got < 0 || got > 1 {
			t.Fatalf("zero-weight pick out of range: %d", got)
		}
	}

	const draws = 20000
	counts := make([]int, 2)
	cumulative := Cumulative([]float64{1, 3})
	for i := 0; i < draws; i++ {
		counts[Pick(rng, cumulative)]++
	}
	if frac := float64(counts[1]) / draws; math.Abs(frac-0.75) > 0.02 {
		t.Errorf("expected about 75%% for weight 3, got %.3f", frac)
	}
}

func TestCumulative(t *testing.T) {
	got := Cumulative([]float64{1, 2, 0, 4})
	want := []float64{1, 3, 3, 7}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
