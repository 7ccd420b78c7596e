package markov

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

const pondCorpus = "The old pond is still. A frog jumps into the pond. The sound of water."

func TestNewTextModel(t *testing.T) {
	m, err := NewTextModel(strings.NewReader(pondCorpus), 2, nil, true)
	if err != nil {
		t.Fatalf("NewTextModel failed: %v", err)
	}
	if m.StateSize() != 2 {
		t.Errorf("expected state size 2, got %d", m.StateSize())
	}
	if !m.RetainsOriginal() || len(m.Sentences()) != 3 {
		t.Errorf("expected 3 retained sentences, got %v", m.Sentences())
	}

	if _, err = NewTextModel(strings.NewReader(pondCorpus), 0, nil, false); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for state size 0, got %v", err)
	}
	if _, err = NewTextModel(strings.NewReader(" . "), 1, nil, false); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for an empty corpus, got %v", err)
	}
}

func TestMakeSentence(t *testing.T) {
	m, err := NewTextModel(strings.NewReader("one fish two fish."), 2, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	sentence, res, err := m.MakeSentence(fixedRand(1))
	if err != nil {
		t.Fatalf("MakeSentence failed: %v", err)
	}
	if sentence != "one fish two fish" {
		t.Errorf("unexpected sentence %q", sentence)
	}
	if res.Syllables != 4 {
		t.Errorf("expected 4 syllables, got %d", res.Syllables)
	}
}

func TestMakeSentenceWithStart(t *testing.T) {
	m, err := NewTextModel(strings.NewReader(pondCorpus), 1, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	for seed := uint64(0); seed < 20; seed++ {
		sentence, _, err := m.MakeSentenceWithStart(fixedRand(seed), "frog")
		if err != nil {
			t.Fatalf("MakeSentenceWithStart failed: %v", err)
		}
		if !strings.HasPrefix(sentence, "frog") {
			t.Errorf("expected sentence to start with 'frog', got %q", sentence)
		}
	}

	_, _, err = m.MakeSentenceWithStart(fixedRand(1), "mountain")
	if !errors.Is(err, ErrNoSentence) {
		t.Errorf("expected ErrNoSentence for an unknown word, got %v", err)
	}
}

func TestMakeSentenceWithStartBudget(t *testing.T) {
	m, err := NewTextModel(strings.NewReader("river stone river stone river stone river."), 1, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	// river = 2, stone = 1; the budget counts the seed word.
	sentence, res, err := m.MakeSentenceWithStart(fixedRand(4), "river", WithBudget(5))
	if err != nil {
		t.Fatalf("MakeSentenceWithStart failed: %v", err)
	}
	if res.Syllables < 5 {
		t.Errorf("expected the budget of 5 to be met, got %d in %q", res.Syllables, sentence)
	}
}

// TestConcurrentWalks shares one model between goroutines. Each walk keeps its
// own counters, so every seed gives the same sentence as a sequential run.
// Run with -race.
func TestConcurrentWalks(t *testing.T) {
	m, err := NewTextModel(strings.NewReader(pondCorpus+" The frog is old. The water is still."), 1, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	const (
		workers = 16
		walks   = 200
	)
	type walked struct {
		sentence  string
		syllables int
	}
	want := make([]walked, walks)
	for i := range want {
		sentence, res, err := m.MakeSentenceWithStart(fixedRand(uint64(i)), "frog", WithBudget(7))
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		want[i] = walked{sentence, res.Syllables}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < walks; i++ {
				sentence, res, err := m.MakeSentenceWithStart(fixedRand(uint64(i)), "frog", WithBudget(7))
				if err != nil {
					t.Errorf("seed %d: %v", i, err)
					return
				}
				if got := (walked{sentence, res.Syllables}); got != want[i] {
					t.Errorf("seed %d: got %+v, want %+v", i, got, want[i])
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTextModelJSON(t *testing.T) {
	m, err := NewTextModel(strings.NewReader(pondCorpus), 2, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var fields map[string]json.RawMessage
	if err = json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"state_size", "chain", "parsed_sentences"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}

	var back TextModel
	if err = json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(back.Table().States(), m.Table().States()) {
		t.Error("states differ after decoding")
	}
	if !reflect.DeepEqual(back.Sentences(), m.Sentences()) {
		t.Error("sentences differ after decoding")
	}
}

func TestParseTextModel(t *testing.T) {
	// chain stored as a JSON string, the way older exports wrote it
	data := `{"state_size": 1, "chain": "[[[\"___BEGIN__\"], {\"pond\": [1, 1]}], [[\"pond\"], {\"___END__\": [1, 0]}]]"}`
	m, err := ParseTextModel([]byte(data))
	if err != nil {
		t.Fatalf("ParseTextModel failed: %v", err)
	}
	if m.RetainsOriginal() {
		t.Error("model without parsed_sentences should not retain")
	}
	if sentence, _, err := m.MakeSentence(fixedRand(1)); err != nil || sentence != "pond" {
		t.Errorf("got %q, %v", sentence, err)
	}

	for _, bad := range []string{
		``,
		`[]`,
		`{"state_size": 1}`,
		`{"state_size": 2, "chain": [[["a"], {"b": [1, 1]}]]}`,
	} {
		if _, err := ParseTextModel([]byte(bad)); !errors.Is(err, ErrFormat) {
			t.Errorf("ParseTextModel(%q): expected ErrFormat, got %v", bad, err)
		}
	}
}

func TestCombineText(t *testing.T) {
	a, _ := NewTextModel(strings.NewReader("old pond."), 1, nil, true)
	b, _ := NewTextModel(strings.NewReader("old frog."), 1, nil, false)
	c, _ := NewTextModel(strings.NewReader("old frog."), 2, nil, false)

	combined, err := CombineText([]*TextModel{a, b}, nil)
	if err != nil {
		t.Fatalf("CombineText failed: %v", err)
	}
	if got := len(combined.Table().Transitions([]string{"old"})); got != 2 {
		t.Errorf("expected 2 transitions after 'old', got %d", got)
	}
	if !combined.RetainsOriginal() || len(combined.Sentences()) != 1 {
		t.Errorf("expected the retained sentence of the first model, got %v", combined.Sentences())
	}

	if _, err = CombineText([]*TextModel{a, c}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for mixed state sizes, got %v", err)
	}
}
