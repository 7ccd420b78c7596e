package markov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
)

// maxRunLength prevents massive sentences from taking up a large amount of memory.
const maxRunLength = 4096

// TextModel is a sentence generator over a single Table. It can retain the
// tokenized sentences it was trained on, and carries an optional keyword list
// used by callers for logging.
type TextModel struct {
	table     *Table
	sentences [][]string
	retain    bool
	tokenizer Tokenizer

	// Keywords are the descriptive keywords this model was loaded for.
	Keywords []string
}

// NewTextModel trains a model of the given state size from prose read from r.
// Each sentence becomes one run of the table. With retain set, the tokenized
// sentences are kept and persisted with the model.
func NewTextModel(r io.Reader, stateSize int, tokenizer Tokenizer, retain bool) (*TextModel, error) {
	if stateSize <= 0 {
		return nil, fmt.Errorf("%w: state size must be positive, got %d", ErrValidation, stateSize)
	}
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}
	runs, err := Runs(tokenizer, r, maxRunLength)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: corpus has no sentences", ErrValidation)
	}

	m := &TextModel{
		table:     Build(runs, stateSize),
		retain:    retain,
		tokenizer: tokenizer,
	}
	if retain {
		m.sentences = runs
	}
	return m, nil
}

// NewTextModelFromTable wraps an existing table. Non-nil sentences are
// retained.
func NewTextModelFromTable(table *Table, sentences [][]string) *TextModel {
	return &TextModel{
		table:     table,
		sentences: sentences,
		retain:    sentences != nil,
		tokenizer: NewDefaultTokenizer(),
	}
}

// Table returns the model's transition table.
func (m *TextModel) Table() *Table {
	return m.table
}

// StateSize returns the state size of the model's table.
func (m *TextModel) StateSize() int {
	return m.table.StateSize()
}

// Sentences returns the retained training sentences, if any.
func (m *TextModel) Sentences() [][]string {
	return m.sentences
}

// RetainsOriginal reports whether the model keeps its training sentences.
func (m *TextModel) RetainsOriginal() bool {
	return m.retain
}

// SetTokenizer changes the tokenizer used to join generated words.
func (m *TextModel) SetTokenizer(tokenizer Tokenizer) {
	if tokenizer != nil {
		m.tokenizer = tokenizer
	}
}

// MakeSentence walks the table once and joins the result. Every call starts
// from fresh counters. If the walk was seeded with WithSeed, the seed's real
// tokens begin the sentence. It returns ErrNoSentence if the walk produced
// nothing.
func (m *TextModel) MakeSentence(rng *rand.Rand, opts ...WalkOption) (string, WalkResult, error) {
	options := &walkOptions{}
	for _, opt := range opts {
		opt(options)
	}

	walk, err := m.table.Walk(rng, opts...)
	if err != nil {
		return "", WalkResult{}, err
	}

	var words []string
	for _, token := range options.seed {
		if token != Begin {
			words = append(words, token)
		}
	}
	words = append(words, walk.Tokens...)
	if len(words) == 0 {
		return "", walk, ErrNoSentence
	}
	return m.join(words), walk, nil
}

// MakeSentenceWithStart makes a sentence that begins with word. Every state
// that starts with word is tried in random order until one yields a sentence.
func (m *TextModel) MakeSentenceWithStart(rng *rand.Rand, word string, opts ...WalkOption) (string, WalkResult, error) {
	if rng == nil {
		rng = newRand()
	}
	seeds := m.table.SeedStates(word)
	rng.Shuffle(len(seeds), func(i, j int) {
		seeds[i], seeds[j] = seeds[j], seeds[i]
	})

	for _, seed := range seeds {
		sentence, walk, err := m.MakeSentence(rng, append(opts, WithSeed(seed))...)
		if err == nil {
			return sentence, walk, nil
		}
		if !errors.Is(err, ErrNoSentence) {
			return "", WalkResult{}, err
		}
	}
	return "", WalkResult{}, fmt.Errorf("%w: no state starts with %q", ErrNoSentence, word)
}

func (m *TextModel) join(words []string) string {
	var builder strings.Builder
	for i, word := range words {
		if i > 0 {
			builder.WriteString(m.tokenizer.Separator(words[i-1], word))
		}
		builder.WriteString(word)
	}
	return builder.String()
}

// exportedText is the persisted form of a TextModel. Chain may hold the table
// directly or as a JSON-encoded string.
type exportedText struct {
	StateSize       int             `json:"state_size"`
	Chain           json.RawMessage `json:"chain"`
	ParsedSentences [][]string      `json:"parsed_sentences,omitempty"`
}

// MarshalJSON encodes the model with its state size, chain, and retained
// sentences.
func (m *TextModel) MarshalJSON() ([]byte, error) {
	chain, err := m.table.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(exportedText{
		StateSize:       m.table.StateSize(),
		Chain:           chain,
		ParsedSentences: m.sentences,
	})
}

// UnmarshalJSON decodes a model written by MarshalJSON.
func (m *TextModel) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTextModel(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// ParseTextModel decodes a persisted model. The chain's state size must match
// the declared one.
func ParseTextModel(data []byte) (*TextModel, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrFormat)
	}
	var exported exportedText
	if err := json.Unmarshal(data, &exported); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(exported.Chain) == 0 {
		return nil, fmt.Errorf("%w: model has no chain", ErrFormat)
	}

	table, err := ParseTable(exported.Chain)
	if err != nil {
		return nil, err
	}
	if exported.StateSize != 0 && exported.StateSize != table.StateSize() {
		return nil, fmt.Errorf("%w: declared state size %d but chain has %d", ErrFormat, exported.StateSize, table.StateSize())
	}
	return NewTextModelFromTable(table, exported.ParsedSentences), nil
}

// ReadTextModel decodes a persisted model from r.
func ReadTextModel(r io.Reader) (*TextModel, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseTextModel(data)
}

// CombineText merges the chains of several models with Combine. The result
// retains the concatenated sentences of every model that retains its own.
func CombineText(models []*TextModel, weights []float64) (*TextModel, error) {
	tables := make([]*Table, len(models))
	for i, m := range models {
		if m == nil {
			return nil, fmt.Errorf("%w: model %d is nil", ErrValidation, i)
		}
		tables[i] = m.table
	}

	table, err := Combine(tables, weights)
	if err != nil {
		return nil, err
	}

	var sentences [][]string
	for _, m := range models {
		if m.retain {
			if sentences == nil {
				sentences = [][]string{}
			}
			sentences = append(sentences, m.sentences...)
		}
	}
	return NewTextModelFromTable(table, sentences), nil
}
