package markov

import (
	"io"
	"strings"
)

const (
	// Begin is the sentinel token that pads the start of every run. A state made
	// only of Begin tokens is the initial state of every unseeded walk.
	Begin = "___BEGIN__"
	// End is the sentinel token that terminates a walk.
	End = "___END__"
)

// stateSep joins the tokens of a state into a map key. Tokens never contain it.
const stateSep = "\x1f"

// Token represents a single tokenized unit of text. It contains the text itself
// and a boolean flag indicating if it marks the end of a chain (e.g., a sentence).
type Token struct {
	Text string
	EOC  bool
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens. This allows training to be independent of the specific
// tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer for processing an io.Reader.
	NewStream(io.Reader) StreamTokenizer
	// Separator returns the string that should be used to join tokens
	// when building a final generated string, using the previous and current
	// tokens.
	Separator(prev, current string) string
}

// StreamTokenizer is an interface for a stateful tokenizer that processes a
// stream of data, returning one token at a time.
type StreamTokenizer interface {
	// Next returns the next token from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() (*Token, error)
}

// IsSentinel reports whether token is Begin or End.
func IsSentinel(token string) bool {
	return token == Begin || token == End
}

func stateKey(state []string) string {
	return strings.Join(state, stateSep)
}

func beginState(size int) []string {
	state := make([]string, size)
	for i := range state {
		state[i] = Begin
	}
	return state
}
