package markov

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// DefaultTokenizer is a default implementation of the Tokenizer interface.
// It uses regular expressions to split text into words and punctuation,
// identifies sentence-ending punctuation as End-Of-Chain (EOC) tokens, and
// drops the remaining punctuation so it never reaches a transition table.
// Its behavior can be customized with functional options.
type DefaultTokenizer struct {
	separator      string
	separatorRegex *regexp.Regexp
	eocRegex       *regexp.Regexp
	skipRegex      *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string used for joining tokens during generation.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithSeparatorRegex sets the regex string to use when splitting input text.
// Default: `[\w'-]+|[.,!?;:]`
func WithSeparatorRegex(splitRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.separatorRegex = regexp.MustCompile(splitRegex)
	}
}

// WithEOCRegex sets the regex string to use when deciding whether a token is an EOC token or not.
// Default: `^[.!?]$`
func WithEOCRegex(eocRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.eocRegex = regexp.MustCompile(eocRegex)
	}
}

// WithSkipRegex sets the regex string for tokens that are discarded entirely.
// Default: `^[,;:]$`
func WithSkipRegex(skipRegex string) Option {
	return func(t *DefaultTokenizer) {
		t.skipRegex = regexp.MustCompile(skipRegex)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator: " ",
		// Words (keeping apostrophes and hyphens) OR single punctuation marks.
		separatorRegex: regexp.MustCompile(`[\w'-]+|[.,!?;:]`),
		eocRegex:       regexp.MustCompile(`^[.!?]$`),
		skipRegex:      regexp.MustCompile(`^[,;:]$`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Separator Returns the configured separator string.
func (t *DefaultTokenizer) Separator(_, _ string) string {
	return t.separator
}

// NewStream Returns the stream processor.
func (t *DefaultTokenizer) NewStream(r io.Reader) StreamTokenizer {
	return &DefaultStreamTokenizer{
		scanner:    bufio.NewScanner(r),
		buffer:     []string{},
		splitRegex: t.separatorRegex,
		eosRegex:   t.eocRegex,
		skipRegex:  t.skipRegex,
	}
}

// DefaultStreamTokenizer is the default implementation of the StreamTokenizer interface.
// It uses a bufio.Scanner and regular expressions to read and tokenize a stream.
type DefaultStreamTokenizer struct {
	scanner    *bufio.Scanner
	buffer     []string
	splitRegex *regexp.Regexp
	eosRegex   *regexp.Regexp
	skipRegex  *regexp.Regexp
}

// Next returns the next token from the stream. It returns a Token and a nil error on
// success. When the stream is exhausted, it returns a nil Token and io.EOF.
// Any other error indicates a problem reading from the underlying stream.
func (s *DefaultStreamTokenizer) Next() (*Token, error) {
	for {
		for len(s.buffer) == 0 {
			if !s.scanner.Scan() {
				if err := s.scanner.Err(); err != nil {
					return nil, err
				}
				return nil, io.EOF
			}
			s.buffer = s.splitRegex.FindAllString(s.scanner.Text(), -1)
		}

		word := s.buffer[0]
		s.buffer = s.buffer[1:]

		if s.skipRegex != nil && s.skipRegex.MatchString(word) {
			continue
		}
		return &Token{Text: word, EOC: s.eosRegex.MatchString(word)}, nil
	}
}

// Runs reads every token from r and groups them into runs, one per sentence.
// EOC tokens close a run and are not included in it; sentinel spellings are
// dropped. maxRunLength bounds the length of a single run, extra tokens
// starting a new run.
func Runs(tokenizer Tokenizer, r io.Reader, maxRunLength int) ([][]string, error) {
	stream := tokenizer.NewStream(r)

	var runs [][]string
	var current []string
	for {
		token, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("tokenizer error: %w", err)
		}

		if token.EOC || (maxRunLength > 0 && len(current) >= maxRunLength) {
			if len(current) > 0 {
				runs = append(runs, current)
				current = nil
			}
			if token.EOC {
				continue
			}
		}
		if IsSentinel(token.Text) {
			continue
		}
		current = append(current, token.Text)
	}

	if len(current) > 0 {
		runs = append(runs, current)
	}
	return runs, nil
}
