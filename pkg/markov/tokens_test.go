package markov

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultTokenizerStream(t *testing.T) {
	stream := NewDefaultTokenizer().NewStream(strings.NewReader("Hello, world! It's fine."))

	var got []Token
	for {
		tok, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		got = append(got, *tok)
	}

	want := []Token{
		{Text: "Hello"},
		{Text: "world"},
		{Text: "!", EOC: true},
		{Text: "It's"},
		{Text: "fine"},
		{Text: ".", EOC: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRuns(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   [][]string
	}{
		{"sentences", "one fish two fish. red fish blue fish.", 0, [][]string{{"one", "fish", "two", "fish"}, {"red", "fish", "blue", "fish"}}},
		{"no trailing terminator", "a b c", 0, [][]string{{"a", "b", "c"}}},
		{"lines do not end runs", "a b\nc d.", 0, [][]string{{"a", "b", "c", "d"}}},
		{"sentinels are dropped", "a ___BEGIN__ b.", 0, [][]string{{"a", "b"}}},
		{"max run length", "a b c d e", 2, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}},
		{"empty", "  . ! ", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Runs(NewDefaultTokenizer(), strings.NewReader(tt.input), tt.maxLen)
			if err != nil {
				t.Fatalf("Runs() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenizerOptions(t *testing.T) {
	tok := NewDefaultTokenizer(
		WithSeparator("_"),
		WithSeparatorRegex(`[a-z]+|;`),
		WithEOCRegex(`^;$`),
		WithSkipRegex(`^$`),
	)
	if sep := tok.Separator("a", "b"); sep != "_" {
		t.Errorf("expected separator '_', got %q", sep)
	}

	runs, err := Runs(tok, strings.NewReader("ab cd; ef"), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"ab", "cd"}, {"ef"}}
	if !reflect.DeepEqual(runs, want) {
		t.Errorf("got %v, want %v", runs, want)
	}
}

func TestIsSentinel(t *testing.T) {
	for token, want := range map[string]bool{Begin: true, End: true, "begin": false, "": false} {
		if got := IsSentinel(token); got != want {
			t.Errorf("IsSentinel(%q) = %v, want %v", token, got, want)
		}
	}
}
