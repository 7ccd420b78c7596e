package haiku

import (
	"encoding/json"
)

// Result is the outcome of CreateImage. Keyword slots are nil for lines that
// were not seeded by a keyword, and Keywords itself is nil on failure.
type Result struct {
	Text         string    `json:"text"`
	Keywords     []*string `json:"keywords"`
	Image        string    `json:"image"`
	ErrorMessage *string   `json:"error_message"`
}

// Success reports whether the haiku was generated without error.
func (r *Result) Success() bool {
	return r.ErrorMessage == nil
}

// KeywordList returns the keywords that seeded lines, skipping nil slots.
func (r *Result) KeywordList() []string {
	var words []string
	for _, k := range r.Keywords {
		if k != nil {
			words = append(words, *k)
		}
	}
	return words
}

func (r *Result) String() string {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}
