package markov

import "errors"

var (
	// ErrValidation marks malformed inputs, such as merging tables with
	// different state sizes or seeding a walk with a state of the wrong length.
	ErrValidation = errors.New("validation error")
	// ErrFormat marks a persisted table or model that cannot be decoded.
	ErrFormat = errors.New("format error")
	// ErrNoSentence is returned when a text model cannot produce a sentence,
	// for example because no state starts with the requested word.
	ErrNoSentence = errors.New("no sentence could be generated")
)
