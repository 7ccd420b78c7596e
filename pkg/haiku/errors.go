package haiku

import (
	"errors"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

var (
	// ErrValidation marks bad input such as a keyword list that is too short.
	// It is the same value as markov.ErrValidation so either can be checked.
	ErrValidation = markov.ErrValidation
	// ErrGeneration is returned when a model cannot produce a required line.
	ErrGeneration = errors.New("haiku generation failed")
	// ErrModelNotFound is returned by loaders that have no model by a name.
	ErrModelNotFound = errors.New("model not found")
)
