// Package haiku turns descriptive keywords into 5-7-5 haiku using syllable
// budgeted Markov walks, and overlays the result on the source image.
//
// A Generator asks a KeywordSource for keywords, loads and merges the models
// named by a ModelConfig, and writes two budgeted lines: a 12 syllable line
// later split into the 5 and 7 syllable lines, and an independent 5 syllable
// closing line. Attempts whose total is more than two syllables away from 17
// are retried a bounded number of times, after which the last attempt is
// accepted as is.
package haiku
