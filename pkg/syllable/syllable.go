package syllable

import (
	"regexp"
	"strings"
)

var punctuation = regexp.MustCompile(`[.?!,/]+`)

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

// Count returns the estimated number of syllables in a word or phrase. Vowel
// runs are counted across the whole string, so a phrase yields the total of
// all its runs. The result is never less than 1.
func Count(text string) int {
	text = strings.ToLower(text)
	// a trailing "e" is usually silent
	if strings.HasSuffix(text, "e") {
		text = text[:len(text)-1]
	}

	count := 0
	inVowels := false
	for i := 0; i < len(text); i++ {
		if isVowel(text[i]) {
			if !inVowels {
				count++
			}
			inVowels = true
		} else {
			inVowels = false
		}
	}

	if count == 0 {
		return 1
	}
	return count
}

// RemovePunctuation strips the sentence punctuation characters . ? ! , and /.
func RemovePunctuation(text string) string {
	return punctuation.ReplaceAllString(text, "")
}

// SplitSentence removes punctuation from sentence and splits it in two after
// the first word that brings the running syllable total to at least target.
// Words are never split. If the sentence runs out before the target is
// reached, rest is empty.
func SplitSentence(sentence string, target int) (first, rest string) {
	words := strings.Fields(RemovePunctuation(sentence))

	count := 0
	n := 0
	for n < len(words) {
		count += Count(words[n])
		n++
		if count >= target {
			break
		}
	}

	return strings.Join(words[:n], " "), strings.Join(words[n:], " ")
}
