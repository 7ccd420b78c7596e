/*
Package syllable estimates English syllable counts with a vowel-run heuristic
and splits phrases at syllable boundaries.

The estimate is intentionally simple: it lower-cases its input, drops one
trailing "e", and counts runs of the vowels a, e, i, o, u and y. It is good
enough to steer a 5-7-5 generator, not to scan verse.
*/
package syllable
