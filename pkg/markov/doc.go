/*
Package markov provides syllable-annotated Markov transition tables for
constrained text generation, along with a SQLite-backed store for trained
models.

A Table maps fixed-length states to weighted candidate next tokens, and every
candidate carries its estimated syllable count. Walks over a table are driven
by a ChoiceFunc; the SyllableBudget strategy keeps a walk inside a syllable
ceiling, which is what lets a caller ask for "about twelve syllables starting
at 'river'". All per-walk counters live in a WalkState owned by the call, so a
single Table can be shared by any number of concurrent walks.

Tables trained from different corpora can be blended with Combine, wrapped in
a TextModel for sentence-level generation, and persisted either as JSON or in
a Store.
*/
package markov
