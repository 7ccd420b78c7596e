package markov

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// transitionLink is a struct used for batching transition inserts.
type transitionLink struct {
	stateID     int
	nextTokenID int
	weight      float64
}

// Train processes a stream of text from an io.Reader, tokenizes it into
// sentences, builds a transition table with the model's state size, and merges
// it into the stored model. Weights of existing transitions are incremented.
// If the model retains its original text, the sentences are stored too. The
// entire operation is performed within a single database transaction.
func (s *Store) Train(ctx context.Context, model ModelInfo, data io.Reader) error {
	// maxSentenceLength prevents massive sentences from taking up a large amount of memory
	const maxSentenceLength = 4096

	runs, err := Runs(s.tokenizer, data, maxSentenceLength)
	if err != nil {
		return fmt.Errorf("could not tokenize training data: %w", err)
	}
	table := Build(runs, model.StateSize)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// All transaction-specific statements will also be closed with this or the .Commit()
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = s.saveTable(ctx, tx, model, table); err != nil {
		return err
	}
	if model.Retain {
		if err = s.saveSentences(ctx, tx, model, runs); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Training complete",
		slog.String("model_name", model.Name),
		slog.Int("sentences_processed", len(runs)),
		slog.Int("states_processed", table.Len()),
	)
	return nil
}

// SaveTable merges an in-memory table into a stored model. The table's state
// size must match the model's.
func (s *Store) SaveTable(ctx context.Context, model ModelInfo, table *Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = s.saveTable(ctx, tx, model, table); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) saveTable(ctx context.Context, tx *sql.Tx, model ModelInfo, table *Table) error {
	// batchSize determines how many transitions are buffered in memory before being written to the database in a single batch.
	const batchSize = 1000

	if table.StateSize() != model.StateSize {
		return fmt.Errorf("%w: table state size %d does not match model '%s' state size %d",
			ErrValidation, table.StateSize(), model.Name, model.StateSize)
	}

	tokenCache := map[string]int{
		Begin: BeginTokenID,
		End:   EndTokenID,
	}
	stateCache := make(map[string]int)

	stmtInsertVocab := tx.StmtContext(ctx, s.stmtInsertVocab)
	stmtGetOrInsertState := tx.StmtContext(ctx, s.stmtGetOrInsertState)
	stmtInsertBatch, err := tx.PrepareContext(ctx, `INSERT INTO haiku_transitions (model_id, state_id, next_token_id, weight) VALUES (?, ?, ?, ?) ON CONFLICT(model_id, state_id, next_token_id) DO UPDATE SET weight = weight + excluded.weight;`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch transition insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertBatch)

	batch := make([]transitionLink, 0, batchSize)
	commitBatch := func() error {
		for _, link := range batch {
			if _, err := stmtInsertBatch.ExecContext(ctx, model.Id, link.stateID, link.nextTokenID, link.weight); err != nil {
				return fmt.Errorf("failed during batch insert of transition (%d -> %d): %w", link.stateID, link.nextTokenID, err)
			}
		}
		batch = batch[:0]
		return nil
	}

	tokenID := func(token string, syllables int) (int, error) {
		if id, ok := tokenCache[token]; ok {
			return id, nil
		}
		var id int
		if err := stmtInsertVocab.QueryRowContext(ctx, token, syllables).Scan(&id); err != nil {
			return 0, fmt.Errorf("could not insert token '%s': %w", token, err)
		}
		tokenCache[token] = id
		return id, nil
	}

	ids := make([]string, model.StateSize)
	for _, state := range table.States() {
		for i, tok := range state {
			id, err := tokenID(tok, tokenSyllables(tok))
			if err != nil {
				return err
			}
			ids[i] = strconv.Itoa(id)
		}
		stateText := strings.Join(ids, " ")

		stateID, ok := stateCache[stateText]
		if !ok {
			if err = stmtGetOrInsertState.QueryRowContext(ctx, stateText).Scan(&stateID); err != nil {
				return fmt.Errorf("could not get or insert state '%s': %w", stateText, err)
			}
			stateCache[stateText] = stateID
		}

		for _, tr := range table.Transitions(state) {
			nextID, err := tokenID(tr.Token, tr.Syllables)
			if err != nil {
				return err
			}
			batch = append(batch, transitionLink{stateID: stateID, nextTokenID: nextID, weight: tr.Weight})
			if len(batch) >= batchSize {
				if err = commitBatch(); err != nil {
					return err
				}
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return commitBatch()
}

func (s *Store) saveSentences(ctx context.Context, tx *sql.Tx, model ModelInfo, sentences [][]string) error {
	if len(sentences) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO haiku_sentences (model_id, sentence_text) VALUES (?, ?);`)
	if err != nil {
		return fmt.Errorf("failed to prepare sentence insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmt)

	for _, sentence := range sentences {
		text, err := json.Marshal(sentence)
		if err != nil {
			return err
		}
		if _, err = stmt.ExecContext(ctx, model.Id, string(text)); err != nil {
			return fmt.Errorf("could not insert sentence: %w", err)
		}
	}
	return nil
}
