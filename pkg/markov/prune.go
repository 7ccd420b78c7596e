package markov

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// PruneModel removes all transitions from a specific model whose weight is
// less than or equal to minWeight. Rare transitions are usually noise from a
// single sentence.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minWeight float64) error {
	res, err := s.stmtPruneModel.ExecContext(ctx, model.Id, minWeight)
	if err != nil {
		return fmt.Errorf("could not prune model %d: %w", model.Id, err)
	}
	rowsAffected, _ := res.RowsAffected()

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Float64("min_weight", minWeight),
		slog.Int64("transitions_removed", rowsAffected),
	)
	return nil
}

// VocabularyPrune performs a database-wide cleanup, removing tokens whose
// summed transition weight across all models is less than minWeight. All
// transitions and states that rely on a removed token are deleted with it.
// Retained sentences are left untouched. The Begin and End sentinels are
// never pruned.
func (s *Store) VocabularyPrune(ctx context.Context, minWeight float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for pruning: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	// Find all 'rare' tokens
	rows, err := tx.QueryContext(ctx,
		`SELECT next_token_id FROM haiku_transitions GROUP BY next_token_id HAVING SUM(weight) < ? AND next_token_id NOT IN (?, ?)`,
		minWeight, BeginTokenID, EndTokenID)
	if err != nil {
		return fmt.Errorf("failed to query for rare tokens: %w", err)
	}

	var rareTokenIDs []int
	var rareTokenIDSet = make(map[int]struct{})
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan rare token id: %w", err)
		}
		rareTokenIDs = append(rareTokenIDs, id)
		rareTokenIDSet[id] = struct{}{}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after iterating rare token rows: %w", err)
	}

	if len(rareTokenIDs) == 0 {
		s.logger.InfoContext(ctx, "No vocabulary to prune",
			slog.Float64("min_weight", minWeight),
		)
		return tx.Commit() // Nothing to do
	}

	// States are matched in Go rather than with LIKE patterns on state_text.
	sRows, err := tx.QueryContext(ctx, `SELECT state_id, state_text FROM haiku_states`)
	if err != nil {
		return fmt.Errorf("failed to query all states for checking: %w", err)
	}

	var affectedStateIDs []int
	for sRows.Next() {
		var stateID int
		var stateText string
		if err := sRows.Scan(&stateID, &stateText); err != nil {
			_ = sRows.Close()
			return fmt.Errorf("failed to scan state row: %w", err)
		}

		for _, idStr := range strings.Split(stateText, " ") {
			id, _ := strconv.Atoi(idStr)
			if _, isRare := rareTokenIDSet[id]; isRare {
				affectedStateIDs = append(affectedStateIDs, stateID)
				break
			}
		}
	}
	_ = sRows.Close()
	if err := sRows.Err(); err != nil {
		return fmt.Errorf("error after iterating state rows: %w", err)
	}

	// Deletions run transitions -> states -> vocabulary.
	if err := s.batchDelete(ctx, tx, "haiku_transitions", "next_token_id", intSliceToInterface(rareTokenIDs)); err != nil {
		return fmt.Errorf("failed to prune transitions by next_token_id: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "haiku_transitions", "state_id", intSliceToInterface(affectedStateIDs)); err != nil {
		return fmt.Errorf("failed to prune transitions by state_id: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "haiku_states", "state_id", intSliceToInterface(affectedStateIDs)); err != nil {
		return fmt.Errorf("failed to prune affected states: %w", err)
	}
	if err := s.batchDelete(ctx, tx, "haiku_vocabulary", "token_id", intSliceToInterface(rareTokenIDs)); err != nil {
		return fmt.Errorf("failed to prune rare tokens from vocabulary: %w", err)
	}

	s.logger.InfoContext(ctx, "Vocabulary pruned successfully",
		slog.Float64("min_weight", minWeight),
		slog.Int("tokens_removed", len(rareTokenIDs)),
		slog.Int("states_affected", len(affectedStateIDs)),
	)

	return tx.Commit()
}

// batchDelete is a private helper to robustly delete from a table. It handles empty lists and splits large lists into smaller batches to avoid SQL limits.
func (s *Store) batchDelete(ctx context.Context, tx *sql.Tx, table, column string, ids []interface{}) error {
	if len(ids) == 0 {
		return nil
	}

	// SQLite's default variable limit is 999, so around half that is good
	const batchSize = 500

	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (?%s)", table, column, strings.Repeat(",?", len(batch)-1))

		if _, err := tx.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}

// intSliceToInterface is a helper to convert []int to []interface{} for SQL args.
func intSliceToInterface(s []int) []interface{} {
	if s == nil {
		return nil
	}
	i := make([]interface{}, len(s))
	for j, v := range s {
		i[j] = v
	}
	return i
}
