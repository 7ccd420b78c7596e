package markov

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models    []ModelInfo        // A list of models in the database
	Stats     map[int]ModelStats // A mapping of model ids to their stats
	VocabSize int                // The number of unique tokens in all models' vocabularies
	StateSize int                // The number of unique states in all models' tables
}

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	TotalTransitions int     // The number of unique state->next_token transitions.
	TotalWeight      float64 // The sum of all transition weights.
	StartingTokens   int     // The number of unique tokens that can follow the begin state.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = s.stmtGetVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var stateLen int
	if err = s.stmtGetStateLen.QueryRowContext(ctx).Scan(&stateLen); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	modelStats := make(map[int]ModelStats)
	for _, v := range modelInfos {
		models = append(models, v)
		var st ModelStats
		if err = s.stmtModelTransitions.QueryRowContext(ctx, v.Id).Scan(&st.TotalTransitions); err != nil {
			return nil, err
		}
		if err = s.stmtModelWeight.QueryRowContext(ctx, v.Id).Scan(&st.TotalWeight); err != nil {
			return nil, err
		}
		begin := make([]string, v.StateSize)
		for i := range begin {
			begin[i] = strconv.Itoa(BeginTokenID)
		}
		var beginID int
		err = s.stmtGetStateID.QueryRowContext(ctx, strings.Join(begin, " ")).Scan(&beginID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			if err = s.stmtModelStarters.QueryRowContext(ctx, v.Id, beginID).Scan(&st.StartingTokens); err != nil {
				return nil, err
			}
		}
		modelStats[v.Id] = st
	}

	return &DBStats{
		Models:    models,
		Stats:     modelStats,
		VocabSize: vocabLen,
		StateSize: stateLen,
	}, nil
}
