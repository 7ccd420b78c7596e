package main

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

// ModelSummary pairs a model with its table statistics.
type ModelSummary struct {
	markov.ModelInfo
	TotalTransitions int     `json:"total_transitions"`
	TotalWeight      float64 `json:"total_weight"`
	StartingTokens   int     `json:"starting_tokens"`
}

// StatsSummary provides a high-level overview of the model database.
type StatsSummary struct {
	Models     []ModelSummary `json:"models"`
	VocabSize  int            `json:"vocab_size"`
	StateCount int            `json:"state_count"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	store  *markov.Store
	logger *slog.Logger
}

func NewStatsAPI(store *markov.Store, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		store:  store,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "markov:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'markov:read' scope")
		return
	}

	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	respondWithJSON(w, http.StatusOK, summarize(stats))
}

func summarize(stats *markov.DBStats) StatsSummary {
	summary := StatsSummary{
		Models:     make([]ModelSummary, 0, len(stats.Models)),
		VocabSize:  stats.VocabSize,
		StateCount: stats.StateSize,
	}
	for _, info := range stats.Models {
		st := stats.Stats[info.Id]
		summary.Models = append(summary.Models, ModelSummary{
			ModelInfo:        info,
			TotalTransitions: st.TotalTransitions,
			TotalWeight:      st.TotalWeight,
			StartingTokens:   st.StartingTokens,
		})
	}
	sort.Slice(summary.Models, func(i, j int) bool { return summary.Models[i].Id < summary.Models[j].Id })
	return summary
}
