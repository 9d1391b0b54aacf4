package api

import (
	"context"
	"net/http"

	"github.com/civicbeacon/beacon/internal/log"
)

// StatsReader reports embedding store counts.
type StatsReader interface {
	Stats(ctx context.Context) (map[string]int64, error)
}

// StatsHandler serves store statistics for operators.
type StatsHandler struct {
	store  StatsReader
	logger log.Logger
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(st StatsReader, logger log.Logger) *StatsHandler {
	return &StatsHandler{store: st, logger: logger}
}

// RegisterRoutes registers stats routes on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats", h.stats)
}

func (h *StatsHandler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read stats", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "could not read store statistics")
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":           total,
		"by_content_type": nonNil(counts),
	})
}

// nonNil normalizes a nil map to an empty one for JSON output.
func nonNil(counts map[string]int64) map[string]int64 {
	if counts == nil {
		return map[string]int64{}
	}
	return counts
}
