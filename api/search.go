package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/search"
	"github.com/civicbeacon/beacon/internal/store"
)

// MaxQueryLength bounds the accepted search query.
const MaxQueryLength = 1000

// MaxSearchLimit bounds the per-request result limit.
const MaxSearchLimit = 50

// Searcher runs the retrieval fallback chain.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (search.Response, error)
}

// SearchHandler serves document search.
type SearchHandler struct {
	searcher Searcher
	logger   log.Logger
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(searcher Searcher, logger log.Logger) *SearchHandler {
	return &SearchHandler{searcher: searcher, logger: logger}
}

// RegisterRoutes registers search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.search)
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query       string  `json:"query"`
	Limit       int     `json:"limit"`
	Threshold   float64 `json:"threshold"`
	ContentType string  `json:"content_type"`
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long")
		return
	}
	switch req.ContentType {
	case "", store.ContentTypeFull, store.ContentTypeSummary:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "content_type must be full_content or summary")
		return
	}

	limit := req.Limit
	if limit < 0 || limit > MaxSearchLimit {
		limit = 0 // engine default
	}

	resp, err := h.searcher.Search(r.Context(), query, search.Options{
		Limit:       limit,
		Threshold:   req.Threshold,
		ContentType: req.ContentType,
	})
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "could not execute search")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
