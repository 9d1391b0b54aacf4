package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/civicbeacon/beacon/internal/civic"
	"github.com/civicbeacon/beacon/internal/ingest"
	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Upserter persists one embedding record.
type Upserter interface {
	Upsert(ctx context.Context, rec store.EmbeddingRecord) error
}

// EmbeddingsHandler re-embeds a single document on demand, used to
// refresh a record after its source content changed.
type EmbeddingsHandler struct {
	embedder Embedder
	store    Upserter
	logger   log.Logger
}

// NewEmbeddingsHandler creates an embeddings handler.
func NewEmbeddingsHandler(embedder Embedder, st Upserter, logger log.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{embedder: embedder, store: st, logger: logger}
}

// RegisterRoutes registers embedding routes on the given mux.
func (h *EmbeddingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/embeddings", h.process)
}

// EmbeddingRequest carries the document to re-embed. The caller
// supplies the document fields; the handler rebuilds the canonical
// content block, embeds it, and upserts the record.
type EmbeddingRequest struct {
	MeetingID      string `json:"meeting_id"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	GovernmentBody string `json:"government_body"`
	DocumentType   string `json:"document_type"`
	Summary        string `json:"summary"`
	Content        string `json:"content"`
	SourceURL      string `json:"source_url"`
}

// EmbeddingResponse reports the stored record's identity.
type EmbeddingResponse struct {
	MeetingID   string `json:"meeting_id"`
	ContentType string `json:"content_type"`
	Dimensions  int    `json:"dimensions"`
}

func (h *EmbeddingsHandler) process(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.MeetingID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "meeting_id is required")
		return
	}

	doc := civic.Document{
		ID:             req.MeetingID,
		Title:          req.Title,
		Date:           req.Date,
		GovernmentBody: req.GovernmentBody,
		DocumentType:   req.DocumentType,
		Summary:        req.Summary,
		Content:        req.Content,
		SourceURL:      req.SourceURL,
	}
	rawText := doc.RawText()
	if strings.TrimSpace(rawText) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content or summary is required")
		return
	}

	content := ingest.ContentBlock(doc)
	vector, err := h.embedder.Embed(r.Context(), content)
	if err != nil {
		h.logger.Error("re-embedding failed", "meeting_id", req.MeetingID, "error", err)
		writeError(w, http.StatusBadGateway, "embedding_failed", "could not generate embedding")
		return
	}

	rec := store.EmbeddingRecord{
		MeetingID:   doc.ID,
		Content:     content,
		ContentType: doc.ContentType(),
		Embedding:   vector,
		Metadata: store.Metadata{
			Title:          doc.Title,
			Date:           doc.Date,
			GovernmentBody: doc.GovernmentBody,
			DocumentType:   doc.DocumentType,
			SourceURL:      doc.SourceURL,
			ContentLength:  len(rawText),
		},
	}
	if err := h.store.Upsert(r.Context(), rec); err != nil {
		h.logger.Error("storing embedding failed", "meeting_id", req.MeetingID, "error", err)
		writeError(w, http.StatusInternalServerError, "store_failed", "could not store embedding")
		return
	}

	writeJSON(w, http.StatusOK, EmbeddingResponse{
		MeetingID:   doc.ID,
		ContentType: rec.ContentType,
		Dimensions:  len(vector),
	})
}
