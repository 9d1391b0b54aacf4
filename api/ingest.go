package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/civicbeacon/beacon/internal/ingest"
	"github.com/civicbeacon/beacon/internal/log"
)

// MaxBatchSize caps a single administrative ingestion request.
const MaxBatchSize = 500

// Ingester runs one batch ingestion pass.
type Ingester interface {
	Run(ctx context.Context, opts ingest.Options) (ingest.Report, error)
}

// IngestHandler exposes the administrative ingestion trigger.
type IngestHandler struct {
	ingester Ingester
	baseOpts ingest.Options // configured defaults, overridden per request
	logger   log.Logger
}

// NewIngestHandler creates an ingest handler. baseOpts supplies the
// configured defaults for fields the request leaves unset.
func NewIngestHandler(ingester Ingester, baseOpts ingest.Options, logger log.Logger) *IngestHandler {
	return &IngestHandler{ingester: ingester, baseOpts: baseOpts, logger: logger}
}

// RegisterRoutes registers ingestion routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/ingest", h.run)
}

// IngestRequest is the request body for POST /api/v1/ingest. Zero
// values fall back to the configured defaults.
type IngestRequest struct {
	BatchSize int `json:"batchSize"`
	StartPage int `json:"startPage"`
}

func (h *IngestHandler) run(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}
	if req.BatchSize < 0 || req.BatchSize > MaxBatchSize {
		writeError(w, http.StatusBadRequest, "invalid_request", "batchSize out of range")
		return
	}
	if req.StartPage < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "startPage out of range")
		return
	}

	opts := h.baseOpts
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.StartPage > 0 {
		opts.StartPage = req.StartPage
	}

	// Runs synchronously: the report is the response. The pipeline's
	// own time budget keeps this bounded.
	report, err := h.ingester.Run(r.Context(), opts)
	if err != nil {
		h.logger.Error("ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest_failed", "ingestion run failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
