package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/civicbeacon/beacon/internal/chat"
	"github.com/civicbeacon/beacon/internal/log"
)

// MaxMessageLength bounds the accepted chat message.
const MaxMessageLength = 4000

// Chatter answers one chat turn with citations.
type Chatter interface {
	Answer(ctx context.Context, req chat.Request) (chat.Answer, error)
}

// ChatHandler serves retrieval-augmented chat.
type ChatHandler struct {
	chatter Chatter
	logger  log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chatter Chatter, logger log.Logger) *ChatHandler {
	return &ChatHandler{chatter: chatter, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat", h.chat)
}

// ChatRequest is the request body for POST /api/v1/chat.
// SearchContext defaults to true: chat without retrieved context is
// the exception, so it must be disabled explicitly.
type ChatRequest struct {
	Message           string `json:"message"`
	SessionID         string `json:"session_id"`
	SearchContext     *bool  `json:"search_context"`
	MaxContextResults int    `json:"max_context_results"`
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return
	}

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	if len(msg) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "message too long")
		return
	}

	searchContext := true
	if req.SearchContext != nil {
		searchContext = *req.SearchContext
	}

	ans, err := h.chatter.Answer(r.Context(), chat.Request{
		Message:           msg,
		SessionID:         req.SessionID,
		SearchContext:     searchContext,
		MaxContextResults: req.MaxContextResults,
	})
	if err != nil {
		h.logger.Error("chat failed", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "chat_failed", "could not generate a response")
		return
	}

	writeJSON(w, http.StatusOK, ans)
}
