package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

// Session listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// SessionReader lists chat sessions and their messages.
type SessionReader interface {
	ListSessions(ctx context.Context, limit int) ([]store.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
}

// SessionHandler serves the chat-history endpoints.
type SessionHandler struct {
	store  SessionReader
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(st SessionReader, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: st, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions", h.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.messages)
}

// list returns the most recently active sessions.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)

	sessions, err := h.store.ListSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
	})
}

// messages returns one session's messages in chronological order.
func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id is required")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list messages", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"total":      len(messages),
	})
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
