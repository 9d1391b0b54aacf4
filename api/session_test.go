package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

type stubSessionReader struct {
	sessions  []store.Session
	messages  []store.Message
	err       error
	lastLimit int
}

func (s *stubSessionReader) ListSessions(_ context.Context, limit int) ([]store.Session, error) {
	s.lastLimit = limit
	return s.sessions, s.err
}

func (s *stubSessionReader) ListMessages(_ context.Context, _ string) ([]store.Message, error) {
	return s.messages, s.err
}

func sessionMux(reader SessionReader) *http.ServeMux {
	mux := http.NewServeMux()
	NewSessionHandler(reader, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestListSessions(t *testing.T) {
	reader := &stubSessionReader{sessions: []store.Session{{ID: "s1", Title: "Budget questions"}}}
	mux := sessionMux(reader)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []store.Session `json:"sessions"`
		Total    int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "s1", resp.Sessions[0].ID)
	assert.Equal(t, DefaultListLimit, reader.lastLimit)
}

func TestListSessionsClampsLimit(t *testing.T) {
	reader := &stubSessionReader{}
	mux := sessionMux(reader)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?limit=99999", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MaxListLimit, reader.lastLimit)
}

func TestListMessages(t *testing.T) {
	reader := &stubSessionReader{messages: []store.Message{
		{SessionID: "s1", Role: store.RoleUser, Content: "budget?"},
		{SessionID: "s1", Role: store.RoleAssistant, Content: "approved"},
	}}
	mux := sessionMux(reader)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/messages", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SessionID string          `json:"session_id"`
		Messages  []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Len(t, resp.Messages, 2)
}

func TestListSessionsFailure(t *testing.T) {
	mux := sessionMux(&stubSessionReader{err: errors.New("db down")})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestParseIntParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=7&bad=x", nil)

	assert.Equal(t, 7, parseIntParam(r, "limit", 50, 1, 500))
	assert.Equal(t, 50, parseIntParam(r, "bad", 50, 1, 500))
	assert.Equal(t, 50, parseIntParam(r, "missing", 50, 1, 500))
}
