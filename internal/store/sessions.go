package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Message roles for chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one chat conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat exchange entry.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// maxTitleBytes bounds the stored session title.
const maxTitleBytes = 100

// EnsureSession creates the session if it does not exist, titling it
// from the first message, and bumps updated_at when it does.
func (s *Store) EnsureSession(ctx context.Context, sessionID, firstMessage string) error {
	title := truncateTitle(firstMessage)
	_, err := s.db.Exec(ctx,
		`INSERT INTO chat_sessions (id, title)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET updated_at = now()`,
		sessionID, title,
	)
	if err != nil {
		return fmt.Errorf("ensuring session %s: %w", sessionID, err)
	}
	return nil
}

// truncateTitle shortens s to maxTitleBytes without splitting a rune,
// so the stored title stays valid UTF-8.
func truncateTitle(s string) string {
	if len(s) <= maxTitleBytes {
		return s
	}
	cut := maxTitleBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SaveMessage appends one message to a session's history.
func (s *Store) SaveMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content)
		 VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), sessionID, role, content,
	)
	if err != nil {
		return fmt.Errorf("saving %s message for session %s: %w", role, sessionID, err)
	}
	return nil
}

// RecordQuery stores a query-analytics row: the question asked, which
// meetings supplied context, and how long the answer took.
func (s *Store) RecordQuery(ctx context.Context, query, sessionID string, relevantMeetings []string, responseTime time.Duration) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_queries (id, query, session_id, relevant_meetings, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), query, sessionID, relevantMeetings, responseTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording query analytics: %w", err)
	}
	return nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM chat_sessions
		 ORDER BY updated_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
