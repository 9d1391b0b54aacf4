// Package store persists document embeddings in PostgreSQL with
// pgvector and exposes the query primitives the retrieval engine
// builds its fallback chain on: cosine similarity, keyword match,
// and recency. It also holds the chat session and query analytics
// tables written fire-and-forget by the chat orchestrator.
//
// One logical table, document_embeddings, is keyed by the unique pair
// (meeting_id, content_type); the constraint, not application-level
// checks, guarantees idempotent ingestion under concurrent runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/retry"
)

// Content type labels for embedding records.
const (
	ContentTypeFull    = "full_content"
	ContentTypeSummary = "summary"
)

// queryTimeout bounds similarity queries so a degraded index cannot
// block a search request.
const queryTimeout = 10 * time.Second

// Metadata is the denormalized document metadata stored as JSONB
// alongside each embedding, used for citations and keyword scoring.
type Metadata struct {
	Title          string `json:"title"`
	Date           string `json:"date"`
	GovernmentBody string `json:"government_body,omitempty"`
	DocumentType   string `json:"document_type,omitempty"`
	SourceURL      string `json:"source_url,omitempty"`
	ContentLength  int    `json:"content_length,omitempty"`
	AIEnhanced     bool   `json:"ai_enhanced,omitempty"`
}

// EmbeddingRecord is one persisted document embedding.
type EmbeddingRecord struct {
	MeetingID   string
	Content     string // the exact text that was embedded, re-displayed in citations
	ContentType string
	Embedding   []float32
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SearchResult is a transient query hit, constructed per query and
// discarded after the response.
type SearchResult struct {
	MeetingID       string    `json:"meeting_id"`
	Content         string    `json:"content"`
	ContentType     string    `json:"content_type"`
	SimilarityScore float64   `json:"similarity_score"`
	Metadata        Metadata  `json:"metadata"`
	CreatedAt       time.Time `json:"created_at"`
}

// db is the subset of pgxpool.Pool the store uses; consumer-side so
// tests can substitute a fake connection.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages embedding records. Safe for concurrent use; all
// synchronization lives in PostgreSQL.
type Store struct {
	db          db
	upsertRetry retry.Config
	logger      log.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return newStore(pool, logger)
}

func newStore(conn db, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		db: conn,
		upsertRetry: retry.Config{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		logger: logger,
	}
}

// Exists reports whether an embedding already exists for the given
// (meeting_id, content_type) pair. Used by ingestion for the idempotent
// skip; the unique constraint remains the real guard against races.
func (s *Store) Exists(ctx context.Context, meetingID, contentType string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM document_embeddings
		     WHERE meeting_id = $1 AND content_type = $2
		 )`,
		meetingID, contentType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking existence of %s/%s: %w", meetingID, contentType, err)
	}
	return exists, nil
}

// Upsert inserts a record or overwrites content, embedding, metadata
// and updated_at when the (meeting_id, content_type) pair already
// exists. Transient failures are retried with a small bounded budget,
// independent of the embedding generator's own retries.
func (s *Store) Upsert(ctx context.Context, rec EmbeddingRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", rec.MeetingID, err)
	}

	vec := pgvector.NewVector(rec.Embedding)

	err = retry.Do(ctx, s.upsertRetry, func(ctx context.Context) error {
		_, execErr := s.db.Exec(ctx,
			`INSERT INTO document_embeddings
			     (meeting_id, content, content_type, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (meeting_id, content_type) DO UPDATE SET
			     content = EXCLUDED.content,
			     embedding = EXCLUDED.embedding,
			     metadata = EXCLUDED.metadata,
			     updated_at = now()`,
			rec.MeetingID, rec.Content, rec.ContentType, &vec, metadataJSON,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upserting embedding for %s/%s: %w", rec.MeetingID, rec.ContentType, err)
	}

	s.logger.Debug("upserted embedding",
		"meeting_id", rec.MeetingID,
		"content_type", rec.ContentType,
		"content_length", len(rec.Content))
	return nil
}

// QueryByVector returns cosine-similarity ranked results with
// similarity >= threshold. Requires the pgvector extension; when the
// operator is unavailable the error propagates and the retrieval
// engine falls through to its keyword stage.
func (s *Store) QueryByVector(ctx context.Context, vector []float32, limit int, threshold float64, contentType string) ([]SearchResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec := pgvector.NewVector(vector)

	sql := `SELECT meeting_id, content, content_type,
	               1 - (embedding <=> $1) AS similarity,
	               metadata, created_at
	        FROM document_embeddings
	        WHERE embedding IS NOT NULL
	          AND 1 - (embedding <=> $1) >= $2`
	args := []any{&vec, threshold}
	if contentType != "" {
		sql += ` AND content_type = $3`
		args = append(args, contentType)
	}
	sql += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT %d`, limit)

	rows, err := s.db.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector query timeout: %w", err)
		}
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows)
}

// QueryByText returns keyword-match candidates: records whose content
// or title contains the full query or any individual term,
// case-insensitively. Scores carry a fixed non-discriminative base;
// the retrieval engine applies its heuristic scoring on top.
func (s *Store) QueryByText(ctx context.Context, query string, terms []string, limit int, contentType string) ([]SearchResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conds := []string{"content ILIKE '%' || $1 || '%'", "metadata->>'title' ILIKE '%' || $1 || '%'"}
	args := []any{query}
	for _, term := range terms {
		args = append(args, term)
		conds = append(conds, fmt.Sprintf("content ILIKE '%%' || $%d || '%%'", len(args)))
	}

	sql := `SELECT meeting_id, content, content_type,
	               0.3::float8 AS similarity,
	               metadata, created_at
	        FROM document_embeddings
	        WHERE (` + strings.Join(conds, " OR ") + `)`
	if contentType != "" {
		args = append(args, contentType)
		sql += fmt.Sprintf(` AND content_type = $%d`, len(args))
	}
	sql += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.db.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("text query: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows)
}

// QueryRecent returns the most recently ingested records, optionally
// restricted to a metadata date prefix (e.g. "2024"). Last-resort
// fallback so chat always has some context.
func (s *Store) QueryRecent(ctx context.Context, limit int, datePrefix string) ([]SearchResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `SELECT meeting_id, content, content_type,
	               0.5::float8 AS similarity,
	               metadata, created_at
	        FROM document_embeddings`
	var args []any
	if datePrefix != "" {
		args = append(args, datePrefix+"%")
		sql += ` WHERE metadata->>'date' LIKE $1`
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("recent query: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows)
}

// Stats reports record counts per content type.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT content_type, count(*) FROM document_embeddings GROUP BY content_type`)
	if err != nil {
		return nil, fmt.Errorf("counting embeddings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var ct string
		var n int64
		if err := rows.Scan(&ct, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[ct] = n
	}
	return counts, rows.Err()
}

// scanResults converts query rows to SearchResults. Rows with
// unparsable metadata keep going with empty metadata rather than
// failing the whole result set.
func (s *Store) scanResults(rows pgx.Rows) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metadataJSON []byte
		if err := rows.Scan(&r.MeetingID, &r.Content, &r.ContentType,
			&r.SimilarityScore, &metadataJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			s.logger.Warn("unparsable metadata", "meeting_id", r.MeetingID, "error", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
