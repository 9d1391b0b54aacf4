// Package api exposes the retrieval service over HTTP.
//
// Endpoints:
//
//	GET  /health               liveness probe
//	GET  /ready                readiness probe (pings the database)
//	POST /api/v1/search        fallback-chain document search
//	POST /api/v1/chat          retrieval-augmented chat with citations
//	POST /api/v1/ingest        trigger a batch ingestion run
//	POST /api/v1/embeddings    re-embed a single document
//	GET  /api/v1/sessions      list chat sessions
//	GET  /api/v1/sessions/{id}/messages
//	GET  /api/v1/stats         embedding store counts
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, logging, optional bearer auth
//   - health.go: probes
//   - search.go, chat.go, ingest.go, embeddings.go, session.go, stats.go: handlers
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicbeacon/beacon/internal/ingest"
	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because ingestion runs synchronously
	// within the request.
	WriteTimeout = 10 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Config carries the server's cross-handler settings.
type Config struct {
	// APIToken, when set, requires a matching bearer token on /api/v1 routes.
	APIToken string

	// IngestDefaults supplies the configured pipeline options for
	// fields an ingestion request leaves unset.
	IngestDefaults ingest.Options
}

// Server routes HTTP requests to the service components.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger

	health     *HealthHandler
	search     *SearchHandler
	chat       *ChatHandler
	ingest     *IngestHandler
	embeddings *EmbeddingsHandler
	session    *SessionHandler
	stats      *StatsHandler
}

// NewServer wires all handlers and registers routes.
func NewServer(
	pool *pgxpool.Pool,
	searcher Searcher,
	chatter Chatter,
	ingester Ingester,
	embedder Embedder,
	st *store.Store,
	cfg Config,
	logger log.Logger,
) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:        mux,
		cfg:        cfg,
		logger:     logger,
		health:     NewHealthHandler(pool, logger),
		search:     NewSearchHandler(searcher, logger),
		chat:       NewChatHandler(chatter, logger),
		ingest:     NewIngestHandler(ingester, cfg.IngestDefaults, logger),
		embeddings: NewEmbeddingsHandler(embedder, st, logger),
		session:    NewSessionHandler(st, logger),
		stats:      NewStatsHandler(st, logger),
	}

	s.health.RegisterRoutes(mux)
	s.search.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.ingest.RegisterRoutes(mux)
	s.embeddings.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.stats.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery → logging → auth → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware,
		loggingMiddleware,
		authMiddleware(s.cfg.APIToken),
	)
}

// Run starts the server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
