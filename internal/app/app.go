// Package app is the composition root: it builds the connection pool,
// runs migrations, and wires the source client, provider, store,
// pipeline, search engine, and chat orchestrator from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicbeacon/beacon/db"
	"github.com/civicbeacon/beacon/internal/chat"
	"github.com/civicbeacon/beacon/internal/civic"
	"github.com/civicbeacon/beacon/internal/config"
	"github.com/civicbeacon/beacon/internal/ingest"
	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/provider"
	"github.com/civicbeacon/beacon/internal/search"
	"github.com/civicbeacon/beacon/internal/store"
)

// App holds the wired service components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool         *pgxpool.Pool
	Store        *store.Store
	Source       *civic.Client
	Embedder     *provider.Embedder
	Generator    *provider.Generator
	Pipeline     *ingest.Pipeline
	Engine       *search.Engine
	Orchestrator *chat.Orchestrator
}

// Setup builds the full application. The returned App must be closed.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	pool, err := newPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(pool, logger)
	source := civic.NewClient(cfg.SourceBaseURL, nil, logger)

	client := provider.NewClient(cfg.OpenAIAPIKey)
	embedder := provider.NewEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimensions, logger)
	generator := provider.NewGenerator(client, provider.GeneratorOptions{
		Model:       cfg.ChatModel,
		MaxTokens:   cfg.ChatMaxTokens,
		Temperature: cfg.ChatTemperature,
	}, logger)

	engine := search.New(embedder, st, cfg.SearchLimit, cfg.SearchThreshold, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Store:        st,
		Source:       source,
		Embedder:     embedder,
		Generator:    generator,
		Pipeline:     ingest.New(source, embedder, st, logger),
		Engine:       engine,
		Orchestrator: chat.New(engine, generator, st, logger),
	}, nil
}

// IngestOptions translates the configured ingestion knobs into
// pipeline options.
func (a *App) IngestOptions() ingest.Options {
	ic := a.Config.Ingest
	return ingest.Options{
		BatchSize:        ic.BatchSize,
		PageSize:         a.Config.SourcePageSize,
		TimeBudget:       ic.TimeBudget,
		DocumentDelay:    ic.DocumentDelay,
		PageDelay:        ic.PageDelay,
		MinContentLength: ic.MinContentLength,
		MaxDocErrors:     ic.MaxDocErrors,
		MaxPageErrors:    ic.MaxPageErrors,
		RatePerSecond:    ic.RatePerSecond,
	}
}

// Close releases the connection pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// newPool migrates the schema, then opens and pings a pgx pool.
func newPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
