package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/civicbeacon/beacon/api"
	"github.com/civicbeacon/beacon/internal/app"
	"github.com/civicbeacon/beacon/internal/config"
	"github.com/civicbeacon/beacon/internal/log"
)

// runServe starts the HTTP API server.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.ValidateProvider(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr, err := parseServeAddr()
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting beacon", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	server := api.NewServer(
		a.Pool,
		a.Engine,
		a.Orchestrator,
		a.Pipeline,
		a.Embedder,
		a.Store,
		api.Config{
			APIToken:       cfg.APIToken,
			IngestDefaults: a.IngestOptions(),
		},
		logger,
	)

	return server.Run(ctx, addr)
}
