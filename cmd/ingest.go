package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicbeacon/beacon/internal/app"
	"github.com/civicbeacon/beacon/internal/config"
	"github.com/civicbeacon/beacon/internal/log"
)

// runIngest executes one batch ingestion pass and prints the report.
func runIngest(logger log.Logger) error {
	flags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	batch := flags.Int("batch-size", 0, "number of documents to process (0 = configured default)")
	page := flags.Int("start-page", 0, "first source page to fetch (0 = configured default)")
	if err := flags.Parse(argsAfterCommand()); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	opts := a.IngestOptions()
	if *batch > 0 {
		opts.BatchSize = *batch
	}
	if *page > 0 {
		opts.StartPage = *page
	}

	report, err := a.Pipeline.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("running ingestion: %w", err)
	}

	fmt.Printf("Processed: %d\n", report.ProcessedCount)
	fmt.Printf("Skipped:   %d\n", report.SkippedCount)
	fmt.Printf("Errors:    %d\n", report.ErrorCount)
	fmt.Printf("Pages:     %d\n", report.PagesChecked)
	fmt.Printf("Duration:  %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("Stopped:   %s\n", report.StopReason)
	return nil
}

// argsAfterCommand returns the CLI args following the subcommand name.
func argsAfterCommand() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}
