// Package cmd provides the beacon CLI.
//
// Commands:
//   - serve: HTTP API server (search, chat, ingestion trigger)
//   - ingest: one-off batch ingestion run
//   - search: query the embedding store from the terminal
//
// All commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/civicbeacon/beacon/internal/log"
)

// Execute is the entry point for the beacon CLI.
func Execute() error {
	logger := log.New(log.Config{
		Level: logLevel(os.Getenv("BEACON_LOG_LEVEL")),
		JSON:  os.Getenv("BEACON_LOG_FORMAT") == "json",
	})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "ingest":
		return runIngest(logger)
	case "search":
		return runSearch(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// logLevel maps the BEACON_LOG_LEVEL value to a slog level.
func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("beacon - civic meeting retrieval service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  beacon serve [addr]        Start the HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  beacon ingest [flags]      Run one batch ingestion pass")
	fmt.Println("      -batch-size N          Number of documents to process")
	fmt.Println("      -start-page N          First source page to fetch")
	fmt.Println("  beacon search <query>      Search stored meeting documents")
	fmt.Println("      -limit N               Maximum results")
	fmt.Println("  beacon version             Show version information")
	fmt.Println("  beacon help                Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  OPENAI_API_KEY             Required: embedding/generation provider key")
	fmt.Println("  DATABASE_URL               Optional: overrides postgres_* config values")
	fmt.Println("  BEACON_SOURCE_URL          Optional: document source base URL")
	fmt.Println("  BEACON_API_TOKEN           Optional: bearer token for /api/v1 routes")
	fmt.Println("  BEACON_LOG_LEVEL           Optional: debug, info, warn, error")
}
