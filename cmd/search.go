package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/civicbeacon/beacon/internal/app"
	"github.com/civicbeacon/beacon/internal/config"
	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/search"
)

// runSearch queries the embedding store from the terminal.
func runSearch(logger log.Logger) error {
	flags := flag.NewFlagSet("search", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	limit := flags.Int("limit", 0, "maximum results (0 = configured default)")

	args := argsAfterCommand()
	var queryParts []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		queryParts = append(queryParts, args[0])
		args = args[1:]
	}
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parsing search flags: %w", err)
	}
	queryParts = append(queryParts, flags.Args()...)

	query := strings.TrimSpace(strings.Join(queryParts, " "))
	if query == "" {
		return fmt.Errorf("usage: beacon search <query>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	// The vector stage embeds the query, so the provider key is needed.
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

	resp, err := a.Engine.Search(ctx, query, search.Options{Limit: *limit})
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	fmt.Printf("%d result(s) via %s\n\n", resp.TotalResults, resp.SearchType)
	for i, r := range resp.Results {
		fmt.Printf("%d. %s (meeting %s, score %.2f)\n", i+1, r.Metadata.Title, r.MeetingID, r.SimilarityScore)
		if r.Metadata.Date != "" {
			fmt.Printf("   date: %s\n", r.Metadata.Date)
		}
		if r.Metadata.SourceURL != "" {
			fmt.Printf("   url:  %s\n", r.Metadata.SourceURL)
		}
	}
	return nil
}
