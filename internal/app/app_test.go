package app

import (
	"testing"
	"time"

	"github.com/civicbeacon/beacon/internal/config"
)

func TestIngestOptionsMapping(t *testing.T) {
	a := &App{Config: &config.Config{
		SourcePageSize: 20,
		Ingest: config.IngestConfig{
			BatchSize:        25,
			TimeBudget:       9 * time.Minute,
			DocumentDelay:    100 * time.Millisecond,
			PageDelay:        500 * time.Millisecond,
			MinContentLength: 50,
			MaxDocErrors:     10,
			MaxPageErrors:    5,
			RatePerSecond:    3,
		},
	}}

	opts := a.IngestOptions()
	if opts.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", opts.BatchSize)
	}
	if opts.PageSize != 20 {
		t.Errorf("PageSize = %d, want 20", opts.PageSize)
	}
	if opts.TimeBudget != 9*time.Minute {
		t.Errorf("TimeBudget = %v, want 9m", opts.TimeBudget)
	}
	if opts.RatePerSecond != 3 {
		t.Errorf("RatePerSecond = %v, want 3", opts.RatePerSecond)
	}
}

func TestCloseWithoutPool(t *testing.T) {
	a := &App{}
	a.Close() // must not panic
}
