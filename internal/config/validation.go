package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate performs fail-fast validation of the loaded configuration.
// It checks everything needed by every mode; mode-specific requirements
// (like the provider API key) are checked by ValidateProvider.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateAI(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	return c.validateIngest()
}

// ValidateProvider checks that provider credentials are available.
// Called by modes that talk to the embedding/generation provider
// (serve, ingest, search) but not by offline commands like version.
func (c *Config) ValidateProvider() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}

func (c *Config) validateSource() error {
	u, err := url.Parse(c.SourceBaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidSourceURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSourceURL)
	}
	if c.SourcePageSize < 1 || c.SourcePageSize > 100 {
		return fmt.Errorf("%w: source_page_size must be 1-100, got %d", ErrInvalidSourceURL, c.SourcePageSize)
	}
	return nil
}

func (c *Config) validateAI() error {
	if strings.TrimSpace(c.ChatModel) == "" {
		return fmt.Errorf("%w: chat_model is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return fmt.Errorf("%w: embedding_model is empty", ErrInvalidEmbeddingModel)
	}
	// The vector column dimension is fixed by the migration; anything
	// else would fail at insert time with a confusing pgvector error.
	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 4096 {
		return fmt.Errorf("%w: embedding_dimensions must be 1-4096, got %d",
			ErrInvalidDimensions, c.EmbeddingDimensions)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port must be 1-65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_db_name is empty", ErrInvalidPostgresDBName)
	}
	return nil
}

func (c *Config) validateSearch() error {
	if c.SearchLimit < 1 || c.SearchLimit > 100 {
		return fmt.Errorf("%w: search_limit must be 1-100, got %d", ErrInvalidThreshold, c.SearchLimit)
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("%w: search_threshold must be 0-1, got %g",
			ErrInvalidThreshold, c.SearchThreshold)
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.BatchSize < 1 || c.Ingest.BatchSize > 1000 {
		return fmt.Errorf("%w: ingest.batch_size must be 1-1000, got %d",
			ErrInvalidBatchSize, c.Ingest.BatchSize)
	}
	if c.Ingest.TimeBudget <= 0 {
		return fmt.Errorf("%w: ingest.time_budget must be positive, got %v",
			ErrInvalidTimeBudget, c.Ingest.TimeBudget)
	}
	if c.Ingest.MinContentLength < 0 {
		return fmt.Errorf("%w: ingest.min_content_length must be non-negative, got %d",
			ErrInvalidBatchSize, c.Ingest.MinContentLength)
	}
	return nil
}
