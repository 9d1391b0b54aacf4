package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/retry"
)

// Embedder turns text into fixed-dimension vectors via the embeddings
// endpoint. Rate limits get a larger attempt budget than other provider
// failures since they resolve on their own.
type Embedder struct {
	client         api
	model          string
	dimensions     int
	retryCfg       retry.Config
	rateLimitRetry retry.Config
	logger         log.Logger
}

// NewEmbedder creates an Embedder using the given client and model.
func NewEmbedder(client api, model string, dimensions int, logger log.Logger) *Embedder {
	if logger == nil {
		logger = log.NewNop()
	}
	rl := retry.DefaultConfig()
	rl.MaxAttempts = 5
	return &Embedder{
		client:         client,
		model:          model,
		dimensions:     dimensions,
		retryCfg:       retry.DefaultConfig(),
		rateLimitRetry: rl,
		logger:         logger,
	}
}

// Dimensions returns the expected vector dimensionality.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed generates an embedding vector for text. The text must be
// non-empty; minimum-length screening happens upstream in the
// ingestion pipeline so near-empty vectors never reach the store.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	// Both budgets run under one loop: rate limits may use all of
	// rateLimitRetry's attempts, while other provider failures stop
	// once they have consumed retryCfg's smaller allowance.
	var vector []float32
	providerFailures := 0
	err := retry.Do(ctx, e.rateLimitRetry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		defer cancel()

		resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			err = classify(err)
			var perm *retry.Permanent
			if !errors.As(err, &perm) && !errors.Is(err, ErrRateLimited) {
				providerFailures++
				if providerFailures >= e.retryCfg.MaxAttempts {
					return retry.MarkPermanent(err)
				}
			}
			return err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return retry.MarkPermanent(fmt.Errorf("%w: no embedding returned", ErrProvider))
		}
		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text (%d chars): %w", len(text), err)
	}

	if e.dimensions > 0 && len(vector) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrProvider, len(vector), e.dimensions)
	}

	e.logger.Debug("generated embedding", "model", e.model, "dimensions", len(vector))
	return vector, nil
}
