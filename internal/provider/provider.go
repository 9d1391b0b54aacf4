// Package provider wraps the OpenAI-compatible embedding and chat
// completion APIs behind small, injectable interfaces. All calls are
// bounded by a per-attempt timeout and retried with exponential
// backoff; rate limits surface as ErrRateLimited so callers can choose
// between backing off (ingestion) and degrading (chat).
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicbeacon/beacon/internal/retry"
)

var (
	// ErrRateLimited indicates the provider returned HTTP 429.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProvider indicates a non-429 provider failure.
	ErrProvider = errors.New("provider error")

	// ErrEmptyInput indicates the caller passed empty text.
	ErrEmptyInput = errors.New("empty input text")
)

// CallTimeout bounds each individual provider attempt so a stalled
// upstream cannot hang an ingestion run or a chat request.
const CallTimeout = 15 * time.Second

// api is the subset of the go-openai client surface used here.
// Defined by the consumer so tests can inject a fake.
type api interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient creates the underlying go-openai client for the given key.
func NewClient(apiKey string) *openai.Client {
	return openai.NewClient(apiKey)
}

// classify maps a go-openai error onto the package taxonomy and marks
// non-retryable failures as permanent for the retry helper.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			// go-openai does not expose the Retry-After header, so
			// the retry helper falls back to its exponential schedule.
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return retry.MarkPermanent(fmt.Errorf("%w: %v", ErrProvider, err))
		default:
			return fmt.Errorf("%w: %v", ErrProvider, err)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}

	// Transport-level failures (timeouts, resets) are retryable.
	return fmt.Errorf("%w: %v", ErrProvider, err)
}
