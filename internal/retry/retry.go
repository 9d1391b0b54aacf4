// Package retry provides a reusable retry helper with exponential
// backoff and jitter for calls to external collaborators (embedding
// provider, generation provider, document source, database).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior for one call site.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the backoff before the second attempt.
	InitialInterval time.Duration

	// MaxInterval caps the exponential backoff.
	MaxInterval time.Duration
}

// DefaultConfig returns sensible defaults for provider API calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Delayer is implemented by errors that carry an explicit wait hint,
// such as a provider's Retry-After header on HTTP 429 responses.
// When present and positive, the hint overrides the computed backoff.
type Delayer interface {
	RetryDelay() time.Duration
}

// Permanent wraps an error to mark it as non-retryable. Do aborts
// immediately when fn returns a permanent error.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// MarkPermanent marks err as non-retryable. Returns nil if err is nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do executes fn until it succeeds, returns a permanent error, the
// attempt budget is exhausted, or ctx is canceled. The returned error
// is the last error from fn, unwrapped from any Permanent marker.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Backoff(cfg, attempt)
		var d Delayer
		if errors.As(err, &d) {
			if hint := d.RetryDelay(); hint > 0 {
				delay = hint
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Backoff returns the exponential backoff for the given attempt
// (1-based), with up to ±25% jitter, capped at cfg.MaxInterval.
// Intervals too small to jitter are returned as-is.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so the multiplication cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	backoff := cfg.InitialInterval * time.Duration(1<<uint(attempt-1))
	if backoff > cfg.MaxInterval || backoff <= 0 {
		backoff = cfg.MaxInterval
	}
	if backoff <= 0 {
		return 0
	}

	half := int64(backoff) / 2
	if half <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Int64N(half)) - backoff/4
	return backoff + jitter
}
