// Package ingest orchestrates the batch pipeline that populates the
// embedding store: fetch a page of meeting documents, skip the ones
// already embedded or too short to embed, generate embeddings for the
// rest and upsert them, then move on. Runs are bounded by a batch
// size, a wall-clock budget, and error thresholds; individual document
// failures never abort the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/civicbeacon/beacon/internal/civic"
	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

// ErrInsufficientContent marks a document too short to embed
// meaningfully. A skip condition, not a failure.
var ErrInsufficientContent = errors.New("insufficient content")

// StopReason explains why an ingestion run ended.
type StopReason string

// Stop reasons reported in the ingestion summary.
const (
	StopBatchLimit    StopReason = "batch_limit_reached"
	StopTimeLimit     StopReason = "time_limit_approached"
	StopNoDocuments   StopReason = "no_more_documents"
	StopTooManyErrors StopReason = "too_many_errors"
)

// Source supplies paginated meeting documents.
type Source interface {
	FetchPage(ctx context.Context, page, pageSize int) (docs []civic.Document, hasNext bool, err error)
}

// Embedder turns document text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the persistence surface the pipeline writes to.
type Store interface {
	Exists(ctx context.Context, meetingID, contentType string) (bool, error)
	Upsert(ctx context.Context, rec store.EmbeddingRecord) error
}

// Options tunes one ingestion run.
type Options struct {
	BatchSize        int           // target number of processed documents
	StartPage        int           // first page to fetch (1-based)
	PageSize         int           // documents per source page
	TimeBudget       time.Duration // hard wall-clock ceiling for the whole run
	DocumentDelay    time.Duration // base delay between documents
	PageDelay        time.Duration // fixed delay between pages
	MinContentLength int           // documents shorter than this are skipped
	MaxDocErrors     int           // consecutive-run stops after this many document errors
	MaxPageErrors    int           // and after this many page fetch errors
	RatePerSecond    float64       // embedding call rate limit (0 = unlimited)
}

// withDefaults fills unset options with working values.
func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.StartPage <= 0 {
		o.StartPage = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.TimeBudget <= 0 {
		o.TimeBudget = 9 * time.Minute
	}
	if o.MinContentLength <= 0 {
		o.MinContentLength = 50
	}
	if o.MaxDocErrors <= 0 {
		o.MaxDocErrors = 10
	}
	if o.MaxPageErrors <= 0 {
		o.MaxPageErrors = 5
	}
	return o
}

// Report summarizes one ingestion run. Always returned, even when the
// run stopped early: partial completion is a success, not a failure.
type Report struct {
	ProcessedCount int           `json:"processedCount"`
	SkippedCount   int           `json:"skippedCount"`
	ErrorCount     int           `json:"errorCount"`
	PagesChecked   int           `json:"pagesChecked"`
	Duration       time.Duration `json:"duration"`
	StopReason     StopReason    `json:"stopReason"`
}

// Pipeline runs batch ingestion. Documents are processed sequentially;
// the provider rate limit, not throughput, is the binding constraint.
type Pipeline struct {
	source   Source
	embedder Embedder
	store    Store
	logger   log.Logger
}

// New creates a Pipeline.
func New(source Source, embedder Embedder, st Store, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{source: source, embedder: embedder, store: st, logger: logger}
}

// Run executes one ingestion pass and reports counts and the stop
// reason. The only hard error is context cancellation before any page
// was fetched; everything else degrades to a partial-completion report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	start := time.Now()
	deadline := start.Add(opts.TimeBudget)

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	report := Report{StopReason: StopNoDocuments}
	page := opts.StartPage

	// Page and document failures have independent thresholds;
	// ErrorCount reports their sum.
	pageErrors := 0
	docErrors := 0

	p.logger.Info("ingestion started",
		"batch_size", opts.BatchSize, "start_page", page, "time_budget", opts.TimeBudget)

loop:
	for {
		if time.Now().After(deadline) {
			report.StopReason = StopTimeLimit
			break
		}
		if ctx.Err() != nil {
			report.StopReason = StopTimeLimit
			break
		}

		docs, hasNext, err := p.source.FetchPage(ctx, page, opts.PageSize)
		report.PagesChecked++
		if err != nil {
			pageErrors++
			report.ErrorCount++
			p.logger.Warn("page fetch failed", "page", page, "errors", pageErrors, "error", err)
			if pageErrors >= opts.MaxPageErrors {
				report.StopReason = StopTooManyErrors
				break
			}
			page++
			continue
		}

		if len(docs) == 0 {
			report.StopReason = StopNoDocuments
			break
		}

		for _, doc := range docs {
			if report.ProcessedCount >= opts.BatchSize {
				report.StopReason = StopBatchLimit
				break loop
			}
			if time.Now().After(deadline) || ctx.Err() != nil {
				report.StopReason = StopTimeLimit
				break loop
			}

			switch err := p.processDocument(ctx, doc, opts, limiter); {
			case err == nil:
				report.ProcessedCount++
				// Progressive delay: grows mildly with volume to stay
				// under provider rate limits on large batches.
				p.sleep(ctx, progressiveDelay(opts.DocumentDelay, report.ProcessedCount))
			case errors.Is(err, errAlreadyExists), errors.Is(err, ErrInsufficientContent):
				report.SkippedCount++
			default:
				docErrors++
				report.ErrorCount++
				p.logger.Warn("document failed",
					"meeting_id", doc.ID, "title", doc.Title, "error", err)
				if docErrors > opts.MaxDocErrors {
					report.StopReason = StopTooManyErrors
					break loop
				}
			}
		}

		if !hasNext {
			report.StopReason = StopNoDocuments
			break
		}
		page++
		p.sleep(ctx, opts.PageDelay)
	}

	report.Duration = time.Since(start)
	p.logger.Info("ingestion finished",
		"processed", report.ProcessedCount,
		"skipped", report.SkippedCount,
		"errors", report.ErrorCount,
		"pages", report.PagesChecked,
		"duration", report.Duration,
		"stop_reason", report.StopReason)
	return report, nil
}

// errAlreadyExists signals the idempotent skip inside processDocument.
var errAlreadyExists = errors.New("already embedded")

// processDocument runs the per-document state machine:
// dedup check -> embed -> store.
func (p *Pipeline) processDocument(ctx context.Context, doc civic.Document, opts Options, limiter *rate.Limiter) error {
	if doc.ID == "" {
		return fmt.Errorf("document without id (title %q)", doc.Title)
	}

	rawText := doc.RawText()
	if len(rawText) < opts.MinContentLength {
		return fmt.Errorf("%w: %d chars", ErrInsufficientContent, len(rawText))
	}

	contentType := doc.ContentType()
	exists, err := p.store.Exists(ctx, doc.ID, contentType)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return errAlreadyExists
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	content := ContentBlock(doc)
	vector, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	rec := store.EmbeddingRecord{
		MeetingID:   doc.ID,
		Content:     content,
		ContentType: contentType,
		Embedding:   vector,
		Metadata: store.Metadata{
			Title:          doc.Title,
			Date:           doc.Date,
			GovernmentBody: doc.GovernmentBody,
			DocumentType:   doc.DocumentType,
			SourceURL:      doc.SourceURL,
			ContentLength:  len(rawText),
			AIEnhanced:     doc.AIEnhanced,
		},
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("storing: %w", err)
	}

	p.logger.Debug("processed document", "meeting_id", doc.ID, "title", doc.Title)
	return nil
}

// ContentBlock builds the exact text that is embedded and stored.
// The stored content reproduces this block verbatim so citations can
// re-display what the vector represents.
func ContentBlock(doc civic.Document) string {
	return strings.TrimSpace(fmt.Sprintf(
		"Title: %s\nDate: %s\nGovernment Body: %s\nMeeting Type: %s\nFull Content: %s",
		doc.Title, doc.Date, doc.GovernmentBody, doc.DocumentType, doc.RawText()))
}

// progressiveDelay returns the inter-document pause, growing by one
// base step every ten processed documents.
func progressiveDelay(base time.Duration, processed int) time.Duration {
	if base <= 0 {
		return 0
	}
	return base * time.Duration(1+processed/10)
}

// sleep pauses without outliving the context.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
