// Package civic provides the client for the upstream civic-data API
// that serves AI-generated meeting summaries. The API is a paginated,
// pull-based document source: fetching the same page twice returns the
// same content barring upstream changes.
package civic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civicbeacon/beacon/internal/log"
)

// ErrSourceUnavailable indicates the upstream document source failed.
// Retryable at page granularity; the ingestion pipeline counts these
// and stops early after its page-error threshold.
var ErrSourceUnavailable = errors.New("document source unavailable")

// Document type labels. Upstream values outside this set normalize to
// DocTypeOther.
const (
	DocTypeAgenda  = "agenda"
	DocTypeMinutes = "minutes"
	DocTypeOther   = "other"
)

// DefaultTimeout bounds every upstream call so a stalled source cannot
// hang an ingestion run.
const DefaultTimeout = 15 * time.Second

// Document is a normalized meeting record from the civic API.
// Constructed fresh on every fetch and never mutated; only the derived
// embedding record is persisted.
type Document struct {
	ID             string
	Title          string
	Date           string // ISO date as sent upstream; malformed values pass through verbatim
	GovernmentBody string
	DocumentType   string
	Summary        string
	Content        string // full document text; may be empty
	SourceURL      string
	AIEnhanced     bool
}

// RawText returns the text to embed: the full content when present,
// otherwise the summary.
func (d Document) RawText() string {
	if d.Content != "" {
		return d.Content
	}
	return d.Summary
}

// ContentType reports which field RawText drew from.
func (d Document) ContentType() string {
	if d.Content != "" {
		return "full_content"
	}
	return "summary"
}

// summariesResponse mirrors the upstream wire format.
type summariesResponse struct {
	Summaries  []summaryPayload `json:"summaries"`
	Pagination *struct {
		HasNext bool `json:"has_next"`
	} `json:"pagination"`
}

type summaryPayload struct {
	ID             string `json:"id"`
	MeetingID      string `json:"meeting_id"`
	Title          string `json:"title"`
	Date           string `json:"date"`
	GovernmentBody string `json:"government_body"`
	Commission     string `json:"commission"`
	DocumentType   string `json:"document_type"`
	Summary        string `json:"summary"`
	Content        string `json:"content"`
	URL            string `json:"url"`
	SourceURL      string `json:"source_url"`
	AIEnhanced     bool   `json:"ai_enhanced"`
}

// Client fetches meeting documents from the civic API.
// The base URL is resolved once from configuration at startup; there is
// no per-request endpoint selection.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// NewClient creates a civic API client. A nil httpClient gets a default
// with DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchPage fetches one page of meeting summaries.
// Returns the normalized documents and whether more pages follow.
// Upstream HTTP failures wrap ErrSourceUnavailable.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) ([]Document, bool, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))

	reqURL := c.baseURL + "/api/summaries?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var payload summariesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("%w: decoding response: %v", ErrSourceUnavailable, err)
	}

	docs := make([]Document, 0, len(payload.Summaries))
	for _, s := range payload.Summaries {
		docs = append(docs, normalize(s))
	}

	hasNext := payload.Pagination != nil && payload.Pagination.HasNext
	c.logger.Debug("fetched page", "page", page, "documents", len(docs), "has_next", hasNext)
	return docs, hasNext, nil
}

// normalize maps one upstream summary payload onto a Document,
// tolerating the field aliases the API has used over time.
func normalize(s summaryPayload) Document {
	id := s.ID
	if id == "" {
		id = s.MeetingID
	}
	body := s.GovernmentBody
	if body == "" {
		body = s.Commission
	}
	sourceURL := s.SourceURL
	if sourceURL == "" {
		sourceURL = s.URL
	}
	return Document{
		ID:             id,
		Title:          s.Title,
		Date:           s.Date,
		GovernmentBody: body,
		DocumentType:   normalizeDocType(s.DocumentType),
		Summary:        s.Summary,
		Content:        s.Content,
		SourceURL:      sourceURL,
		AIEnhanced:     s.AIEnhanced,
	}
}

func normalizeDocType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case DocTypeAgenda:
		return DocTypeAgenda
	case DocTypeMinutes:
		return DocTypeMinutes
	default:
		return DocTypeOther
	}
}
