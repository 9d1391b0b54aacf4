// Package search implements retrieval over the embedding store with a
// graduated fallback chain: vector similarity first, then scored
// keyword matching, then temporal filtering for recency-flavored
// queries, and finally a plain most-recent listing so callers always
// get some context. Every stage feeds the same post-processing: a
// per-meeting diversity cap and a stable score-descending order.
package search

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/store"
)

// Search type labels reported to callers for observability.
const (
	TypeVector          = "vector"
	TypeText            = "text"
	TypeKeywordFallback = "keyword_fallback"
	TypeRecentFallback  = "recent_fallback"
)

const (
	// candidateLimit bounds how many rows the keyword stage pulls
	// before scoring; scoring happens in process, not in SQL.
	candidateLimit = 50

	// maxPerMeeting is the diversity cap on results sharing a meeting id.
	maxPerMeeting = 2

	// minTermLength filters out stopword-sized query terms.
	minTermLength = 2

	// recentScore is the flat confidence attached to last-resort results.
	recentScore = 0.5
)

// yearPattern matches an explicit four-digit year in a query.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// categoryLexicon grants one bounded boost per matched topic category.
// Replaces per-entity tuning with something that generalizes across
// municipalities.
var categoryLexicon = map[string][]string{
	"finance":  {"budget", "fiscal", "fund", "revenue", "expenditure", "tax", "audit"},
	"planning": {"zoning", "development", "permit", "land", "housing", "renovation"},
	"safety":   {"police", "fire", "traffic", "safety", "emergency"},
}

const categoryBoost = 0.4

// Embedder turns the query text into a vector for the similarity stage.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repository is the query surface of the embedding store.
type Repository interface {
	QueryByVector(ctx context.Context, vector []float32, limit int, threshold float64, contentType string) ([]store.SearchResult, error)
	QueryByText(ctx context.Context, query string, terms []string, limit int, contentType string) ([]store.SearchResult, error)
	QueryRecent(ctx context.Context, limit int, datePrefix string) ([]store.SearchResult, error)
}

// Options tunes a single search. Zero values fall back to the engine
// defaults.
type Options struct {
	Limit       int
	Threshold   float64
	ContentType string // optional filter: full_content or summary
}

// Response is the search result set plus where it came from.
type Response struct {
	Results      []store.SearchResult `json:"results"`
	Query        string               `json:"query"`
	TotalResults int                  `json:"total_results"`
	SearchType   string               `json:"search_type"`
}

// Engine executes searches. Safe for concurrent use.
type Engine struct {
	embedder         Embedder
	repo             Repository
	logger           log.Logger
	defaultLimit     int
	defaultThreshold float64
	now              func() time.Time
}

// New creates an Engine with the given defaults.
func New(embedder Embedder, repo Repository, defaultLimit int, defaultThreshold float64, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	if defaultThreshold <= 0 {
		defaultThreshold = 0.7
	}
	return &Engine{
		embedder:         embedder,
		repo:             repo,
		logger:           logger,
		defaultLimit:     defaultLimit,
		defaultThreshold: defaultThreshold,
		now:              time.Now,
	}
}

// Search runs the fallback chain for one query. It never returns an
// error for "nothing matched": that is an empty, well-formed response.
// Errors are reserved for context cancellation.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Response, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = e.defaultThreshold
	}

	resp := Response{Query: query, Results: []store.SearchResult{}, SearchType: TypeVector}

	results := e.vectorStage(ctx, query, limit, threshold, opts.ContentType)
	if ctx.Err() != nil {
		return resp, ctx.Err()
	}

	if len(results) == 0 {
		resp.SearchType = TypeText
		results = e.textStage(ctx, query, limit, threshold, opts.ContentType)
	}

	if len(results) == 0 && hasRecencyLanguage(query) {
		if temporal := e.temporalStage(ctx, query, limit); len(temporal) > 0 {
			resp.SearchType = TypeKeywordFallback
			results = temporal
		}
	}

	if len(results) == 0 {
		if recent := e.recentStage(ctx, limit); len(recent) > 0 {
			resp.SearchType = TypeRecentFallback
			results = recent
		}
	}

	resp.Results = diversify(results, limit)
	resp.TotalResults = len(resp.Results)
	e.logger.Debug("search completed",
		"query", query, "search_type", resp.SearchType, "results", resp.TotalResults)
	return resp, nil
}

// vectorStage embeds the query and runs similarity search. Any failure
// here degrades to the next stage instead of failing the search.
func (e *Engine) vectorStage(ctx context.Context, query string, limit int, threshold float64, contentType string) []store.SearchResult {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("vector stage degraded: embedding failed", "error", err)
		return nil
	}
	results, err := e.repo.QueryByVector(ctx, vector, limit, threshold, contentType)
	if err != nil {
		e.logger.Warn("vector stage degraded: similarity query failed", "error", err)
		return nil
	}
	return results
}

// textStage pulls keyword candidates and scores them in process.
// Keyword scores are coarser than cosine similarity, so acceptance is
// relaxed to threshold × 0.6.
func (e *Engine) textStage(ctx context.Context, query string, limit int, threshold float64, contentType string) []store.SearchResult {
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil
	}
	candidates, err := e.repo.QueryByText(ctx, strings.ToLower(query), terms, candidateLimit, contentType)
	if err != nil {
		e.logger.Warn("text stage failed", "error", err)
		return nil
	}

	effective := threshold * 0.6
	scored := candidates[:0]
	for _, c := range candidates {
		c.SimilarityScore = scoreKeywordMatch(c, terms)
		if c.SimilarityScore >= effective {
			scored = append(scored, c)
		}
	}
	if len(scored) > limit*maxPerMeeting {
		sortResults(scored)
		scored = scored[:limit*maxPerMeeting]
	}
	return scored
}

// temporalStage serves recency-flavored queries from the date-filtered
// recent listing. An explicit year in the query narrows the filter;
// otherwise the current year is assumed.
func (e *Engine) temporalStage(ctx context.Context, query string, limit int) []store.SearchResult {
	year := yearPattern.FindString(query)
	if year == "" {
		year = strconv.Itoa(e.now().Year())
	}
	results, err := e.repo.QueryRecent(ctx, limit*maxPerMeeting, year)
	if err != nil {
		e.logger.Warn("temporal stage failed", "error", err)
		return nil
	}
	return results
}

// recentStage is the last resort: whatever was ingested most recently,
// at flat low confidence.
func (e *Engine) recentStage(ctx context.Context, limit int) []store.SearchResult {
	results, err := e.repo.QueryRecent(ctx, limit*maxPerMeeting, "")
	if err != nil {
		e.logger.Warn("recent stage failed", "error", err)
		return nil
	}
	for i := range results {
		results[i].SimilarityScore = recentScore
	}
	return results
}

// QueryTerms splits a query into lowercased terms longer than two
// characters.
func QueryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if len(f) > minTermLength {
			terms = append(terms, f)
		}
	}
	return terms
}

// scoreKeywordMatch assigns a heuristic relevance score: a flat base,
// per-term boosts for content and title hits, and one bounded boost per
// matched topic category. Capped at 1.0.
func scoreKeywordMatch(r store.SearchResult, terms []string) float64 {
	content := strings.ToLower(r.Content)
	title := strings.ToLower(r.Metadata.Title)

	score := 0.3
	for _, term := range terms {
		if strings.Contains(content, term) {
			score += 0.2
		}
		if strings.Contains(title, term) {
			score += 0.3
		}
	}
	for _, keywords := range categoryLexicon {
		if termsMatchCategory(terms, keywords) && textMatchesCategory(content, title, keywords) {
			score += categoryBoost
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func termsMatchCategory(terms, keywords []string) bool {
	for _, t := range terms {
		for _, k := range keywords {
			if strings.Contains(t, k) {
				return true
			}
		}
	}
	return false
}

func textMatchesCategory(content, title string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(content, k) || strings.Contains(title, k) {
			return true
		}
	}
	return false
}

// hasRecencyLanguage reports whether the query asks for recent material.
func hasRecencyLanguage(query string) bool {
	q := strings.ToLower(query)
	for _, marker := range []string{"latest", "recent", "this year"} {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return yearPattern.MatchString(query)
}

// diversify caps results per meeting at two: the first pass seats one
// result per unique meeting, the second fills remaining slots honoring
// the cap. Input order (descending score) is preserved within passes.
func diversify(results []store.SearchResult, limit int) []store.SearchResult {
	sortResults(results)
	if len(results) == 0 {
		return []store.SearchResult{}
	}

	out := make([]store.SearchResult, 0, limit)
	counts := make(map[string]int, len(results))

	for _, r := range results {
		if len(out) >= limit {
			break
		}
		if counts[r.MeetingID] == 0 {
			out = append(out, r)
			counts[r.MeetingID]++
		}
	}
	for _, r := range results {
		if len(out) >= limit {
			break
		}
		if counts[r.MeetingID] > 0 && counts[r.MeetingID] < maxPerMeeting && !contains(out, r) {
			out = append(out, r)
			counts[r.MeetingID]++
		}
	}

	sortResults(out)
	return out
}

func contains(results []store.SearchResult, r store.SearchResult) bool {
	for i := range results {
		if results[i].MeetingID == r.MeetingID &&
			results[i].ContentType == r.ContentType &&
			results[i].Content == r.Content {
			return true
		}
	}
	return false
}

// sortResults orders by score descending, then created_at descending.
func sortResults(results []store.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
}
