// Package chat assembles retrieved meeting excerpts into a prompt
// context, calls the generation provider, and returns an answer with
// structured source citations. Session and analytics persistence is
// fire-and-forget: a failed write never fails the user-facing answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/provider"
	"github.com/civicbeacon/beacon/internal/search"
	"github.com/civicbeacon/beacon/internal/store"
)

const (
	// defaultContextResults bounds how many excerpts enter the prompt.
	defaultContextResults = 5

	// persistTimeout bounds the background persistence writes so they
	// cannot leak goroutines when the database is wedged.
	persistTimeout = 5 * time.Second
)

// rateLimitedResponse is returned verbatim when the generation provider
// is saturated. Citations still accompany it so the caller can read the
// sources directly.
const rateLimitedResponse = "I'm currently experiencing high demand and can't generate a full answer. " +
	"The documents listed below match your question; please review them directly, or try again in a moment."

// noContextResponse covers questions the store has nothing for.
const noContextResponse = "I couldn't find any meeting documents related to your question. " +
	"Try rephrasing it, or ask about a specific commission, topic, or time period."

// Searcher produces ranked meeting excerpts for a query.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (search.Response, error)
}

// Generator produces the answer text.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Recorder persists sessions, messages, and query analytics. All calls
// are made off the request path.
type Recorder interface {
	EnsureSession(ctx context.Context, sessionID, firstMessage string) error
	SaveMessage(ctx context.Context, sessionID, role, content string) error
	RecordQuery(ctx context.Context, query, sessionID string, relevantMeetings []string, responseTime time.Duration) error
}

// Request is one chat turn.
type Request struct {
	Message           string `json:"message"`
	SessionID         string `json:"session_id"`
	SearchContext     bool   `json:"search_context"`
	MaxContextResults int    `json:"max_context_results"`
}

// SourceURL cites one meeting document backing the answer.
type SourceURL struct {
	MeetingID string `json:"meeting_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Date      string `json:"date"`
}

// Answer is the orchestrator's response.
type Answer struct {
	Response         string      `json:"response"`
	ContextDocuments int         `json:"context_documents"`
	RelevantMeetings []string    `json:"relevant_meetings"`
	SourceURLs       []SourceURL `json:"source_urls"`
	SessionID        string      `json:"session_id"`
}

// Orchestrator wires retrieval, generation, and persistence for the
// chat endpoint.
type Orchestrator struct {
	searcher Searcher
	gen      Generator
	recorder Recorder // nil disables persistence
	logger   log.Logger
	now      func() time.Time
}

// New creates an Orchestrator. recorder may be nil.
func New(searcher Searcher, gen Generator, recorder Recorder, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		searcher: searcher,
		gen:      gen,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Answer runs one chat turn: retrieve context, generate, cite. A
// rate-limited provider degrades the response text but keeps the
// citations intact.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Answer, error) {
	start := o.now()
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Answer{}, errors.New("empty message")
	}

	maxResults := req.MaxContextResults
	if maxResults <= 0 {
		maxResults = defaultContextResults
	}

	var results []store.SearchResult
	if req.SearchContext {
		resp, err := o.searcher.Search(ctx, msg, search.Options{Limit: maxResults})
		if err != nil {
			return Answer{}, fmt.Errorf("retrieving context: %w", err)
		}
		results = resp.Results
	}

	ans := Answer{
		SessionID:        req.SessionID,
		ContextDocuments: len(results),
		RelevantMeetings: meetingIDs(results),
		SourceURLs:       sourceURLs(results),
	}

	switch {
	case req.SearchContext && len(results) == 0:
		ans.Response = noContextResponse
	default:
		text, err := o.gen.Complete(ctx, o.systemPrompt(), userPrompt(msg, results))
		switch {
		case err == nil:
			ans.Response = text
		case errors.Is(err, provider.ErrRateLimited):
			o.logger.Warn("generation rate limited, returning degraded answer", "session_id", req.SessionID)
			ans.Response = rateLimitedResponse
		default:
			return Answer{}, fmt.Errorf("generating answer: %w", err)
		}
	}

	o.persist(req, ans, o.now().Sub(start))
	return ans, nil
}

// systemPrompt frames the assistant as a civic-records guide bound to
// the supplied context.
func (o *Orchestrator) systemPrompt() string {
	now := o.now()
	return fmt.Sprintf(`You are a civic transparency assistant helping residents understand local government meetings and decisions.

Today's date is %s. When the user says "this year" they mean %d.

Rules:
- Answer ONLY from the meeting documents provided in the context. Do not use outside knowledge.
- Cite the meeting and its date when referencing a document, e.g. "the %d-03-10 City Commission meeting".
- If the context does not cover the question, say so plainly instead of guessing.
- When documents conflict or span time, prefer the most recent one and say why.
- Keep answers concise and written for residents, not officials.`,
		now.Format("2006-01-02"), now.Year(), now.Year())
}

// userPrompt concatenates the retrieved excerpts into delimited blocks
// ahead of the user's question.
func userPrompt(message string, results []store.SearchResult) string {
	if len(results) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Context documents:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[Document %d - Meeting %s]\n%s\n\n", i+1, r.MeetingID, r.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(message)
	return b.String()
}

// persist writes the session, both messages, and a query-analytics
// record in the background. Failures are logged, never surfaced.
func (o *Orchestrator) persist(req Request, ans Answer, elapsed time.Duration) {
	if o.recorder == nil || req.SessionID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := o.recorder.EnsureSession(ctx, req.SessionID, req.Message); err != nil {
			o.logger.Warn("session upsert failed", "session_id", req.SessionID, "error", err)
			return
		}
		if err := o.recorder.SaveMessage(ctx, req.SessionID, store.RoleUser, req.Message); err != nil {
			o.logger.Warn("saving user message failed", "session_id", req.SessionID, "error", err)
		}
		if err := o.recorder.SaveMessage(ctx, req.SessionID, store.RoleAssistant, ans.Response); err != nil {
			o.logger.Warn("saving assistant message failed", "session_id", req.SessionID, "error", err)
		}
		if err := o.recorder.RecordQuery(ctx, req.Message, req.SessionID, ans.RelevantMeetings, elapsed); err != nil {
			o.logger.Warn("recording query analytics failed", "session_id", req.SessionID, "error", err)
		}
	}()
}

// meetingIDs lists the distinct meetings behind the context, in rank
// order.
func meetingIDs(results []store.SearchResult) []string {
	ids := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if !seen[r.MeetingID] {
			seen[r.MeetingID] = true
			ids = append(ids, r.MeetingID)
		}
	}
	return ids
}

// sourceURLs builds one citation per distinct meeting that carries a
// source link.
func sourceURLs(results []store.SearchResult) []SourceURL {
	urls := make([]SourceURL, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.MeetingID] || r.Metadata.SourceURL == "" {
			continue
		}
		seen[r.MeetingID] = true
		urls = append(urls, SourceURL{
			MeetingID: r.MeetingID,
			URL:       r.Metadata.SourceURL,
			Title:     r.Metadata.Title,
			Date:      r.Metadata.Date,
		})
	}
	return urls
}
