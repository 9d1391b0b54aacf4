package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/provider"
	"github.com/civicbeacon/beacon/internal/search"
	"github.com/civicbeacon/beacon/internal/store"
)

type fakeSearcher struct {
	resp search.Response
	err  error
}

func (f *fakeSearcher) Search(context.Context, string, search.Options) (search.Response, error) {
	return f.resp, f.err
}

type fakeGenerator struct {
	reply      string
	err        error
	lastSystem string
	lastUser   string
}

func (f *fakeGenerator) Complete(_ context.Context, systemPrompt, userMessage string) (string, error) {
	f.lastSystem = systemPrompt
	f.lastUser = userMessage
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	sessions  []string
	messages  []string // "role: content"
	queries   []string
	failAll   bool
	persisted chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{persisted: make(chan struct{}, 1)}
}

func (f *fakeRecorder) EnsureSession(_ context.Context, sessionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("db down")
	}
	f.sessions = append(f.sessions, sessionID)
	return nil
}

func (f *fakeRecorder) SaveMessage(_ context.Context, _, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, role+": "+content)
	return nil
}

func (f *fakeRecorder) RecordQuery(_ context.Context, query, _ string, _ []string, _ time.Duration) error {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	select {
	case f.persisted <- struct{}{}:
	default:
	}
	return nil
}

func contextResponse(results ...store.SearchResult) search.Response {
	return search.Response{Results: results, TotalResults: len(results), SearchType: search.TypeVector}
}

func docResult(meetingID, title, url string) store.SearchResult {
	return store.SearchResult{
		MeetingID:       meetingID,
		Content:         "Title: " + title + "\nFull Content: minutes text",
		ContentType:     store.ContentTypeFull,
		SimilarityScore: 0.9,
		Metadata:        store.Metadata{Title: title, Date: "2025-02-11", SourceURL: url},
	}
}

func TestAnswerWithContext(t *testing.T) {
	searcher := &fakeSearcher{resp: contextResponse(
		docResult("m1", "Budget Hearing", "https://city.example/m1"),
		docResult("m2", "Zoning Review", "https://city.example/m2"),
	)}
	gen := &fakeGenerator{reply: "The budget was approved."}
	o := New(searcher, gen, nil, log.NewNop())

	ans, err := o.Answer(context.Background(), Request{
		Message:       "what happened with the budget?",
		SessionID:     "s1",
		SearchContext: true,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if ans.Response != "The budget was approved." {
		t.Errorf("Response = %q", ans.Response)
	}
	if ans.ContextDocuments != 2 {
		t.Errorf("ContextDocuments = %d, want 2", ans.ContextDocuments)
	}
	if len(ans.RelevantMeetings) != 2 || ans.RelevantMeetings[0] != "m1" {
		t.Errorf("RelevantMeetings = %v", ans.RelevantMeetings)
	}
	if len(ans.SourceURLs) != 2 || ans.SourceURLs[0].URL != "https://city.example/m1" {
		t.Errorf("SourceURLs = %v", ans.SourceURLs)
	}
	for _, want := range []string{"[Document 1 - Meeting m1]", "[Document 2 - Meeting m2]", "Question: what happened with the budget?"} {
		if !strings.Contains(gen.lastUser, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if !strings.Contains(gen.lastSystem, "ONLY from the meeting documents") {
		t.Error("system prompt missing grounding instruction")
	}
}

func TestAnswerRateLimitedKeepsCitations(t *testing.T) {
	searcher := &fakeSearcher{resp: contextResponse(
		docResult("m1", "Budget Hearing", "https://city.example/m1"),
	)}
	gen := &fakeGenerator{err: provider.ErrRateLimited}
	o := New(searcher, gen, nil, log.NewNop())

	ans, err := o.Answer(context.Background(), Request{
		Message:       "budget?",
		SearchContext: true,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v, want degraded answer", err)
	}
	if !strings.Contains(ans.Response, "high demand") {
		t.Errorf("Response = %q, want degraded message", ans.Response)
	}
	if len(ans.SourceURLs) != 1 {
		t.Error("citations dropped from degraded answer")
	}
}

func TestAnswerNoContextFound(t *testing.T) {
	searcher := &fakeSearcher{resp: search.Response{Results: []store.SearchResult{}}}
	gen := &fakeGenerator{reply: "should not be called"}
	o := New(searcher, gen, nil, log.NewNop())

	ans, err := o.Answer(context.Background(), Request{Message: "anything?", SearchContext: true})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(ans.Response, "couldn't find") {
		t.Errorf("Response = %q, want no-context message", ans.Response)
	}
	if gen.lastUser != "" {
		t.Error("generator called despite empty context")
	}
}

func TestAnswerWithoutSearchContext(t *testing.T) {
	gen := &fakeGenerator{reply: "General answer."}
	o := New(&fakeSearcher{err: errors.New("must not be called")}, gen, nil, log.NewNop())

	ans, err := o.Answer(context.Background(), Request{Message: "hello", SearchContext: false})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if ans.Response != "General answer." {
		t.Errorf("Response = %q", ans.Response)
	}
	if ans.ContextDocuments != 0 {
		t.Errorf("ContextDocuments = %d, want 0", ans.ContextDocuments)
	}
	if gen.lastUser != "hello" {
		t.Errorf("user prompt = %q, want bare message", gen.lastUser)
	}
}

func TestAnswerGeneratorFailure(t *testing.T) {
	o := New(&fakeSearcher{resp: contextResponse(docResult("m1", "T", "u"))},
		&fakeGenerator{err: provider.ErrProvider}, nil, log.NewNop())

	_, err := o.Answer(context.Background(), Request{Message: "q", SearchContext: true})
	if !errors.Is(err, provider.ErrProvider) {
		t.Errorf("err = %v, want wrapped ErrProvider", err)
	}
}

func TestAnswerEmptyMessage(t *testing.T) {
	o := New(&fakeSearcher{}, &fakeGenerator{}, nil, log.NewNop())
	if _, err := o.Answer(context.Background(), Request{Message: "   "}); err == nil {
		t.Error("expected error for blank message")
	}
}

func TestPersistenceIsFireAndForget(t *testing.T) {
	rec := newFakeRecorder()
	o := New(&fakeSearcher{resp: contextResponse(docResult("m1", "T", "u"))},
		&fakeGenerator{reply: "ok"}, rec, log.NewNop())

	_, err := o.Answer(context.Background(), Request{
		Message:       "budget?",
		SessionID:     "s42",
		SearchContext: true,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	select {
	case <-rec.persisted:
	case <-time.After(2 * time.Second):
		t.Fatal("persistence did not run")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sessions) != 1 || rec.sessions[0] != "s42" {
		t.Errorf("sessions = %v", rec.sessions)
	}
	if len(rec.messages) != 2 {
		t.Fatalf("messages = %v, want user + assistant", rec.messages)
	}
	if !strings.HasPrefix(rec.messages[0], store.RoleUser+":") ||
		!strings.HasPrefix(rec.messages[1], store.RoleAssistant+":") {
		t.Errorf("message roles wrong: %v", rec.messages)
	}
}

func TestPersistenceFailureDoesNotFailAnswer(t *testing.T) {
	rec := newFakeRecorder()
	rec.failAll = true
	o := New(&fakeSearcher{resp: contextResponse(docResult("m1", "T", "u"))},
		&fakeGenerator{reply: "ok"}, rec, log.NewNop())

	ans, err := o.Answer(context.Background(), Request{
		Message:       "budget?",
		SessionID:     "s1",
		SearchContext: true,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if ans.Response != "ok" {
		t.Errorf("Response = %q", ans.Response)
	}
}
