package civic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/civicbeacon/beacon/internal/log"
)

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/summaries" {
			t.Errorf("path = %q, want /api/summaries", r.URL.Path)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q, want 2", got)
		}
		if got := r.URL.Query().Get("limit"); got != "20" {
			t.Errorf("limit = %q, want 20", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"summaries": [
				{
					"id": "m-101",
					"title": "Budget FY2024",
					"date": "2024-06-03",
					"government_body": "City Council",
					"document_type": "Minutes",
					"summary": "Adopted the FY2024 operating budget.",
					"content": "Full minutes text.",
					"url": "https://city.example.org/m-101.pdf",
					"ai_enhanced": true
				},
				{
					"meeting_id": "m-102",
					"title": "Park Renovation",
					"date": "not-a-date",
					"commission": "Parks Commission",
					"document_type": "workshop",
					"summary": "Reviewed renovation bids."
				}
			],
			"pagination": {"has_next": true}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), log.NewNop())
	docs, hasNext, err := client.FetchPage(context.Background(), 2, 20)
	if err != nil {
		t.Fatalf("FetchPage() = %v", err)
	}
	if !hasNext {
		t.Error("hasNext = false, want true")
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}

	first := docs[0]
	if first.ID != "m-101" || first.DocumentType != DocTypeMinutes {
		t.Errorf("first = %+v, want id m-101, type minutes", first)
	}
	if first.RawText() != "Full minutes text." {
		t.Errorf("RawText() = %q, want full content", first.RawText())
	}
	if first.ContentType() != "full_content" {
		t.Errorf("ContentType() = %q, want full_content", first.ContentType())
	}

	// Second document exercises the aliases and fallbacks: meeting_id,
	// commission, missing content, unknown document type, bad date.
	second := docs[1]
	if second.ID != "m-102" {
		t.Errorf("second.ID = %q, want m-102", second.ID)
	}
	if second.GovernmentBody != "Parks Commission" {
		t.Errorf("second.GovernmentBody = %q, want Parks Commission", second.GovernmentBody)
	}
	if second.DocumentType != DocTypeOther {
		t.Errorf("second.DocumentType = %q, want other", second.DocumentType)
	}
	if second.Date != "not-a-date" {
		t.Errorf("second.Date = %q, want verbatim pass-through", second.Date)
	}
	if second.RawText() != "Reviewed renovation bids." {
		t.Errorf("second.RawText() = %q, want summary fallback", second.RawText())
	}
	if second.ContentType() != "summary" {
		t.Errorf("second.ContentType() = %q, want summary", second.ContentType())
	}
}

func TestFetchPage_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"summaries": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), log.NewNop())
	docs, hasNext, err := client.FetchPage(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("FetchPage() = %v", err)
	}
	if len(docs) != 0 || hasNext {
		t.Errorf("got %d docs, hasNext=%v; want empty final page", len(docs), hasNext)
	}
}

func TestFetchPage_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client(), log.NewNop())
	_, _, err := client.FetchPage(context.Background(), 1, 20)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("FetchPage() = %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchPage_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(srv.URL, srv.Client(), log.NewNop())
	_, _, err := client.FetchPage(ctx, 1, 20)
	if err == nil {
		t.Fatal("FetchPage() = nil, want error on canceled context")
	}
}
