package provider

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/retry"
)

// fakeAPI implements the api interface with scripted responses.
type fakeAPI struct {
	embedResponses []embedResult
	chatResponses  []chatResult
	embedCalls     int
	chatCalls      int
	lastEmbedInput string
	lastChatReq    openai.ChatCompletionRequest
}

type embedResult struct {
	resp openai.EmbeddingResponse
	err  error
}

type chatResult struct {
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	if req, ok := conv.(openai.EmbeddingRequestStrings); ok && len(req.Input) > 0 {
		f.lastEmbedInput = req.Input[0]
	}
	i := f.embedCalls
	f.embedCalls++
	if i >= len(f.embedResponses) {
		i = len(f.embedResponses) - 1
	}
	return f.embedResponses[i].resp, f.embedResponses[i].err
}

func (f *fakeAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastChatReq = req
	i := f.chatCalls
	f.chatCalls++
	if i >= len(f.chatResponses) {
		i = len(f.chatResponses) - 1
	}
	return f.chatResponses[i].resp, f.chatResponses[i].err
}

func embedOK(vec []float32) embedResult {
	return embedResult{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{{Embedding: vec}},
	}}
}

// fastRetry shrinks backoff so retry paths run quickly in tests.
func fastRetry(e *Embedder) {
	cfg := retry.Config{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 1}
	e.retryCfg = cfg
	e.rateLimitRetry = cfg
}

func TestEmbedder_Embed(t *testing.T) {
	fake := &fakeAPI{embedResponses: []embedResult{embedOK([]float32{0.1, 0.2, 0.3})}}
	e := NewEmbedder(fake, "text-embedding-3-small", 3, log.NewNop())

	vec, err := e.Embed(context.Background(), "city council budget minutes")
	if err != nil {
		t.Fatalf("Embed() = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
	if fake.lastEmbedInput != "city council budget minutes" {
		t.Errorf("input = %q, want original text", fake.lastEmbedInput)
	}
}

func TestEmbedder_EmptyInput(t *testing.T) {
	e := NewEmbedder(&fakeAPI{}, "m", 3, log.NewNop())
	if _, err := e.Embed(context.Background(), ""); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Embed(\"\") = %v, want ErrEmptyInput", err)
	}
}

func TestEmbedder_RetriesRateLimit(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}
	fake := &fakeAPI{embedResponses: []embedResult{
		{err: rateLimited},
		{err: rateLimited},
		embedOK([]float32{1, 2, 3}),
	}}
	e := NewEmbedder(fake, "m", 3, log.NewNop())
	fastRetry(e)

	vec, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed() = %v, want recovery after 429s", err)
	}
	if fake.embedCalls != 3 {
		t.Errorf("calls = %d, want 3", fake.embedCalls)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestEmbedder_RateLimitExhausted(t *testing.T) {
	fake := &fakeAPI{embedResponses: []embedResult{
		{err: &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}},
	}}
	e := NewEmbedder(fake, "m", 3, log.NewNop())
	fastRetry(e)

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Embed() = %v, want ErrRateLimited", err)
	}
	if fake.embedCalls != 3 {
		t.Errorf("calls = %d, want 3 (attempt budget)", fake.embedCalls)
	}
}

func TestEmbedder_ServerErrorsUseSmallerBudget(t *testing.T) {
	fake := &fakeAPI{embedResponses: []embedResult{
		{err: &openai.APIError{HTTPStatusCode: 500, Message: "internal"}},
	}}
	e := NewEmbedder(fake, "m", 3, log.NewNop())
	e.retryCfg = retry.Config{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 1}
	e.rateLimitRetry = retry.Config{MaxAttempts: 5, InitialInterval: 1, MaxInterval: 1}

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("Embed() = %v, want ErrProvider", err)
	}
	if fake.embedCalls != 3 {
		t.Errorf("calls = %d, want 3 (server errors stop at the smaller budget)", fake.embedCalls)
	}
}

func TestEmbedder_RateLimitsKeepLargerBudget(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}
	fake := &fakeAPI{embedResponses: []embedResult{
		{err: rateLimited},
		{err: rateLimited},
		{err: rateLimited},
		{err: rateLimited},
		embedOK([]float32{1, 2, 3}),
	}}
	e := NewEmbedder(fake, "m", 3, log.NewNop())
	e.retryCfg = retry.Config{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 1}
	e.rateLimitRetry = retry.Config{MaxAttempts: 5, InitialInterval: 1, MaxInterval: 1}

	vec, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed() = %v, want recovery within the rate-limit budget", err)
	}
	if fake.embedCalls != 5 {
		t.Errorf("calls = %d, want 5", fake.embedCalls)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestEmbedder_BadRequestNotRetried(t *testing.T) {
	fake := &fakeAPI{embedResponses: []embedResult{
		{err: &openai.APIError{HTTPStatusCode: 400, Message: "invalid"}},
	}}
	e := NewEmbedder(fake, "m", 3, log.NewNop())
	fastRetry(e)

	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("Embed() = %v, want ErrProvider", err)
	}
	if fake.embedCalls != 1 {
		t.Errorf("calls = %d, want 1 (4xx is permanent)", fake.embedCalls)
	}
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	fake := &fakeAPI{embedResponses: []embedResult{embedOK([]float32{1, 2})}}
	e := NewEmbedder(fake, "m", 1536, log.NewNop())

	if _, err := e.Embed(context.Background(), "text"); !errors.Is(err, ErrProvider) {
		t.Fatalf("Embed() = %v, want ErrProvider on dimension mismatch", err)
	}
}

func TestGenerator_Complete(t *testing.T) {
	fake := &fakeAPI{chatResponses: []chatResult{{
		resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "The budget passed."}},
		}},
	}}}
	g := NewGenerator(fake, GeneratorOptions{Model: "gpt-4o-mini", MaxTokens: 1500, Temperature: 0.3}, log.NewNop())

	out, err := g.Complete(context.Background(), "system prompt", "what happened?")
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	if out != "The budget passed." {
		t.Errorf("out = %q", out)
	}
	if len(fake.lastChatReq.Messages) != 2 {
		t.Fatalf("messages = %d, want system+user", len(fake.lastChatReq.Messages))
	}
	if fake.lastChatReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first role = %q, want system", fake.lastChatReq.Messages[0].Role)
	}
	if fake.lastChatReq.MaxTokens != 1500 {
		t.Errorf("max tokens = %d, want 1500", fake.lastChatReq.MaxTokens)
	}
}

func TestGenerator_RateLimitSurfaces(t *testing.T) {
	fake := &fakeAPI{chatResponses: []chatResult{
		{err: &openai.APIError{HTTPStatusCode: 429, Message: "rate limit"}},
	}}
	g := NewGenerator(fake, GeneratorOptions{Model: "m"}, log.NewNop())
	g.retryCfg = retry.Config{MaxAttempts: 2, InitialInterval: 1, MaxInterval: 1}

	_, err := g.Complete(context.Background(), "sys", "user")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Complete() = %v, want ErrRateLimited", err)
	}
}
