package provider

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicbeacon/beacon/internal/log"
	"github.com/civicbeacon/beacon/internal/retry"
)

// Generator produces chat completions from a system prompt and a user
// message. On exhausted rate-limit retries the error wraps
// ErrRateLimited so the chat orchestrator can return its degraded
// response instead of failing the request.
type Generator struct {
	client      api
	model       string
	maxTokens   int
	temperature float32
	retryCfg    retry.Config
	logger      log.Logger
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// NewGenerator creates a Generator with the given client and options.
func NewGenerator(client api, opts GeneratorOptions, logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1500
	}
	return &Generator{
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger,
	}
}

// Complete sends system+user messages and returns the generated text.
func (g *Generator) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if userMessage == "" {
		return "", ErrEmptyInput
	}

	var answer string
	err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, CallTimeout)
		defer cancel()

		resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userMessage},
			},
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return retry.MarkPermanent(fmt.Errorf("%w: no completion choices returned", ErrProvider))
		}
		answer = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	g.logger.Debug("completion generated", "model", g.model, "response_length", len(answer))
	return answer, nil
}
