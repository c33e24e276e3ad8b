package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fieldmate-ai/raggate/internal/domain"
	"github.com/fieldmate-ai/raggate/internal/metrics"
)

// Generator is a chat-completion provider using the OpenAI-compatible API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	provider    string
	logger      *zap.Logger
}

// GeneratorConfig holds the generation provider settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Provider    string
	Logger      *zap.Logger
}

// NewGenerator creates an OpenAI-compatible chat completion provider.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		provider:    cfg.Provider,
		logger:      cfg.Logger,
	}
}

func (g *Generator) chatRequest(prompt domain.Prompt, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	return openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Stream:      stream,
	}
}

// Generate implements domain.Generator for whole-response mode.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (domain.GenerationResult, error) {
	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, g.chatRequest(prompt, false))

	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "sync", "error").Inc()
		return domain.GenerationResult{}, parseAPIError("generation", err, domain.ErrGenerationProvider)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "sync", "error").Inc()
		return domain.GenerationResult{}, fmt.Errorf("empty generation response: %w", domain.ErrGenerationProvider)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "sync", "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.provider, g.model, "sync").Observe(duration.Seconds())
	recordTokenUsage(g.provider, g.model, resp.Usage)

	return domain.GenerationResult{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// GenerateStream implements domain.Generator for incremental mode.
// The returned channel is always closed: after the last fragment on success,
// or after exactly one terminal fragment carrying the error. Cancelling ctx
// aborts the upstream call and closes the channel.
func (g *Generator) GenerateStream(ctx context.Context, prompt domain.Prompt) (<-chan domain.Fragment, error) {
	start := time.Now()

	stream, err := g.client.CreateChatCompletionStream(ctx, g.chatRequest(prompt, true))
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", "error").Inc()
		return nil, parseAPIError("generation", err, domain.ErrGenerationProvider)
	}

	out := make(chan domain.Fragment)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", "success").Inc()
				metrics.GenerationRequestDuration.WithLabelValues(g.provider, g.model, "stream").
					Observe(time.Since(start).Seconds())
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					// Consumer cancelled; no terminal error fragment, just stop.
					metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", "cancelled").Inc()
					return
				}
				metrics.GenerationRequestsTotal.WithLabelValues(g.provider, g.model, "stream", "error").Inc()
				g.sendFragment(ctx, out, domain.Fragment{
					Err: parseAPIError("generation", err, domain.ErrGenerationProvider),
				})
				return
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}

			metrics.GenerationFragmentsTotal.WithLabelValues(g.provider, g.model).Inc()
			if !g.sendFragment(ctx, out, domain.Fragment{Text: text}) {
				return
			}
		}
	}()

	return out, nil
}

func recordTokenUsage(provider, model string, usage openai.Usage) {
	if usage.PromptTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
	}
}

// sendFragment delivers a fragment unless the consumer is gone. Returns false
// when ctx is cancelled so the producer stops instead of blocking forever.
func (g *Generator) sendFragment(ctx context.Context, out chan<- domain.Fragment, f domain.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
