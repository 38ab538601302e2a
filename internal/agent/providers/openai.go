package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/backoff"
	"github.com/haasonsaas/quill/internal/observability"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI plain generator.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint.
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// OpenAI implements agent.PlainGenerator over chat completions.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	maxRetries  int
	retryPolicy backoff.Policy
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewOpenAI creates an OpenAI plain generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryPolicy: backoff.DefaultPolicy(),
		logger:      logger.With("component", "openai"),
		metrics:     cfg.Metrics,
	}, nil
}

// GeneratePlain sends the system prompt and a single user message.
func (p *OpenAI) GeneratePlain(ctx context.Context, prompt, system string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	}

	return backoff.Retry(ctx, p.retryPolicy, p.maxRetries+1, agent.IsRetryable, func(attempt int) (string, error) {
		start := time.Now()
		resp, err := p.client.CreateChatCompletion(ctx, req)
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordLLMRequest("openai", "plain", status, time.Since(start).Seconds())
		if err != nil {
			p.logger.WarnContext(ctx, "plain generation failed", "attempt", attempt, "error", err)
			return "", wrapOpenAIError(err)
		}
		p.metrics.RecordTokens(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), 0, 0)

		if len(resp.Choices) == 0 {
			return "", nil
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
}
