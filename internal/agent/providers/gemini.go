package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/backoff"
	"github.com/haasonsaas/quill/internal/observability"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini plain generator.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Gemini implements agent.PlainGenerator with the Google Gen AI SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int
	maxRetries  int
	retryPolicy backoff.Policy
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewGemini creates a Gemini plain generator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
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

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		retryPolicy: backoff.DefaultPolicy(),
		logger:      logger.With("component", "gemini"),
		metrics:     cfg.Metrics,
	}, nil
}

// GeneratePlain sends a single user prompt with the system instruction.
func (g *Gemini) GeneratePlain(ctx context.Context, prompt, system string) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.maxTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	}}

	return backoff.Retry(ctx, g.retryPolicy, g.maxRetries+1, agent.IsRetryable, func(attempt int) (string, error) {
		start := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		status := "success"
		if err != nil {
			status = "error"
		}
		g.metrics.RecordLLMRequest("gemini", "plain", status, time.Since(start).Seconds())
		if err != nil {
			g.logger.WarnContext(ctx, "plain generation failed", "attempt", attempt, "error", err)
			return "", wrapGeminiError(err)
		}
		if usage := resp.UsageMetadata; usage != nil {
			g.metrics.RecordTokens(int64(usage.PromptTokenCount), int64(usage.CandidatesTokenCount), int64(usage.CachedContentTokenCount), 0)
		}
		return strings.TrimSpace(resp.Text()), nil
	})
}
