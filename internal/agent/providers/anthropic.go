// Package providers adapts LLM provider SDKs to the agent package.
//
// Anthropic is the primary backend: it implements agent.Driver over the
// Beta Messages streaming API (server tools, extended thinking and the
// Files API all live behind beta headers), agent.PlainGenerator and
// agent.TokenCounter. OpenAI and Gemini implement agent.PlainGenerator only
// and can be selected as the fallback for tool-free generation.
//
// No driver retries a streaming call; the orchestration loop owns recovery.
// Plain generation retries transient failures with internal/backoff.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/backoff"
	"github.com/haasonsaas/quill/internal/observability"
)

const (
	// DefaultAnthropicModel is used when AnthropicConfig.Model is empty.
	DefaultAnthropicModel = "claude-sonnet-4-5"

	// DefaultMaxTokens caps output for both streaming and plain calls.
	DefaultMaxTokens = 2048

	// DefaultServerToolMaxUses caps web search and web fetch per call.
	DefaultServerToolMaxUses = 5

	// minThinkingBudget is the smallest budget the API accepts.
	minThinkingBudget = 1024

	providerAnthropic = "anthropic"
)

var (
	betaCodeExecution = anthropic.AnthropicBeta("code-execution-2025-08-25")
	betaWebFetch      = anthropic.AnthropicBeta("web-fetch-2025-09-10")
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint. Tests point it at httptest servers.
	BaseURL string

	Model     string
	MaxTokens int

	// ThinkingBudget enables extended thinking when positive. Values below
	// the API minimum are raised to it.
	ThinkingBudget int

	WebSearch        bool
	WebSearchMaxUses int
	WebFetch         bool
	WebFetchMaxUses  int
	CodeExecution    bool

	// MaxRetries applies to plain generation and file downloads, never to
	// streaming calls.
	MaxRetries     int
	RequestTimeout time.Duration
	HTTPClient     *http.Client

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client         anthropic.Client
	model          string
	maxTokens      int64
	thinkingBudget int64

	webSearch        bool
	webSearchMaxUses int64
	webFetch         bool
	webFetchMaxUses  int64
	codeExecution    bool

	maxRetries  int
	retryPolicy backoff.Policy

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAnthropic creates an Anthropic provider. SDK-level retries are disabled
// so that retry behavior is decided per operation.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.WebSearchMaxUses <= 0 {
		cfg.WebSearchMaxUses = DefaultServerToolMaxUses
	}
	if cfg.WebFetchMaxUses <= 0 {
		cfg.WebFetchMaxUses = DefaultServerToolMaxUses
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ThinkingBudget > 0 && cfg.ThinkingBudget < minThinkingBudget {
		cfg.ThinkingBudget = minThinkingBudget
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		options = append(options, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Anthropic{
		client:           anthropic.NewClient(options...),
		model:            cfg.Model,
		maxTokens:        int64(cfg.MaxTokens),
		thinkingBudget:   int64(cfg.ThinkingBudget),
		webSearch:        cfg.WebSearch,
		webSearchMaxUses: int64(cfg.WebSearchMaxUses),
		webFetch:         cfg.WebFetch,
		webFetchMaxUses:  int64(cfg.WebFetchMaxUses),
		codeExecution:    cfg.CodeExecution,
		maxRetries:       cfg.MaxRetries,
		retryPolicy:      backoff.DefaultPolicy(),
		logger:           logger.With("component", "anthropic"),
		metrics:          cfg.Metrics,
	}, nil
}

// Model returns the configured model ID.
func (a *Anthropic) Model() string {
	return a.model
}

// MaxTokens returns the output token cap.
func (a *Anthropic) MaxTokens() int {
	return int(a.maxTokens)
}

// Stream issues one streaming call and returns the finalized response.
//
// Every event is drained even when req.Status is nil. Content blocks are
// accumulated with the SDK's BetaMessage.Accumulate; the raw JSON of each
// content_block_start is kept alongside so server tool results, which
// arrive whole, can be replayed verbatim on the next call.
func (a *Anthropic) Stream(ctx context.Context, req *agent.StreamRequest) (*agent.StreamResponse, error) {
	params, err := a.streamParams(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream := a.client.Beta.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	tracker := newSignalTracker(req.Status)
	var msg anthropic.BetaMessage
	var starts []string

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			a.recordRequest("stream", start, err)
			return nil, wrapAnthropicError(fmt.Errorf("accumulate %s event: %w", event.Type, err))
		}

		switch event.Type {
		case "content_block_start":
			starts = append(starts, event.ContentBlock.RawJSON())
			tracker.blockStart(ctx, event.ContentBlock.Type, event.ContentBlock.Name)
		case "content_block_delta":
			if event.Delta.Type == "input_json_delta" {
				tracker.inputDelta(event.Delta.PartialJSON)
			}
		case "content_block_stop":
			tracker.blockStop(ctx)
		}
	}
	if err := stream.Err(); err != nil {
		a.recordRequest("stream", start, err)
		return nil, wrapAnthropicError(err)
	}

	a.recordRequest("stream", start, nil)
	resp := convertBetaMessage(&msg, starts)
	a.logger.DebugContext(ctx, "stream finished",
		"stop_reason", resp.RawStopReason,
		"blocks", len(resp.Content),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

// GeneratePlain runs one tool-free, non-streaming completion with a single
// user message. Transient failures are retried.
func (a *Anthropic) GeneratePlain(ctx context.Context, prompt, system string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	return backoff.Retry(ctx, a.retryPolicy, a.maxRetries+1, agent.IsRetryable, func(attempt int) (string, error) {
		start := time.Now()
		msg, err := a.client.Messages.New(ctx, params)
		a.recordRequest("plain", start, err)
		if err != nil {
			a.logger.WarnContext(ctx, "plain generation failed", "attempt", attempt, "error", err)
			return "", wrapAnthropicError(err)
		}
		a.metrics.RecordTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens,
			msg.Usage.CacheReadInputTokens, msg.Usage.CacheCreationInputTokens)

		var parts []string
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n"), nil
	})
}

// CountTokens asks the API for the input token count of a prospective
// request. Server tools are not included; callers reserve a safety margin.
func (a *Anthropic) CountTokens(ctx context.Context, system agent.SystemPrompt, turns []agent.Turn) (int, error) {
	messages, err := betaMessages(turns)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}
	params := anthropic.BetaMessageCountTokensParams{
		Model:    anthropic.Model(a.model),
		Messages: messages,
		Betas:    a.betas(),
	}
	if blocks := systemBlocks(system); len(blocks) > 0 {
		params.System = anthropic.BetaMessageCountTokensParamsSystemUnion{OfBetaTextBlockArray: blocks}
	}

	count, err := a.client.Beta.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, wrapAnthropicError(err)
	}
	return int(count.InputTokens), nil
}

func (a *Anthropic) recordRequest(mode string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordLLMRequest(providerAnthropic, mode, status, time.Since(start).Seconds())
}

func (a *Anthropic) streamParams(req *agent.StreamRequest) (anthropic.BetaMessageNewParams, error) {
	messages, err := betaMessages(req.Turns)
	if err != nil {
		return anthropic.BetaMessageNewParams{}, err
	}
	tools, err := a.betaTools(req.Tools)
	if err != nil {
		return anthropic.BetaMessageNewParams{}, err
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  messages,
		System:    systemBlocks(req.System),
		Tools:     tools,
		Betas:     a.betas(),
	}
	if a.thinkingBudget > 0 {
		params.Thinking = anthropic.BetaThinkingConfigParamOfEnabled(a.thinkingBudget)
		if params.MaxTokens <= a.thinkingBudget {
			params.MaxTokens = a.thinkingBudget + a.maxTokens
		}
	}
	return params, nil
}

func (a *Anthropic) betas() []anthropic.AnthropicBeta {
	betas := []anthropic.AnthropicBeta{anthropic.AnthropicBetaFilesAPI2025_04_14}
	if a.codeExecution {
		betas = append(betas, betaCodeExecution)
	}
	if a.webFetch {
		betas = append(betas, betaWebFetch)
	}
	return betas
}

// betaTools converts client tool schemas and appends the enabled server
// tools. The last definition carries a cache breakpoint.
func (a *Anthropic) betaTools(schemas []agent.ToolSchema) ([]anthropic.BetaToolUnionParam, error) {
	var tools []anthropic.BetaToolUnionParam
	for _, schema := range schemas {
		var input anthropic.BetaToolInputSchemaParam
		if len(schema.InputSchema) > 0 {
			if err := json.Unmarshal(schema.InputSchema, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", schema.Name, err)
			}
		}
		tools = append(tools, anthropic.BetaToolUnionParam{OfTool: &anthropic.BetaToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: input,
		}})
	}

	if a.webSearch {
		tools = append(tools, anthropic.BetaToolUnionParam{
			OfWebSearchTool20250305: &anthropic.BetaWebSearchTool20250305Param{MaxUses: anthropic.Int(a.webSearchMaxUses)},
		})
	}
	if a.webFetch {
		tools = append(tools, anthropic.BetaToolUnionParam{
			OfWebFetchTool20250910: &anthropic.BetaWebFetchTool20250910Param{MaxUses: anthropic.Int(a.webFetchMaxUses)},
		})
	}
	if a.codeExecution {
		tools = append(tools, anthropic.BetaToolUnionParam{
			OfCodeExecutionTool20250825: &anthropic.BetaCodeExecutionTool20250825Param{},
		})
	}

	if n := len(tools); n > 0 {
		if cc := tools[n-1].GetCacheControl(); cc != nil {
			*cc = anthropic.NewBetaCacheControlEphemeralParam()
		}
	}
	return tools, nil
}

// systemBlocks renders the persona as a cached block followed by the
// per-request context block.
func systemBlocks(system agent.SystemPrompt) []anthropic.BetaTextBlockParam {
	var blocks []anthropic.BetaTextBlockParam
	if system.Persona != "" {
		blocks = append(blocks, anthropic.BetaTextBlockParam{
			Text:         system.Persona,
			CacheControl: anthropic.NewBetaCacheControlEphemeralParam(),
		})
	}
	if system.Context != "" {
		blocks = append(blocks, anthropic.BetaTextBlockParam{Text: system.Context})
	}
	return blocks
}

// betaMessages converts turns to request messages. Turns that end up with
// no content are skipped because the API rejects empty messages.
func betaMessages(turns []agent.Turn) ([]anthropic.BetaMessageParam, error) {
	messages := make([]anthropic.BetaMessageParam, 0, len(turns))
	for i, turn := range turns {
		var content []anthropic.BetaContentBlockParamUnion
		if turn.Text != "" {
			content = append(content, anthropic.NewBetaTextBlock(turn.Text))
		}
		for _, block := range turn.Blocks {
			param, ok, err := betaBlockParam(block)
			if err != nil {
				return nil, fmt.Errorf("anthropic: turn %d: %w", i, err)
			}
			if ok {
				content = append(content, param)
			}
		}
		if len(content) == 0 {
			continue
		}

		role := anthropic.BetaMessageParamRoleUser
		if turn.Role == agent.RoleAssistant {
			role = anthropic.BetaMessageParamRoleAssistant
		}
		messages = append(messages, anthropic.BetaMessageParam{Role: role, Content: content})
	}
	return messages, nil
}

func betaBlockParam(block agent.ContentBlock) (anthropic.BetaContentBlockParamUnion, bool, error) {
	var param anthropic.BetaContentBlockParamUnion

	if len(block.Raw) > 0 {
		if err := param.UnmarshalJSON(block.Raw); err != nil {
			return param, false, fmt.Errorf("replay %s block: %w", block.Type, err)
		}
		return param, true, nil
	}

	switch block.Type {
	case agent.BlockText:
		if block.Text == "" {
			return param, false, nil
		}
		return anthropic.NewBetaTextBlock(block.Text), true, nil

	case agent.BlockImage:
		if block.Image == nil || len(block.Image.Data) == 0 {
			return param, false, nil
		}
		mediaType, ok := betaMediaType(block.Image.MediaType)
		if !ok {
			return param, false, nil
		}
		return anthropic.NewBetaImageBlock(anthropic.BetaBase64ImageSourceParam{
			Data:      base64.StdEncoding.EncodeToString(block.Image.Data),
			MediaType: mediaType,
		}), true, nil

	case agent.BlockToolUse:
		if block.ToolCall == nil {
			return param, false, nil
		}
		input := block.ToolCall.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return anthropic.NewBetaToolUseBlock(block.ToolCall.ID, input, block.ToolCall.Name), true, nil

	case agent.BlockToolResult:
		if block.ToolResult == nil {
			return param, false, nil
		}
		result := &anthropic.BetaToolResultBlockParam{ToolUseID: block.ToolResult.CallID}
		if block.ToolResult.Content != "" {
			result.Content = []anthropic.BetaToolResultBlockParamContentUnion{
				{OfText: &anthropic.BetaTextBlockParam{Text: block.ToolResult.Content}},
			}
		}
		if block.ToolResult.IsError {
			result.IsError = anthropic.Bool(true)
		}
		return anthropic.BetaContentBlockParamUnion{OfToolResult: result}, true, nil
	}

	// Thinking and server tool blocks without a raw encoding cannot be replayed.
	return param, false, nil
}

func betaMediaType(mediaType string) (anthropic.BetaBase64ImageSourceMediaType, bool) {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return anthropic.BetaBase64ImageSourceMediaTypeImageJPEG, true
	case "image/png":
		return anthropic.BetaBase64ImageSourceMediaTypeImagePNG, true
	case "image/gif":
		return anthropic.BetaBase64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.BetaBase64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

// convertBetaMessage maps an accumulated message onto the provider-neutral
// response. starts[i] is the raw content_block_start JSON of Content[i].
func convertBetaMessage(msg *anthropic.BetaMessage, starts []string) *agent.StreamResponse {
	resp := &agent.StreamResponse{
		StopReason:    mapStopReason(string(msg.StopReason)),
		RawStopReason: string(msg.StopReason),
		Usage: agent.Usage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
		},
	}
	for i, block := range msg.Content {
		start := ""
		if i < len(starts) {
			start = starts[i]
		}
		if converted, ok := convertBetaBlock(block, start); ok {
			resp.Content = append(resp.Content, converted)
		}
	}
	return resp
}

func convertBetaBlock(block anthropic.BetaContentBlockUnion, start string) (agent.ContentBlock, bool) {
	switch block.Type {
	case "text":
		return agent.TextBlock(block.Text), true

	case "thinking":
		raw, err := json.Marshal(anthropic.NewBetaThinkingBlock(block.Signature, block.Thinking))
		if err != nil {
			return agent.ContentBlock{}, false
		}
		return agent.ContentBlock{Type: agent.BlockThinking, Text: block.Thinking, Raw: raw}, true

	case "redacted_thinking":
		raw, err := json.Marshal(anthropic.NewBetaRedactedThinkingBlock(block.Data))
		if err != nil {
			return agent.ContentBlock{}, false
		}
		return agent.ContentBlock{Type: agent.BlockThinking, Raw: raw}, true

	case "tool_use":
		input := block.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return agent.ContentBlock{
			Type:     agent.BlockToolUse,
			ToolCall: &agent.ToolCall{ID: block.ID, Name: block.Name, Input: input},
		}, true

	case "server_tool_use":
		input := block.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		raw, err := json.Marshal(anthropic.NewBetaServerToolUseBlock(block.ID, input,
			anthropic.BetaServerToolUseBlockParamName(block.Name)))
		if err != nil {
			return agent.ContentBlock{}, false
		}
		return agent.ContentBlock{Type: agent.BlockServerToolUse, ServerTool: block.Name, Raw: raw}, true
	}

	if strings.HasSuffix(block.Type, "_tool_result") {
		raw := start
		if raw == "" {
			raw = block.RawJSON()
		}
		if raw == "" {
			return agent.ContentBlock{}, false
		}
		return agent.ContentBlock{
			Type:       agent.BlockServerToolResult,
			ServerTool: block.Type,
			FileIDs:    resultFileIDs(raw),
			Raw:        json.RawMessage(raw),
		}, true
	}
	return agent.ContentBlock{}, false
}

// resultFileIDs extracts generated file IDs from a code execution result.
func resultFileIDs(raw string) []string {
	var ids []string
	for _, id := range gjson.Get(raw, "content.content.#.file_id").Array() {
		if id.Str != "" {
			ids = append(ids, id.Str)
		}
	}
	return ids
}

func mapStopReason(reason string) agent.StopReason {
	switch reason {
	case "pause_turn":
		return agent.StopServerPause
	case "tool_use":
		return agent.StopToolRequested
	default:
		return agent.StopComplete
	}
}
