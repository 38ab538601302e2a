package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/quill/internal/observability"
)

// DefaultApology is the only failure text users ever see.
const DefaultApology = "Sorry, something went wrong on my end. Please try again in a bit."

// DefaultPlainSystemPrompt is used by GeneratePlain when no system prompt is given.
const DefaultPlainSystemPrompt = "You are a helpful tool for summarizing segments of chats. " +
	"You should read the chat transcripts in full and provide a response that is " +
	"purely a succinct summary of the input and avoid mentioning any extra information except for " +
	"any stylistic changes or roleplaying you are asked to provide."

// ReplyPath records which path produced a Reply.
type ReplyPath string

const (
	PathStreamed ReplyPath = "streamed"
	PathPlain    ReplyPath = "plain"
	PathApology  ReplyPath = "apology"
)

// Request is the input to Generate.
type Request struct {
	Entries []ConversationEntry
	System  SystemPrompt
	Status  StatusFunc

	// Capabilities filters the executor's tools. Ignored when Executor is nil.
	Capabilities Capabilities
	// Executor is bound to the request's guild and channel. Nil disables client tools.
	Executor ToolExecutor
}

// Reply is the result of Generate. Text may be empty: the safety net is
// allowed to fail and callers must handle an empty reply.
type Reply struct {
	Text      string
	Artifacts []Artifact
	Path      ReplyPath
	Outcome   *Outcome
	// Err is the streaming failure that forced the plain or apology path.
	Err error
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Driver    Driver
	Plain     PlainGenerator
	Artifacts ArtifactResolver
	Limits    Limits
	Apology   string
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// Generator is the entry point used by the bot: it builds turns, runs the
// controller, resolves artifacts and falls back to a plain call on failure.
type Generator struct {
	controller *Controller
	plain      PlainGenerator
	artifacts  ArtifactResolver
	apology    string
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apology := cfg.Apology
	if apology == "" {
		apology = DefaultApology
	}
	return &Generator{
		controller: NewController(cfg.Driver, ControllerConfig{
			Limits:  cfg.Limits,
			Logger:  logger,
			Metrics: cfg.Metrics,
			Tracer:  cfg.Tracer,
		}),
		plain:     cfg.Plain,
		artifacts: cfg.Artifacts,
		apology:   apology,
		logger:    logger.With("component", "generator"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
}

// Generate produces a reply to the conversation.
//
// A streaming failure is retried once through GeneratePlain with the
// flattened transcript; if that fails too the reply is the static apology.
// The returned error is non-nil only when ctx is done.
func (g *Generator) Generate(ctx context.Context, req Request) (*Reply, error) {
	var tools []ToolSchema
	if req.Executor != nil {
		tools = req.Executor.Schemas(req.Capabilities)
	}

	ctx, span := g.tracer.TraceGenerate(ctx, len(req.Entries), len(tools))
	defer span.End()

	outcome, err := g.controller.Run(ctx, RunRequest{
		System:   req.System,
		Turns:    BuildTurns(req.Entries),
		Tools:    tools,
		Executor: req.Executor,
		Status:   req.Status,
	})
	if err == nil {
		g.metrics.RecordTokens(outcome.Usage.InputTokens, outcome.Usage.OutputTokens,
			outcome.Usage.CacheReadTokens, outcome.Usage.CacheWriteTokens)
		reply := &Reply{Text: outcome.Text, Path: PathStreamed, Outcome: outcome}
		if len(outcome.FileIDs) > 0 && g.artifacts != nil {
			reply.Artifacts = g.artifacts.Resolve(ctx, outcome.FileIDs)
		}
		return reply, nil
	}

	observability.RecordError(span, err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	g.logger.WarnContext(ctx, "streaming generation failed, falling back to plain call", "error", err)
	g.metrics.RecordOrchestration(observability.EventFallbackPlain)

	text, plainErr := g.GeneratePlain(ctx, FlattenTranscript(req.Entries), req.System.String())
	if plainErr == nil {
		return &Reply{Text: text, Path: PathPlain, Err: err}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	g.logger.ErrorContext(ctx, "plain fallback failed", "error", plainErr, "stream_error", err)
	g.metrics.RecordOrchestration(observability.EventApology)
	return &Reply{Text: g.apology, Path: PathApology, Err: err}, nil
}

// GeneratePlain runs a single tool-free completion. An empty system prompt
// selects DefaultPlainSystemPrompt.
func (g *Generator) GeneratePlain(ctx context.Context, prompt, system string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if g.plain == nil {
		return "", ErrNoPlainGenerator
	}
	if system == "" {
		system = DefaultPlainSystemPrompt
	}
	return g.plain.GeneratePlain(ctx, prompt, system)
}

// Limits exposes the configured loop budgets.
func (g *Generator) Limits() Limits {
	return g.controller.Limits()
}
