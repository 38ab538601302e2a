package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validator "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/observability"
)

// maxLoggedResult caps how much of a tool result is logged.
const maxLoggedResult = 500

// Handler runs one tool call. A returned error is rendered as result text.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Handlers maps tool kinds to their implementations for one request.
type Handlers map[Kind]Handler

type compiledTool struct {
	def       Definition
	schema    json.RawMessage
	validator *validator.Schema
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Registry holds the compiled tool catalog.
type Registry struct {
	tools   []*compiledTool
	byName  map[string]*compiledTool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry reflects and compiles the schema of every catalog tool.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	return newRegistry(Catalog(), cfg)
}

func newRegistry(defs []Definition, cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName:  make(map[string]*compiledTool, len(defs)),
		logger:  logger.With("component", "tools"),
		metrics: cfg.Metrics,
	}
	for _, def := range defs {
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		schema, err := reflectSchema(def.Input)
		if err != nil {
			return nil, fmt.Errorf("reflect %s schema: %w", def.Name, err)
		}
		compiled, err := compileSchema(def.Name, schema)
		if err != nil {
			return nil, err
		}
		tool := &compiledTool{def: def, schema: schema, validator: compiled}
		r.tools = append(r.tools, tool)
		r.byName[def.Name] = tool
	}
	return r, nil
}

// Definitions returns the catalog in order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.def
	}
	return defs
}

// Bind returns an executor that dispatches to handlers. Tools without a
// handler are neither offered nor executable.
func (r *Registry) Bind(handlers Handlers) *Executor {
	return &Executor{registry: r, handlers: handlers}
}

// Executor implements agent.ToolExecutor for one request.
type Executor struct {
	registry *Registry
	handlers Handlers
}

var _ agent.ToolExecutor = (*Executor)(nil)

// Schemas lists the tools whose required capabilities are all granted.
func (e *Executor) Schemas(caps agent.Capabilities) []agent.ToolSchema {
	var out []agent.ToolSchema
	for _, t := range e.registry.tools {
		if e.handlers[t.def.Kind] == nil || !caps.Covers(t.def.Requires) {
			continue
		}
		out = append(out, agent.ToolSchema{
			Name:        t.def.Name,
			Description: t.def.Description,
			InputSchema: t.schema,
		})
	}
	return out
}

// StatusText returns the progress line for a call.
func (e *Executor) StatusText(call agent.ToolCall) string {
	t, ok := e.registry.byName[call.Name]
	if !ok || t.def.Status == nil {
		return DefaultStatus
	}
	return t.def.Status(call.Input)
}

// Execute runs a call and always returns result text.
func (e *Executor) Execute(ctx context.Context, call agent.ToolCall) string {
	logger := e.registry.logger.With("tool", call.Name, "call_id", call.ID)
	logger.InfoContext(ctx, "tool execute", "input", truncate(string(call.Input), maxLoggedResult))

	t, ok := e.registry.byName[call.Name]
	var handler Handler
	if ok {
		handler = e.handlers[t.def.Kind]
	}
	if handler == nil {
		e.registry.metrics.RecordToolExecution(call.Name, "unknown", 0)
		logger.WarnContext(ctx, "unknown tool")
		return fmt.Sprintf("Unknown tool: %s", call.Name)
	}

	start := time.Now()
	result, err := e.invoke(ctx, t, handler, call.Input)
	status := "success"
	if err != nil {
		status = "error"
		switch {
		case channels.IsNotFound(err), channels.IsForbidden(err):
			result = platformMessage(err)
		default:
			result = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		}
		logger.WarnContext(ctx, "tool failed", "error", err)
	}
	e.registry.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	logger.InfoContext(ctx, "tool result", "result", truncate(result, maxLoggedResult))
	return result
}

func (e *Executor) invoke(ctx context.Context, t *compiledTool, handler Handler, input json.RawMessage) (result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := validateInput(t.validator, input); err != nil {
		return "", err
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return handler(ctx, input)
}

// platformMessage returns the user-facing message of a platform error.
func platformMessage(err error) string {
	var chErr *channels.Error
	if errors.As(err, &chErr) && chErr.Message != "" {
		return chErr.Message
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
