package agent

import "context"

// Driver issues one streaming model call per Stream invocation.
//
// Implementations drain the whole event stream, report at most one status
// per signal type through req.Status, and never retry internally.
type Driver interface {
	Stream(ctx context.Context, req *StreamRequest) (*StreamResponse, error)
}

// StreamRequest is the input to one Driver call.
type StreamRequest struct {
	System SystemPrompt
	Turns  []Turn
	Tools  []ToolSchema
	Status StatusFunc
}

// ToolExecutor runs client-side tools for one request.
//
// Execute never returns an error: failures come back as result text so the
// model can react to them.
type ToolExecutor interface {
	Schemas(caps Capabilities) []ToolSchema
	Execute(ctx context.Context, call ToolCall) string
	StatusText(call ToolCall) string
}

// ArtifactResolver turns generated-file identifiers into artifacts.
// It never fails as a whole; unresolvable files are skipped.
type ArtifactResolver interface {
	Resolve(ctx context.Context, fileIDs []string) []Artifact
}

// PlainGenerator is a single non-streaming, tool-free completion.
type PlainGenerator interface {
	GeneratePlain(ctx context.Context, prompt, system string) (string, error)
}

// TokenCounter counts the input tokens of a prospective request.
type TokenCounter interface {
	CountTokens(ctx context.Context, system SystemPrompt, turns []Turn) (int, error)
}
