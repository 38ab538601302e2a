package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// scriptedDriver returns queued responses in order and records every request.
type scriptedDriver struct {
	mu        sync.Mutex
	responses []*StreamResponse
	errs      []error
	requests  []*StreamRequest
}

func (d *scriptedDriver) Stream(_ context.Context, req *StreamRequest) (*StreamResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	turns := make([]Turn, len(req.Turns))
	copy(turns, req.Turns)
	clone := *req
	clone.Turns = turns
	d.requests = append(d.requests, &clone)

	i := len(d.requests) - 1
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i >= len(d.responses) {
		return nil, fmt.Errorf("unexpected call %d", i+1)
	}
	return d.responses[i], nil
}

func (d *scriptedDriver) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type executedCall struct {
	name  string
	input string
}

// recordingExecutor returns a fixed result and records each call.
type recordingExecutor struct {
	result  string
	schemas []ToolSchema
	calls   []executedCall
}

func (e *recordingExecutor) Schemas(Capabilities) []ToolSchema { return e.schemas }

func (e *recordingExecutor) Execute(_ context.Context, call ToolCall) string {
	e.calls = append(e.calls, executedCall{name: call.Name, input: string(call.Input)})
	return e.result
}

func (e *recordingExecutor) StatusText(call ToolCall) string {
	return "Running " + call.Name + "..."
}

type fakeResolver struct {
	got []string
}

func (r *fakeResolver) Resolve(_ context.Context, ids []string) []Artifact {
	r.got = append(r.got, ids...)
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, Artifact{FileID: id, Filename: id + ".png"})
	}
	return out
}

type fakePlain struct {
	text    string
	err     error
	prompts []string
	systems []string
}

func (p *fakePlain) GeneratePlain(_ context.Context, prompt, system string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	p.systems = append(p.systems, system)
	return p.text, p.err
}

var errStream = errors.New("stream reset")

func response(stop StopReason, blocks ...ContentBlock) *StreamResponse {
	return &StreamResponse{
		StopReason:    stop,
		RawStopReason: string(stop),
		Content:       blocks,
		Usage:         Usage{InputTokens: 100, OutputTokens: 50},
	}
}

func toolUse(id, name string) ContentBlock {
	return ContentBlock{
		Type:     BlockToolUse,
		ToolCall: &ToolCall{ID: id, Name: name, Input: json.RawMessage(`{}`)},
	}
}

func serverToolUse() ContentBlock {
	return ContentBlock{Type: BlockServerToolUse, ServerTool: "web_search"}
}

func codeResult(fileID string) ContentBlock {
	b := ContentBlock{Type: BlockServerToolResult, ServerTool: "code_execution_tool_result"}
	if fileID != "" {
		b.FileIDs = []string{fileID}
	}
	return b
}

func pauses(n int) []*StreamResponse {
	out := make([]*StreamResponse, n)
	for i := range out {
		out[i] = response(StopServerPause, serverToolUse())
	}
	return out
}

func userTurn(text string) []Turn {
	return []Turn{UserTurn(TextBlock(text))}
}
