package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Role identifies who authored a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a ContentBlock.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockImage            BlockType = "image"
	BlockThinking         BlockType = "thinking"
	BlockToolUse          BlockType = "tool_use"
	BlockToolResult       BlockType = "tool_result"
	BlockServerToolUse    BlockType = "server_tool_use"
	BlockServerToolResult BlockType = "server_tool_result"
)

// ContentBlock is one typed piece of a Turn or StreamResponse.
//
// Only the field matching Type is set. Raw holds the provider's native
// encoding of blocks that came from a model response; drivers replay it
// verbatim when the block is sent back in an assistant turn.
type ContentBlock struct {
	Type       BlockType
	Text       string
	Image      *Image
	ToolCall   *ToolCall
	ToolResult *ToolResult

	// ServerTool names the server-side tool for server_tool_use blocks, or
	// the result kind (e.g. "code_execution_tool_result") for result blocks.
	ServerTool string

	// FileIDs lists generated files referenced by a server tool result.
	FileIDs []string

	Raw json.RawMessage
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock returns an image content block.
func ImageBlock(img Image) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &img}
}

// ToolResultBlock returns a tool result content block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &result}
}

// Turn is one role-tagged message sent to the model. Assistant turns that
// mirror the bot's own history carry Text; every other turn carries Blocks.
type Turn struct {
	Role   Role
	Text   string
	Blocks []ContentBlock
}

// UserTurn builds a user turn from blocks.
func UserTurn(blocks ...ContentBlock) Turn {
	return Turn{Role: RoleUser, Blocks: blocks}
}

// AssistantText builds a plain-text assistant turn.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// ToolCall is a client-side tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers one ToolCall.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// StopReason is the closed set of reasons a streamed response can end with.
type StopReason string

const (
	// StopComplete means the model finished its answer. Provider reasons
	// outside the closed set (max_tokens, refusal) also map here.
	StopComplete StopReason = "complete"
	// StopServerPause means a server-hosted tool paused the turn.
	StopServerPause StopReason = "server_pause"
	// StopToolRequested means the model wants client-side tools executed.
	StopToolRequested StopReason = "tool_requested"
)

// Usage counts tokens for one or more model calls.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// StreamResponse is the finalized output of one streaming call.
type StreamResponse struct {
	StopReason StopReason
	// RawStopReason is the provider's own value, kept for logging.
	RawStopReason string
	Content       []ContentBlock
	Usage         Usage
}

// Text joins the response's text blocks with newlines.
func (r *StreamResponse) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the client-side tool calls in response order.
func (r *StreamResponse) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range r.Content {
		if b.Type == BlockToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// FileIDs returns every generated-file identifier in the response.
func (r *StreamResponse) FileIDs() []string {
	var ids []string
	for _, b := range r.Content {
		ids = append(ids, b.FileIDs...)
	}
	return ids
}

// Artifact is a generated file resolved to bytes.
type Artifact struct {
	FileID   string
	Filename string
	MimeType string
	Data     []byte
}

// Image is an embedded image payload.
type Image struct {
	MediaType string
	Data      []byte
}

// Reaction annotates a message with an emoji and its count.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ConversationEntry is one message of chat history, already mention-resolved.
type ConversationEntry struct {
	Author    string
	Text      string
	FromSelf  bool
	Images    []Image
	CreatedAt time.Time
	MessageID string
	Reactions []Reaction
}

// SystemPrompt is split so the stable persona can be prefix-cached while
// the per-request context changes.
type SystemPrompt struct {
	Persona string
	Context string
}

// String joins both parts for providers without block-level system prompts.
func (s SystemPrompt) String() string {
	switch {
	case s.Persona == "":
		return s.Context
	case s.Context == "":
		return s.Persona
	default:
		return s.Persona + "\n\n" + s.Context
	}
}

// StatusFunc receives user-facing progress notes such as "Thinking…".
type StatusFunc func(ctx context.Context, status string)

// Notify calls fn when it is set.
func (fn StatusFunc) Notify(ctx context.Context, status string) {
	if fn != nil {
		fn(ctx, status)
	}
}

// Capability is a permission a tool may require.
type Capability string

const (
	CapMemory   Capability = "memory"
	CapSchedule Capability = "schedule"
	CapReact    Capability = "react"
	CapModerate Capability = "moderate"
)

// Capabilities is the set granted to one request.
type Capabilities map[Capability]bool

// NewCapabilities builds a set from a list.
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Covers reports whether every required capability is granted.
func (c Capabilities) Covers(required []Capability) bool {
	for _, r := range required {
		if !c[r] {
			return false
		}
	}
	return true
}

// ToolSchema describes a client-side tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object.
	InputSchema json.RawMessage
}
