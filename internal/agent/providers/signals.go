package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/haasonsaas/quill/internal/agent"
)

// User-facing status strings emitted while a stream is in flight.
const (
	StatusThinking    = "Thinking…"
	StatusSearching   = "Searching the web…"
	StatusFetching    = "Fetching a web page…"
	StatusRunningCode = "Running code…"
)

type signalKind int

const (
	signalThinking signalKind = iota
	signalSearch
	signalFetch
	signalCode
)

// fetchState tracks the input of the first fetch block in a stream.
type fetchState int

const (
	fetchIdle fetchState = iota
	fetchAccumulating
	fetchClosed
)

// signalTracker observes one event stream and fires each status signal at
// most once. Fetch blocks stream their input as partial JSON, so the URL is
// only known once the block closes.
type signalTracker struct {
	status  agent.StatusFunc
	fired   map[signalKind]bool
	fetch   fetchState
	partial strings.Builder
}

func newSignalTracker(status agent.StatusFunc) *signalTracker {
	return &signalTracker{
		status: status,
		fired:  make(map[signalKind]bool, 4),
	}
}

// blockStart handles a content_block_start event.
func (t *signalTracker) blockStart(ctx context.Context, blockType, name string) {
	switch blockType {
	case "thinking", "redacted_thinking":
		t.fire(ctx, signalThinking, StatusThinking)
	case "server_tool_use":
		switch name {
		case "web_search":
			t.fire(ctx, signalSearch, StatusSearching)
		case "web_fetch":
			if t.fetch == fetchIdle {
				t.fetch = fetchAccumulating
				t.partial.Reset()
			}
		case "code_execution", "bash_code_execution", "text_editor_code_execution":
			t.fire(ctx, signalCode, StatusRunningCode)
		}
	}
}

// inputDelta handles an input_json_delta for the current block.
func (t *signalTracker) inputDelta(partial string) {
	if t.fetch == fetchAccumulating {
		t.partial.WriteString(partial)
	}
}

// blockStop handles a content_block_stop event.
func (t *signalTracker) blockStop(ctx context.Context) {
	if t.fetch != fetchAccumulating {
		return
	}
	t.fetch = fetchClosed
	t.fire(ctx, signalFetch, fetchStatus(t.partial.String()))
}

func (t *signalTracker) fire(ctx context.Context, kind signalKind, text string) {
	if t.fired[kind] {
		return
	}
	t.fired[kind] = true
	t.status.Notify(ctx, text)
}

// fetchStatus names the fetched URL, or falls back to a generic message when
// the buffered input is not valid JSON or has no url.
func fetchStatus(input string) string {
	if !gjson.Valid(input) {
		return StatusFetching
	}
	url := gjson.Get(input, "url")
	if url.Type != gjson.String || strings.TrimSpace(url.Str) == "" {
		return StatusFetching
	}
	return fmt.Sprintf("Fetching %s…", url.Str)
}
