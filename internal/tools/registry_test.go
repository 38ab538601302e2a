package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tidwall/gjson"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/observability"
)

func newTestRegistry(t *testing.T) (*Registry, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r, err := NewRegistry(RegistryConfig{Metrics: metrics})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, metrics
}

func allHandlers(fn Handler) Handlers {
	h := make(Handlers)
	for _, def := range Catalog() {
		h[def.Kind] = fn
	}
	return h
}

func ok(context.Context, json.RawMessage) (string, error) { return "ok", nil }

func TestCatalogSchemas(t *testing.T) {
	r, _ := newTestRegistry(t)
	schemas := r.Bind(allHandlers(ok)).Schemas(agent.NewCapabilities(agent.CapMemory, agent.CapSchedule, agent.CapReact, agent.CapModerate))
	if len(schemas) != len(Catalog()) {
		t.Fatalf("schemas = %d, want %d", len(schemas), len(Catalog()))
	}

	byName := make(map[string]string)
	for _, s := range schemas {
		if gjson.GetBytes(s.InputSchema, "type").String() != "object" {
			t.Errorf("%s schema type = %s", s.Name, s.InputSchema)
		}
		if gjson.GetBytes(s.InputSchema, "$schema").Exists() {
			t.Errorf("%s schema should not carry $schema", s.Name)
		}
		byName[s.Name] = string(s.InputSchema)
	}

	members := byName[NameServerMembers]
	if got := gjson.Get(members, "required").String(); got != `["filter"]` {
		t.Errorf("get_server_members required = %s", got)
	}
	if got := gjson.Get(members, "properties.filter.enum").String(); got != `["all","voice","channel"]` {
		t.Errorf("filter enum = %s", got)
	}
	if !strings.Contains(gjson.Get(members, "properties.filter.description").String(), "'voice' lists members") {
		t.Errorf("filter description missing: %s", members)
	}
	if got := gjson.Get(byName[NameReadChannelHistory], "properties.num_messages.type").String(); got != "integer" {
		t.Errorf("num_messages type = %q", got)
	}
	if got := gjson.Get(byName[NameScheduleMessage], "required.#").Int(); got != 5 {
		t.Errorf("schedule_message required = %d", got)
	}
}

func TestSchemasFilterByCapability(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name string
		caps agent.Capabilities
		want []string
	}{
		{
			name: "no capabilities",
			caps: nil,
			want: []string{NameServerMembers, NameListChannels, NameReadChannelHistory},
		},
		{
			name: "memory and react",
			caps: agent.NewCapabilities(agent.CapMemory, agent.CapReact),
			want: []string{NameServerMembers, NameListChannels, NameReadChannelHistory, NameSaveMemory, NameDeleteMemory, NameAddReaction},
		},
		{
			name: "moderate only",
			caps: agent.NewCapabilities(agent.CapModerate),
			want: []string{NameServerMembers, NameListChannels, NameReadChannelHistory, NameDeleteMessage},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, s := range r.Bind(allHandlers(ok)).Schemas(tt.caps) {
				got = append(got, s.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("schemas = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchemasSkipUnboundTools(t *testing.T) {
	r, _ := newTestRegistry(t)
	exec := r.Bind(Handlers{KindListChannels: ok})
	schemas := exec.Schemas(agent.NewCapabilities(agent.CapMemory))
	if len(schemas) != 1 || schemas[0].Name != NameListChannels {
		t.Errorf("schemas = %+v", schemas)
	}
	if got := exec.Execute(context.Background(), agent.ToolCall{Name: NameSaveMemory, Input: json.RawMessage(`{"key":"a","content":"b"}`)}); got != "Unknown tool: save_memory" {
		t.Errorf("unbound tool result = %q", got)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		call    agent.ToolCall
		handler Handler
		want    string
	}{
		{
			name: "success",
			call: agent.ToolCall{Name: NameListChannels, Input: json.RawMessage(`{"include_threads":true}`)},
			handler: func(_ context.Context, in json.RawMessage) (string, error) {
				return "Server channels:" + string(in), nil
			},
			want: `Server channels:{"include_threads":true}`,
		},
		{
			name:    "empty input defaults to object",
			call:    agent.ToolCall{Name: NameListChannels},
			handler: func(_ context.Context, in json.RawMessage) (string, error) { return string(in), nil },
			want:    `{}`,
		},
		{
			name: "unknown tool",
			call: agent.ToolCall{Name: "launch_rockets"},
			want: "Unknown tool: launch_rockets",
		},
		{
			name: "handler error",
			call: agent.ToolCall{Name: NameListChannels, Input: json.RawMessage(`{}`)},
			handler: func(context.Context, json.RawMessage) (string, error) {
				return "", errors.New("gateway closed")
			},
			want: "Error executing list_channels: gateway closed",
		},
		{
			name: "handler panic",
			call: agent.ToolCall{Name: NameListChannels, Input: json.RawMessage(`{}`)},
			handler: func(context.Context, json.RawMessage) (string, error) {
				var m map[string]int
				m["x"]++
				return "", nil
			},
			want: "Error executing list_channels: panic: assignment to entry in nil map",
		},
		{
			name: "platform not found becomes plain text",
			call: agent.ToolCall{Name: NameListChannels, Input: json.RawMessage(`{}`)},
			handler: func(context.Context, json.RawMessage) (string, error) {
				return "", channels.ErrNotFound("That message no longer exists.", errors.New("404"))
			},
			want: "That message no longer exists.",
		},
		{
			name: "platform forbidden becomes plain text",
			call: agent.ToolCall{Name: NameListChannels, Input: json.RawMessage(`{}`)},
			handler: func(context.Context, json.RawMessage) (string, error) {
				return "", channels.ErrForbidden("I don't have permission to read #secret.", nil)
			},
			want: "I don't have permission to read #secret.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(t)
			handlers := Handlers{}
			if tt.handler != nil {
				handlers[KindListChannels] = tt.handler
			}
			if got := r.Bind(handlers).Execute(context.Background(), tt.call); got != tt.want {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecuteValidatesInput(t *testing.T) {
	r, metrics := newTestRegistry(t)
	called := false
	exec := r.Bind(Handlers{KindServerMembers: func(context.Context, json.RawMessage) (string, error) {
		called = true
		return "", nil
	}})

	for _, input := range []string{`{}`, `{"filter":"everyone"}`, `{"filter":3}`, `not json`} {
		got := exec.Execute(context.Background(), agent.ToolCall{Name: NameServerMembers, Input: json.RawMessage(input)})
		if !strings.HasPrefix(got, "Error executing get_server_members: ") {
			t.Errorf("input %s: result = %q", input, got)
		}
	}
	if called {
		t.Error("handler ran with invalid input")
	}
	if v := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues(NameServerMembers, "error")); v != 4 {
		t.Errorf("error metric = %v", v)
	}
}

func TestStatusText(t *testing.T) {
	r, _ := newTestRegistry(t)
	exec := r.Bind(nil)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{NameServerMembers, `{"filter":"channel","channel_name":"general"}`, "Checking who's in #general..."},
		{NameServerMembers, `{"filter":"voice"}`, "Checking voice channels..."},
		{NameServerMembers, `{"filter":"all"}`, "Checking server members..."},
		{NameListChannels, `{}`, "Listing server channels..."},
		{NameReadChannelHistory, `{"channel_name":"dev"}`, "Reading history from #dev..."},
		{NameReadChannelHistory, `{}`, "Reading history from #unknown..."},
		{NameSaveMemory, `{}`, "Saving a memory..."},
		{NameScheduleMessage, `{}`, "Scheduling a message..."},
		{"something_else", `{}`, DefaultStatus},
	}
	for _, tt := range tests {
		if got := exec.StatusText(agent.ToolCall{Name: tt.name, Input: json.RawMessage(tt.input)}); got != tt.want {
			t.Errorf("StatusText(%s, %s) = %q, want %q", tt.name, tt.input, got, tt.want)
		}
	}
}

func TestDuplicateToolNames(t *testing.T) {
	defs := []Definition{
		{Kind: KindListChannels, Name: "dup", Input: &ListChannelsInput{}},
		{Kind: KindAddReaction, Name: "dup", Input: &AddReactionInput{}},
	}
	if _, err := newRegistry(defs, RegistryConfig{}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
