package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/memory"
	"github.com/haasonsaas/quill/internal/storage"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "config", "tasks", "memory", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

// writeTestConfig writes a minimal config whose file storage lives in a
// temp dir, returning the config path and the storage dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	body := `
discord:
  token: discord-token
llm:
  anthropic:
    api_key: sk-test
storage:
  backend: file
  dir: ` + dataDir + `
`
	path := filepath.Join(dir, "quill.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigValidateCommand(t *testing.T) {
	path, _ := writeTestConfig(t)
	out, err := execute(t, "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	for _, want := range []string{"Configuration OK", "plain provider: anthropic", "token budget:   192952"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	t.Setenv(config.EnvDiscordToken, "")
	t.Setenv(config.EnvAnthropicKey, "")
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("discord: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "validate", "-c", bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(out, `"discord"`) || !strings.Contains(out, `"plain_provider"`) {
		t.Errorf("schema missing fields:\n%s", out)
	}
}

func TestTasksListCommand(t *testing.T) {
	path, dataDir := writeTestConfig(t)

	out, err := execute(t, "tasks", "list", "-c", path)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	if !strings.Contains(out, "No scheduled tasks.") {
		t.Fatalf("output = %q", out)
	}

	ctx := context.Background()
	backend, err := storage.NewFileBackend(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	sched, err := cron.NewScheduler(ctx, config.DefaultSchedulerConfig(), backend)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Add(ctx, cron.NewTask{
		GuildID:     "g1",
		ChannelID:   "c1",
		ChannelName: "general",
		When:        "in 2 hours",
		Type:        cron.TaskStatic,
		Content:     "Standup\nin five",
	}); err != nil {
		t.Fatal(err)
	}
	_ = backend.Close()

	out, err = execute(t, "tasks", "list", "-c", path, "--guild", "g1")
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	for _, want := range []string{"#general", "static", "Standup in five"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "tasks", "list", "-c", path, "--guild", "other")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No scheduled tasks.") {
		t.Errorf("other guild output = %q", out)
	}
}

func TestMemoryListCommand(t *testing.T) {
	path, dataDir := writeTestConfig(t)
	ctx := context.Background()

	backend, err := storage.NewFileBackend(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := memory.NewStore(ctx, memory.StoreConfig{Backend: backend})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "g1", "pet", "The server cat is named Miso"); err != nil {
		t.Fatal(err)
	}
	_ = backend.Close()

	out, err := execute(t, "memory", "list", "-c", path, "--guild", "g1")
	if err != nil {
		t.Fatalf("memory list: %v", err)
	}
	if !strings.Contains(out, "pet") || !strings.Contains(out, "Miso") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "memory", "list", "-c", path); err == nil {
		t.Error("expected error without --guild")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "quill dev") {
		t.Errorf("output = %q", out)
	}
}

func TestTokenBudget(t *testing.T) {
	tests := []struct {
		cfg  config.LLMConfig
		want int
	}{
		{config.LLMConfig{ContextWindow: 200000, SafetyMargin: 5000, Anthropic: config.AnthropicConfig{MaxTokens: 2048}}, 192952},
		{config.LLMConfig{ContextWindow: 1000, SafetyMargin: 900, Anthropic: config.AnthropicConfig{MaxTokens: 2048}}, 0},
	}
	for _, tt := range tests {
		if got := tokenBudget(tt.cfg); got != tt.want {
			t.Errorf("tokenBudget(%+v) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"multi\nline\ttext", 20, "multi line text"},
		{"abcdefghij", 5, "abcd…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.n); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
