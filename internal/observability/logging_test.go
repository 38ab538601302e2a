package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"warning", 2},
		{"error", 1},
		{"invalid", 3},
		{"", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Output: &buf})

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Errorf("level %q emitted %d records, want %d", tt.level, got, tt.want)
			}
		})
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		secret string
	}{
		{
			name:   "anthropic key in string",
			key:    "detail",
			value:  "using sk-ant-REDACTED",
			secret: "sk-ant-REDACTED",
		},
		{
			name:   "sensitive key name",
			key:    "token",
			value:  "plain-value",
			secret: "plain-value",
		},
		{
			name:   "error value",
			key:    "error",
			value:  errors.New("auth failed: Bearer abcdefghijklmnopqrstuvwxyz123456"),
			secret: "abcdefghijklmnopqrstuvwxyz123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Output: &buf})
			logger.Info("request", tt.key, tt.value)

			if strings.Contains(buf.String(), tt.secret) {
				t.Fatalf("secret leaked into log output: %s", buf.String())
			}
			if !strings.Contains(buf.String(), "[REDACTED]") {
				t.Fatalf("expected redaction marker in %s", buf.String())
			}
		})
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := AddRequestID(context.Background(), "req-123")
	ctx = AddGuildID(ctx, "guild-1")
	ctx = AddChannelID(ctx, "chan-9")
	logger.InfoContext(ctx, "handling message")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d", len(lines))
	}
	rec := lines[0]
	for key, want := range map[string]string{"request_id": "req-123", "guild_id": "guild-1", "channel_id": "chan-9"} {
		if rec[key] != want {
			t.Errorf("%s = %v, want %s", key, rec[key], want)
		}
	}
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q", got)
	}
}

func TestLoggerWithAttrsRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "text"}).With("api_key", "abc")
	logger.Info("hello")
	if strings.Contains(buf.String(), "abc") {
		t.Fatalf("With() attribute not redacted: %s", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	if LogLevelFromString("DEBUG") != slog.LevelDebug {
		t.Error("expected case-insensitive debug")
	}
	if LogLevelFromString("nope") != slog.LevelInfo {
		t.Error("expected info fallback")
	}
}
