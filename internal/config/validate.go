package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate reports field-named problems. It expects defaults to be applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if c.Version != 0 {
		if err := ValidateVersion(c.Version); err != nil {
			add("version: %v", err)
		}
	}

	if strings.TrimSpace(c.Discord.Token) == "" {
		add("discord.token is required")
	}
	if c.Discord.HistoryLimit < 1 || c.Discord.HistoryLimit > 100 {
		add("discord.history_limit must be between 1 and 100 (got %d)", c.Discord.HistoryLimit)
	}
	if c.Discord.RateLimit < 0 {
		add("discord.rate_limit must not be negative")
	}
	if c.Discord.RateBurst < 0 {
		add("discord.rate_burst must not be negative")
	}

	if strings.TrimSpace(c.LLM.Anthropic.APIKey) == "" {
		add("llm.anthropic.api_key is required")
	}
	if c.LLM.Anthropic.MaxTokens < 1 {
		add("llm.anthropic.max_tokens must be positive")
	}
	if c.LLM.Anthropic.ThinkingBudget < 0 {
		add("llm.anthropic.thinking_budget must not be negative")
	}
	if c.LLM.Anthropic.ThinkingBudget > 0 && c.LLM.Anthropic.ThinkingBudget >= c.LLM.Anthropic.MaxTokens {
		add("llm.anthropic.thinking_budget must be below llm.anthropic.max_tokens")
	}
	switch c.LLM.PlainProvider {
	case "anthropic":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			add("llm.openai.api_key is required when llm.plain_provider is openai")
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			add("llm.gemini.api_key is required when llm.plain_provider is gemini")
		}
	default:
		add("llm.plain_provider must be anthropic, openai or gemini (got %q)", c.LLM.PlainProvider)
	}
	if c.LLM.MaxContinuations < 0 {
		add("llm.max_continuations must not be negative")
	}
	if c.LLM.MaxToolRounds < 0 {
		add("llm.max_tool_rounds must not be negative")
	}
	if c.LLM.SafetyMargin >= c.LLM.ContextWindow {
		add("llm.safety_margin must be smaller than llm.context_window")
	}

	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		add("bot.timezone: %v", err)
	}

	switch c.Storage.Backend {
	case "file":
		if c.Storage.Dir == "" {
			add("storage.dir is required for the file backend")
		}
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn is required for the %s backend", c.Storage.Backend)
		}
	default:
		add("storage.backend must be file, sqlite or postgres (got %q)", c.Storage.Backend)
	}

	if c.Scheduler.PollInterval < time.Second {
		add("scheduler.poll_interval must be at least 1s")
	}
	if c.Scheduler.MaxTasksPerGuild < 1 {
		add("scheduler.max_tasks_per_guild must be positive")
	}
	if c.Scheduler.MinLead < 0 || c.Scheduler.MaxHorizon <= c.Scheduler.MinLead {
		add("scheduler.max_horizon must exceed scheduler.min_lead")
	}

	if c.Artifacts.MaxBytes < 1 {
		add("artifacts.max_bytes must be positive")
	}
	if c.Artifacts.MaxFiles < 1 || c.Artifacts.MaxFiles > 10 {
		add("artifacts.max_files must be between 1 and 10 (got %d)", c.Artifacts.MaxFiles)
	}
	switch c.Artifacts.Archive {
	case ArchiveNone, ArchiveLocal:
	case ArchiveS3:
		if c.Artifacts.S3.Bucket == "" {
			add("artifacts.s3.bucket is required when artifacts.archive is s3")
		}
	default:
		add("artifacts.archive must be none, local or s3 (got %q)", c.Artifacts.Archive)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text (got %q)", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
