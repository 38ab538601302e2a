package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/quill/internal/artifacts"
	"github.com/haasonsaas/quill/internal/storage"
)

// Config is the main configuration structure for Quill.
type Config struct {
	// Version is optional. When set it must match CurrentVersion.
	Version int `yaml:"version"`

	Discord   DiscordConfig   `yaml:"discord"`
	LLM       LLMConfig       `yaml:"llm"`
	Bot       BotConfig       `yaml:"bot"`
	Storage   storage.Config  `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
	AppID string `yaml:"app_id"`
	// GuildID registers slash commands on a single guild instead of globally.
	GuildID string `yaml:"guild_id"`

	HistoryLimit         int     `yaml:"history_limit"`
	RateLimit            float64 `yaml:"rate_limit"`
	RateBurst            int     `yaml:"rate_burst"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`

	// RootUser may run /authorize and edit the unauthorized mode.
	RootUser string `yaml:"root_user"`
}

type LLMConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`

	// PlainProvider serves generate_plain: anthropic, openai or gemini.
	PlainProvider string         `yaml:"plain_provider"`
	OpenAI        PlainLLMConfig `yaml:"openai"`
	Gemini        PlainLLMConfig `yaml:"gemini"`

	MaxContinuations int `yaml:"max_continuations"`
	MaxToolRounds    int `yaml:"max_tool_rounds"`
	ContextWindow    int `yaml:"context_window"`
	SafetyMargin     int `yaml:"safety_margin"`
}

type AnthropicConfig struct {
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	ThinkingBudget   int           `yaml:"thinking_budget"`
	WebSearch        bool          `yaml:"web_search"`
	WebSearchMaxUses int           `yaml:"web_search_max_uses"`
	WebFetch         bool          `yaml:"web_fetch"`
	WebFetchMaxUses  int           `yaml:"web_fetch_max_uses"`
	CodeExecution    bool          `yaml:"code_execution"`
	MaxRetries       int           `yaml:"max_retries"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// PlainLLMConfig configures an alternative plain-text provider.
type PlainLLMConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
}

type BotConfig struct {
	PersonaPath  string `yaml:"persona_path"`
	WatchPersona bool   `yaml:"watch_persona"`
	// Timezone is an IANA name used for the prompt clock and for
	// schedule times given without a zone.
	Timezone string `yaml:"timezone"`
	// Apology replaces an empty reply.
	Apology string `yaml:"apology"`
}

type SchedulerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxTasksPerGuild int           `yaml:"max_tasks_per_guild"`
	MaxHorizon       time.Duration `yaml:"max_horizon"`
	MinLead          time.Duration `yaml:"min_lead"`
	// StaleThreshold bounds how late an overdue task may still run at startup.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:     30 * time.Second,
		MaxTasksPerGuild: 25,
		MaxHorizon:       30 * 24 * time.Hour,
		MinLead:          time.Minute,
		StaleThreshold:   time.Hour,
	}
}

// Archive targets.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

type ArtifactsConfig struct {
	MaxBytes int64  `yaml:"max_bytes"`
	MaxFiles int    `yaml:"max_files"`
	Archive  string `yaml:"archive"`
	LocalDir string `yaml:"local_dir"`

	S3 artifacts.S3StoreConfig `yaml:"s3"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnvSecrets(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Discord.HistoryLimit == 0 {
		cfg.Discord.HistoryLimit = 50
	}
	if cfg.Discord.RateLimit == 0 {
		cfg.Discord.RateLimit = 1
	}
	if cfg.Discord.RateBurst == 0 {
		cfg.Discord.RateBurst = 5
	}
	if cfg.Discord.MaxReconnectAttempts == 0 {
		cfg.Discord.MaxReconnectAttempts = 5
	}

	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.Anthropic.MaxTokens == 0 {
		cfg.LLM.Anthropic.MaxTokens = 2048
	}
	if cfg.LLM.Anthropic.MaxRetries == 0 {
		cfg.LLM.Anthropic.MaxRetries = 2
	}
	if cfg.LLM.Anthropic.RequestTimeout == 0 {
		cfg.LLM.Anthropic.RequestTimeout = 5 * time.Minute
	}
	if cfg.LLM.PlainProvider == "" {
		cfg.LLM.PlainProvider = "anthropic"
	}
	if cfg.LLM.MaxContinuations == 0 {
		cfg.LLM.MaxContinuations = 5
	}
	if cfg.LLM.MaxToolRounds == 0 {
		cfg.LLM.MaxToolRounds = 5
	}
	if cfg.LLM.ContextWindow == 0 {
		cfg.LLM.ContextWindow = 200000
	}
	if cfg.LLM.SafetyMargin == 0 {
		cfg.LLM.SafetyMargin = 5000
	}

	if cfg.Bot.Timezone == "" {
		cfg.Bot.Timezone = "UTC"
	}
	if cfg.Bot.Apology == "" {
		cfg.Bot.Apology = "Sorry, I couldn't come up with a reply."
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.Backend == "file" && cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}

	defaults := DefaultSchedulerConfig()
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = defaults.PollInterval
	}
	if cfg.Scheduler.MaxTasksPerGuild == 0 {
		cfg.Scheduler.MaxTasksPerGuild = defaults.MaxTasksPerGuild
	}
	if cfg.Scheduler.MaxHorizon == 0 {
		cfg.Scheduler.MaxHorizon = defaults.MaxHorizon
	}
	if cfg.Scheduler.MinLead == 0 {
		cfg.Scheduler.MinLead = defaults.MinLead
	}
	if cfg.Scheduler.StaleThreshold == 0 {
		cfg.Scheduler.StaleThreshold = defaults.StaleThreshold
	}

	if cfg.Artifacts.MaxBytes == 0 {
		cfg.Artifacts.MaxBytes = artifacts.DefaultMaxBytes
	}
	if cfg.Artifacts.MaxFiles == 0 {
		cfg.Artifacts.MaxFiles = 10
	}
	if cfg.Artifacts.Archive == "" {
		cfg.Artifacts.Archive = ArchiveNone
	}
	if cfg.Artifacts.Archive == ArchiveLocal && cfg.Artifacts.LocalDir == "" {
		cfg.Artifacts.LocalDir = "artifacts"
	}
	if cfg.Artifacts.Archive == ArchiveS3 && cfg.Artifacts.S3.Region == "" {
		cfg.Artifacts.S3.Region = artifacts.DefaultS3StoreConfig().Region
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.Endpoint != "" && cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}
