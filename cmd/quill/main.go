// Package main provides the CLI entry point for Quill, a Discord bot that
// answers mentions through an agentic Claude loop.
//
// # Basic Usage
//
// Start the bot:
//
//	quill serve --config quill.yaml
//
// Check a configuration file:
//
//	quill config validate --config quill.yaml
//
// Inspect stored state:
//
//	quill tasks list --guild 123456789
//	quill memory list --guild 123456789
//
// # Environment Variables
//
// Configuration values may reference environment variables as ${NAME} or
// ${NAME:-default}. Credentials left empty in the file are read from:
//
//   - QUILL_CONFIG: Path to configuration file (default: quill.yaml)
//   - DISCORD_BOT_TOKEN: Discord bot token
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key for the optional plain provider
//   - GEMINI_API_KEY: Gemini API key for the optional plain provider
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill - a Discord bot backed by Claude",
		Long: `Quill answers Discord mentions through a streaming, tool-using Claude loop.

It keeps per-server memories, runs scheduled messages and prompts, and
archives generated files when configured.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildTasksCmd(),
		buildMemoryCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// defaultConfigPath honors QUILL_CONFIG.
func defaultConfigPath() string {
	if path := os.Getenv("QUILL_CONFIG"); path != "" {
		return path
	}
	return "quill.yaml"
}
