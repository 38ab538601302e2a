package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/memory"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe loads configuration, starts the bot and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	logger.Info("starting quill",
		"version", version,
		"commit", commit,
		"config", configPath,
		"model", cfg.LLM.Anthropic.Model,
		"plain_provider", cfg.LLM.PlainProvider,
		"storage", cfg.Storage.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		cancel()
		if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("cleanup after failed start", "error", stopErr)
		}
		return fmt.Errorf("failed to start: %w", err)
	}
	logger.Info("quill started")

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("quill stopped gracefully")
	return nil
}

// =============================================================================
// Config Command Handlers
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration OK: %s\n", configPath)
	fmt.Fprintf(out, "  model:          %s\n", cfg.LLM.Anthropic.Model)
	fmt.Fprintf(out, "  plain provider: %s\n", cfg.LLM.PlainProvider)
	fmt.Fprintf(out, "  storage:        %s\n", cfg.Storage.Backend)
	fmt.Fprintf(out, "  archive:        %s\n", cfg.Artifacts.Archive)
	fmt.Fprintf(out, "  token budget:   %d\n", tokenBudget(cfg.LLM))
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

// =============================================================================
// Inspection Command Handlers
// =============================================================================

// openBackend opens the configured storage for read-only inspection.
func openBackend(ctx context.Context, configPath string) (*config.Config, storage.Backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, backend, nil
}

func runTasksList(cmd *cobra.Command, configPath, guildID string) error {
	ctx := cmd.Context()
	cfg, backend, err := openBackend(ctx, configPath)
	if err != nil {
		return err
	}
	defer backend.Close()

	sched, err := cron.NewScheduler(ctx, cfg.Scheduler, backend)
	if err != nil {
		return err
	}
	tasks := sched.Tasks(strings.TrimSpace(guildID))
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No scheduled tasks.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGUILD\tCHANNEL\tTYPE\tEXECUTE AT\tCONTENT")
	for _, t := range tasks {
		channel := t.ChannelID
		if t.ChannelName != "" {
			channel = "#" + t.ChannelName
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.GuildID, channel, t.Type, t.ExecuteAt.Format(time.RFC3339), preview(t.Content, 60))
	}
	return w.Flush()
}

func runMemoryList(cmd *cobra.Command, configPath, guildID string) error {
	ctx := cmd.Context()
	_, backend, err := openBackend(ctx, configPath)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := memory.NewStore(ctx, memory.StoreConfig{Backend: backend})
	if err != nil {
		return err
	}
	memories := store.List(strings.TrimSpace(guildID))
	out := cmd.OutOrStdout()
	if len(memories) == 0 {
		fmt.Fprintf(out, "No memories stored for server %s.\n", guildID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tUPDATED\tCONTENT")
	for _, m := range memories {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Key, m.UpdatedAt.Format(time.RFC3339), preview(m.Content, 80))
	}
	return w.Flush()
}

// preview flattens text to one line of at most n runes.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}

func runVersion(cmd *cobra.Command) {
	fmt.Fprintf(cmd.OutOrStdout(), "quill %s (commit: %s, built: %s)\n", version, commit, date)
}
