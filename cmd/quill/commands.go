package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start answering",
		Long: `Connect to Discord and start answering mentions and direct messages.

The server will:
1. Load configuration from the specified file (or quill.yaml)
2. Open the storage backend for memories, settings and scheduled tasks
3. Initialize the Anthropic provider and the optional plain provider
4. Connect to the Discord gateway and register slash commands
5. Start the task scheduler and, if configured, the metrics endpoint

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  quill serve

  # Start with custom config and debug logging
  quill serve --config /etc/quill/quill.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

// =============================================================================
// Tasks Commands
// =============================================================================

// buildTasksCmd creates the "tasks" command group.
func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect scheduled tasks",
	}
	cmd.AddCommand(buildTasksListCmd())
	return cmd
}

func buildTasksListCmd() *cobra.Command {
	var (
		configPath string
		guildID    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending scheduled tasks",
		Example: `  # Every pending task
  quill tasks list

  # Tasks of one server
  quill tasks list --guild 123456789`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksList(cmd, configPath, guildID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&guildID, "guild", "", "Only list tasks of this server")
	return cmd
}

// =============================================================================
// Memory Commands
// =============================================================================

// buildMemoryCmd creates the "memory" command group.
func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect per-server memories",
	}
	cmd.AddCommand(buildMemoryListCmd())
	return cmd
}

func buildMemoryListCmd() *cobra.Command {
	var (
		configPath string
		guildID    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the memories stored for a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryList(cmd, configPath, guildID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&guildID, "guild", "", "Server ID")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			runVersion(cmd)
		},
	}
}
