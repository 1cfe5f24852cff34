// Package main provides the CLI entry point for chatia, a conversational
// assistant that routes each turn to deterministic rules, direct tool calls
// or an LLM, and holds side-effecting actions until the user confirms them.
//
// # Basic Usage
//
// Start an interactive session:
//
//	chatia chat --config chatia.yaml --session ana
//
// Manage database migrations:
//
//	chatia migrate up
//	chatia migrate status
//
// Print the configuration JSON Schema:
//
//	chatia config schema
//
// # Environment Variables
//
//   - CHATIA_CONFIG: Path to configuration file (default: chatia.yaml when present)
//   - ANTHROPIC_API_KEY: Anthropic API key, used when llm.providers.anthropic.api_key is empty
//   - OPENAI_API_KEY: OpenAI API key
//   - GEMINI_API_KEY: Google Gemini API key
//
// A .env file in the working directory is loaded before the configuration.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/config"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "chatia.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatia",
		Short: "chatia - conversational assistant with confirmed actions",
		Long: `chatia answers operational questions and prepares actions such as
declarations and messages. Status lookups and context commands are handled by
deterministic rules; everything else goes to the configured LLM provider.
Actions with side effects are proposed first and only run after "sim".

Supported LLM providers: Anthropic, OpenAI, Google Gemini
Session storage: memory, SQLite, Postgres`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatia %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath picks the flag, then CHATIA_CONFIG, then chatia.yaml if
// it exists. An empty result means built-in defaults.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("CHATIA_CONFIG")); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if path == "" {
		slog.Info("no config file found, using defaults")
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
