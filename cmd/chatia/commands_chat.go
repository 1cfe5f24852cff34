package main

import (
	"github.com/spf13/cobra"
)

// buildChatCmd creates the "chat" command that runs an interactive session.
func buildChatCmd() *cobra.Command {
	var (
		configPath  string
		sessionID   string
		metricsAddr string
		profile     string
		quietTools  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive session on stdin/stdout.

Each line is one turn. Proposed actions are confirmed with "sim" and cancelled
with "não". The session id keys the stored context, so reusing it with a
persistent driver resumes where the last session stopped.

REPL commands:
  /pendentes  list actions awaiting confirmation
  /sair       leave the session`,
		Example: `  # Chat with the default config
  chatia chat

  # Resume a persistent session and expose metrics
  chatia chat --config chatia.yaml --session ana --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, chatOptions{
				configPath:  configPath,
				sessionID:   sessionID,
				metricsAddr: metricsAddr,
				profile:     profile,
				quietTools:  quietTools,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "local", "Session id")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides observability.metrics.addr)")
	cmd.Flags().StringVar(&profile, "profile", "", "Pin the model profile: default, analytical or knowledge")
	cmd.Flags().BoolVar(&quietTools, "quiet-tools", false, "Do not print tool activity lines")

	return cmd
}
