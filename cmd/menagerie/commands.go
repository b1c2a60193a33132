package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "menagerie.yaml"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the persona engine",
		Long: `Start the persona engine with the configured platform and providers.

The engine will:
1. Load and validate the configuration file
2. Restore attention and cooldown state from the snapshot database
3. Connect the Discord gateway (or an in-memory platform for dev runs)
4. Start the orchestration, decay, rotation, watchdog, and sweep drivers
5. Serve /metrics, /healthz, and /status on the operational HTTP listener

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  menagerie serve

  # Start with a custom config and debug logging
  menagerie serve --config /etc/menagerie/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")
	return cmd
}

func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running engine instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"Path to configuration file")
	return cmd
}
