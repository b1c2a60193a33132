// Package main provides the CLI entry point for the menagerie engine.
//
// Menagerie runs a population of chat personas across Discord channels.
// An orchestration loop watches channel traffic, decides which personas
// should speak, and generates their replies through LLM providers.
//
// # Basic Usage
//
// Start the engine:
//
//	menagerie serve --config menagerie.yaml
//
// List the configured agents:
//
//	menagerie agents
//
// Query a running instance:
//
//	menagerie status
//
// # Environment Variables
//
// Secrets are typically supplied through the environment:
//
//   - MENAGERIE_DISCORD_BOT_TOKEN: Discord bot token
//   - ${VAR} references inside the config file are expanded at load time
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "menagerie",
		Short: "Menagerie - autonomous chat persona engine",
		Long: `Menagerie drives a population of LLM-backed personas across Discord
channels. Personas respond when mentioned, join conversations they find
interesting, rotate into quiet channels, and break long silences.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentsCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}
