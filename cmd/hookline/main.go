// Package main provides the hookline CLI.
//
// hookline validates and inspects hook configurations, serves the metrics of
// a running configuration and demonstrates a hooked call end to end.
//
// # Basic Usage
//
// Check a configuration file:
//
//	hookline validate --config hookline.yaml
//
// Print the resolved action order of every hook:
//
//	hookline plan --config hookline.yaml
//
// Hot reload a configuration and expose /metrics:
//
//	hookline watch --config hookline.yaml
//
// # Environment Variables
//
//   - HOOKLINE_CONFIG: Path to configuration file (default: hookline.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "hookline.yaml"

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

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hookline",
		Short: "hookline - configurable method instrumentation",
		Long: `hookline runs configured actions around instrumented method calls and
propagates per-call data between nested calls, into logs, metrics and traces.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildValidateCmd(),
		buildPlanCmd(),
		buildSchemaCmd(),
		buildWatchCmd(),
		buildDemoCmd(),
	)
	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("HOOKLINE_CONFIG")); env != "" {
		return env
	}
	return defaultConfigName
}
