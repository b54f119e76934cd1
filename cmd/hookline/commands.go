package main

import (
	"github.com/spf13/cobra"
)

// buildValidateCmd creates the "validate" command.
func buildValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Load the configuration, check it against the schema and build every hook
without installing it. Exits non-zero when the file is invalid or a hook is
rejected. Calls that cannot be bound are reported as warnings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildPlanCmd creates the "plan" command.
func buildPlanCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the resolved action order of every hook",
		Example: `  hookline plan --config hookline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildSchemaCmd creates the "schema" command.
func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.OutOrStdout())
		},
	}
}

// buildWatchCmd creates the "watch" command.
func buildWatchCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Install hooks from a configuration and reload it on change",
		Long: `Install the configured hooks into the process registry, reload them whenever
the file changes and serve Prometheus metrics on /metrics until interrupted.`,
		Example: `  hookline watch --config hookline.yaml --listen :9464`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), resolveConfigPath(configPath), listenAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Metrics listen address (overrides observability.metrics.listen_addr)")
	return cmd
}

// buildDemoCmd creates the "demo" command.
func buildDemoCmd() *cobra.Command {
	var (
		configPath string
		fail       bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a synthetic instrumented call and print what it produced",
		Long: `Run a nested pair of instrumented calls (shop.Checkout.Place calling
shop.Payments.Charge) through hooks built from the given configuration, or from
a built-in one, and print the log lines and tags they produced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout(), configPath, fail)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: built-in demo)")
	cmd.Flags().BoolVar(&fail, "fail", false, "Make the payment call fail")
	return cmd
}
