package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Terraform provisioning orchestrator",
		Long: `Provisioner orchestrates Terraform workflows for environments and
their resources.

An environment maps to one Terraform module and owns a single backend
keyed by its id. Resources are named variable bundles contributed to
the environment's apply. Workflows (init, plan, apply, destroy) run as
tracked subprocesses with per-operation timeouts, persisted status
transitions, and single-flight execution per environment.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newResourceCommand())
	rootCmd.AddCommand(newModulesCommand())

	return rootCmd
}
