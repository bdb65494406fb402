package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unifyops/provisioner/pkg/orchestrator"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
		Long: `Manage environments: create, list, inspect, provision and destroy.

An environment binds a name to a Terraform module path and owns one
backend keyed by its id. Provisioning runs init, plan and (with
--auto-apply at creation) apply, persisting each status transition.`,
	}

	cmd.AddCommand(newEnvCreateCommand())
	cmd.AddCommand(newEnvListCommand())
	cmd.AddCommand(newEnvStatusCommand())
	cmd.AddCommand(newEnvProvisionCommand())
	cmd.AddCommand(newEnvDestroyCommand())

	return cmd
}

func newEnvCreateCommand() *cobra.Command {
	var (
		name        string
		description string
		modulePath  string
		vars        []string
		varsFile    string
		autoApply   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment",
		Example: `  # Create an environment for the aws/vpc module
  provisioner env create --name staging --module aws/vpc --var region=eu-west-1

  # Auto-apply plans during provisioning
  provisioner env create --name prod --module aws/vpc --auto-apply --variables-file prod.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			variables, err := parseVariables(vars, varsFile)
			if err != nil {
				return err
			}

			env, err := a.orchestrator.CreateEnvironment(cmd.Context(), orchestrator.CreateEnvironmentParams{
				Name:        name,
				Description: description,
				ModulePath:  modulePath,
				Variables:   variables,
				AutoApply:   autoApply,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(env)
			}
			fmt.Printf("Created environment %s (%s)\n", env.Name, env.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "environment name")
	cmd.Flags().StringVar(&description, "description", "", "environment description")
	cmd.Flags().StringVar(&modulePath, "module", "", "terraform module path relative to the terraform root")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "environment variable as key=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "variables-file", "", "JSON file with environment variables")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply plans automatically during provisioning")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("module")

	return cmd
}

func newEnvListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			envs, err := a.orchestrator.ListEnvironments(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(envs)
			}
			if len(envs) == 0 {
				fmt.Println("No environments")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-24s  %-12s  %s\n", "ID", "NAME", "MODULE", "STATUS", "AUTO-APPLY")
			for _, env := range envs {
				fmt.Printf("%-36s  %-20s  %-24s  %-12s  %v\n",
					env.ID, env.Name, env.ModulePath, env.Status, env.AutoApply)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of environments")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of environments to skip")

	return cmd
}

func newEnvStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <environment-id>",
		Short: "Show environment status, state summary and outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.orchestrator.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(status)
			}
			env := status.Environment
			fmt.Printf("Environment:    %s (%s)\n", env.Name, env.ID)
			fmt.Printf("Module:         %s\n", env.ModulePath)
			fmt.Printf("Status:         %s\n", env.Status)
			if env.ErrorMessage != "" {
				fmt.Printf("Error:          %s\n", env.ErrorMessage)
			}
			fmt.Printf("Workflow:       running=%v\n", status.WorkflowRunning)
			fmt.Printf("State:          %d resources\n", status.StateResourceCount)
			if len(status.Outputs) > 0 {
				fmt.Println("Outputs:")
				for name, value := range status.Outputs {
					fmt.Printf("  %s = %v\n", name, value)
				}
			}
			return nil
		},
	}

	return cmd
}

func newEnvProvisionCommand() *cobra.Command {
	var (
		vars      []string
		varsFile  string
		forceInit bool
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "provision <environment-id>",
		Short: "Start a provisioning workflow",
		Long: `Start the init/plan/apply workflow for an environment.

Init is skipped when the environment was already initialized (unless
--force-init). Apply only runs for environments created with
--auto-apply and only when the plan reports changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			overrides, err := parseVariables(vars, varsFile)
			if err != nil {
				return err
			}

			environmentID := args[0]
			err = a.orchestrator.StartProvisioning(cmd.Context(), environmentID, orchestrator.ProvisionOptions{
				Overrides: overrides,
				ForceInit: forceInit,
			})
			if err != nil {
				return err
			}

			if !wait {
				fmt.Printf("Provisioning started for %s\n", environmentID)
				return nil
			}

			if err := a.orchestrator.Registry().Wait(cmd.Context(), environmentID); err != nil {
				return err
			}
			return printEnvironmentOutcome(cmd.Context(), a, environmentID)
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable override as key=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "variables-file", "", "JSON file with variable overrides")
	cmd.Flags().BoolVar(&forceInit, "force-init", false, "re-run init and re-download modules")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the workflow to finish")

	return cmd
}

func newEnvDestroyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destroy <environment-id>",
		Short: "Destroy an environment's infrastructure and remove it",
		Long: `Destroy all infrastructure managed by the environment and, on
success, delete the environment and its resources. On failure the
environment is kept in status failed with the error recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orchestrator.DeleteEnvironment(cmd.Context(), args[0], ""); err != nil {
				return err
			}
			fmt.Printf("Environment %s destroyed and removed\n", args[0])
			return nil
		},
	}

	return cmd
}

// printEnvironmentOutcome reports the final state of an awaited
// workflow, failing the command when the workflow failed.
func printEnvironmentOutcome(ctx context.Context, a *app, environmentID string) error {
	env, err := a.orchestrator.GetEnvironment(ctx, environmentID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(env)
	}
	if env.Status == orchestrator.StatusFailed {
		return fmt.Errorf("provisioning failed: %s", env.ErrorMessage)
	}
	fmt.Printf("Environment %s is %s\n", env.Name, env.Status)
	return nil
}
