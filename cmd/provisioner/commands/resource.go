package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unifyops/provisioner/pkg/orchestrator"
)

func newResourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage resources within an environment",
		Long: `Manage resources: named variable bundles contributed to their
environment's Terraform apply. Resources share the environment's
backend and working directory; provisioning a resource plans and
applies the whole environment with the resource's variables nested
under resource_definitions.`,
	}

	cmd.AddCommand(newResourceCreateCommand())
	cmd.AddCommand(newResourceListCommand())
	cmd.AddCommand(newResourceProvisionCommand())
	cmd.AddCommand(newResourceDeleteCommand())

	return cmd
}

func newResourceCreateCommand() *cobra.Command {
	var (
		environmentID string
		name          string
		resourceType  string
		vars          []string
		varsFile      string
		autoApply     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource in an environment",
		Example: `  # Add a bucket definition to an environment
  provisioner resource create --env <environment-id> --name assets --type s3_bucket --var acl=private`,
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

			res, err := a.orchestrator.CreateResource(cmd.Context(), orchestrator.CreateResourceParams{
				EnvironmentID: environmentID,
				Name:          name,
				ResourceType:  resourceType,
				Variables:     variables,
				AutoApply:     autoApply,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("Created resource %s (%s)\n", res.Name, res.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&environmentID, "env", "", "owning environment id")
	cmd.Flags().StringVar(&name, "name", "", "resource name, unique within the environment")
	cmd.Flags().StringVar(&resourceType, "type", "", "resource type label")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "resource variable as key=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "variables-file", "", "JSON file with resource variables")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply plans automatically during provisioning")
	_ = cmd.MarkFlagRequired("env")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newResourceListCommand() *cobra.Command {
	var (
		environmentID string
		status        string
		limit         int
		offset        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			resources, err := a.orchestrator.ListResources(cmd.Context(), orchestrator.ResourceListFilter{
				EnvironmentID: environmentID,
				Status:        orchestrator.Status(status),
			}, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(resources)
			}
			if len(resources) == 0 {
				fmt.Println("No resources")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-16s  %-12s  %s\n", "ID", "NAME", "TYPE", "STATUS", "ENVIRONMENT")
			for _, res := range resources {
				fmt.Printf("%-36s  %-20s  %-16s  %-12s  %s\n",
					res.ID, res.Name, res.ResourceType, res.Status, res.EnvironmentID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&environmentID, "env", "", "filter by environment id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of resources")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of resources to skip")

	return cmd
}

func newResourceProvisionCommand() *cobra.Command {
	var (
		vars      []string
		varsFile  string
		forceInit bool
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "provision <resource-id>",
		Short: "Start a provisioning workflow for a resource",
		Args:  cobra.ExactArgs(1),
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

			resourceID := args[0]
			res, err := a.orchestrator.GetResource(cmd.Context(), resourceID)
			if err != nil {
				return err
			}

			err = a.orchestrator.StartResourceProvisioning(cmd.Context(), resourceID, orchestrator.ProvisionOptions{
				Overrides: overrides,
				ForceInit: forceInit,
			})
			if err != nil {
				return err
			}

			if !wait {
				fmt.Printf("Provisioning started for resource %s\n", resourceID)
				return nil
			}

			// The workflow holds the environment's single-flight claim.
			if err := a.orchestrator.Registry().Wait(cmd.Context(), res.EnvironmentID); err != nil {
				return err
			}

			final, err := a.orchestrator.GetResource(cmd.Context(), resourceID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(final)
			}
			if final.Status == orchestrator.StatusFailed {
				return fmt.Errorf("provisioning failed: %s", final.ErrorMessage)
			}
			fmt.Printf("Resource %s is %s\n", final.Name, final.Status)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable override as key=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "variables-file", "", "JSON file with variable overrides")
	cmd.Flags().BoolVar(&forceInit, "force-init", false, "re-run init and re-download modules")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the workflow to finish")

	return cmd
}

func newResourceDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <resource-id>",
		Short: "Delete a resource record",
		Long: `Delete a resource record. The infrastructure change takes effect on
the environment's next plan and apply. Deletion is rejected while a
workflow is running against the environment's state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.orchestrator.DeleteResource(cmd.Context(), args[0], ""); err != nil {
				return err
			}
			fmt.Printf("Deleted resource %s\n", args[0])
			return nil
		},
	}

	return cmd
}
