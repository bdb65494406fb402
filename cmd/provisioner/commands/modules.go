package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModulesCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "modules [module-path]",
		Short: "List available Terraform modules",
		Long: `List the Terraform modules discovered under the configured root,
or show one module's variables and outputs in detail.

A directory counts as a module when it contains main.tf. Metadata is
extracted from the module's files: description from leading comments,
variables and outputs from their declarations, tags from the README.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if refresh {
				a.catalog.Invalidate()
			}

			if len(args) == 1 {
				module, err := a.catalog.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(module)
				}
				fmt.Printf("Module:      %s\n", module.Path)
				if module.Description != "" {
					fmt.Printf("Description: %s\n", module.Description)
				}
				if len(module.Tags) > 0 {
					fmt.Printf("Tags:        %s\n", strings.Join(module.Tags, ", "))
				}
				if len(module.Variables) > 0 {
					fmt.Println("Variables:")
					for _, v := range module.Variables {
						required := ""
						if v.Required {
							required = " (required)"
						}
						fmt.Printf("  %-24s %-12s %s%s\n", v.Name, v.Type, v.Description, required)
					}
				}
				if len(module.Outputs) > 0 {
					fmt.Println("Outputs:")
					for _, o := range module.Outputs {
						fmt.Printf("  %-24s %s\n", o.Name, o.Description)
					}
				}
				return nil
			}

			list, err := a.catalog.List(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Printf("No modules found under %s\n", a.cfg.TerraformDir)
				return nil
			}
			fmt.Printf("%-32s  %-10s  %-12s  %s\n", "PATH", "PROVIDER", "CATEGORY", "DESCRIPTION")
			for _, m := range list {
				fmt.Printf("%-32s  %-10s  %-12s  %s\n", m.Path, m.Provider, m.Category, m.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "rescan the terraform root before listing")

	return cmd
}
