package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect Rego policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List built-in and configured policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := appFrom(cmd).policyEngine(cmd.Context())
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				source := p.Source
				if source == "" {
					source = "built-in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, p.Description)
			}
			return tw.Flush()
		},
	})

	return cmd
}
