package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policies resolved configs are checked against",
	}

	cmd.PersistentFlags().StringArrayVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and user policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			engine, _, err := a.newPolicyEngine(cmd.Context(), policyPaths)
			if err != nil {
				return err
			}

			policies := engine.ListPolicies()
			if jsonOutput {
				return render(a.out, policies)
			}

			rows := make([][]string, 0, len(policies))
			for _, p := range policies {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				rows = append(rows, []string{p.Name, string(p.Severity), strconv.FormatBool(p.Enabled), source, p.Description})
			}
			printTable(a.out, []string{"NAME", "SEVERITY", "ENABLED", "SOURCE", "DESCRIPTION"}, rows)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a policy's Rego source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			engine, _, err := a.newPolicyEngine(cmd.Context(), policyPaths)
			if err != nil {
				return err
			}

			p, err := engine.GetPolicy(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return render(a.out, p)
			}
			_, err = fmt.Fprintf(a.out, "# %s (%s): %s\n%s\n", p.Name, p.Severity, p.Description, p.Rego)
			return err
		},
	}

	cmd.AddCommand(list, show)

	return cmd
}
