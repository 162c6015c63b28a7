package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// schemaInfo is the JSON form of a registered group schema.
type schemaInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Definition  string            `json:"definition"`
	Source      string            `json:"source,omitempty"`
	Derived     map[string]string `json:"derived,omitempty"`
}

func newSchemasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas [group]",
		Short: "List configuration groups or show one group's schema",
		Example: `  # List groups
  diffconf schemas

  # Show the model group's CUE schema and derived fields
  diffconf schemas model`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			reg := a.resolver.Registry()

			if len(args) == 0 {
				names := reg.ListSchemas()
				if jsonOutput {
					infos := make([]schemaInfo, 0, len(names))
					for _, name := range names {
						s, _ := reg.GetSchema(name)
						infos = append(infos, schemaInfo{Name: name, Description: s.Description, Definition: s.Definition})
					}
					return render(a.out, infos)
				}

				rows := make([][]string, 0, len(names))
				for _, name := range names {
					s, _ := reg.GetSchema(name)
					rows = append(rows, []string{name, s.Definition, s.Description})
				}
				printTable(a.out, []string{"GROUP", "DEFINITION", "DESCRIPTION"}, rows)
				return nil
			}

			name := args[0]
			s, ok := reg.GetSchema(name)
			if !ok {
				return fmt.Errorf("unknown configuration group %q", name)
			}
			if jsonOutput {
				return render(a.out, schemaInfo{
					Name:        name,
					Description: s.Description,
					Definition:  s.Definition,
					Source:      s.Source,
					Derived:     s.Derived,
				})
			}

			fmt.Fprintf(a.out, "# %s: %s\n%s\n", name, s.Description, s.Source)
			if len(s.Derived) > 0 {
				fields := make([]string, 0, len(s.Derived))
				for field := range s.Derived {
					fields = append(fields, field)
				}
				sort.Strings(fields)

				fmt.Fprintln(a.out, "\n# derived (read-only)")
				for _, field := range fields {
					fmt.Fprintf(a.out, "#   %s = %s\n", field, s.Derived[field])
				}
			}
			return nil
		},
	}

	return cmd
}
