package commands

import (
	"github.com/openfroyo/diffconf/pkg/policy"
	"github.com/spf13/cobra"
)

func newLoadCommand() *cobra.Command {
	var out outputFlags

	cmd := &cobra.Command{
		Use:   "load <saved-config>",
		Short: "Reload the model and diffusion groups of a saved training config",
		Long: `Load a training config saved next to a checkpoint and print the model
and diffusion groups a generation script rebuilds from it.

The saved file must contain the model and diffusion sections. Other known
sections are ignored, as are derived fields written by resolve.`,
		Example: `  # Inspect what generation will use
  diffconf load runs/exp1/config.yaml

  # Record it
  diffconf load runs/exp1/config.yaml --record`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return a.emit(cmd, policy.KindLoaded, args, nil, out)
		},
	}

	out.register(cmd)

	return cmd
}
