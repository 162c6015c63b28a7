package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/diffconf/pkg/config"
	"github.com/openfroyo/diffconf/pkg/policy"
	"github.com/spf13/cobra"
)

// outputFlags are the flags shared by commands that print a resolved config.
type outputFlags struct {
	output      string
	record      bool
	dbPath      string
	noPolicy    bool
	policyPaths []string
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "also save the resolved config to this file (.json for JSON, YAML otherwise)")
	cmd.Flags().BoolVar(&f.record, "record", false, "record the resolved config in the history database")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "history database path (overrides settings)")
	cmd.Flags().BoolVar(&f.noPolicy, "no-policy", false, "skip policy evaluation")
	cmd.Flags().StringArrayVar(&f.policyPaths, "policy", nil, "additional policy file or directory (repeatable)")
}

func newResolveCommand() *cobra.Command {
	var (
		src sourceFlags
		out outputFlags
	)

	cmd := &cobra.Command{
		Use:   "resolve [file...]",
		Short: "Print a resolved config with derived fields filled in",
		Long: `Resolve a config the way validate does and print it with every derived
and aliased field materialized: image and low resolution shapes, output
channels, attention head counts, t_start and the dataset aliases.

Policy violations are written to stderr. A blocking violation stops the
command before anything is saved or recorded.`,
		Example: `  # Print the resolved training config
  diffconf resolve base.yaml --set model.image_size=[64,64]

  # Save it next to the checkpoint and record it
  diffconf resolve base.yaml -o runs/exp1/config.yaml --record

  # Generation config as JSON
  diffconf resolve --gen gen.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			return a.emit(cmd, src.kind(), args, src.overrides, out)
		},
	}

	src.register(cmd)
	out.register(cmd)

	return cmd
}

// emit resolves, checks, prints and optionally saves and records a config.
func (a *app) emit(cmd *cobra.Command, kind string, files, overrides []string, out outputFlags) error {
	ctx := cmd.Context()

	res, err := a.resolve(ctx, kind, files, overrides)
	if err != nil {
		return err
	}

	var result *policy.PolicyResult
	if !out.noPolicy {
		if result, err = a.evaluate(ctx, res, out.policyPaths); err != nil {
			return err
		}
		printViolations(cmd.ErrOrStderr(), result)
		if !result.Allowed {
			return fmt.Errorf("%w: %d blocking violation(s)", ErrPolicyDenied, len(result.Violations))
		}
	}

	if err := render(a.out, res.Config); err != nil {
		return fmt.Errorf("failed to print config: %w", err)
	}

	if out.output != "" {
		if err := config.SaveDocument(out.output, res.Config); err != nil {
			return err
		}
		a.tel.Logger.WithFile(out.output).Info("Resolved config saved")
	}

	if out.record {
		snap, dedup, err := a.record(ctx, out.dbPath, res, result)
		if err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
		status := "recorded"
		if dedup {
			status = "already recorded"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "snapshot %s %s\n", snap.ID, status)
	}

	return nil
}

// evaluate builds a policy engine and checks res against it.
func (a *app) evaluate(ctx context.Context, res *resolution, extra []string) (*policy.PolicyResult, error) {
	engine, _, err := a.newPolicyEngine(ctx, extra)
	if err != nil {
		return nil, err
	}
	return a.check(ctx, engine, res)
}
