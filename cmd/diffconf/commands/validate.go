package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/openfroyo/diffconf/pkg/config"
	"github.com/openfroyo/diffconf/pkg/policy"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newValidateCommand() *cobra.Command {
	var (
		src         sourceFlags
		watch       bool
		noPolicy    bool
		policyPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate a training or generation config",
		Long: `Validate a config composed from group defaults, the given override
documents (in order) and --set overrides.

This command checks:
  - Each document against the CUE schema of its groups
  - Required fields and constraints after merging
  - Policy compliance (OPA/rego), unless --no-policy is set

With --watch the config is revalidated every time one of the documents or
policy files changes, until interrupted. The process exits with status 2
when a policy denies the config.`,
		Example: `  # Validate a training config
  diffconf validate base.yaml experiment.cue

  # Validate a generation config with an override
  diffconf validate --gen gen.yaml --set generate.ddim=true

  # Revalidate on change and expose metrics
  diffconf validate --watch --metrics-addr :9090 base.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var engine *policy.Engine
			var watchPaths []string
			if !noPolicy {
				if engine, watchPaths, err = a.newPolicyEngine(ctx, policyPaths); err != nil {
					return err
				}
			}

			if !watch {
				rep, err := a.validate(ctx, engine, src.kind(), args, src.overrides)
				if perr := printReport(a.out, rep); perr != nil {
					return perr
				}
				return err
			}

			if len(args) == 0 {
				return fmt.Errorf("--watch needs at least one config file")
			}
			return a.watch(ctx, engine, watchPaths, src, args)
		},
	}

	src.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "revalidate whenever a config or policy file changes")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while watching")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip policy evaluation")
	cmd.Flags().StringArrayVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")

	return cmd
}

// validate resolves a config and checks it against engine, if any. The
// report is filled in even when an error is returned.
func (a *app) validate(ctx context.Context, engine *policy.Engine, kind string, files, overrides []string) (*report, error) {
	rep := &report{Kind: kind, Sources: files}

	res, err := a.resolve(ctx, kind, files, overrides)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			rep.Error = cerr
		} else {
			rep.Failure = err.Error()
		}
		return rep, err
	}

	if engine != nil {
		result, err := a.check(ctx, engine, res)
		if err != nil {
			rep.Failure = err.Error()
			return rep, err
		}
		rep.Policy = result
		if !result.Allowed {
			return rep, fmt.Errorf("%w: %d blocking violation(s)", ErrPolicyDenied, len(result.Violations))
		}
	}

	rep.Valid = true
	return rep, nil
}

// watch revalidates on every change until ctx is done. Policy files are
// reloaded by the engine, and a reload also triggers a run.
func (a *app) watch(ctx context.Context, engine *policy.Engine, policyPaths []string, src sourceFlags, files []string) error {
	var mu sync.Mutex
	run := func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()

		rep, err := a.validate(ctx, engine, src.kind(), files, src.overrides)
		a.tel.Metrics.RecordWatchReload(err != nil && !errors.Is(err, ErrPolicyDenied))
		if perr := printReport(a.out, rep); perr != nil {
			a.tel.Logger.WithError(perr).Error("Failed to print report")
		}
	}
	run(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.tel.Metrics.Serve(ctx)
	})
	g.Go(func() error {
		return config.NewWatcher(a.tel.Logger.Zerolog(), 0).Watch(ctx, files, run)
	})
	if engine != nil && len(policyPaths) > 0 {
		g.Go(func() error {
			return engine.WatchPolicies(ctx, policyPaths, func(ctx context.Context) {
				a.disablePolicies(engine)
				run(ctx)
			})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printReport writes rep as JSON with --json, or as violation lines and a
// status line otherwise.
func printReport(w io.Writer, rep *report) error {
	if rep == nil {
		return nil
	}
	if jsonOutput {
		return render(w, rep)
	}

	printViolations(w, rep.Policy)
	switch {
	case rep.Valid:
		_, err := fmt.Fprintf(w, "ok: %s config is valid\n", rep.Kind)
		return err
	case rep.Error != nil:
		_, err := fmt.Fprintf(w, "invalid: %s\n", rep.Error)
		return err
	case rep.Failure != "":
		_, err := fmt.Fprintf(w, "failed: %s\n", rep.Failure)
		return err
	default:
		_, err := fmt.Fprintf(w, "denied: %d blocking violation(s)\n", len(rep.Policy.Violations))
		return err
	}
}
