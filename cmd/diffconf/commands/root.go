package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/openfroyo/diffconf/pkg/config"
	"github.com/openfroyo/diffconf/pkg/policy"
	"github.com/openfroyo/diffconf/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// ErrPolicyDenied is returned when a blocking policy violation was found.
var ErrPolicyDenied = errors.New("configuration denied by policy")

// Exit codes
const (
	exitOK     = 0
	exitError  = 1
	exitDenied = 2
)

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrPolicyDenied):
		return exitDenied
	default:
		return exitError
	}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return execute(ctx, rootCmd)
}

// execute runs root and shuts telemetry down whether or not the command
// succeeded.
func execute(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if a, aerr := appFrom(cmd); aerr == nil {
		if serr := a.tel.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			a.tel.Logger.WithError(serr).Warn("Failed to shut down telemetry")
		}
	}
	return err
}

// app holds what the subcommands share for one invocation.
type app struct {
	settings *Settings
	tel      *telemetry.Telemetry
	resolver *config.Resolver
	runID    string
	out      io.Writer
}

type appContextKey struct{}

func appFrom(cmd *cobra.Command) (*app, error) {
	if cmd == nil || cmd.Context() == nil {
		return nil, fmt.Errorf("command was not initialized")
	}
	a, ok := cmd.Context().Value(appContextKey{}).(*app)
	if !ok {
		return nil, fmt.Errorf("command %s was not initialized", cmd.Name())
	}
	return a, nil
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "diffconf",
		Short: "diffconf - configuration resolver for diffusion model scripts",
		Long: `diffconf composes the configuration of diffusion model training and
generation scripts from group defaults, override documents and command line
overrides, then validates and checks it.

Features:
  - Typed groups checked against CUE schemas
  - YAML, JSON, CUE and Starlark override documents
  - Derived fields (image shape, output channels, attention heads)
  - Rego policies over the resolved config
  - History of resolved configs in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupApp(cmd, version)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "diffconf settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newSchemasCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// setupApp loads settings, starts telemetry and builds the resolver for the
// command about to run.
func setupApp(cmd *cobra.Command, version string) error {
	settings, err := LoadSettings(configPath)
	if err != nil {
		return err
	}

	settings.Telemetry.ServiceVersion = version
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Changed {
		settings.Telemetry.Metrics.ListenAddress = f.Value.String()
	}

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	runID := uuid.NewString()
	logger := tel.Logger.WithCommand(cmd.CommandPath()).WithField("run_id", runID)
	tel.Logger = logger

	a := &app{
		settings: settings,
		tel:      tel,
		resolver: config.NewResolver(
			config.NewSchemaRegistry(),
			logger.Zerolog(),
			config.WithStarlarkTimeout(settings.StarlarkTimeout),
		),
		runID: runID,
		out:   cmd.OutOrStdout(),
	}

	ctx := context.WithValue(tel.WithContext(cmd.Context()), appContextKey{}, a)
	cmd.SetContext(ctx)

	logger.WithField("settings", configPath).Debug("Command initialized")

	return nil
}

// newPolicyEngine builds an engine with the built-ins, the policy paths from
// settings plus extra, and the disabled list from settings applied.
func (a *app) newPolicyEngine(ctx context.Context, extra []string) (*policy.Engine, []string, error) {
	engine, err := policy.NewEngine(a.tel.Logger.Zerolog())
	if err != nil {
		return nil, nil, err
	}

	paths := append(append([]string{}, a.settings.Policies.Paths...), extra...)
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, nil, err
		}
	}

	a.disablePolicies(engine)

	return engine, paths, nil
}

// disablePolicies applies the disabled list from settings to engine.
func (a *app) disablePolicies(engine *policy.Engine) {
	for _, name := range a.settings.Policies.Disabled {
		if err := engine.DisablePolicy(name); err != nil {
			a.tel.Logger.Warnf("cannot disable policy %s: %v", name, err)
		}
	}
}
