package commands

import (
	"context"
	"fmt"

	"github.com/openfroyo/diffconf/pkg/config"
	"github.com/openfroyo/diffconf/pkg/policy"
	"github.com/openfroyo/diffconf/pkg/stores"
	"github.com/openfroyo/diffconf/pkg/telemetry"
	"github.com/spf13/cobra"
)

// resolution is a resolved config together with where it came from.
type resolution struct {
	Kind    string   `json:"kind"`
	Sources []string `json:"sources"`
	Config  any      `json:"config"`
}

// report is what validate prints for one run.
type report struct {
	Kind    string               `json:"kind"`
	Sources []string             `json:"sources"`
	Valid   bool                 `json:"valid"`
	Error   *config.Error        `json:"error,omitempty"`
	Failure string               `json:"failure,omitempty"`
	Policy  *policy.PolicyResult `json:"policy,omitempty"`
}

// sourceFlags are the flags shared by commands that resolve configs.
type sourceFlags struct {
	generate  bool
	overrides []string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.generate, "gen", false, "resolve a generation config instead of a training config")
	cmd.Flags().StringArrayVar(&f.overrides, "set", nil, "dotted override, e.g. --set train.batch_size=16 (repeatable)")
}

func (f *sourceFlags) kind() string {
	if f.generate {
		return policy.KindGenerate
	}
	return policy.KindTrain
}

// resolve loads and resolves a config of the given kind. For KindLoaded,
// files must hold exactly the saved config.
func (a *app) resolve(ctx context.Context, kind string, files, overrides []string) (*resolution, error) {
	ctx, span := a.tel.Tracer.StartResolveSpan(ctx, kind, files)
	defer span.End()
	timer := telemetry.NewTimer()

	var (
		resolved any
		err      error
	)
	switch kind {
	case policy.KindTrain:
		var cfg *config.TrainScriptConfig
		if cfg, err = a.resolver.LoadTrainConfig(ctx, files, overrides); err == nil {
			resolved = cfg.Resolve()
		}
	case policy.KindGenerate:
		var cfg *config.GenScriptConfig
		if cfg, err = a.resolver.LoadGenConfig(ctx, files, overrides); err == nil {
			resolved = cfg.Resolve()
		}
	case policy.KindLoaded:
		if len(files) != 1 {
			err = fmt.Errorf("exactly one saved config is required, got %d", len(files))
			break
		}
		var cfg *config.LoadedConfig
		if cfg, err = a.resolver.LoadSaved(ctx, files[0]); err == nil {
			resolved = cfg.Resolve()
		}
	default:
		err = fmt.Errorf("unknown config kind %q", kind)
	}

	a.tel.Metrics.RecordResolution(kind, timer.Duration(), errorLabel(err))
	if err != nil {
		span.SetAttributes(telemetry.AttrErrorKind.String(errorLabel(err)))
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)

	return &resolution{Kind: kind, Sources: files, Config: resolved}, nil
}

// errorLabel is the metrics label for err: its config error kind, "other"
// for unclassified errors and empty on success.
func errorLabel(err error) string {
	if err == nil {
		return ""
	}
	if kind := config.KindOf(err); kind != "" {
		return string(kind)
	}
	return "other"
}

// check evaluates the policies against res and counts every violation.
func (a *app) check(ctx context.Context, engine *policy.Engine, res *resolution) (*policy.PolicyResult, error) {
	op := telemetry.StartOperation(ctx, "policy.evaluate",
		telemetry.AttrConfigKind.String(res.Kind),
	)
	result, err := engine.Evaluate(op.Ctx, res.Kind, res.Config)
	op.End(err)
	if err != nil {
		return nil, err
	}

	for _, v := range result.All() {
		a.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
	}
	return result, nil
}

// record stores res in the history database along with any findings.
func (a *app) record(ctx context.Context, dbPath string, res *resolution, result *policy.PolicyResult) (*stores.Snapshot, bool, error) {
	if dbPath == "" {
		dbPath = a.settings.History.Path
	}

	doc, err := encodeDocument(res.Config)
	if err != nil {
		return nil, false, err
	}

	store, err := stores.Open(ctx, dbPath)
	if err != nil {
		return nil, false, err
	}
	defer store.Close()

	snap := &stores.Snapshot{
		RunID:    a.runID,
		Kind:     res.Kind,
		Sources:  res.Sources,
		Document: doc,
	}
	dedup, err := store.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, false, err
	}
	a.tel.Metrics.RecordSnapshot(res.Kind, dedup)

	if result != nil {
		findings := make([]stores.PolicyFinding, 0, len(result.Violations)+len(result.Warnings))
		for _, v := range result.All() {
			findings = append(findings, stores.PolicyFinding{
				Policy:   v.Policy,
				Severity: string(v.Severity),
				Path:     v.Path,
				Message:  v.Message,
			})
		}
		if err := store.RecordFindings(ctx, snap.ID, findings); err != nil {
			return nil, false, err
		}
	}

	a.tel.Logger.NewComponentLogger("history").WithSnapshotID(snap.ID).
		WithField("deduplicated", dedup).
		Info("Snapshot recorded")

	return snap, dedup, nil
}
