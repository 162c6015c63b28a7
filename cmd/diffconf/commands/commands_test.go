package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/diffconf/pkg/config"
)

const trainYAML = `dataset:
  name: imagenet
model:
  image_size: [64, 64]
  channel_mult: [1, 2, 3, 4]
train:
  batch_size: 8
  accum: 2
`

// testEnv is a scratch directory with a settings file pointing the history
// database into it.
type testEnv struct {
	dir      string
	settings string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, settings: filepath.Join(dir, "diffconf.yaml")}
	env.write(t, "diffconf.yaml", `telemetry:
  logging:
    level: error
history:
  path: `+filepath.Join(dir, "history.db")+`
`)
	return env
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// run executes the root command with args and returns what it wrote to
// stdout and stderr.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand("test", "none", "unknown")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.settings}, args...))

	err := execute(context.Background(), root)
	return stdout.String(), stderr.String(), err
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{
			name:    "valid",
			args:    []string{"validate", train},
			wantOut: "ok: train config is valid",
		},
		{
			name:     "policy denies",
			args:     []string{"validate", train, "--set", "diffusion.t_start=2000"},
			wantCode: exitDenied,
			wantOut:  "[respacing] diffusion.t_start:",
		},
		{
			name:    "accum need not divide batch size",
			args:    []string{"validate", train, "--set", "train.batch_size=8", "--set", "train.accum=3"},
			wantOut: "ok: train config is valid",
		},
		{
			name:    "policy skipped",
			args:    []string{"validate", train, "--set", "diffusion.t_start=2000", "--no-policy"},
			wantOut: "ok: train config is valid",
		},
		{
			name:     "missing required",
			args:     []string{"validate"},
			wantCode: exitError,
			wantOut:  "invalid: [missing_required]",
		},
		{
			name:     "file not found",
			args:     []string{"validate", filepath.Join(env.dir, "nope.yaml")},
			wantCode: exitError,
			wantOut:  "invalid: [not_found]",
		},
		{
			name:     "unknown field",
			args:     []string{"validate", train, "--set", "model.depth=3"},
			wantCode: exitError,
			wantOut:  "invalid: [validation]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := env.run(t, tt.args...)
			if got := ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err=%v)", got, tt.wantCode, err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("output %q does not contain %q", out, tt.wantOut)
			}
		})
	}
}

func TestSettingsLogLevel(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)
	logFile := filepath.Join(env.dir, "diffconf.log")
	env.write(t, "diffconf.yaml", `telemetry:
  logging:
    level: info
    format: json
    output: `+logFile+`
history:
  path: `+filepath.Join(env.dir, "history.db")+`
`)

	if _, _, err := env.run(t, "validate", train); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	data, _ := os.ReadFile(logFile)
	if strings.Contains(string(data), "Command initialized") {
		t.Errorf("debug line logged at info level:\n%s", data)
	}

	if _, _, err := env.run(t, "--verbose", "validate", train); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	for _, want := range []string{`"message":"Command initialized"`, `"run_id":`, `"settings":`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log missing %s:\n%s", want, data)
		}
	}
}

func TestValidate_JSONReport(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)

	out, _, err := env.run(t, "--json", "validate", train, "--set", "diffusion.t_start=2000")
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}

	var rep struct {
		Kind   string `json:"kind"`
		Valid  bool   `json:"valid"`
		Policy struct {
			Allowed    bool `json:"allowed"`
			Violations []struct {
				Policy string `json:"policy"`
				Path   string `json:"path"`
			} `json:"violations"`
		} `json:"policy"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if rep.Kind != "train" || rep.Valid || rep.Policy.Allowed {
		t.Errorf("unexpected report: %+v", rep)
	}
	if len(rep.Policy.Violations) != 1 || rep.Policy.Violations[0].Policy != "respacing" {
		t.Errorf("violations = %+v, want one respacing violation", rep.Policy.Violations)
	}
}

func TestValidate_UserPolicy(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)
	policy := env.write(t, "no_resume.json", `{
  "name": "no-resume",
  "severity": "critical",
  "enabled": true,
  "rego": "package diffconf.custom\n\ndeny[msg] {\n  input.config.train.resume\n  msg := \"resume must be off\"\n}\n"
}`)

	out, _, err := env.run(t, "validate", train, "--policy", policy)
	if ExitCode(err) != exitDenied {
		t.Fatalf("expected denial, got %v", err)
	}
	if !strings.Contains(out, "[no-resume]") {
		t.Errorf("output %q does not mention no-resume", out)
	}

	if _, _, err := env.run(t, "validate", train, "--policy", policy, "--set", "train.resume=false"); err != nil {
		t.Errorf("expected policy to pass with resume off, got %v", err)
	}
}

func TestResolve_JSON(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)

	out, _, err := env.run(t, "--json", "resolve", train, "--set", "dataset.num_classes=10")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var resolved struct {
		Dataset struct {
			BatchSize int   `json:"batch_size"`
			ImageSize []int `json:"image_size"`
		} `json:"dataset"`
		Model struct {
			ImageShape     []int `json:"image_shape"`
			OutputChannels int   `json:"output_channels"`
			NumClasses     int   `json:"num_classes"`
		} `json:"model"`
		Diffusion struct {
			TStart       int    `json:"t_start"`
			ModelVarType string `json:"model_var_type"`
		} `json:"diffusion"`
	}
	if err := json.Unmarshal([]byte(out), &resolved); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}

	if resolved.Dataset.BatchSize != 8 {
		t.Errorf("dataset.batch_size = %d, want 8", resolved.Dataset.BatchSize)
	}
	if diff := cmp.Diff([]int{64, 64}, resolved.Dataset.ImageSize); diff != "" {
		t.Errorf("dataset.image_size mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{64, 64, 3}, resolved.Model.ImageShape); diff != "" {
		t.Errorf("model.image_shape mismatch (-want +got):\n%s", diff)
	}
	if resolved.Model.OutputChannels != 6 {
		t.Errorf("model.output_channels = %d, want 6", resolved.Model.OutputChannels)
	}
	if resolved.Model.NumClasses != 10 {
		t.Errorf("model.num_classes = %d, want 10", resolved.Model.NumClasses)
	}
	if resolved.Diffusion.TStart != 1000 || resolved.Diffusion.ModelVarType != config.ModelVarLearnedRange {
		t.Errorf("diffusion = %+v", resolved.Diffusion)
	}
}

func TestResolve_DeniedWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)
	saved := filepath.Join(env.dir, "out", "config.yaml")

	out, stderr, err := env.run(t, "resolve", train, "--set", "diffusion.t_start=2000", "-o", saved, "--record")
	if ExitCode(err) != exitDenied {
		t.Fatalf("expected denial, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no config on stdout, got %q", out)
	}
	if !strings.Contains(stderr, "respacing") {
		t.Errorf("stderr %q does not mention the violation", stderr)
	}
	if _, err := os.Stat(saved); !os.IsNotExist(err) {
		t.Errorf("expected %s not to be written, stat err = %v", saved, err)
	}
}

func TestResolveLoadHistory(t *testing.T) {
	env := newTestEnv(t)
	train := env.write(t, "train.yaml", trainYAML)
	saved := filepath.Join(env.dir, "run", "config.yaml")

	if _, _, err := env.run(t, "resolve", train, "-o", saved, "--record"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// The same config again is deduplicated.
	_, stderr, err := env.run(t, "resolve", train, "--record")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(stderr, "already recorded") {
		t.Errorf("stderr %q does not report deduplication", stderr)
	}

	out, _, err := env.run(t, "load", saved, "--record")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(out, "output_channels: 6") {
		t.Errorf("load output missing derived field:\n%s", out)
	}
	if strings.Contains(out, "train:") {
		t.Errorf("load output should only hold model and diffusion:\n%s", out)
	}

	out, _, err = env.run(t, "--json", "history", "list")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	var snaps []struct {
		ID      string   `json:"id"`
		Kind    string   `json:"kind"`
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal([]byte(out), &snaps); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	kinds := []string{}
	for _, s := range snaps {
		kinds = append(kinds, s.Kind)
	}
	if diff := cmp.Diff([]string{"loaded", "train"}, kinds); diff != "" {
		t.Fatalf("snapshot kinds mismatch (-want +got):\n%s", diff)
	}

	out, _, err = env.run(t, "history", "show", snaps[1].ID[:8])
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	if !strings.Contains(out, "# kind:    train") || !strings.Contains(out, "batch_size: 8") {
		t.Errorf("unexpected history show output:\n%s", out)
	}

	if _, _, err := env.run(t, "history", "delete", snaps[1].ID); err != nil {
		t.Fatalf("history delete failed: %v", err)
	}
	out, _, err = env.run(t, "--json", "history", "list", "--kind", "train")
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected no train snapshots after delete, got %s", out)
	}
}

func TestLoad_MissingSection(t *testing.T) {
	env := newTestEnv(t)
	saved := env.write(t, "saved.yaml", "model:\n  image_size: [64, 64]\n  channel_mult: [1, 2]\n")

	_, _, err := env.run(t, "load", saved)
	if !config.IsStructural(err) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if ExitCode(err) != exitError {
		t.Errorf("exit code = %d, want %d", ExitCode(err), exitError)
	}
}

func TestSchemas(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := env.run(t, "schemas")
	if err != nil {
		t.Fatalf("schemas failed: %v", err)
	}
	for _, group := range []string{"runtime", "dataset", "model", "diffusion", "train", "generate"} {
		if !strings.Contains(out, group) {
			t.Errorf("schemas output does not list %s:\n%s", group, out)
		}
	}

	out, _, err = env.run(t, "schemas", "model")
	if err != nil {
		t.Fatalf("schemas model failed: %v", err)
	}
	if !strings.Contains(out, "#Model") || !strings.Contains(out, "output_channels = ") {
		t.Errorf("unexpected schemas model output:\n%s", out)
	}

	if _, _, err := env.run(t, "schemas", "optimizer"); err == nil {
		t.Error("expected error for unknown group")
	}
}

func TestPolicyList(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "diffconf.yaml", `telemetry:
  logging:
    level: error
policies:
  disabled: [ode-solver]
`)

	out, _, err := env.run(t, "--json", "policy", "list")
	if err != nil {
		t.Fatalf("policy list failed: %v", err)
	}

	var policies []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal([]byte(out), &policies); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}

	enabled := map[string]bool{}
	for _, p := range policies {
		enabled[p.Name] = p.Enabled
	}
	want := map[string]bool{
		"attention-heads":    true,
		"class-conditioning": true,
		"ode-solver":         false,
		"respacing":          true,
	}
	if diff := cmp.Diff(want, enabled); diff != "" {
		t.Errorf("policies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Telemetry.ServiceName != "diffconf" || s.History.Path == "" {
		t.Errorf("unexpected defaults: %+v", s)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("telemetry:\n  metrics:\n    textfile_path: /tmp/m.prom\nstarlark_timeout: 5s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Telemetry.Metrics.TextfilePath != "/tmp/m.prom" || s.StarlarkTimeout.String() != "5s" {
		t.Errorf("settings not applied: %+v", s)
	}
	if s.Telemetry.Logging.Level != "info" {
		t.Errorf("unset fields lost their defaults: %+v", s.Telemetry.Logging)
	}

	if err := os.WriteFile(path, []byte("histroy:\n  path: x.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{name: "denied", err: ErrPolicyDenied, want: exitDenied},
		{name: "wrapped denied", err: errors.Join(errors.New("x"), ErrPolicyDenied), want: exitDenied},
		{name: "config error", err: config.NewMissingRequiredError("train.batch_size"), want: exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
