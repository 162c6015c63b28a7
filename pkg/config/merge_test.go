package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const validTrainYAML = `
dataset:
  name: imagenet
model:
  image_size: [64, 64]
  channel_mult: [1, 2, 3, 4]
train:
  batch_size: 8
  accum: 2
`

func mustParseYAML(t *testing.T, src string) Document {
	t.Helper()
	doc, err := ParseYAMLDocument([]byte(src))
	if err != nil {
		t.Fatalf("failed to parse document: %v", err)
	}
	return doc
}

func validTrainConfig(t *testing.T) *TrainScriptConfig {
	t.Helper()
	cfg, err := Merge(NewSchemaRegistry(), NewTrainScriptConfig(), mustParseYAML(t, validTrainYAML))
	if err != nil {
		t.Fatalf("failed to merge valid config: %v", err)
	}
	return cfg
}

func TestMerge_Valid(t *testing.T) {
	cfg := validTrainConfig(t)

	if cfg.Dataset.Name != "imagenet" {
		t.Errorf("dataset.name = %q, want imagenet", cfg.Dataset.Name)
	}
	if cfg.Train.BatchSize != 8 || cfg.Train.Accum != 2 {
		t.Errorf("train = %d/%d, want 8/2", cfg.Train.BatchSize, cfg.Train.Accum)
	}

	// Untouched fields keep their defaults.
	if cfg.Model.BaseChannels != 128 {
		t.Errorf("model.base_channels = %d, want default 128", cfg.Model.BaseChannels)
	}
	if cfg.Runtime.TypeConfig != "half" {
		t.Errorf("runtime.type_config = %q, want default half", cfg.Runtime.TypeConfig)
	}
	if cfg.Diffusion.TStart != nil {
		t.Errorf("diffusion.t_start = %v, want nil", *cfg.Diffusion.TStart)
	}

	resolved := cfg.Resolve()
	if diff := cmp.Diff([]int{64, 64, 3}, resolved.Model.ImageShape); diff != "" {
		t.Errorf("image_shape mismatch (-want +got):\n%s", diff)
	}
	if resolved.Model.OutputChannels != 6 {
		t.Errorf("output_channels = %d, want 6", resolved.Model.OutputChannels)
	}
	if resolved.Diffusion.TStart != 1000 {
		t.Errorf("resolved t_start = %d, want 1000", resolved.Diffusion.TStart)
	}
	if resolved.Model.NumClasses != 1 {
		t.Errorf("model.num_classes = %d, want 1", resolved.Model.NumClasses)
	}
}

func TestMerge_DoesNotModifyBase(t *testing.T) {
	base := NewTrainScriptConfig()
	before := base.Clone()

	doc := mustParseYAML(t, validTrainYAML)
	doc["model"].(map[string]any)["num_attention_head_channels"] = 32

	if _, err := Merge(NewSchemaRegistry(), base, doc); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if diff := cmp.Diff(before, base); diff != "" {
		t.Errorf("base was modified (-before +after):\n%s", diff)
	}
}

func TestMerge_MissingRequired(t *testing.T) {
	doc := mustParseYAML(t, `
dataset:
  name: imagenet
model:
  image_size: [64, 64]
  channel_mult: [1, 2]
train:
  accum: 1
`)

	_, err := Merge(NewSchemaRegistry(), NewTrainScriptConfig(), doc)
	if err == nil {
		t.Fatal("expected error for missing train.batch_size")
	}
	if !IsMissingRequired(err) {
		t.Fatalf("expected missing-required error, got %v", err)
	}
	if !errors.Is(err, &Error{Kind: KindMissingRequired, Path: "train.batch_size"}) {
		t.Errorf("expected error for train.batch_size, got %v", err)
	}
	if errors.Is(err, &Error{Kind: KindMissingRequired, Path: "train.accum"}) {
		t.Errorf("train.accum is set and should not be reported: %v", err)
	}
}

func TestMerge_EmptyDocumentReportsAllRequired(t *testing.T) {
	_, err := Merge(NewSchemaRegistry(), NewTrainScriptConfig(), Document{})
	if err == nil {
		t.Fatal("expected error for defaults alone")
	}

	for _, path := range []string{
		"dataset.name",
		"model.image_size",
		"model.channel_mult",
		"train.batch_size",
		"train.accum",
	} {
		if !errors.Is(err, &Error{Kind: KindMissingRequired, Path: path}) {
			t.Errorf("expected missing %s in %v", path, err)
		}
	}
}

func TestMerge_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{
			name: "unknown field",
			doc: `
train:
  batch_sizee: 8
`,
			wantPath: "train.batch_sizee",
		},
		{
			name: "unknown section",
			doc: `
trainer:
  batch_size: 8
`,
			wantPath: "trainer",
		},
		{
			name: "wrong type",
			doc: `
train:
  batch_size: eight
`,
			wantPath: "batch_size",
		},
		{
			name: "derived field",
			doc: `
model:
  image_shape: [64, 64, 3]
`,
			wantPath: "model.image_shape",
		},
		{
			name: "aliased field",
			doc: `
dataset:
  batch_size: 4
`,
			wantPath: "dataset.batch_size",
		},
		{
			name: "section is not a mapping",
			doc: `
model: [1, 2]
`,
			wantPath: "model",
		},
		{
			name: "constraint",
			doc: validTrainYAML + `
diffusion:
  respacing_step: 0
`,
			wantPath: "diffusion.respacing_step",
		},
		{
			name: "type mismatch in second section",
			doc: validTrainYAML + `
runtime:
  device_id: 1
`,
			wantPath: "device_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(NewSchemaRegistry(), NewTrainScriptConfig(), mustParseYAML(t, tt.doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantPath) {
				t.Errorf("error %q does not mention %s", err, tt.wantPath)
			}
		})
	}
}

func TestMerge_GenScriptConfig(t *testing.T) {
	reg := NewSchemaRegistry()

	cfg, err := Merge(reg, NewGenScriptConfig(), mustParseYAML(t, `
generate:
  config: ./logdir/config.yaml
  h5: ./logdir/model.h5
  ode_solver: dpm2
`))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if cfg.Generate.ODESolver == nil || *cfg.Generate.ODESolver != "dpm2" {
		t.Errorf("ode_solver = %v, want dpm2", cfg.Generate.ODESolver)
	}
	if cfg.Generate.RespacingStep != 4 {
		t.Errorf("respacing_step = %d, want default 4", cfg.Generate.RespacingStep)
	}

	_, err = Merge(reg, NewGenScriptConfig(), mustParseYAML(t, `
generate:
  config: a.yaml
  h5: b.h5
  ode_solver: euler
`))
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown solver, got %v", err)
	}

	_, err = Merge(reg, NewGenScriptConfig(), mustParseYAML(t, `
model:
  image_size: [64, 64]
`))
	if !IsValidation(err) {
		t.Errorf("expected validation error for section outside the composite, got %v", err)
	}
}

func TestMerge_NullClearsOptional(t *testing.T) {
	reg := NewSchemaRegistry()
	base := validTrainConfig(t)

	cfg, err := Merge(reg, base, Document{"model": map[string]any{"num_attention_head_channels": nil}})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if cfg.Model.NumAttentionHeadChannels != nil {
		t.Errorf("num_attention_head_channels = %d, want nil", *cfg.Model.NumAttentionHeadChannels)
	}
	if base.Model.NumAttentionHeadChannels == nil {
		t.Error("base lost its num_attention_head_channels")
	}
}

func TestMergeDocuments_Precedence(t *testing.T) {
	first := mustParseYAML(t, `
model:
  image_size: [32, 32]
  channel_mult: [1, 2]
train:
  batch_size: 4
`)
	second := mustParseYAML(t, `
model:
  image_size: [64, 64]
train:
  accum: 2
`)

	got := MergeDocuments(first, second)
	want := Document{
		"model": map[string]any{
			"image_size":   []any{64, 64},
			"channel_mult": []any{1, 2},
		},
		"train": map[string]any{
			"batch_size": 4,
			"accum":      2,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeDocuments() mismatch (-want +got):\n%s", diff)
	}

	// Inputs are not modified.
	if len(first["train"].(map[string]any)) != 1 {
		t.Errorf("first document was modified: %v", first)
	}
}

func TestParseOverrides(t *testing.T) {
	got, err := ParseOverrides([]string{
		"train.batch_size=16",
		"model.image_size=[128, 128]",
		"model.channel_last=false",
		"train.clip_grad=null",
		"dataset.name=lsun",
	})
	if err != nil {
		t.Fatalf("ParseOverrides failed: %v", err)
	}

	want := Document{
		"train": map[string]any{
			"batch_size": 16,
			"clip_grad":  nil,
		},
		"model": map[string]any{
			"image_size":   []any{128, 128},
			"channel_last": false,
		},
		"dataset": map[string]any{
			"name": "lsun",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseOverrides() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOverrides_Invalid(t *testing.T) {
	for _, arg := range []string{"train.batch_size", "=3", "train..accum=1", "model.image_size=[1,"} {
		t.Run(arg, func(t *testing.T) {
			if _, err := ParseOverrides([]string{arg}); !IsValidation(err) {
				t.Errorf("expected validation error for %q, got %v", arg, err)
			}
		})
	}
}
