package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetImageShape(t *testing.T) {
	tests := []struct {
		name        string
		size        []int
		channels    int
		channelLast bool
		want        []int
	}{
		{
			name:        "channel last",
			size:        []int{64, 64},
			channels:    3,
			channelLast: true,
			want:        []int{64, 64, 3},
		},
		{
			name:     "channel first",
			size:     []int{64, 64},
			channels: 3,
			want:     []int{3, 64, 64},
		},
		{
			name:        "non square",
			size:        []int{32, 48},
			channels:    1,
			channelLast: true,
			want:        []int{32, 48, 1},
		},
		{
			name:        "nil size",
			size:        nil,
			channels:    3,
			channelLast: true,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetImageShape(tt.size, tt.channels, tt.channelLast)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GetImageShape() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetImageShape_DoesNotAliasInput(t *testing.T) {
	size := []int{16, 16}
	shape := GetImageShape(size, 3, true)
	shape[0] = 99

	if size[0] != 16 {
		t.Errorf("input slice was modified: %v", size)
	}
}

func TestGetOutputChannels(t *testing.T) {
	tests := []struct {
		varType string
		want    int
	}{
		{ModelVarLearnedRange, 6},
		{ModelVarLearned, 6},
		{ModelVarFixedSmall, 3},
		{ModelVarFixedLarge, 3},
		{"something_else", 3},
	}

	for _, tt := range tests {
		t.Run(tt.varType, func(t *testing.T) {
			if got := GetOutputChannels(3, tt.varType); got != tt.want {
				t.Errorf("GetOutputChannels(3, %q) = %d, want %d", tt.varType, got, tt.want)
			}
		})
	}
}

func TestIsKnownModelVarType(t *testing.T) {
	for _, v := range KnownModelVarTypes {
		if !IsKnownModelVarType(v) {
			t.Errorf("expected %q to be known", v)
		}
	}
	if IsKnownModelVarType("learnt") {
		t.Error("expected typo to be unknown")
	}
}

func TestModelConfig_AttentionHeads(t *testing.T) {
	tests := []struct {
		name             string
		headChannels     *int
		heads            *int
		channels         int
		wantHeads        int
		wantHeadChannels int
	}{
		{
			name:             "head channels",
			headChannels:     ptr(64),
			channels:         256,
			wantHeads:        4,
			wantHeadChannels: 64,
		},
		{
			name:             "head count",
			heads:            ptr(8),
			channels:         256,
			wantHeads:        8,
			wantHeadChannels: 32,
		},
		{
			name:             "head channels win over head count",
			headChannels:     ptr(64),
			heads:            ptr(8),
			channels:         256,
			wantHeads:        4,
			wantHeadChannels: 64,
		},
		{
			name:             "neither set",
			channels:         128,
			wantHeads:        1,
			wantHeadChannels: 128,
		},
		{
			name:             "head channels wider than block",
			headChannels:     ptr(64),
			channels:         32,
			wantHeads:        1,
			wantHeadChannels: 64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ModelConfig{
				NumAttentionHeadChannels: tt.headChannels,
				NumAttentionHeads:        tt.heads,
			}
			heads, headChannels := m.AttentionHeads(tt.channels)
			if heads != tt.wantHeads || headChannels != tt.wantHeadChannels {
				t.Errorf("AttentionHeads(%d) = (%d, %d), want (%d, %d)",
					tt.channels, heads, headChannels, tt.wantHeads, tt.wantHeadChannels)
			}
		})
	}
}

func TestDiffusionConfig_StartStep(t *testing.T) {
	d := DefaultDiffusionConfig()
	if got := d.StartStep(); got != 1000 {
		t.Errorf("StartStep() = %d, want max_timesteps 1000", got)
	}

	d.TStart = ptr(250)
	if got := d.StartStep(); got != 250 {
		t.Errorf("StartStep() = %d, want 250", got)
	}
}

func TestTrainScriptConfig_ResolveTracksCurrentValues(t *testing.T) {
	cfg := validTrainConfig(t)

	first := cfg.Resolve()
	if diff := cmp.Diff([]int{64, 64, 3}, first.Model.ImageShape); diff != "" {
		t.Fatalf("image_shape mismatch (-want +got):\n%s", diff)
	}

	cfg.Model.ChannelLast = false
	cfg.Model.ModelVarType = ModelVarFixedSmall
	cfg.Train.BatchSize = 16

	second := cfg.Resolve()
	if diff := cmp.Diff([]int{3, 64, 64}, second.Model.ImageShape); diff != "" {
		t.Errorf("image_shape after channel_last change (-want +got):\n%s", diff)
	}
	if second.Model.OutputChannels != 3 {
		t.Errorf("output_channels = %d, want 3", second.Model.OutputChannels)
	}
	if second.Diffusion.ModelVarType != ModelVarFixedSmall {
		t.Errorf("diffusion.model_var_type = %q, want %q", second.Diffusion.ModelVarType, ModelVarFixedSmall)
	}
	if second.Dataset.ChannelLast {
		t.Error("dataset.channel_last should follow model.channel_last")
	}
	if second.Dataset.BatchSize != 16 {
		t.Errorf("dataset.batch_size = %d, want 16", second.Dataset.BatchSize)
	}

	// The earlier snapshot is unaffected.
	if diff := cmp.Diff([]int{64, 64, 3}, first.Model.ImageShape); diff != "" {
		t.Errorf("earlier snapshot changed (-want +got):\n%s", diff)
	}
}

func TestTrainScriptConfig_ResolveLowResShape(t *testing.T) {
	cfg := validTrainConfig(t)

	if got := cfg.Resolve().Model.LowResShape; got != nil {
		t.Errorf("low_res_shape = %v, want nil", got)
	}

	cfg.Model.LowResSize = []int{16, 16}
	want := []int{16, 16, 3}
	if diff := cmp.Diff(want, cfg.Resolve().Model.LowResShape); diff != "" {
		t.Errorf("low_res_shape mismatch (-want +got):\n%s", diff)
	}
}
