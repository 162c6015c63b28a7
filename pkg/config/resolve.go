package config

// Derived and aliased values are never stored. The accessors below compute
// them from the current field values on every call, and the Resolve methods
// build snapshots from those accessors.

// ImageShape returns the input shape derived from ImageSize, InputChannels
// and ChannelLast.
func (m *ModelConfig) ImageShape() []int {
	return GetImageShape(m.ImageSize, m.InputChannels, m.ChannelLast)
}

// LowResShape returns the conditioning image shape, or nil when LowResSize is unset.
func (m *ModelConfig) LowResShape() []int {
	return GetImageShape(m.LowResSize, m.InputChannels, m.ChannelLast)
}

// OutputChannels returns the channel count derived from InputChannels and ModelVarType.
func (m *ModelConfig) OutputChannels() int {
	return GetOutputChannels(m.InputChannels, m.ModelVarType)
}

// AttentionHeads returns the head count and per-head channels for an
// attention block over the given number of channels.
// NumAttentionHeadChannels wins over NumAttentionHeads when both are set.
func (m *ModelConfig) AttentionHeads(channels int) (heads, headChannels int) {
	if m.NumAttentionHeadChannels != nil && *m.NumAttentionHeadChannels > 0 {
		headChannels = *m.NumAttentionHeadChannels
		return max(channels/headChannels, 1), headChannels
	}
	if m.NumAttentionHeads != nil && *m.NumAttentionHeads > 0 {
		heads = *m.NumAttentionHeads
		return heads, channels / heads
	}
	return 1, channels
}

// StartStep returns TStart, falling back to MaxTimesteps when it is unset.
func (d *DiffusionConfig) StartStep() int {
	if d.TStart != nil {
		return *d.TStart
	}
	return d.MaxTimesteps
}

// ResolvedDataset is a dataset group with its aliases materialized.
type ResolvedDataset struct {
	DatasetConfig `yaml:",inline"`

	ChannelLast bool  `yaml:"channel_last" json:"channel_last"`
	BatchSize   int   `yaml:"batch_size" json:"batch_size"`
	ImageSize   []int `yaml:"image_size" json:"image_size"`
}

// ResolvedModel is a model group with its derived fields and aliases materialized.
type ResolvedModel struct {
	ModelConfig `yaml:",inline"`

	ImageShape     []int `yaml:"image_shape" json:"image_shape"`
	LowResShape    []int `yaml:"low_res_shape" json:"low_res_shape"`
	OutputChannels int   `yaml:"output_channels" json:"output_channels"`
	NumClasses     int   `yaml:"num_classes" json:"num_classes"`
}

// ResolvedDiffusion is a diffusion group with t_start and model_var_type materialized.
type ResolvedDiffusion struct {
	BetaStrategy  string `yaml:"beta_strategy" json:"beta_strategy"`
	MaxTimesteps  int    `yaml:"max_timesteps" json:"max_timesteps"`
	TStart        int    `yaml:"t_start" json:"t_start"`
	RespacingStep int    `yaml:"respacing_step" json:"respacing_step"`
	ModelVarType  string `yaml:"model_var_type" json:"model_var_type"`
}

// ResolvedTrainConfig is a point-in-time view of a TrainScriptConfig.
type ResolvedTrainConfig struct {
	Runtime   RuntimeConfig     `yaml:"runtime" json:"runtime"`
	Dataset   ResolvedDataset   `yaml:"dataset" json:"dataset"`
	Model     ResolvedModel     `yaml:"model" json:"model"`
	Diffusion ResolvedDiffusion `yaml:"diffusion" json:"diffusion"`
	Train     TrainConfig       `yaml:"train" json:"train"`
}

// ResolvedGenConfig is a point-in-time view of a GenScriptConfig.
type ResolvedGenConfig struct {
	Runtime  RuntimeConfig  `yaml:"runtime" json:"runtime"`
	Generate GenerateConfig `yaml:"generate" json:"generate"`
}

// ResolvedLoadedConfig is a point-in-time view of a LoadedConfig.
type ResolvedLoadedConfig struct {
	Diffusion ResolvedDiffusion `yaml:"diffusion" json:"diffusion"`
	Model     ResolvedModel     `yaml:"model" json:"model"`
}

// Resolve returns a snapshot in which every derived and aliased field holds
// the value computed from the config's current state.
func (c *TrainScriptConfig) Resolve() ResolvedTrainConfig {
	return ResolvedTrainConfig{
		Runtime: c.Runtime,
		Dataset: ResolvedDataset{
			DatasetConfig: c.Dataset.Clone(),
			ChannelLast:   c.Model.ChannelLast,
			BatchSize:     c.Train.BatchSize,
			ImageSize:     cloneInts(c.Model.ImageSize),
		},
		Model:     resolveModel(&c.Model, c.Dataset.NumClasses),
		Diffusion: resolveDiffusion(&c.Diffusion, &c.Model),
		Train:     c.Train.Clone(),
	}
}

// Resolve returns a snapshot of the generation config.
func (c *GenScriptConfig) Resolve() ResolvedGenConfig {
	return ResolvedGenConfig{
		Runtime:  c.Runtime,
		Generate: c.Generate.Clone(),
	}
}

// Resolve returns a snapshot in which every derived and aliased field holds
// the value computed from the config's current state.
func (c *LoadedConfig) Resolve() ResolvedLoadedConfig {
	return ResolvedLoadedConfig{
		Diffusion: resolveDiffusion(&c.Diffusion, &c.Model),
		Model:     resolveModel(&c.Model, c.numClasses),
	}
}

func resolveModel(m *ModelConfig, numClasses int) ResolvedModel {
	return ResolvedModel{
		ModelConfig:    m.Clone(),
		ImageShape:     m.ImageShape(),
		LowResShape:    m.LowResShape(),
		OutputChannels: m.OutputChannels(),
		NumClasses:     numClasses,
	}
}

func resolveDiffusion(d *DiffusionConfig, m *ModelConfig) ResolvedDiffusion {
	return ResolvedDiffusion{
		BetaStrategy:  d.BetaStrategy,
		MaxTimesteps:  d.MaxTimesteps,
		TStart:        d.StartStep(),
		RespacingStep: d.RespacingStep,
		ModelVarType:  m.ModelVarType,
	}
}
