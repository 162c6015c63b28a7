package config

// Group names of the built-in configuration groups.
const (
	GroupRuntime   = "runtime"
	GroupDataset   = "dataset"
	GroupModel     = "model"
	GroupDiffusion = "diffusion"
	GroupTrain     = "train"
	GroupGenerate  = "generate"
)

// RuntimeConfig configures the compute runtime.
type RuntimeConfig struct {
	// TypeConfig is the computation precision descriptor (e.g., "float", "half").
	TypeConfig string `yaml:"type_config" json:"type_config" validate:"required"`

	// DeviceID selects the accelerator device.
	DeviceID string `yaml:"device_id" json:"device_id" validate:"required"`
}

// DatasetConfig describes the training dataset.
//
// The dataset also exposes channel_last, batch_size and image_size. Those are
// aliases of model.channel_last, train.batch_size and model.image_size and are
// only materialized by Resolve.
type DatasetConfig struct {
	// Name is the dataset name (e.g., "imagenet").
	Name string `yaml:"name" json:"name" validate:"required"`

	// DataDir is the directory holding the images.
	DataDir *string `yaml:"data_dir" json:"data_dir"`

	// DatasetRootDir is the root directory for datasets that need one.
	DatasetRootDir *string `yaml:"dataset_root_dir" json:"dataset_root_dir"`

	// OnMemory loads the whole dataset into memory.
	OnMemory bool `yaml:"on_memory" json:"on_memory"`

	// FixAspectRatio keeps the aspect ratio when resizing.
	FixAspectRatio bool `yaml:"fix_aspect_ratio" json:"fix_aspect_ratio"`

	// RandomCrop enables random cropping.
	RandomCrop bool `yaml:"random_crop" json:"random_crop"`

	// ShuffleDataset shuffles samples every epoch.
	ShuffleDataset bool `yaml:"shuffle_dataset" json:"shuffle_dataset"`

	// NumClasses is the number of classes in the dataset.
	NumClasses int `yaml:"num_classes" json:"num_classes" validate:"min=1"`
}

// ModelConfig describes the denoising network.
//
// image_shape, low_res_shape and output_channels are derived from other
// fields, and num_classes aliases dataset.num_classes. None of them can be set.
type ModelConfig struct {
	// InputChannels is the number of image channels.
	InputChannels int `yaml:"input_channels" json:"input_channels" validate:"min=1"`

	// ImageSize is the spatial size of generated images.
	ImageSize []int `yaml:"image_size" json:"image_size" validate:"required,min=1,dive,min=1"`

	// LowResSize is the spatial size of the conditioning image for
	// super-resolution models. Nil for unconditional models.
	LowResSize []int `yaml:"low_res_size,omitempty" json:"low_res_size" validate:"omitempty,dive,min=1"`

	ScaleShiftNorm      bool `yaml:"scale_shift_norm" json:"scale_shift_norm"`
	ResblockResample    bool `yaml:"resblock_resample" json:"resblock_resample"`
	ResblockRescaleSkip bool `yaml:"resblock_rescale_skip" json:"resblock_rescale_skip"`

	// NumResBlocks is the number of residual blocks per resolution.
	NumResBlocks int `yaml:"num_res_blocks" json:"num_res_blocks" validate:"min=1"`

	// ChannelMult is the channel multiplier per resolution level.
	ChannelMult []int `yaml:"channel_mult" json:"channel_mult" validate:"required,min=1,dive,min=1"`

	// BaseChannels is the channel count of the first level.
	BaseChannels int `yaml:"base_channels" json:"base_channels" validate:"min=1"`

	Dropout float64 `yaml:"dropout" json:"dropout" validate:"min=0,max=1"`

	// ClassCond enables class conditioning.
	ClassCond         bool    `yaml:"class_cond" json:"class_cond"`
	ClassCondDropRate float64 `yaml:"class_cond_drop_rate" json:"class_cond_drop_rate" validate:"min=0,max=1"`
	ClassCondEmbType  string  `yaml:"class_cond_emb_type" json:"class_cond_emb_type" validate:"required"`

	// ChannelLast places the channel dimension after the spatial dimensions.
	ChannelLast bool `yaml:"channel_last" json:"channel_last"`

	ConvResample bool `yaml:"conv_resample" json:"conv_resample"`

	// AttentionResolutions are the downsampling rates that get attention blocks.
	AttentionResolutions []int `yaml:"attention_resolutions" json:"attention_resolutions" validate:"dive,min=1"`

	// NumAttentionHeadChannels takes priority over NumAttentionHeads when both are set.
	NumAttentionHeadChannels *int `yaml:"num_attention_head_channels" json:"num_attention_head_channels" validate:"omitempty,min=1"`
	NumAttentionHeads        *int `yaml:"num_attention_heads" json:"num_attention_heads" validate:"omitempty,min=1"`

	// ModelVarType selects how the model predicts variance.
	ModelVarType string `yaml:"model_var_type" json:"model_var_type" validate:"required"`
}

// DiffusionConfig describes the diffusion process.
//
// model_var_type aliases model.model_var_type and is only materialized by Resolve.
type DiffusionConfig struct {
	// BetaStrategy is the noise schedule (e.g., "linear", "cosine").
	BetaStrategy string `yaml:"beta_strategy" json:"beta_strategy" validate:"required"`

	// MaxTimesteps is the number of diffusion steps.
	MaxTimesteps int `yaml:"max_timesteps" json:"max_timesteps" validate:"min=1"`

	// TStart is the step sampling starts from. Nil means MaxTimesteps.
	TStart *int `yaml:"t_start" json:"t_start" validate:"omitempty,min=1"`

	// RespacingStep is the stride used to subsample the timestep schedule.
	RespacingStep int `yaml:"respacing_step" json:"respacing_step" validate:"min=1"`
}

// TrainConfig configures the training loop.
type TrainConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size" validate:"required,min=1"`
	Accum     int `yaml:"accum" json:"accum" validate:"required,min=1"`
	NIters    int `yaml:"n_iters" json:"n_iters" validate:"min=1"`

	// dump
	Progress     bool   `yaml:"progress" json:"progress"`
	OutputDir    string `yaml:"output_dir" json:"output_dir" validate:"required"`
	SaveInterval int    `yaml:"save_interval" json:"save_interval" validate:"min=1"`
	ShowInterval int    `yaml:"show_interval" json:"show_interval" validate:"min=1"`
	GenInterval  int    `yaml:"gen_interval" json:"gen_interval" validate:"min=1"`
	DumpGradNorm bool   `yaml:"dump_grad_norm" json:"dump_grad_norm"`

	// Resume continues from the latest checkpoint in OutputDir.
	Resume bool `yaml:"resume" json:"resume"`

	// loss
	LossScaling float64  `yaml:"loss_scaling" json:"loss_scaling" validate:"gt=0"`
	LR          float64  `yaml:"lr" json:"lr" validate:"gt=0"`
	ClipGrad    *float64 `yaml:"clip_grad" json:"clip_grad" validate:"omitempty,gt=0"`
	LRScheduler *string  `yaml:"lr_scheduler" json:"lr_scheduler"`
}

// GenerateConfig configures sampling from a trained model.
type GenerateConfig struct {
	// Config is the path to the saved training config.
	Config string `yaml:"config" json:"config" validate:"required"`

	// H5 is the path to the saved weights.
	H5 string `yaml:"h5" json:"h5" validate:"required"`

	EMA  bool `yaml:"ema" json:"ema"`
	DDIM bool `yaml:"ddim" json:"ddim"`

	// ODESolver selects an ODE solver ("plms" or "dpm2").
	ODESolver *string `yaml:"ode_solver" json:"ode_solver" validate:"omitempty,oneof=plms dpm2"`

	Samples   int `yaml:"samples" json:"samples" validate:"min=1"`
	BatchSize int `yaml:"batch_size" json:"batch_size" validate:"min=1"`

	// refinement
	RespacingStep int  `yaml:"respacing_step" json:"respacing_step" validate:"min=1"`
	TStart        *int `yaml:"t_start" json:"t_start" validate:"omitempty,min=1"`

	// BaseSamplesDir holds low resolution samples for super-resolution.
	BaseSamplesDir *string `yaml:"base_samples_dir" json:"base_samples_dir"`

	// GenClassID is the class to generate for class-conditional models.
	GenClassID *int `yaml:"gen_class_id" json:"gen_class_id" validate:"omitempty,min=0"`

	// XStartPath is the starting image for SDEdit-style editing.
	XStartPath *string `yaml:"x_start_path" json:"x_start_path"`

	OutputDir  string `yaml:"output_dir" json:"output_dir" validate:"required"`
	Tiled      bool   `yaml:"tiled" json:"tiled"`
	SaveXStart bool   `yaml:"save_xstart" json:"save_xstart"`
}

// Section binds a group name to the struct a document section decodes into.
type Section struct {
	Name   string
	Target any
}

// TrainScriptConfig is the configuration of training scripts.
type TrainScriptConfig struct {
	Runtime   RuntimeConfig   `yaml:"runtime" json:"runtime"`
	Dataset   DatasetConfig   `yaml:"dataset" json:"dataset"`
	Model     ModelConfig     `yaml:"model" json:"model"`
	Diffusion DiffusionConfig `yaml:"diffusion" json:"diffusion"`
	Train     TrainConfig     `yaml:"train" json:"train"`
}

// GenScriptConfig is the configuration of generation scripts.
type GenScriptConfig struct {
	Runtime  RuntimeConfig  `yaml:"runtime" json:"runtime"`
	Generate GenerateConfig `yaml:"generate" json:"generate"`
}

// LoadedConfig is the part of a saved training config needed to rebuild the
// model and diffusion process for generation.
type LoadedConfig struct {
	Diffusion DiffusionConfig `yaml:"diffusion" json:"diffusion"`
	Model     ModelConfig     `yaml:"model" json:"model"`

	// numClasses backs model.num_classes; there is no dataset group to alias.
	numClasses int
}

// NewTrainScriptConfig returns a training config holding group defaults.
// Required fields are left unset.
func NewTrainScriptConfig() *TrainScriptConfig {
	return &TrainScriptConfig{
		Runtime:   DefaultRuntimeConfig(),
		Dataset:   DefaultDatasetConfig(),
		Model:     DefaultModelConfig(),
		Diffusion: DefaultDiffusionConfig(),
		Train:     DefaultTrainConfig(),
	}
}

// NewGenScriptConfig returns a generation config holding group defaults.
func NewGenScriptConfig() *GenScriptConfig {
	return &GenScriptConfig{
		Runtime:  DefaultRuntimeConfig(),
		Generate: DefaultGenerateConfig(),
	}
}

// NewLoadedConfig returns the base schema for reloading saved configs.
func NewLoadedConfig() *LoadedConfig {
	return &LoadedConfig{
		Diffusion:  DefaultDiffusionConfig(),
		Model:      DefaultModelConfig(),
		numClasses: DefaultDatasetConfig().NumClasses,
	}
}

// Sections implements Composite.
func (c *TrainScriptConfig) Sections() []Section {
	return []Section{
		{Name: GroupRuntime, Target: &c.Runtime},
		{Name: GroupDataset, Target: &c.Dataset},
		{Name: GroupModel, Target: &c.Model},
		{Name: GroupDiffusion, Target: &c.Diffusion},
		{Name: GroupTrain, Target: &c.Train},
	}
}

// Clone implements Composite.
func (c *TrainScriptConfig) Clone() *TrainScriptConfig {
	return &TrainScriptConfig{
		Runtime:   c.Runtime,
		Dataset:   c.Dataset.Clone(),
		Model:     c.Model.Clone(),
		Diffusion: c.Diffusion.Clone(),
		Train:     c.Train.Clone(),
	}
}

// Sections implements Composite.
func (c *GenScriptConfig) Sections() []Section {
	return []Section{
		{Name: GroupRuntime, Target: &c.Runtime},
		{Name: GroupGenerate, Target: &c.Generate},
	}
}

// Clone implements Composite.
func (c *GenScriptConfig) Clone() *GenScriptConfig {
	return &GenScriptConfig{
		Runtime:  c.Runtime,
		Generate: c.Generate.Clone(),
	}
}

// Sections implements Composite.
func (c *LoadedConfig) Sections() []Section {
	return []Section{
		{Name: GroupDiffusion, Target: &c.Diffusion},
		{Name: GroupModel, Target: &c.Model},
	}
}

// Clone implements Composite.
func (c *LoadedConfig) Clone() *LoadedConfig {
	return &LoadedConfig{
		Diffusion:  c.Diffusion.Clone(),
		Model:      c.Model.Clone(),
		numClasses: c.numClasses,
	}
}

// NumClasses returns the class count model.num_classes resolves to.
func (c *LoadedConfig) NumClasses() int {
	return c.numClasses
}

// Clone returns a deep copy.
func (d DatasetConfig) Clone() DatasetConfig {
	d.DataDir = clonePtr(d.DataDir)
	d.DatasetRootDir = clonePtr(d.DatasetRootDir)
	return d
}

// Clone returns a deep copy.
func (m ModelConfig) Clone() ModelConfig {
	m.ImageSize = cloneInts(m.ImageSize)
	m.LowResSize = cloneInts(m.LowResSize)
	m.ChannelMult = cloneInts(m.ChannelMult)
	m.AttentionResolutions = cloneInts(m.AttentionResolutions)
	m.NumAttentionHeadChannels = clonePtr(m.NumAttentionHeadChannels)
	m.NumAttentionHeads = clonePtr(m.NumAttentionHeads)
	return m
}

// Clone returns a deep copy.
func (d DiffusionConfig) Clone() DiffusionConfig {
	d.TStart = clonePtr(d.TStart)
	return d
}

// Clone returns a deep copy.
func (t TrainConfig) Clone() TrainConfig {
	t.ClipGrad = clonePtr(t.ClipGrad)
	t.LRScheduler = clonePtr(t.LRScheduler)
	return t
}

// Clone returns a deep copy.
func (g GenerateConfig) Clone() GenerateConfig {
	g.ODESolver = clonePtr(g.ODESolver)
	g.TStart = clonePtr(g.TStart)
	g.BaseSamplesDir = clonePtr(g.BaseSamplesDir)
	g.GenClassID = clonePtr(g.GenClassID)
	g.XStartPath = clonePtr(g.XStartPath)
	return g
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInts(s []int) []int {
	if s == nil {
		return nil
	}
	out := make([]int, len(s))
	copy(out, s)
	return out
}

// ptr returns a pointer to v.
func ptr[T any](v T) *T {
	return &v
}
