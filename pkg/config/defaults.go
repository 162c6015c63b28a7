package config

// DefaultRuntimeConfig returns the runtime group defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		TypeConfig: "half",
		DeviceID:   "0",
	}
}

// DefaultDatasetConfig returns the dataset group defaults. Name is required
// and left empty.
func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		FixAspectRatio: true,
		ShuffleDataset: true,
		NumClasses:     1,
	}
}

// DefaultModelConfig returns the model group defaults. ImageSize and
// ChannelMult are required and left nil.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputChannels:            3,
		ScaleShiftNorm:           true,
		NumResBlocks:             3,
		BaseChannels:             128,
		ClassCondEmbType:         "simple",
		ChannelLast:              true,
		ConvResample:             true,
		AttentionResolutions:     []int{8, 16, 32},
		NumAttentionHeadChannels: ptr(64),
		ModelVarType:             ModelVarLearnedRange,
	}
}

// DefaultDiffusionConfig returns the diffusion group defaults.
func DefaultDiffusionConfig() DiffusionConfig {
	return DiffusionConfig{
		BetaStrategy:  "linear",
		MaxTimesteps:  1000,
		RespacingStep: 1,
	}
}

// DefaultTrainConfig returns the train group defaults. BatchSize and Accum
// are required and left zero.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		NIters:       2500000,
		OutputDir:    "./logdir",
		SaveInterval: 10000,
		ShowInterval: 10,
		GenInterval:  20000,
		Resume:       true,
		LossScaling:  1.0,
		LR:           1e-4,
	}
}

// DefaultGenerateConfig returns the generate group defaults. Config and H5
// are required and left empty.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		EMA:           true,
		Samples:       1024,
		BatchSize:     32,
		RespacingStep: 4,
		OutputDir:     "./outs",
		Tiled:         true,
	}
}
