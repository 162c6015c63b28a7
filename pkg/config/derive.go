package config

// Model variance types understood by the diffusion process.
const (
	ModelVarFixedSmall   = "fixed_small"
	ModelVarFixedLarge   = "fixed_large"
	ModelVarLearned      = "learned"
	ModelVarLearnedRange = "learned_range"
)

// KnownModelVarTypes lists every variance type the diffusion process accepts.
var KnownModelVarTypes = []string{
	ModelVarFixedSmall,
	ModelVarFixedLarge,
	ModelVarLearned,
	ModelVarLearnedRange,
}

// IsLearnSigma reports whether the variance type makes the network predict
// variance parameters in addition to the mean. Unrecognized values are
// treated as fixed variance.
func IsLearnSigma(varType string) bool {
	switch varType {
	case ModelVarLearned, ModelVarLearnedRange:
		return true
	default:
		return false
	}
}

// IsKnownModelVarType reports whether varType is one of KnownModelVarTypes.
func IsKnownModelVarType(varType string) bool {
	for _, known := range KnownModelVarTypes {
		if varType == known {
			return true
		}
	}
	return false
}

// GetOutputChannels returns the number of channels the model outputs.
// Learn-sigma variants output mean and variance, doubling the channel count.
func GetOutputChannels(inputChannels int, varType string) int {
	if IsLearnSigma(varType) {
		return inputChannels * 2
	}
	return inputChannels
}

// GetImageShape returns the input tensor shape for an image size. The channel
// dimension is appended when channelLast is set and prepended otherwise.
// A nil size yields a nil shape.
func GetImageShape(imageSize []int, inputChannels int, channelLast bool) []int {
	if imageSize == nil {
		return nil
	}

	shape := make([]int, 0, len(imageSize)+1)
	if channelLast {
		shape = append(shape, imageSize...)
		return append(shape, inputChannels)
	}

	shape = append(shape, inputChannels)
	return append(shape, imageSize...)
}
