package model

// IgnoreIndex is the sentinel target id excluded from the generative loss.
const IgnoreIndex int32 = -1

// ImageConfig describes the vision backbone.
type ImageConfig struct {
	ImageSize int
	PatchSize int
	Channels  int
	Dim       int
	Layers    int
	Heads     int
	Dropout   float32
}

// DefaultImageConfig returns the vision backbone defaults.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		ImageSize: 256,
		PatchSize: 32,
		Channels:  3,
		Dim:       128,
		Layers:    4,
		Heads:     4,
		Dropout:   0.1,
	}
}

// NumPatches returns the sequence length the patch grid produces.
func (c ImageConfig) NumPatches() int {
	side := c.ImageSize / c.PatchSize
	return side * side
}

// TextConfig describes the text backbone.
type TextConfig struct {
	VocabSize int
	SeqLen    int
	Dim       int
	Layers    int
	Heads     int
	Dropout   float32
	// Causal selects autoregressive attention. Fusion pretraining runs the
	// backbone bidirectionally; this is a switch, not a separate model.
	Causal bool
}

// DefaultTextConfig returns the text backbone defaults.
func DefaultTextConfig() TextConfig {
	return TextConfig{
		VocabSize: 4096,
		SeqLen:    64,
		Dim:       128,
		Layers:    4,
		Heads:     4,
		Dropout:   0.1,
		Causal:    false,
	}
}

// Config combines both backbones with the shared embedding space and the
// multimodal fusion stack.
type Config struct {
	Image ImageConfig
	Text  TextConfig
	// EmbedDim is the shared contrastive embedding width D.
	EmbedDim int
	// FusionLayers is the depth of the multimodal encoder.
	FusionLayers int
	// Seed fixes parameter initialization for reproducible runs.
	Seed int64
}

// DefaultConfig returns a complete model configuration.
func DefaultConfig() Config {
	return Config{
		Image:        DefaultImageConfig(),
		Text:         DefaultTextConfig(),
		EmbedDim:     64,
		FusionLayers: 2,
		Seed:         1337,
	}
}
