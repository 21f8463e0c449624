package training

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TrainingConfig holds every knob of a pretraining run. Zero values are
// filled from DefaultTrainingConfig; a YAML file overrides the defaults.
type TrainingConfig struct {
	// Data
	ManifestPath  string  `yaml:"manifest_path"`
	DataRoot      string  `yaml:"data_root"`
	TokenizerPath string  `yaml:"tokenizer_path"`
	EvalRatio     float64 `yaml:"eval_ratio"`

	// Optimization
	LearningRate    float64 `yaml:"learning_rate"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
	WeightDecay     float64 `yaml:"weight_decay"`
	GradClip        float64 `yaml:"grad_clip"`
	WarmupIters     int     `yaml:"warmup_iters"`
	LRDecayIters    int     `yaml:"lr_decay_iters"`
	MaxIters        int     `yaml:"max_iters"`
	BatchSize       int     `yaml:"batch_size"`

	// Mixed precision loss scaling
	InitialLossScale float64 `yaml:"initial_loss_scale"`

	// Loop cadence
	LogInterval  int `yaml:"log_interval"`
	EvalInterval int `yaml:"eval_interval"`

	// Evaluation
	EvalIncludePartial bool `yaml:"eval_include_partial"`

	// Data loading
	NumWorkers int `yaml:"num_workers"`

	// Checkpointing
	CheckpointDir    string `yaml:"checkpoint_dir"`
	CheckpointFormat string `yaml:"checkpoint_format"` // "json" or "binary"

	Seed int64 `yaml:"seed"`
}

// DefaultTrainingConfig returns the standard pretraining configuration.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		EvalRatio:          0.1,
		LearningRate:       1e-4,
		MinLearningRate:    1e-6,
		WeightDecay:        0.0,
		GradClip:           100,
		WarmupIters:        2000,
		LRDecayIters:       128000,
		MaxIters:           1000000,
		BatchSize:          128,
		InitialLossScale:   65536,
		LogInterval:        2000,
		EvalInterval:       10000,
		EvalIncludePartial: false,
		NumWorkers:         4,
		CheckpointDir:      "out",
		CheckpointFormat:   "json",
		Seed:               1337,
	}
}

// LoadTrainingConfig overlays a YAML file onto the defaults. An empty path
// returns the defaults unchanged.
func LoadTrainingConfig(path string) (TrainingConfig, error) {
	config := DefaultTrainingConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, config.Validate()
}

// Validate rejects configurations the training loop cannot run with.
func (c TrainingConfig) Validate() error {
	if c.BatchSize < 2 {
		return fmt.Errorf("batch size must be at least 2 for contrastive pairs, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.MinLearningRate < 0 || c.MinLearningRate > c.LearningRate {
		return fmt.Errorf("min learning rate %g must be in [0, %g]", c.MinLearningRate, c.LearningRate)
	}
	if c.WarmupIters < 0 || c.LRDecayIters <= c.WarmupIters {
		return fmt.Errorf("decay iters %d must exceed warmup iters %d", c.LRDecayIters, c.WarmupIters)
	}
	if c.MaxIters < 1 {
		return fmt.Errorf("max iters must be positive, got %d", c.MaxIters)
	}
	if c.LogInterval < 1 {
		return fmt.Errorf("log interval must be positive, got %d", c.LogInterval)
	}
	if c.EvalInterval < 1 {
		return fmt.Errorf("eval interval must be positive, got %d", c.EvalInterval)
	}
	if c.GradClip < 0 {
		return fmt.Errorf("grad clip must be non-negative, got %g", c.GradClip)
	}
	if c.EvalRatio <= 0 || c.EvalRatio >= 1 {
		return fmt.Errorf("eval ratio must be in (0, 1), got %g", c.EvalRatio)
	}
	if c.InitialLossScale < 1 {
		return fmt.Errorf("initial loss scale must be at least 1, got %g", c.InitialLossScale)
	}
	switch c.CheckpointFormat {
	case "json", "binary":
	default:
		return fmt.Errorf("checkpoint format must be json or binary, got %q", c.CheckpointFormat)
	}
	return nil
}
