package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/RobinDong/try-multimodal/optimizer"
	"github.com/RobinDong/try-multimodal/tensor"
)

// CheckpointFormat defines the serialization format.
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension for the format.
func (cf CheckpointFormat) Extension() string {
	if cf == FormatBinary {
		return "bin"
	}
	return "json"
}

// Checkpoint represents a complete model state including weights, optimizer
// state, and training metadata.
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	OptimizerState *optimizer.State `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data. Restore is
// order-based: names exist for inspection, matching is positional.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the current training progress.
type TrainingState struct {
	Iteration    int     `json:"iteration"`
	LearningRate float32 `json:"learning_rate"`
	EvalAccuracy float64 `json:"eval_accuracy"`
	BestAccuracy float64 `json:"best_accuracy"`
	LossScale    float32 `json:"loss_scale"`
}

// CheckpointMetadata contains checkpoint metadata.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// NewMetadata returns metadata for a fresh checkpoint with a unique run id.
func NewMetadata(description string) CheckpointMetadata {
	return CheckpointMetadata{
		Version:     "1.0",
		Framework:   "try-multimodal",
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}
}

// CaptureWeights snapshots parameter tensors in their given order.
func CaptureWeights(params []*tensor.Tensor) []WeightTensor {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%03d", i),
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Float32Data()...),
		}
	}
	return weights
}

// RestoreWeights loads saved tensors back into parameters by position.
func RestoreWeights(params []*tensor.Tensor, weights []WeightTensor) error {
	if len(params) != len(weights) {
		return fmt.Errorf("weight count mismatch: model has %d parameters, checkpoint has %d",
			len(params), len(weights))
	}
	for i, w := range weights {
		dst := params[i].Float32Data()
		if len(dst) != len(w.Data) {
			return fmt.Errorf("parameter %d size mismatch: model has %d elements, checkpoint has %d",
				i, len(dst), len(w.Data))
		}
		copy(dst, w.Data)
	}
	return nil
}

// CheckpointPath builds the canonical file name for a given iteration,
// e.g. clip_12000.json.
func CheckpointPath(dir string, iteration int, format CheckpointFormat) string {
	return filepath.Join(dir, fmt.Sprintf("clip_%d.%s", iteration, format.Extension()))
}

// CheckpointSaver handles saving and loading model checkpoints.
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format.
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a complete model checkpoint.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatBinary:
		return cs.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

// LoadCheckpoint loads a checkpoint from disk.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatBinary:
		return cs.loadBinary(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format)
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	data, err := marshalBinary(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadBinary(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	checkpoint, err := unmarshalBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return checkpoint, nil
}
