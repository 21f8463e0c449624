package optimizer

import (
	"fmt"

	"github.com/RobinDong/try-multimodal/tensor"
)

// Optimizer updates parameters in place from their accumulated gradients.
// The interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step performs a single optimization step over the given parameters.
	// Parameters without gradients are skipped. The parameter slice must be
	// the same, in the same order, on every call.
	Step(params []*tensor.Tensor) error

	// GetState extracts optimizer state for checkpointing.
	GetState() (*State, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *State) error

	// GetStepCount returns the current optimization step number.
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate.
	UpdateLearningRate(lr float32)

	// GetLearningRate returns the current learning rate.
	GetLearningRate() float32
}

// StateTensor is one named optimizer state buffer, e.g. "momentum_3".
type StateTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// State represents the complete serializable state of an optimizer.
type State struct {
	Type       string             `json:"type"` // "AdamW", "SGD", ...
	Parameters map[string]float64 `json:"parameters"`
	StateData  []StateTensor      `json:"state_data"`
}

// validateStateType ensures the state type matches the optimizer.
func validateStateType(optimizerType string, state *State) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
