package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/RobinDong/try-multimodal/tensor"
)

// AdamWConfig holds configuration for the AdamW optimizer.
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero
	WeightDecay  float32 // Decoupled weight decay coefficient
	AMSGrad      bool    // Use the max of past variances for the denominator
}

// DefaultAdamWConfig returns default AdamW optimizer configuration.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		AMSGrad:      true,
	}
}

// AdamW implements Adam with decoupled weight decay and optional AMSGrad.
// State buffers are allocated lazily on the first Step so the optimizer can
// be constructed before the parameter set is known.
type AdamW struct {
	config    AdamWConfig
	stepCount uint64

	momentum    [][]float32
	variance    [][]float32
	maxVariance [][]float32
}

func NewAdamW(config AdamWConfig) (*AdamW, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %g and %g", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %g", config.Epsilon)
	}
	return &AdamW{config: config}, nil
}

func (a *AdamW) initState(params []*tensor.Tensor) {
	a.momentum = make([][]float32, len(params))
	a.variance = make([][]float32, len(params))
	if a.config.AMSGrad {
		a.maxVariance = make([][]float32, len(params))
	}
	for i, p := range params {
		a.momentum[i] = make([]float32, p.NumElems)
		a.variance[i] = make([]float32, p.NumElems)
		if a.config.AMSGrad {
			a.maxVariance[i] = make([]float32, p.NumElems)
		}
	}
}

func (a *AdamW) Step(params []*tensor.Tensor) error {
	if len(params) == 0 {
		return fmt.Errorf("no parameters to optimize")
	}
	if a.momentum == nil {
		a.initState(params)
	}
	if len(params) != len(a.momentum) {
		return fmt.Errorf("parameter count changed: state has %d, got %d", len(a.momentum), len(params))
	}

	a.stepCount++
	biasCorr1 := 1 - math.Pow(float64(a.config.Beta1), float64(a.stepCount))
	biasCorr2 := 1 - math.Pow(float64(a.config.Beta2), float64(a.stepCount))
	lr := float64(a.config.LearningRate)

	for i, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if len(grad) != len(a.momentum[i]) {
			return fmt.Errorf("parameter %d size changed: state has %d elements, got %d",
				i, len(a.momentum[i]), len(grad))
		}

		weights := p.Float32Data()
		m, v := a.momentum[i], a.variance[i]
		for j := range weights {
			g := float64(grad[j])
			mj := float64(a.config.Beta1)*float64(m[j]) + (1-float64(a.config.Beta1))*g
			vj := float64(a.config.Beta2)*float64(v[j]) + (1-float64(a.config.Beta2))*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			denom := vj / biasCorr2
			if a.config.AMSGrad {
				if denom > float64(a.maxVariance[i][j]) {
					a.maxVariance[i][j] = float32(denom)
				}
				denom = float64(a.maxVariance[i][j])
			}

			update := lr * (mj / biasCorr1) / (math.Sqrt(denom) + float64(a.config.Epsilon))
			// Decoupled weight decay: applied to the weight directly, not
			// folded into the gradient.
			weights[j] -= float32(update + lr*float64(a.config.WeightDecay)*float64(weights[j]))
		}
	}
	return nil
}

func (a *AdamW) GetStepCount() uint64 {
	return a.stepCount
}

func (a *AdamW) UpdateLearningRate(lr float32) {
	a.config.LearningRate = lr
}

func (a *AdamW) GetLearningRate() float32 {
	return a.config.LearningRate
}

func (a *AdamW) GetState() (*State, error) {
	amsgrad := 0.0
	if a.config.AMSGrad {
		amsgrad = 1.0
	}
	state := &State{
		Type: "AdamW",
		Parameters: map[string]float64{
			"learning_rate": float64(a.config.LearningRate),
			"beta1":         float64(a.config.Beta1),
			"beta2":         float64(a.config.Beta2),
			"epsilon":       float64(a.config.Epsilon),
			"weight_decay":  float64(a.config.WeightDecay),
			"amsgrad":       amsgrad,
			"step_count":    float64(a.stepCount),
		},
	}
	for i := range a.momentum {
		state.StateData = append(state.StateData, StateTensor{
			Name:  fmt.Sprintf("momentum_%d", i),
			Shape: []int{len(a.momentum[i])},
			Data:  append([]float32(nil), a.momentum[i]...),
		})
		state.StateData = append(state.StateData, StateTensor{
			Name:  fmt.Sprintf("variance_%d", i),
			Shape: []int{len(a.variance[i])},
			Data:  append([]float32(nil), a.variance[i]...),
		})
		if a.config.AMSGrad {
			state.StateData = append(state.StateData, StateTensor{
				Name:  fmt.Sprintf("max_variance_%d", i),
				Shape: []int{len(a.maxVariance[i])},
				Data:  append([]float32(nil), a.maxVariance[i]...),
			})
		}
	}
	return state, nil
}

func (a *AdamW) LoadState(state *State) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}

	a.config.LearningRate = float32(state.Parameters["learning_rate"])
	a.config.Beta1 = float32(state.Parameters["beta1"])
	a.config.Beta2 = float32(state.Parameters["beta2"])
	a.config.Epsilon = float32(state.Parameters["epsilon"])
	a.config.WeightDecay = float32(state.Parameters["weight_decay"])
	a.config.AMSGrad = state.Parameters["amsgrad"] != 0
	a.stepCount = uint64(state.Parameters["step_count"])

	a.momentum = nil
	a.variance = nil
	a.maxVariance = nil
	count := 0
	for _, st := range state.StateData {
		data := append([]float32(nil), st.Data...)
		switch {
		case strings.HasPrefix(st.Name, "momentum_"):
			a.momentum = append(a.momentum, data)
			count++
		case strings.HasPrefix(st.Name, "max_variance_"):
			a.maxVariance = append(a.maxVariance, data)
		case strings.HasPrefix(st.Name, "variance_"):
			a.variance = append(a.variance, data)
		default:
			return fmt.Errorf("unknown state tensor %q", st.Name)
		}
	}
	if len(a.momentum) != len(a.variance) {
		return fmt.Errorf("inconsistent state: %d momentum vs %d variance buffers",
			len(a.momentum), len(a.variance))
	}
	if a.config.AMSGrad && len(a.maxVariance) != count {
		return fmt.Errorf("inconsistent state: %d max variance buffers for %d parameters",
			len(a.maxVariance), count)
	}
	return nil
}
