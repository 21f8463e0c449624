package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/tensor"
)

func paramWithGrad(t *testing.T, data, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(data)}, tensor.Float32, data)
	require.NoError(t, err)
	require.NoError(t, p.SetRequiresGrad(true))
	loss, err := tensor.SumAll(p)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	copy(p.Grad(), grad)
	return p
}

func TestNewAdamWValidatesConfig(t *testing.T) {
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 0
	_, err := NewAdamW(cfg)
	assert.Error(t, err)

	cfg = DefaultAdamWConfig()
	cfg.Beta2 = 1.0
	_, err = NewAdamW(cfg)
	assert.Error(t, err)
}

func TestAdamWFirstStepMatchesClosedForm(t *testing.T) {
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 0.1
	cfg.AMSGrad = false
	opt, err := NewAdamW(cfg)
	require.NoError(t, err)

	p := paramWithGrad(t, []float32{1.0}, []float32{0.5})
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))

	// After bias correction the first update direction is g/(|g|+eps).
	expected := 1.0 - 0.1*0.5/(0.5+1e-8)
	assert.InDelta(t, expected, float64(p.Float32Data()[0]), 1e-5)
	assert.Equal(t, uint64(1), opt.GetStepCount())
}

func TestAdamWDecoupledWeightDecay(t *testing.T) {
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 0.1
	cfg.WeightDecay = 0.5
	cfg.AMSGrad = false
	opt, err := NewAdamW(cfg)
	require.NoError(t, err)

	// Zero gradient: the only movement comes from weight decay.
	p := paramWithGrad(t, []float32{2.0}, []float32{0})
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))
	assert.InDelta(t, 2.0-0.1*0.5*2.0, float64(p.Float32Data()[0]), 1e-6)
}

func TestAdamWAMSGradKeepsMaxVariance(t *testing.T) {
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 0.01
	opt, err := NewAdamW(cfg)
	require.NoError(t, err)

	p := paramWithGrad(t, []float32{1.0}, []float32{10})
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))

	// A tiny gradient after a huge one: AMSGrad keeps the large variance so
	// the step stays small.
	copy(p.Grad(), []float32{0.001})
	before := p.Float32Data()[0]
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))
	stepSize := math.Abs(float64(before - p.Float32Data()[0]))
	assert.Less(t, stepSize, 0.01)
}

func TestAdamWUpdateLearningRate(t *testing.T) {
	opt, err := NewAdamW(DefaultAdamWConfig())
	require.NoError(t, err)
	opt.UpdateLearningRate(0.42)
	assert.Equal(t, float32(0.42), opt.GetLearningRate())
}

func TestAdamWStateRoundTrip(t *testing.T) {
	cfg := DefaultAdamWConfig()
	cfg.LearningRate = 0.05
	opt, err := NewAdamW(cfg)
	require.NoError(t, err)

	p := paramWithGrad(t, []float32{1, 2, 3}, []float32{0.1, -0.2, 0.3})
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))
	require.NoError(t, opt.Step([]*tensor.Tensor{p}))

	state, err := opt.GetState()
	require.NoError(t, err)
	require.Equal(t, "AdamW", state.Type)

	restored, err := NewAdamW(DefaultAdamWConfig())
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, opt.GetStepCount(), restored.GetStepCount())
	assert.Equal(t, opt.GetLearningRate(), restored.GetLearningRate())

	// Both optimizers must produce identical updates from here on.
	q1, err := p.Clone()
	require.NoError(t, err)
	require.NoError(t, q1.SetRequiresGrad(true))
	q2, err := p.Clone()
	require.NoError(t, err)
	require.NoError(t, q2.SetRequiresGrad(true))
	for _, q := range []*tensor.Tensor{q1, q2} {
		loss, err := tensor.SumAll(q)
		require.NoError(t, err)
		require.NoError(t, loss.Backward())
	}
	require.NoError(t, opt.Step([]*tensor.Tensor{q1}))
	require.NoError(t, restored.Step([]*tensor.Tensor{q2}))
	assert.Equal(t, q1.Float32Data(), q2.Float32Data())
}

func TestAdamWRejectsChangedParameterSet(t *testing.T) {
	opt, err := NewAdamW(DefaultAdamWConfig())
	require.NoError(t, err)

	p1 := paramWithGrad(t, []float32{1}, []float32{1})
	p2 := paramWithGrad(t, []float32{1}, []float32{1})
	require.NoError(t, opt.Step([]*tensor.Tensor{p1}))
	assert.Error(t, opt.Step([]*tensor.Tensor{p1, p2}))

	err = opt.LoadState(&State{Type: "SGD"})
	assert.Error(t, err)
}
