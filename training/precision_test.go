package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/tensor"
)

func gradParam(t *testing.T, grad []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.Zeros([]int{len(grad)}, tensor.Float32)
	require.NoError(t, err)
	require.NoError(t, p.SetRequiresGrad(true))
	loss, err := tensor.SumAll(p)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	copy(p.Grad(), grad)
	return p
}

func TestNewGradScalerValidatesConfig(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 0.5
	_, err := NewGradScaler(cfg)
	assert.Error(t, err)

	cfg = DefaultGradScalerConfig()
	cfg.BackoffFactor = 1
	_, err = NewGradScaler(cfg)
	assert.Error(t, err)
}

func TestScaleLossMultiplies(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 4
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	loss := tensor.FromScalar(2.5)
	scaled, err := g.ScaleLoss(loss)
	require.NoError(t, err)
	v, err := scaled.Item()
	require.NoError(t, err)
	assert.Equal(t, float32(10), v)
}

func TestUnscaleAndClipDividesAndClips(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 2
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	// Scaled gradients (6, 8): unscaled (3, 4), norm 5, clipped to norm 1.
	p := gradParam(t, []float32{6, 8})
	norm, finite := g.UnscaleAndClip([]*tensor.Tensor{p}, 1)
	require.True(t, finite)
	assert.InDelta(t, 5.0, float64(norm), 1e-5)
	assert.InDelta(t, 0.6, float64(p.Grad()[0]), 1e-5)
	assert.InDelta(t, 0.8, float64(p.Grad()[1]), 1e-5)
}

func TestUnscaleNoClipBelowThreshold(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 1
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	p := gradParam(t, []float32{3, 4})
	norm, finite := g.UnscaleAndClip([]*tensor.Tensor{p}, 100)
	require.True(t, finite)
	assert.InDelta(t, 5.0, float64(norm), 1e-5)
	assert.Equal(t, []float32{3, 4}, p.Grad())
}

func TestNonFiniteGradientsReportedAndBackedOff(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 8
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	p := gradParam(t, []float32{1, float32(math.NaN())})
	_, finite := g.UnscaleAndClip([]*tensor.Tensor{p}, 1)
	assert.False(t, finite)

	g.Update(false)
	assert.Equal(t, float32(4), g.Scale())

	// Inf counts as non-finite too.
	q := gradParam(t, []float32{float32(math.Inf(1))})
	_, finite = g.UnscaleAndClip([]*tensor.Tensor{q}, 1)
	assert.False(t, finite)
}

func TestScaleGrowsAfterCleanInterval(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 2
	cfg.GrowthInterval = 3
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	g.Update(true)
	g.Update(true)
	assert.Equal(t, float32(2), g.Scale())
	g.Update(true)
	assert.Equal(t, float32(4), g.Scale())

	// A skipped step resets the streak.
	g.Update(true)
	g.Update(false)
	assert.Equal(t, float32(2), g.Scale())
	g.Update(true)
	g.Update(true)
	g.Update(true)
	assert.Equal(t, float32(4), g.Scale())
}

func TestScaleNeverDropsBelowOne(t *testing.T) {
	cfg := DefaultGradScalerConfig()
	cfg.InitialScale = 1
	g, err := NewGradScaler(cfg)
	require.NoError(t, err)

	g.Update(false)
	g.Update(false)
	assert.Equal(t, float32(1), g.Scale())
}

func TestSetScaleIgnoresInvalid(t *testing.T) {
	g, err := NewGradScaler(DefaultGradScalerConfig())
	require.NoError(t, err)

	g.SetScale(256)
	assert.Equal(t, float32(256), g.Scale())
	g.SetScale(0)
	assert.Equal(t, float32(256), g.Scale())
}
