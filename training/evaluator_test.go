package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/model"
	"github.com/RobinDong/try-multimodal/tensor"
)

func TestEvaluatorSkipsPartialBatchByDefault(t *testing.T) {
	cfg := tinyModelConfig()
	m, err := model.NewCLIP(cfg)
	require.NoError(t, err)
	samples := syntheticSamples(t, cfg, 8)

	ev, err := NewEvaluator(m, samples, 3, false)
	require.NoError(t, err)
	result, err := ev.Run()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, 6, result.Samples)
}

func TestEvaluatorIncludesPartialBatchWhenConfigured(t *testing.T) {
	cfg := tinyModelConfig()
	m, err := model.NewCLIP(cfg)
	require.NoError(t, err)
	samples := syntheticSamples(t, cfg, 8)

	ev, err := NewEvaluator(m, samples, 3, true)
	require.NoError(t, err)
	result, err := ev.Run()
	require.NoError(t, err)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 8, result.Samples)
	assert.GreaterOrEqual(t, result.Accuracy, 0.0)
	assert.LessOrEqual(t, result.Accuracy, 1.0)
	assert.Greater(t, result.Loss, 0.0)
}

func TestEvaluatorLossMatchesTrainingObjective(t *testing.T) {
	cfg := tinyModelConfig()
	m, err := model.NewCLIP(cfg)
	require.NoError(t, err)
	samples := syntheticSamples(t, cfg, 4)

	// The expected loss is the full training objective, batch by batch.
	prev := m.SetTraining(false)
	var totalSum, contrastiveSum float64
	for start := 0; start < len(samples); start += 2 {
		bundle, err := m.Forward(samples[start : start+2])
		require.NoError(t, err)
		total, err := bundle.Total.Item()
		require.NoError(t, err)
		contrastive, err := bundle.Contrastive.Item()
		require.NoError(t, err)
		totalSum += float64(total)
		contrastiveSum += float64(contrastive)
	}
	m.SetTraining(prev)

	ev, err := NewEvaluator(m, samples, 2, false)
	require.NoError(t, err)
	result, err := ev.Run()
	require.NoError(t, err)

	assert.InDelta(t, totalSum/2, result.Loss, 1e-6)
	assert.Greater(t, result.Loss, contrastiveSum/2,
		"masked-token reconstruction must contribute to the eval loss")
}

func TestEvaluatorRestoresModeAndGradState(t *testing.T) {
	cfg := tinyModelConfig()
	m, err := model.NewCLIP(cfg)
	require.NoError(t, err)
	samples := syntheticSamples(t, cfg, 4)

	ev, err := NewEvaluator(m, samples, 2, false)
	require.NoError(t, err)

	require.True(t, m.IsTraining())
	require.True(t, tensor.GradEnabled())
	_, err = ev.Run()
	require.NoError(t, err)
	assert.True(t, m.IsTraining(), "training mode must be restored")
	assert.True(t, tensor.GradEnabled(), "gradient recording must be restored")
}

func TestEvaluatorRejectsUnusableSetups(t *testing.T) {
	cfg := tinyModelConfig()
	m, err := model.NewCLIP(cfg)
	require.NoError(t, err)
	samples := syntheticSamples(t, cfg, 4)

	_, err = NewEvaluator(nil, samples, 2, false)
	assert.Error(t, err)

	_, err = NewEvaluator(m, nil, 2, false)
	assert.Error(t, err)

	_, err = NewEvaluator(m, samples, 1, false)
	assert.Error(t, err)

	// Fewer samples than one batch: nothing to evaluate.
	ev, err := NewEvaluator(m, samples[:2], 4, false)
	require.NoError(t, err)
	_, err = ev.Run()
	assert.Error(t, err)
}
