package layers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/tensor"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestLinearForwardShape(t *testing.T) {
	rng := testRNG()
	l, err := NewLinear(4, 8, true, rng)
	require.NoError(t, err)

	x, err := tensor.Zeros([]int{3, 4}, tensor.Float32)
	require.NoError(t, err)
	out, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, out.Shape)
	assert.Len(t, l.Parameters(), 2)
}

func TestLayerNormOutputStatistics(t *testing.T) {
	ln, err := NewLayerNorm(4)
	require.NoError(t, err)

	x, err := tensor.NewTensor([]int{2, 4}, tensor.Float32, []float32{1, 2, 3, 4, 10, 20, 30, 40})
	require.NoError(t, err)
	out, err := ln.Forward(x)
	require.NoError(t, err)

	data := out.Float32Data()
	for i := 0; i < 2; i++ {
		var mean float64
		for j := 0; j < 4; j++ {
			mean += float64(data[i*4+j])
		}
		assert.InDelta(t, 0.0, mean/4, 1e-5)
	}
}

func TestDropoutInertInEval(t *testing.T) {
	d := NewDropout(0.5, testRNG())
	x, err := tensor.NewTensor([]int{1, 4}, tensor.Float32, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	out, err := d.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, x, out)
}

func TestAttentionShapePreserving(t *testing.T) {
	rng := testRNG()
	mha, err := NewMultiHeadAttention(8, 2, rng)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{5, 8}, 0, 1, rng)
	require.NoError(t, err)

	for _, causal := range []bool{true, false} {
		out, err := mha.Forward(x, causal)
		require.NoError(t, err)
		assert.Equal(t, []int{5, 8}, out.Shape)
	}
}

func TestCausalMaskBlocksFuture(t *testing.T) {
	rng := testRNG()
	mha, err := NewMultiHeadAttention(4, 1, rng)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{4, 4}, 0, 1, rng)
	require.NoError(t, err)

	out1, err := mha.Forward(x, true)
	require.NoError(t, err)

	// Changing a future position must not affect the first row's output.
	data := x.Float32Data()
	for j := 0; j < 4; j++ {
		data[3*4+j] += 5
	}
	out2, err := mha.Forward(x, true)
	require.NoError(t, err)

	assert.InDeltaSlice(t, out1.Float32Data()[:4], out2.Float32Data()[:4], 1e-5)
}

func TestTransformerBlockShapeAndGrad(t *testing.T) {
	rng := testRNG()
	block, err := NewTransformerBlock(8, 2, 0, rng)
	require.NoError(t, err)

	x, err := tensor.RandomNormal([]int{3, 8}, 0, 1, rng)
	require.NoError(t, err)
	require.NoError(t, x.SetRequiresGrad(true))

	out, err := block.Forward(x, false, true)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, out.Shape)

	loss, err := tensor.SumAll(out)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	for _, p := range block.Parameters() {
		assert.NotNil(t, p.Grad())
	}
}

func TestPositionalEmbeddingBounds(t *testing.T) {
	rng := testRNG()
	pos, err := NewPositionalEmbedding(4, 8, rng)
	require.NoError(t, err)

	x, err := tensor.Zeros([]int{6, 8}, tensor.Float32)
	require.NoError(t, err)
	_, err = pos.Forward(x)
	assert.Error(t, err)
}

func TestTokenEmbeddingLookup(t *testing.T) {
	rng := testRNG()
	emb, err := NewTokenEmbedding(10, 4, rng)
	require.NoError(t, err)

	out, err := emb.Forward([]int32{0, 3, 9})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, out.Shape)

	_, err = emb.Forward([]int32{10})
	assert.Error(t, err)
}
