package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensorShapeValidation(t *testing.T) {
	_, err := NewTensor([]int{2, 0}, Float32, nil)
	assert.Error(t, err)

	tr, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 6, tr.NumElems)

	_, err = NewTensor([]int{2, 2}, Float32, []float32{1})
	assert.Error(t, err)
}

func TestRequiresGradOnlyFloat32(t *testing.T) {
	ids, err := NewTensor([]int{2}, Int32, []int32{1, 2})
	require.NoError(t, err)
	assert.Error(t, ids.SetRequiresGrad(true))

	w, err := NewTensor([]int{2}, Float32, []float32{1, 2})
	require.NoError(t, err)
	assert.NoError(t, w.SetRequiresGrad(true))
}

func TestBackwardRequiresScalar(t *testing.T) {
	w, err := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, w.SetRequiresGrad(true))
	assert.Error(t, w.Backward())
}

func TestMatMulBackward(t *testing.T) {
	a, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.NoError(t, a.SetRequiresGrad(true))
	b, err := NewTensor([]int{3, 2}, Float32, []float32{1, 0, 0, 1, 1, 1})
	require.NoError(t, err)
	require.NoError(t, b.SetRequiresGrad(true))

	c, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, c.Shape)
	assert.InDeltaSlice(t, []float32{4, 5, 10, 11}, c.Float32Data(), 1e-6)

	loss, err := SumAll(c)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())

	// dA = ones(2,2) x B^T, dB = A^T x ones(2,2)
	assert.InDeltaSlice(t, []float32{1, 1, 2, 1, 1, 2}, a.Grad(), 1e-6)
	assert.InDeltaSlice(t, []float32{5, 5, 7, 7, 9, 9}, b.Grad(), 1e-6)
}

func TestMatMulTMatchesTransposedMatMul(t *testing.T) {
	a, err := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := NewTensor([]int{2, 3}, Float32, []float32{6, 5, 4, 3, 2, 1})
	require.NoError(t, err)

	direct, err := MatMulT(a, b)
	require.NoError(t, err)

	bt, err := Transpose(b)
	require.NoError(t, err)
	viaTranspose, err := MatMul(a, bt)
	require.NoError(t, err)

	assert.InDeltaSlice(t, viaTranspose.Float32Data(), direct.Float32Data(), 1e-5)
}

func TestGradDisabledRecordsNoTape(t *testing.T) {
	w, err := NewTensor([]int{1, 2}, Float32, []float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, w.SetRequiresGrad(true))

	prev := SetGradEnabled(false)
	defer SetGradEnabled(prev)

	out, err := Scale(w, 2)
	require.NoError(t, err)
	assert.False(t, out.RequiresGrad())
	assert.Nil(t, out.backwardFn)
}

func TestGradAccumulatesAcrossUses(t *testing.T) {
	w, err := NewTensor([]int{1, 1}, Float32, []float32{3})
	require.NoError(t, err)
	require.NoError(t, w.SetRequiresGrad(true))

	// loss = w + w => dL/dw = 2
	sum, err := Add(w, w)
	require.NoError(t, err)
	loss, err := SumAll(sum)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	assert.InDelta(t, 2.0, float64(w.Grad()[0]), 1e-6)

	w.ZeroGrad()
	assert.InDelta(t, 0.0, float64(w.Grad()[0]), 1e-6)
}
