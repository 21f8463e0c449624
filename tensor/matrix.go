package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemm computes alpha * op(a) x op(b) + beta * c using BLAS. All operands are
// row-major float32 slices; ar/ac and br/bc are the stored dimensions.
func gemm(tA, tB blas.Transpose, alpha float32, a []float32, ar, ac int, b []float32, br, bc int, beta float32, c []float32, cr, cc int) {
	ga := blas32.General{Rows: ar, Cols: ac, Stride: ac, Data: a}
	gb := blas32.General{Rows: br, Cols: bc, Stride: bc, Data: b}
	gc := blas32.General{Rows: cr, Cols: cc, Stride: cc, Data: c}
	blas32.Gemm(tA, tB, alpha, ga, gb, beta, gc)
}

// MatMul computes C = A x B for 2D Float32 tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("MatMul requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	m, k, err := dims2(a)
	if err != nil {
		return nil, err
	}
	k2, n, err := dims2(b)
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, fmt.Errorf("MatMul dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	out, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}
	gemm(blas.NoTrans, blas.NoTrans, 1, a.Float32Data(), m, k, b.Float32Data(), k, n, 0, out.Float32Data(), m, n)

	if tracked(a, b) {
		out.record(func(gradOut []float32) {
			if a.requiresGrad {
				gradA := make([]float32, m*k)
				// dA = dC x B^T
				gemm(blas.NoTrans, blas.Trans, 1, gradOut, m, n, b.Float32Data(), k, n, 0, gradA, m, k)
				a.accumulateGrad(gradA)
			}
			if b.requiresGrad {
				gradB := make([]float32, k*n)
				// dB = A^T x dC
				gemm(blas.Trans, blas.NoTrans, 1, a.Float32Data(), m, k, gradOut, m, n, 0, gradB, k, n)
				b.accumulateGrad(gradB)
			}
		}, a, b)
	}
	return out, nil
}

// MatMulT computes C = A x B^T, the form similarity matrices take.
func MatMulT(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("MatMulT requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}
	m, k, err := dims2(a)
	if err != nil {
		return nil, err
	}
	n, k2, err := dims2(b)
	if err != nil {
		return nil, err
	}
	if k != k2 {
		return nil, fmt.Errorf("MatMulT dimension mismatch: %v x %v^T", a.Shape, b.Shape)
	}

	out, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}
	gemm(blas.NoTrans, blas.Trans, 1, a.Float32Data(), m, k, b.Float32Data(), n, k, 0, out.Float32Data(), m, n)

	if tracked(a, b) {
		out.record(func(gradOut []float32) {
			if a.requiresGrad {
				gradA := make([]float32, m*k)
				// dA = dC x B
				gemm(blas.NoTrans, blas.NoTrans, 1, gradOut, m, n, b.Float32Data(), n, k, 0, gradA, m, k)
				a.accumulateGrad(gradA)
			}
			if b.requiresGrad {
				gradB := make([]float32, n*k)
				// dB = dC^T x A
				gemm(blas.Trans, blas.NoTrans, 1, gradOut, m, n, a.Float32Data(), m, k, 0, gradB, n, k)
				b.accumulateGrad(gradB)
			}
		}, a, b)
	}
	return out, nil
}

// Transpose returns the 2D transpose of a Float32 tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose requires a Float32 tensor, got %s", t.DType)
	}
	r, c, err := dims2(t)
	if err != nil {
		return nil, err
	}

	out, err := Zeros([]int{c, r}, Float32)
	if err != nil {
		return nil, err
	}
	src := t.Float32Data()
	dst := out.Float32Data()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst[j*r+i] = src[i*c+j]
		}
	}

	if tracked(t) {
		out.record(func(gradOut []float32) {
			gradT := make([]float32, r*c)
			for i := 0; i < c; i++ {
				for j := 0; j < r; j++ {
					gradT[j*c+i] = gradOut[i*r+j]
				}
			}
			t.accumulateGrad(gradT)
		}, t)
	}
	return out, nil
}
