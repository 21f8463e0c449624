package tensor

import (
	"fmt"
	"math"
)

// LayerNormRows normalizes every row of a 2D tensor to zero mean and unit
// variance, then applies the learned gain and shift. Implemented as one fused
// operation so the backward pass can reuse the forward statistics.
func LayerNormRows(x, gamma, beta *Tensor, eps float32) (*Tensor, error) {
	rows, cols, err := dims2(x)
	if err != nil {
		return nil, err
	}
	if len(gamma.Shape) != 1 || gamma.Shape[0] != cols {
		return nil, fmt.Errorf("gamma shape %v does not match %d columns", gamma.Shape, cols)
	}
	if len(beta.Shape) != 1 || beta.Shape[0] != cols {
		return nil, fmt.Errorf("beta shape %v does not match %d columns", beta.Shape, cols)
	}

	out, err := Zeros(x.Shape, Float32)
	if err != nil {
		return nil, err
	}
	src := x.Float32Data()
	gv := gamma.Float32Data()
	bv := beta.Float32Data()
	dst := out.Float32Data()

	// Normalized values and per-row inverse stddev are kept for backward.
	xhat := make([]float32, rows*cols)
	invStd := make([]float32, rows)
	for i := 0; i < rows; i++ {
		offset := i * cols
		var mean float64
		for j := 0; j < cols; j++ {
			mean += float64(src[offset+j])
		}
		mean /= float64(cols)
		var variance float64
		for j := 0; j < cols; j++ {
			d := float64(src[offset+j]) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := float32(1 / math.Sqrt(variance+float64(eps)))
		invStd[i] = inv
		for j := 0; j < cols; j++ {
			h := (src[offset+j] - float32(mean)) * inv
			xhat[offset+j] = h
			dst[offset+j] = h*gv[j] + bv[j]
		}
	}

	if tracked(x, gamma, beta) {
		out.record(func(gradOut []float32) {
			if gamma.requiresGrad {
				g := make([]float32, cols)
				for i := 0; i < rows; i++ {
					for j := 0; j < cols; j++ {
						g[j] += gradOut[i*cols+j] * xhat[i*cols+j]
					}
				}
				gamma.accumulateGrad(g)
			}
			if beta.requiresGrad {
				g := make([]float32, cols)
				for i := 0; i < rows; i++ {
					for j := 0; j < cols; j++ {
						g[j] += gradOut[i*cols+j]
					}
				}
				beta.accumulateGrad(g)
			}
			if x.requiresGrad {
				g := make([]float32, rows*cols)
				n := float32(cols)
				for i := 0; i < rows; i++ {
					offset := i * cols
					var sumDh, sumDhXhat float32
					for j := 0; j < cols; j++ {
						dh := gradOut[offset+j] * gv[j]
						sumDh += dh
						sumDhXhat += dh * xhat[offset+j]
					}
					for j := 0; j < cols; j++ {
						dh := gradOut[offset+j] * gv[j]
						g[offset+j] = invStd[i] * (dh - sumDh/n - xhat[offset+j]*sumDhXhat/n)
					}
				}
				x.accumulateGrad(g)
			}
		}, x, gamma, beta)
	}
	return out, nil
}
