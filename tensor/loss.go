package tensor

import (
	"fmt"
	"math"
)

// CrossEntropyRows computes the summed softmax cross-entropy over the rows of
// a [rows, classes] logit tensor. Rows whose target equals ignoreIndex
// contribute nothing to the loss or the gradient. It returns the scalar sum
// and the number of rows counted; callers divide by the count to get a mean.
func CrossEntropyRows(logits *Tensor, targets []int32, ignoreIndex int32) (*Tensor, int, error) {
	rows, classes, err := dims2(logits)
	if err != nil {
		return nil, 0, err
	}
	if len(targets) != rows {
		return nil, 0, fmt.Errorf("target count %d does not match %d rows", len(targets), rows)
	}

	src := logits.Float32Data()
	probs := make([]float32, rows*classes)
	var sum float64
	count := 0
	for i := 0; i < rows; i++ {
		target := targets[i]
		if target == ignoreIndex {
			continue
		}
		if target < 0 || int(target) >= classes {
			return nil, 0, fmt.Errorf("target class %d out of range [0, %d)", target, classes)
		}
		offset := i * classes

		maxVal := src[offset]
		for j := 1; j < classes; j++ {
			if src[offset+j] > maxVal {
				maxVal = src[offset+j]
			}
		}
		var denom float64
		for j := 0; j < classes; j++ {
			e := math.Exp(float64(src[offset+j] - maxVal))
			probs[offset+j] = float32(e)
			denom += e
		}
		for j := 0; j < classes; j++ {
			probs[offset+j] /= float32(denom)
		}

		p := probs[offset+int(target)]
		if p < 1e-12 {
			p = 1e-12
		}
		sum += -math.Log(float64(p))
		count++
	}

	out := FromScalar(float32(sum))

	if tracked(logits) {
		targetsCopy := append([]int32(nil), targets...)
		out.record(func(gradOut []float32) {
			scale := gradOut[0]
			g := make([]float32, logits.NumElems)
			for i := 0; i < rows; i++ {
				target := targetsCopy[i]
				if target == ignoreIndex {
					continue
				}
				offset := i * classes
				for j := 0; j < classes; j++ {
					g[offset+j] = probs[offset+j] * scale
				}
				g[offset+int(target)] -= scale
			}
			logits.accumulateGrad(g)
		}, logits)
	}
	return out, count, nil
}
