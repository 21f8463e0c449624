package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/RobinDong/try-multimodal/tensor"
)

const maskValue = float32(-1e9)

// MultiHeadAttention implements scaled dot-product attention with numHeads
// parallel heads over a [seq, dim] sequence. Causality is a per-call switch:
// the same weights serve causal language modeling and bidirectional fusion.
type MultiHeadAttention struct {
	numHeads int
	headDim  int

	query  *Linear
	key    *Linear
	value  *Linear
	output *Linear
}

func NewMultiHeadAttention(dim, numHeads int, rng *rand.Rand) (*MultiHeadAttention, error) {
	if dim%numHeads != 0 {
		return nil, fmt.Errorf("model dim %d not divisible by %d heads", dim, numHeads)
	}

	query, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	key, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	value, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	output, err := NewLinear(dim, dim, true, rng)
	if err != nil {
		return nil, err
	}

	return &MultiHeadAttention{
		numHeads: numHeads,
		headDim:  dim / numHeads,
		query:    query,
		key:      key,
		value:    value,
		output:   output,
	}, nil
}

// Forward attends over x ([seq, dim]). With causal set, position i only sees
// positions <= i.
func (mha *MultiHeadAttention) Forward(x *tensor.Tensor, causal bool) (*tensor.Tensor, error) {
	seqLen := x.Shape[0]

	q, err := mha.query.Forward(x)
	if err != nil {
		return nil, err
	}
	k, err := mha.key.Forward(x)
	if err != nil {
		return nil, err
	}
	v, err := mha.value.Forward(x)
	if err != nil {
		return nil, err
	}

	var mask *tensor.Tensor
	if causal {
		mask, err = causalMask(seqLen)
		if err != nil {
			return nil, err
		}
	}

	scale := float32(1 / math.Sqrt(float64(mha.headDim)))
	heads := make([]*tensor.Tensor, mha.numHeads)
	for h := 0; h < mha.numHeads; h++ {
		from := h * mha.headDim
		to := from + mha.headDim

		qh, err := tensor.SliceCols(q, from, to)
		if err != nil {
			return nil, err
		}
		kh, err := tensor.SliceCols(k, from, to)
		if err != nil {
			return nil, err
		}
		vh, err := tensor.SliceCols(v, from, to)
		if err != nil {
			return nil, err
		}

		scores, err := tensor.MatMulT(qh, kh)
		if err != nil {
			return nil, err
		}
		scores, err = tensor.Scale(scores, scale)
		if err != nil {
			return nil, err
		}
		if mask != nil {
			scores, err = tensor.Add(scores, mask)
			if err != nil {
				return nil, err
			}
		}

		probs, err := tensor.Softmax(scores)
		if err != nil {
			return nil, err
		}
		heads[h], err = tensor.MatMul(probs, vh)
		if err != nil {
			return nil, err
		}
	}

	merged, err := tensor.ConcatCols(heads...)
	if err != nil {
		return nil, err
	}
	return mha.output.Forward(merged)
}

func (mha *MultiHeadAttention) Parameters() []*tensor.Tensor {
	return CollectParameters(mha.query, mha.key, mha.value, mha.output)
}

// causalMask builds an additive [seq, seq] mask with maskValue above the
// diagonal. The mask carries no gradient.
func causalMask(seqLen int) (*tensor.Tensor, error) {
	mask, err := tensor.Zeros([]int{seqLen, seqLen}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data := mask.Float32Data()
	for i := 0; i < seqLen; i++ {
		for j := i + 1; j < seqLen; j++ {
			data[i*seqLen+j] = maskValue
		}
	}
	return mask, nil
}
