package layers

import (
	"fmt"
	"math/rand"

	"github.com/RobinDong/try-multimodal/tensor"
)

// TokenEmbedding maps token ids to dense vectors via a learned [vocab, dim]
// table. The table doubles as the output projection when weight tying is on.
type TokenEmbedding struct {
	Table *tensor.Tensor
}

func NewTokenEmbedding(vocabSize, dim int, rng *rand.Rand) (*TokenEmbedding, error) {
	table, err := tensor.NewParameter([]int{vocabSize, dim}, 0.02, rng)
	if err != nil {
		return nil, err
	}
	return &TokenEmbedding{Table: table}, nil
}

func (e *TokenEmbedding) Forward(ids []int32) (*tensor.Tensor, error) {
	return tensor.Embedding(e.Table, ids)
}

func (e *TokenEmbedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.Table}
}

// PositionalEmbedding adds a learned position vector to each sequence row.
type PositionalEmbedding struct {
	Table *tensor.Tensor // [maxLen, dim]
}

func NewPositionalEmbedding(maxLen, dim int, rng *rand.Rand) (*PositionalEmbedding, error) {
	table, err := tensor.NewParameter([]int{maxLen, dim}, 0.02, rng)
	if err != nil {
		return nil, err
	}
	return &PositionalEmbedding{Table: table}, nil
}

func (p *PositionalEmbedding) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	seqLen := x.Shape[0]
	if seqLen > p.Table.Shape[0] {
		return nil, fmt.Errorf("sequence length %d exceeds positional table %d", seqLen, p.Table.Shape[0])
	}
	positions, err := tensor.SliceRows(p.Table, 0, seqLen)
	if err != nil {
		return nil, err
	}
	return tensor.Add(x, positions)
}

func (p *PositionalEmbedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{p.Table}
}
