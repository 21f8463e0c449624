package layers

import (
	"math/rand"

	"github.com/RobinDong/try-multimodal/tensor"
)

// FeedForward is the position-wise MLP of a transformer block: expand by 4x,
// GELU, project back.
type FeedForward struct {
	fc1 *Linear
	fc2 *Linear
}

func NewFeedForward(dim int, rng *rand.Rand) (*FeedForward, error) {
	fc1, err := NewLinear(dim, 4*dim, true, rng)
	if err != nil {
		return nil, err
	}
	fc2, err := NewLinear(4*dim, dim, true, rng)
	if err != nil {
		return nil, err
	}
	return &FeedForward{fc1: fc1, fc2: fc2}, nil
}

func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := ff.fc1.Forward(x)
	if err != nil {
		return nil, err
	}
	h, err = tensor.GELU(h)
	if err != nil {
		return nil, err
	}
	return ff.fc2.Forward(h)
}

func (ff *FeedForward) Parameters() []*tensor.Tensor {
	return CollectParameters(ff.fc1, ff.fc2)
}

// TransformerBlock is a pre-norm transformer block: attention and MLP
// sublayers with residual connections. The causal switch is decided per call
// so one block can serve both attention modes.
type TransformerBlock struct {
	ln1     *LayerNorm
	attn    *MultiHeadAttention
	ln2     *LayerNorm
	ffn     *FeedForward
	dropout *Dropout
}

func NewTransformerBlock(dim, numHeads int, dropoutRate float32, rng *rand.Rand) (*TransformerBlock, error) {
	ln1, err := NewLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	attn, err := NewMultiHeadAttention(dim, numHeads, rng)
	if err != nil {
		return nil, err
	}
	ln2, err := NewLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFeedForward(dim, rng)
	if err != nil {
		return nil, err
	}

	return &TransformerBlock{
		ln1:     ln1,
		attn:    attn,
		ln2:     ln2,
		ffn:     ffn,
		dropout: NewDropout(dropoutRate, rng),
	}, nil
}

func (b *TransformerBlock) Forward(x *tensor.Tensor, causal, training bool) (*tensor.Tensor, error) {
	normed, err := b.ln1.Forward(x)
	if err != nil {
		return nil, err
	}
	attended, err := b.attn.Forward(normed, causal)
	if err != nil {
		return nil, err
	}
	attended, err = b.dropout.Forward(attended, training)
	if err != nil {
		return nil, err
	}
	x, err = tensor.Add(x, attended)
	if err != nil {
		return nil, err
	}

	normed, err = b.ln2.Forward(x)
	if err != nil {
		return nil, err
	}
	expanded, err := b.ffn.Forward(normed)
	if err != nil {
		return nil, err
	}
	expanded, err = b.dropout.Forward(expanded, training)
	if err != nil {
		return nil, err
	}
	return tensor.Add(x, expanded)
}

func (b *TransformerBlock) Parameters() []*tensor.Tensor {
	return CollectParameters(b.ln1, b.attn, b.ln2, b.ffn)
}
