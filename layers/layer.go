package layers

import (
	"math/rand"

	"github.com/RobinDong/try-multimodal/tensor"
)

// Module is the common surface of every layer: it owns trainable parameters.
// Forward signatures stay concrete per layer because their inputs differ.
type Module interface {
	Parameters() []*tensor.Tensor
}

// CollectParameters flattens the parameters of several modules in order.
func CollectParameters(modules ...Module) []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Linear is a fully connected layer: y = x W + b.
type Linear struct {
	Weight *tensor.Tensor // [in, out]
	Bias   *tensor.Tensor // [out], nil when disabled
}

// NewLinear creates a linear layer with normally initialized weights.
func NewLinear(inFeatures, outFeatures int, useBias bool, rng *rand.Rand) (*Linear, error) {
	std := float32(0.02)
	weight, err := tensor.NewParameter([]int{inFeatures, outFeatures}, std, rng)
	if err != nil {
		return nil, err
	}

	l := &Linear{Weight: weight}
	if useBias {
		bias, err := tensor.Zeros([]int{outFeatures}, tensor.Float32)
		if err != nil {
			return nil, err
		}
		if err := bias.SetRequiresGrad(true); err != nil {
			return nil, err
		}
		l.Bias = bias
	}
	return l, nil
}

// Forward applies the layer to a [seq, in] input.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.MatMul(x, l.Weight)
	if err != nil {
		return nil, err
	}
	if l.Bias != nil {
		out, err = tensor.AddBias(out, l.Bias)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *Linear) Parameters() []*tensor.Tensor {
	if l.Bias == nil {
		return []*tensor.Tensor{l.Weight}
	}
	return []*tensor.Tensor{l.Weight, l.Bias}
}

// LayerNorm applies row-wise layer normalization with learned gain and shift.
type LayerNorm struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor
	eps   float32
}

func NewLayerNorm(dim int) (*LayerNorm, error) {
	gamma, err := tensor.Ones([]int{dim}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	if err := gamma.SetRequiresGrad(true); err != nil {
		return nil, err
	}
	beta, err := tensor.Zeros([]int{dim}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	if err := beta.SetRequiresGrad(true); err != nil {
		return nil, err
	}
	return &LayerNorm{Gamma: gamma, Beta: beta, eps: 1e-5}, nil
}

func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LayerNormRows(x, ln.Gamma, ln.Beta, ln.eps)
}

func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{ln.Gamma, ln.Beta}
}

// Dropout randomly zeroes elements during training, scaling survivors by
// 1/(1-rate). Inert in evaluation mode or at rate 0.
type Dropout struct {
	rate float32
	rng  *rand.Rand
}

func NewDropout(rate float32, rng *rand.Rand) *Dropout {
	return &Dropout{rate: rate, rng: rng}
}

func (d *Dropout) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if !training || d.rate <= 0 {
		return x, nil
	}

	mask, err := tensor.Zeros(x.Shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	keep := 1 - d.rate
	data := mask.Float32Data()
	for i := range data {
		if d.rng.Float32() < keep {
			data[i] = 1 / keep
		}
	}
	return tensor.Mul(x, mask)
}

func (d *Dropout) Parameters() []*tensor.Tensor {
	return nil
}
