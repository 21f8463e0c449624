package model

import (
	"fmt"
	"math/rand"

	"github.com/RobinDong/try-multimodal/layers"
	"github.com/RobinDong/try-multimodal/tensor"
)

// FusionStack runs bidirectional transformer blocks over the concatenated
// image and text feature sequences so each modality can attend into the
// other. Token reconstruction reads from the text rows of its output.
type FusionStack struct {
	blocks []*layers.TransformerBlock
	norm   *layers.LayerNorm
}

func NewFusionStack(dim, numLayers, numHeads int, dropout float32, rng *rand.Rand) (*FusionStack, error) {
	if numLayers < 1 {
		return nil, fmt.Errorf("fusion stack needs at least one layer, got %d", numLayers)
	}
	blocks := make([]*layers.TransformerBlock, numLayers)
	var err error
	for i := range blocks {
		blocks[i], err = layers.NewTransformerBlock(dim, numHeads, dropout, rng)
		if err != nil {
			return nil, err
		}
	}
	norm, err := layers.NewLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	return &FusionStack{blocks: blocks, norm: norm}, nil
}

// Forward fuses the two feature sequences and returns the text portion, the
// last len(textFeatures) rows of the joint sequence.
func (f *FusionStack) Forward(imageFeatures, textFeatures *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	x, err := tensor.ConcatRows(imageFeatures, textFeatures)
	if err != nil {
		return nil, err
	}
	for _, block := range f.blocks {
		x, err = block.Forward(x, false, training)
		if err != nil {
			return nil, err
		}
	}
	x, err = f.norm.Forward(x)
	if err != nil {
		return nil, err
	}

	textLen := textFeatures.Shape[0]
	return tensor.SliceRows(x, x.Shape[0]-textLen, x.Shape[0])
}

func (f *FusionStack) Parameters() []*tensor.Tensor {
	modules := make([]layers.Module, 0, len(f.blocks)+1)
	for _, b := range f.blocks {
		modules = append(modules, b)
	}
	modules = append(modules, f.norm)
	return layers.CollectParameters(modules...)
}
