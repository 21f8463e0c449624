package model

import (
	"fmt"
	"math/rand"

	"github.com/RobinDong/try-multimodal/layers"
	"github.com/RobinDong/try-multimodal/tensor"
)

// Sample is one aligned image/caption pair in model-ready form.
type Sample struct {
	// Image holds [channels, height, width] pixel data.
	Image *tensor.Tensor
	// Tokens holds the caption token ids, padded to the configured length.
	// Masked positions carry the mask token so the model must reconstruct them.
	Tokens []int32
	// Targets holds the original token at each masked position and IgnoreIndex
	// everywhere else. May be nil when only contrastive scoring is needed.
	Targets []int32
}

// Encoder projects one modality of a sample into the shared embedding space.
// Encode returns the [1, D] projected embedding for contrastive scoring and
// the full [seq, dim] feature sequence for the fusion stack.
type Encoder interface {
	Encode(sample Sample, training bool) (embedding, features *tensor.Tensor, err error)
	Parameters() []*tensor.Tensor
}

// ImageEncoder is a patch-based vision transformer: non-overlapping patches
// are linearly embedded, run through bidirectional blocks, pooled at the last
// position and projected to the shared dimension.
type ImageEncoder struct {
	config     ImageConfig
	patchEmbed *layers.Linear
	positional *layers.PositionalEmbedding
	blocks     []*layers.TransformerBlock
	norm       *layers.LayerNorm
	projection *layers.Linear
}

func NewImageEncoder(config ImageConfig, embedDim int, rng *rand.Rand) (*ImageEncoder, error) {
	if config.ImageSize%config.PatchSize != 0 {
		return nil, fmt.Errorf("image size %d not divisible by patch size %d", config.ImageSize, config.PatchSize)
	}

	patchDim := config.PatchSize * config.PatchSize * config.Channels
	patchEmbed, err := layers.NewLinear(patchDim, config.Dim, true, rng)
	if err != nil {
		return nil, err
	}
	positional, err := layers.NewPositionalEmbedding(config.NumPatches(), config.Dim, rng)
	if err != nil {
		return nil, err
	}
	blocks := make([]*layers.TransformerBlock, config.Layers)
	for i := range blocks {
		blocks[i], err = layers.NewTransformerBlock(config.Dim, config.Heads, config.Dropout, rng)
		if err != nil {
			return nil, err
		}
	}
	norm, err := layers.NewLayerNorm(config.Dim)
	if err != nil {
		return nil, err
	}
	projection, err := layers.NewLinear(config.Dim, embedDim, false, rng)
	if err != nil {
		return nil, err
	}

	return &ImageEncoder{
		config:     config,
		patchEmbed: patchEmbed,
		positional: positional,
		blocks:     blocks,
		norm:       norm,
		projection: projection,
	}, nil
}

func (e *ImageEncoder) Encode(sample Sample, training bool) (*tensor.Tensor, *tensor.Tensor, error) {
	patches, err := e.patchify(sample.Image)
	if err != nil {
		return nil, nil, err
	}

	x, err := e.patchEmbed.Forward(patches)
	if err != nil {
		return nil, nil, err
	}
	x, err = e.positional.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	for _, block := range e.blocks {
		x, err = block.Forward(x, false, training)
		if err != nil {
			return nil, nil, err
		}
	}
	features, err := e.norm.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	pooled, err := tensor.SliceRows(features, features.Shape[0]-1, features.Shape[0])
	if err != nil {
		return nil, nil, err
	}
	embedding, err := e.projection.Forward(pooled)
	if err != nil {
		return nil, nil, err
	}
	return embedding, features, nil
}

// patchify rearranges [channels, height, width] pixels into a
// [numPatches, patchSize*patchSize*channels] matrix.
func (e *ImageEncoder) patchify(image *tensor.Tensor) (*tensor.Tensor, error) {
	c, h, w := e.config.Channels, e.config.ImageSize, e.config.ImageSize
	if image == nil || !shapeIs(image, c, h, w) {
		return nil, fmt.Errorf("expected image shape [%d %d %d], got %v", c, h, w, shapeOf(image))
	}

	p := e.config.PatchSize
	side := h / p
	patchDim := p * p * c
	out, err := tensor.Zeros([]int{side * side, patchDim}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	src := image.Float32Data()
	dst := out.Float32Data()
	for py := 0; py < side; py++ {
		for px := 0; px < side; px++ {
			patch := py*side + px
			idx := patch * patchDim
			for ch := 0; ch < c; ch++ {
				for y := 0; y < p; y++ {
					rowStart := ch*h*w + (py*p+y)*w + px*p
					copy(dst[idx:idx+p], src[rowStart:rowStart+p])
					idx += p
				}
			}
		}
	}
	return out, nil
}

func (e *ImageEncoder) Parameters() []*tensor.Tensor {
	modules := []layers.Module{e.patchEmbed, e.positional}
	for _, b := range e.blocks {
		modules = append(modules, b)
	}
	modules = append(modules, e.norm, e.projection)
	return layers.CollectParameters(modules...)
}

// TextEncoder is a transformer language model whose attention direction is a
// configuration switch. It exposes the token-prediction head used for the
// generative loss; the head is weight-tied to the embedding table.
type TextEncoder struct {
	config     TextConfig
	embedding  *layers.TokenEmbedding
	positional *layers.PositionalEmbedding
	blocks     []*layers.TransformerBlock
	norm       *layers.LayerNorm
	projection *layers.Linear
}

func NewTextEncoder(config TextConfig, embedDim int, rng *rand.Rand) (*TextEncoder, error) {
	embedding, err := layers.NewTokenEmbedding(config.VocabSize, config.Dim, rng)
	if err != nil {
		return nil, err
	}
	positional, err := layers.NewPositionalEmbedding(config.SeqLen, config.Dim, rng)
	if err != nil {
		return nil, err
	}
	blocks := make([]*layers.TransformerBlock, config.Layers)
	for i := range blocks {
		blocks[i], err = layers.NewTransformerBlock(config.Dim, config.Heads, config.Dropout, rng)
		if err != nil {
			return nil, err
		}
	}
	norm, err := layers.NewLayerNorm(config.Dim)
	if err != nil {
		return nil, err
	}
	projection, err := layers.NewLinear(config.Dim, embedDim, false, rng)
	if err != nil {
		return nil, err
	}

	return &TextEncoder{
		config:     config,
		embedding:  embedding,
		positional: positional,
		blocks:     blocks,
		norm:       norm,
		projection: projection,
	}, nil
}

func (e *TextEncoder) Encode(sample Sample, training bool) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(sample.Tokens) != e.config.SeqLen {
		return nil, nil, fmt.Errorf("expected %d tokens, got %d", e.config.SeqLen, len(sample.Tokens))
	}

	x, err := e.embedding.Forward(sample.Tokens)
	if err != nil {
		return nil, nil, err
	}
	x, err = e.positional.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	for _, block := range e.blocks {
		x, err = block.Forward(x, e.config.Causal, training)
		if err != nil {
			return nil, nil, err
		}
	}
	features, err := e.norm.Forward(x)
	if err != nil {
		return nil, nil, err
	}

	pooled, err := tensor.SliceRows(features, features.Shape[0]-1, features.Shape[0])
	if err != nil {
		return nil, nil, err
	}
	embedding, err := e.projection.Forward(pooled)
	if err != nil {
		return nil, nil, err
	}
	return embedding, features, nil
}

// PredictTokens maps [seq, dim] features to [seq, vocab] logits through the
// tied embedding table.
func (e *TextEncoder) PredictTokens(features *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MatMulT(features, e.embedding.Table)
}

func (e *TextEncoder) Parameters() []*tensor.Tensor {
	modules := []layers.Module{e.embedding, e.positional}
	for _, b := range e.blocks {
		modules = append(modules, b)
	}
	modules = append(modules, e.norm, e.projection)
	return layers.CollectParameters(modules...)
}

func shapeIs(t *tensor.Tensor, dims ...int) bool {
	if t == nil || len(t.Shape) != len(dims) {
		return false
	}
	for i, d := range dims {
		if t.Shape[i] != d {
			return false
		}
	}
	return true
}

func shapeOf(t *tensor.Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
