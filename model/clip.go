package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/RobinDong/try-multimodal/tensor"
)

// initialLogitScale is ln(1/0.07), the standard contrastive temperature init.
const initialLogitScale = 2.6592600369

// LossBundle carries the scalar losses of one training batch. Total is the
// tensor to call Backward on; the components are reported separately. Logits
// is the [N, N] similarity matrix, kept for in-batch retrieval accuracy.
type LossBundle struct {
	Total       *tensor.Tensor
	Contrastive *tensor.Tensor
	Generative  *tensor.Tensor
	Logits      *tensor.Tensor
}

// CLIP pairs an image encoder and a text encoder in a shared embedding space
// and trains them with a symmetric contrastive loss plus a token
// reconstruction loss over a multimodal fusion stack.
type CLIP struct {
	config Config

	ImageEncoder *ImageEncoder
	TextEncoder  *TextEncoder
	Fusion       *FusionStack
	// LogitScale is the learned log-temperature of the contrastive logits.
	LogitScale *tensor.Tensor

	training bool
}

func NewCLIP(config Config) (*CLIP, error) {
	if config.Image.Dim != config.Text.Dim {
		return nil, fmt.Errorf("fusion requires matching feature dims, got image %d and text %d",
			config.Image.Dim, config.Text.Dim)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	imageEncoder, err := NewImageEncoder(config.Image, config.EmbedDim, rng)
	if err != nil {
		return nil, fmt.Errorf("image encoder: %w", err)
	}
	textEncoder, err := NewTextEncoder(config.Text, config.EmbedDim, rng)
	if err != nil {
		return nil, fmt.Errorf("text encoder: %w", err)
	}
	fusion, err := NewFusionStack(config.Text.Dim, config.FusionLayers, config.Text.Heads, config.Text.Dropout, rng)
	if err != nil {
		return nil, fmt.Errorf("fusion stack: %w", err)
	}

	logitScale := tensor.FromScalar(initialLogitScale)
	if err := logitScale.SetRequiresGrad(true); err != nil {
		return nil, err
	}

	return &CLIP{
		config:       config,
		ImageEncoder: imageEncoder,
		TextEncoder:  textEncoder,
		Fusion:       fusion,
		LogitScale:   logitScale,
		training:     true,
	}, nil
}

// SetTraining toggles train-time behavior (dropout) and returns the previous
// mode so callers can restore it.
func (m *CLIP) SetTraining(training bool) bool {
	prev := m.training
	m.training = training
	return prev
}

func (m *CLIP) IsTraining() bool {
	return m.training
}

func (m *CLIP) Config() Config {
	return m.config
}

// Parameters returns every trainable tensor in a fixed order. Checkpoint
// round trips rely on this order being stable.
func (m *CLIP) Parameters() []*tensor.Tensor {
	params := m.ImageEncoder.Parameters()
	params = append(params, m.TextEncoder.Parameters()...)
	params = append(params, m.Fusion.Parameters()...)
	return append(params, m.LogitScale)
}

type batchEncoding struct {
	imageEmbeds   *tensor.Tensor // [N, D], unit rows
	textEmbeds    *tensor.Tensor // [N, D], unit rows
	imageFeatures []*tensor.Tensor
	textFeatures  []*tensor.Tensor
}

func (m *CLIP) encodeBatch(batch []Sample) (*batchEncoding, error) {
	if len(batch) < 2 {
		return nil, fmt.Errorf("contrastive batch needs at least 2 samples, got %d", len(batch))
	}

	n := len(batch)
	imgEmbeds := make([]*tensor.Tensor, n)
	txtEmbeds := make([]*tensor.Tensor, n)
	imgFeatures := make([]*tensor.Tensor, n)
	txtFeatures := make([]*tensor.Tensor, n)
	for i, sample := range batch {
		var err error
		imgEmbeds[i], imgFeatures[i], err = m.ImageEncoder.Encode(sample, m.training)
		if err != nil {
			return nil, fmt.Errorf("sample %d image: %w", i, err)
		}
		txtEmbeds[i], txtFeatures[i], err = m.TextEncoder.Encode(sample, m.training)
		if err != nil {
			return nil, fmt.Errorf("sample %d text: %w", i, err)
		}
	}

	imageMatrix, err := tensor.Stack(imgEmbeds...)
	if err != nil {
		return nil, err
	}
	textMatrix, err := tensor.Stack(txtEmbeds...)
	if err != nil {
		return nil, err
	}
	imageMatrix, err = tensor.NormalizeRows(imageMatrix)
	if err != nil {
		return nil, err
	}
	textMatrix, err = tensor.NormalizeRows(textMatrix)
	if err != nil {
		return nil, err
	}

	return &batchEncoding{
		imageEmbeds:   imageMatrix,
		textEmbeds:    textMatrix,
		imageFeatures: imgFeatures,
		textFeatures:  txtFeatures,
	}, nil
}

// scaledLogits builds the [N, N] image-to-text similarity matrix scaled by
// the learned temperature.
func (m *CLIP) scaledLogits(enc *batchEncoding) (*tensor.Tensor, error) {
	logits, err := tensor.MatMulT(enc.imageEmbeds, enc.textEmbeds)
	if err != nil {
		return nil, err
	}
	scale, err := tensor.Exp(m.LogitScale)
	if err != nil {
		return nil, err
	}
	return tensor.MulScalar(logits, scale)
}

// contrastiveLoss is the symmetric cross entropy over the similarity matrix:
// each image should score its own caption highest and vice versa.
func (m *CLIP) contrastiveLoss(logits *tensor.Tensor) (*tensor.Tensor, error) {
	n := logits.Shape[0]
	targets := make([]int32, n)
	for i := range targets {
		targets[i] = int32(i)
	}

	imageToText, _, err := tensor.CrossEntropyRows(logits, targets, IgnoreIndex)
	if err != nil {
		return nil, err
	}
	transposed, err := tensor.Transpose(logits)
	if err != nil {
		return nil, err
	}
	textToImage, _, err := tensor.CrossEntropyRows(transposed, targets, IgnoreIndex)
	if err != nil {
		return nil, err
	}

	sum, err := tensor.Add(imageToText, textToImage)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(sum, 0.5/float32(n))
}

// generativeLoss reconstructs masked caption tokens from the fused sequence.
// The mean runs over every supervised position in the batch, so samples with
// more masked tokens weigh proportionally more.
func (m *CLIP) generativeLoss(batch []Sample, enc *batchEncoding) (*tensor.Tensor, error) {
	var total *tensor.Tensor
	supervised := 0
	for i := range batch {
		if batch[i].Targets == nil {
			continue
		}
		fused, err := m.Fusion.Forward(enc.imageFeatures[i], enc.textFeatures[i], m.training)
		if err != nil {
			return nil, fmt.Errorf("sample %d fusion: %w", i, err)
		}
		logits, err := m.TextEncoder.PredictTokens(fused)
		if err != nil {
			return nil, err
		}
		sampleSum, count, err := tensor.CrossEntropyRows(logits, batch[i].Targets, IgnoreIndex)
		if err != nil {
			return nil, fmt.Errorf("sample %d reconstruction: %w", i, err)
		}
		if count == 0 {
			continue
		}
		supervised += count
		if total == nil {
			total = sampleSum
		} else {
			total, err = tensor.Add(total, sampleSum)
			if err != nil {
				return nil, err
			}
		}
	}

	if supervised == 0 {
		return tensor.FromScalar(0), nil
	}
	return tensor.Scale(total, 1/float32(supervised))
}

// Forward computes the combined loss for one batch. Both loss terms enter the
// total unweighted.
func (m *CLIP) Forward(batch []Sample) (*LossBundle, error) {
	enc, err := m.encodeBatch(batch)
	if err != nil {
		return nil, err
	}
	logits, err := m.scaledLogits(enc)
	if err != nil {
		return nil, err
	}
	contrastive, err := m.contrastiveLoss(logits)
	if err != nil {
		return nil, err
	}
	generative, err := m.generativeLoss(batch, enc)
	if err != nil {
		return nil, err
	}
	total, err := tensor.Add(contrastive, generative)
	if err != nil {
		return nil, err
	}
	return &LossBundle{
		Total:       total,
		Contrastive: contrastive,
		Generative:  generative,
		Logits:      logits,
	}, nil
}

// ContrastiveLogits returns the scaled [N, N] similarity matrix for a batch,
// used for retrieval accuracy during evaluation.
func (m *CLIP) ContrastiveLogits(batch []Sample) (*tensor.Tensor, error) {
	enc, err := m.encodeBatch(batch)
	if err != nil {
		return nil, err
	}
	return m.scaledLogits(enc)
}

// RetrievalAccuracy is the fraction of rows whose highest-scoring column is
// the matching pair on the diagonal.
func RetrievalAccuracy(logits *tensor.Tensor) float64 {
	if logits == nil || len(logits.Shape) != 2 || logits.Shape[0] == 0 {
		return 0
	}
	n, cols := logits.Shape[0], logits.Shape[1]
	data := logits.Float32Data()
	correct := 0
	for i := 0; i < n; i++ {
		best := 0
		bestVal := float32(math.Inf(-1))
		for j := 0; j < cols; j++ {
			if v := data[i*cols+j]; v > bestVal {
				bestVal = v
				best = j
			}
		}
		if best == i {
			correct++
		}
	}
	return float64(correct) / float64(n)
}
