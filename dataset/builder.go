package dataset

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/RobinDong/try-multimodal/model"
)

// BuilderConfig controls sample construction.
type BuilderConfig struct {
	// SeqLen is the fixed caption length; longer captions are truncated,
	// shorter ones padded.
	SeqLen int
	// MaskProb is the probability of masking each real token for the
	// reconstruction objective.
	MaskProb float64
	// ImageSize is the square side length images are resized to.
	ImageSize int
}

// DefaultBuilderConfig returns builder defaults matching the model defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		SeqLen:    64,
		MaskProb:  0.15,
		ImageSize: 256,
	}
}

// SampleBuilder turns manifest entries into model-ready samples: decoded
// image tensor plus tokenized, padded and masked caption.
type SampleBuilder struct {
	config    BuilderConfig
	tokenizer Tokenizer
	images    *ImageProcessor

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampleBuilder(config BuilderConfig, tokenizer Tokenizer, seed int64) (*SampleBuilder, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer cannot be nil")
	}
	if config.SeqLen < 1 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", config.SeqLen)
	}
	if config.MaskProb < 0 || config.MaskProb > 1 {
		return nil, fmt.Errorf("mask probability must be in [0, 1], got %g", config.MaskProb)
	}
	return &SampleBuilder{
		config:    config,
		tokenizer: tokenizer,
		images:    NewImageProcessor(config.ImageSize),
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Build loads the entry's image and tokenizes its caption. When mask is true
// the caption is masked for reconstruction; otherwise Targets carry the
// ignore sentinel everywhere.
func (b *SampleBuilder) Build(entry CaptionEntry, mask bool) (model.Sample, error) {
	image, err := b.images.Load(entry.ImagePath)
	if err != nil {
		return model.Sample{}, err
	}
	tokens, targets, err := b.BuildCaption(entry.Caption, mask)
	if err != nil {
		return model.Sample{}, err
	}
	return model.Sample{Image: image, Tokens: tokens, Targets: targets}, nil
}

// BuildCaption tokenizes, pads and optionally masks one caption.
func (b *SampleBuilder) BuildCaption(caption string, mask bool) (tokens, targets []int32, err error) {
	ids, err := b.tokenizer.Encode(caption)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) > b.config.SeqLen {
		ids = ids[:b.config.SeqLen]
	}

	pad := b.tokenizer.PadToken()
	tokens = make([]int32, b.config.SeqLen)
	targets = make([]int32, b.config.SeqLen)
	for i := range tokens {
		targets[i] = model.IgnoreIndex
		if i < len(ids) {
			tokens[i] = ids[i]
		} else {
			tokens[i] = pad
		}
	}
	if !mask || b.config.MaskProb == 0 {
		return tokens, targets, nil
	}

	maskToken := b.tokenizer.MaskToken()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < len(ids); i++ {
		if b.rng.Float64() < b.config.MaskProb {
			targets[i] = tokens[i]
			tokens[i] = maskToken
		}
	}
	return tokens, targets, nil
}
