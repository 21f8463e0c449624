package training

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/model"
	"github.com/RobinDong/try-multimodal/tensor"
)

func tinyModelConfig() model.Config {
	return model.Config{
		Image: model.ImageConfig{
			ImageSize: 8,
			PatchSize: 4,
			Channels:  1,
			Dim:       8,
			Layers:    1,
			Heads:     2,
			Dropout:   0,
		},
		Text: model.TextConfig{
			VocabSize: 16,
			SeqLen:    4,
			Dim:       8,
			Layers:    1,
			Heads:     2,
			Dropout:   0,
		},
		EmbedDim:     4,
		FusionLayers: 1,
		Seed:         7,
	}
}

// syntheticDataset generates deterministic samples on the fly. Indices in
// failAt return an error to simulate unreadable data.
type syntheticDataset struct {
	size   int
	config model.Config
	failAt map[int]bool
}

func (d *syntheticDataset) Len() int {
	return d.size
}

func (d *syntheticDataset) Get(index int) (model.Sample, error) {
	if index < 0 || index >= d.size {
		return model.Sample{}, fmt.Errorf("index %d out of range", index)
	}
	if d.failAt[index] {
		return model.Sample{}, fmt.Errorf("simulated decode failure for sample %d", index)
	}

	rng := rand.New(rand.NewSource(int64(index) + 1))
	image, err := tensor.RandomNormal(
		[]int{d.config.Image.Channels, d.config.Image.ImageSize, d.config.Image.ImageSize}, 0, 1, rng)
	if err != nil {
		return model.Sample{}, err
	}
	tokens := make([]int32, d.config.Text.SeqLen)
	targets := make([]int32, d.config.Text.SeqLen)
	for i := range tokens {
		tokens[i] = int32(rng.Intn(d.config.Text.VocabSize))
		targets[i] = model.IgnoreIndex
	}
	targets[0] = tokens[0]
	tokens[0] = 0
	return model.Sample{Image: image, Tokens: tokens, Targets: targets}, nil
}

func syntheticSamples(t *testing.T, config model.Config, n int) []model.Sample {
	t.Helper()
	ds := &syntheticDataset{size: n, config: config}
	samples := make([]model.Sample, n)
	for i := range samples {
		var err error
		samples[i], err = ds.Get(i)
		require.NoError(t, err)
	}
	return samples
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
