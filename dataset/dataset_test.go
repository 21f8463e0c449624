package dataset

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobinDong/try-multimodal/model"
)

// fakeTokenizer assigns each whitespace word a stable id.
type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) ([]int32, error) {
	words := strings.Fields(text)
	ids := make([]int32, len(words))
	for i, w := range words {
		var h int32
		for _, r := range w {
			h = h*31 + int32(r)
		}
		if h < 0 {
			h = -h
		}
		ids[i] = 2 + h%100
	}
	return ids, nil
}

func (fakeTokenizer) VocabSize() int   { return 102 }
func (fakeTokenizer) PadToken() int32  { return 0 }
func (fakeTokenizer) MaskToken() int32 { return 1 }

func writeManifest(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.tsv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644))
	return path
}

func TestNewCaptionDatasetParsesManifest(t *testing.T) {
	path := writeManifest(t, []string{
		"# comment",
		"a.png\ta dog on grass",
		"",
		"b.png\ttwo cats sleeping",
	})

	ds, err := NewCaptionDataset(path, "/data")
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	entry, err := ds.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "a.png"), entry.ImagePath)
	assert.Equal(t, "a dog on grass", entry.Caption)

	_, err = ds.Entry(2)
	assert.Error(t, err)
}

func TestNewCaptionDatasetRejectsMalformed(t *testing.T) {
	path := writeManifest(t, []string{"no-tab-here"})
	_, err := NewCaptionDataset(path, "")
	assert.Error(t, err)

	empty := writeManifest(t, []string{"# only a comment"})
	_, err = NewCaptionDataset(empty, "")
	assert.Error(t, err)
}

func TestSplitPartitionsWithoutOverlap(t *testing.T) {
	lines := make([]string, 20)
	for i := range lines {
		lines[i] = strings.ReplaceAll("img_N.png\tcaption N", "N", string(rune('a'+i)))
	}
	ds, err := NewCaptionDataset(writeManifest(t, lines), "")
	require.NoError(t, err)

	train, eval, err := ds.Split(0.1, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 2, eval.Len())
	assert.Equal(t, 18, train.Len())

	seen := map[string]bool{}
	for i := 0; i < train.Len(); i++ {
		e, err := train.Entry(i)
		require.NoError(t, err)
		seen[e.ImagePath] = true
	}
	for i := 0; i < eval.Len(); i++ {
		e, err := eval.Entry(i)
		require.NoError(t, err)
		assert.False(t, seen[e.ImagePath], "sample in both splits: %s", e.ImagePath)
	}

	_, _, err = ds.Split(1.5, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestBuildCaptionPadsAndTruncates(t *testing.T) {
	cfg := BuilderConfig{SeqLen: 6, MaskProb: 0, ImageSize: 8}
	b, err := NewSampleBuilder(cfg, fakeTokenizer{}, 1)
	require.NoError(t, err)

	tokens, targets, err := b.BuildCaption("one two", false)
	require.NoError(t, err)
	require.Len(t, tokens, 6)
	assert.Equal(t, int32(0), tokens[5], "tail must be padding")
	for _, tgt := range targets {
		assert.Equal(t, model.IgnoreIndex, tgt)
	}

	long := strings.Repeat("word ", 20)
	tokens, _, err = b.BuildCaption(long, false)
	require.NoError(t, err)
	assert.Len(t, tokens, 6)
}

func TestBuildCaptionMasking(t *testing.T) {
	cfg := BuilderConfig{SeqLen: 32, MaskProb: 1.0, ImageSize: 8}
	b, err := NewSampleBuilder(cfg, fakeTokenizer{}, 1)
	require.NoError(t, err)

	tokens, targets, err := b.BuildCaption("a b c d e", true)
	require.NoError(t, err)

	// With probability 1 every real token is masked; padding is never masked.
	for i := 0; i < 5; i++ {
		assert.Equal(t, int32(1), tokens[i])
		assert.NotEqual(t, model.IgnoreIndex, targets[i])
	}
	for i := 5; i < 32; i++ {
		assert.Equal(t, int32(0), tokens[i])
		assert.Equal(t, model.IgnoreIndex, targets[i])
	}
}

func TestImageProcessorProducesCHWTensor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "red.png")

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	p := NewImageProcessor(8)
	out, err := p.Load(path)
	require.NoError(t, err)
	require.Equal(t, []int{3, 8, 8}, out.Shape)

	data := out.Float32Data()
	// Red channel saturated, green and blue empty.
	assert.InDelta(t, 1.0, float64(data[0]), 1e-3)
	assert.InDelta(t, 0.0, float64(data[64]), 1e-3)
	assert.InDelta(t, 0.0, float64(data[128]), 1e-3)

	_, err = p.Load(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}
