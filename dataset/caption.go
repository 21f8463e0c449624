package dataset

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// CaptionEntry is one image/caption pair from a manifest.
type CaptionEntry struct {
	ImagePath string
	Caption   string
}

// CaptionDataset is a list of image/caption pairs read from a tab-separated
// manifest file: one `relative/image/path<TAB>caption` line per sample.
type CaptionDataset struct {
	entries []CaptionEntry
}

// NewCaptionDataset reads a manifest and resolves image paths against root.
func NewCaptionDataset(manifestPath, root string) (*CaptionDataset, error) {
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	dataset := &CaptionDataset{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("manifest line %d: expected path<TAB>caption", lineNum)
		}
		caption := strings.TrimSpace(parts[1])
		if caption == "" {
			return nil, fmt.Errorf("manifest line %d: empty caption", lineNum)
		}
		dataset.entries = append(dataset.entries, CaptionEntry{
			ImagePath: filepath.Join(root, parts[0]),
			Caption:   caption,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(dataset.entries) == 0 {
		return nil, fmt.Errorf("no samples found in %s", manifestPath)
	}
	return dataset, nil
}

// Len returns the number of pairs in the dataset.
func (d *CaptionDataset) Len() int {
	return len(d.entries)
}

// Entry returns the pair at the given index.
func (d *CaptionDataset) Entry(index int) (CaptionEntry, error) {
	if index < 0 || index >= len(d.entries) {
		return CaptionEntry{}, fmt.Errorf("index %d out of range [0, %d)", index, len(d.entries))
	}
	return d.entries[index], nil
}

// Split shuffles the dataset and carves off evalRatio of it for evaluation.
// Both halves are always non-empty when the dataset has at least two samples.
func (d *CaptionDataset) Split(evalRatio float64, rng *rand.Rand) (train, eval *CaptionDataset, err error) {
	if evalRatio <= 0 || evalRatio >= 1 {
		return nil, nil, fmt.Errorf("eval ratio must be in (0, 1), got %g", evalRatio)
	}
	n := len(d.entries)
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 samples to split, have %d", n)
	}

	indices := rng.Perm(n)
	evalSize := int(float64(n) * evalRatio)
	if evalSize == 0 {
		evalSize = 1
	}

	eval = &CaptionDataset{entries: make([]CaptionEntry, evalSize)}
	for i := 0; i < evalSize; i++ {
		eval.entries[i] = d.entries[indices[i]]
	}
	train = &CaptionDataset{entries: make([]CaptionEntry, n-evalSize)}
	for i := evalSize; i < n; i++ {
		train.entries[i-evalSize] = d.entries[indices[i]]
	}
	return train, eval, nil
}
