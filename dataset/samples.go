package dataset

import (
	"fmt"

	"github.com/RobinDong/try-multimodal/model"
)

// SampleDataset pairs a caption manifest with a builder so samples can be
// produced lazily by index, as the training loader expects.
type SampleDataset struct {
	captions *CaptionDataset
	builder  *SampleBuilder
	mask     bool
}

// NewSampleDataset wraps a caption dataset. mask enables token masking for
// the reconstruction objective; evaluation sets should leave it off.
func NewSampleDataset(captions *CaptionDataset, builder *SampleBuilder, mask bool) *SampleDataset {
	return &SampleDataset{captions: captions, builder: builder, mask: mask}
}

func (d *SampleDataset) Len() int {
	return d.captions.Len()
}

func (d *SampleDataset) Get(index int) (model.Sample, error) {
	entry, err := d.captions.Entry(index)
	if err != nil {
		return model.Sample{}, err
	}
	sample, err := d.builder.Build(entry, d.mask)
	if err != nil {
		return model.Sample{}, fmt.Errorf("%s: %w", entry.ImagePath, err)
	}
	return sample, nil
}
