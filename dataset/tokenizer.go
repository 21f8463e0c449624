package dataset

import (
	"fmt"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer converts captions into token ids. Implementations must be safe
// for concurrent use by loader workers.
type Tokenizer interface {
	Encode(text string) ([]int32, error)
	VocabSize() int
	PadToken() int32
	MaskToken() int32
}

// BPETokenizer wraps a pretrained byte-pair tokenizer loaded from a
// tokenizer.json file. The vocabulary must define <pad> and <mask> tokens.
type BPETokenizer struct {
	inner *tk.Tokenizer
	vocab int
	pad   int32
	mask  int32
}

// NewBPETokenizer loads a tokenizer definition from disk.
func NewBPETokenizer(path string) (*BPETokenizer, error) {
	inner, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	vocab := inner.GetVocab(true)
	pad, ok := vocab["<pad>"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocabulary has no <pad> token")
	}
	mask, ok := vocab["<mask>"]
	if !ok {
		return nil, fmt.Errorf("tokenizer vocabulary has no <mask> token")
	}

	return &BPETokenizer{
		inner: inner,
		vocab: len(vocab),
		pad:   int32(pad),
		mask:  int32(mask),
	}, nil
}

func (t *BPETokenizer) Encode(text string) ([]int32, error) {
	enc, err := t.inner.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize: %w", err)
	}
	ids := make([]int32, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int32(id)
	}
	return ids, nil
}

func (t *BPETokenizer) VocabSize() int {
	return t.vocab
}

func (t *BPETokenizer) PadToken() int32 {
	return t.pad
}

func (t *BPETokenizer) MaskToken() int32 {
	return t.mask
}
