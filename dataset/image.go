package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/RobinDong/try-multimodal/tensor"
)

// ImageProcessor decodes and preprocesses images with buffer reuse. Safe for
// concurrent use; the scratch buffers are guarded by a mutex, so give each
// loader worker its own processor for parallelism.
type ImageProcessor struct {
	mu            sync.Mutex
	scratch       *image.RGBA
	processBuffer []float32
	targetSize    int
}

// NewImageProcessor creates an image processor producing square images of the
// specified target size.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{targetSize: targetSize}
}

// Load decodes an image file and preprocesses it into a [3, size, size]
// tensor in CHW layout with values normalized to [0, 1].
func (p *ImageProcessor) Load(path string) (*tensor.Tensor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return p.Preprocess(img)
}

// Preprocess resizes a decoded image and converts it to a CHW tensor.
func (p *ImageProcessor) Preprocess(img image.Image) (*tensor.Tensor, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image %dx%d", width, height)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scratch == nil || p.scratch.Bounds().Dx() != p.targetSize {
		p.scratch = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	resized := p.scratch

	// Nearest-neighbor resize.
	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)
			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}
			resized.Set(x, y, img.At(srcX, srcY))
		}
	}

	plane := p.targetSize * p.targetSize
	if len(p.processBuffer) < 3*plane {
		p.processBuffer = make([]float32, 3*plane)
	}
	data := p.processBuffer[:3*plane]
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*p.targetSize + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	// Copy out of the reusable buffer.
	out := make([]float32, len(data))
	copy(out, data)
	return tensor.NewTensor([]int{3, p.targetSize, p.targetSize}, tensor.Float32, out)
}
