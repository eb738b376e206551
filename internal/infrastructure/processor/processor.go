// Package processor downsamples images before they are persisted.
package processor

import (
	"bytes"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
)

// ImageProcessor scales images down to a bounding dimension.
type ImageProcessor struct{}

// New creates an ImageProcessor.
func New() *ImageProcessor {
	return &ImageProcessor{}
}

// BoundTo returns data scaled down so both dimensions fit within maxDim,
// preserving aspect ratio. Images that already fit are returned unchanged
// without a re-encode, so a no-op never loses quality. Scaled output is
// re-encoded as PNG. Images are never scaled up.
func (p *ImageProcessor) BoundTo(data []byte, maxDim int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return data, nil
	}

	scale := math.Min(float64(maxDim)/float64(width), float64(maxDim)/float64(height))
	targetWidth := boundedDim(float64(width) * scale)
	targetHeight := boundedDim(float64(height) * scale)

	resized := imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// boundedDim rounds a target dimension and floors it at one pixel.
func boundedDim(dim float64) int {
	rounded := int(math.Round(dim))
	if rounded < 1 {
		return 1
	}
	return rounded
}
